package publish

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"

	config "github.com/crosspost-media-core/v2/configuration"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"

	"log"
)

var snsSvc snsiface.SNSAPI = sns.New(config.GetAwsSession())

type snsMessage struct {
	Default string `json:"default"`
}

type outcomeNotification struct {
	ContentID string                                    `json:"contentId"`
	OwnerID   string                                    `json:"ownerId"`
	Status    tables.ContentStatus                      `json:"status"`
	Outcomes  map[tables.Platform]tables.PublishOutcome `json:"outcomes"`
}

// notifyOutcome publishes a terminal publish result to the outcome
// topic. Best effort; a notification failure never fails the publish.
func notifyOutcome(item tables.ContentItem, status tables.ContentStatus,
	outcomes map[tables.Platform]tables.PublishOutcome) {
	topicArn := config.GetEnvConfigs().OutcomeTopicArn
	if topicArn == "" {
		return
	}
	notification := outcomeNotification{
		ContentID: item.ContentID,
		OwnerID:   item.OwnerID,
		Status:    status,
		Outcomes:  outcomes,
	}
	notificationBytes, err := json.Marshal(notification)
	if err != nil {
		log.Printf("correlationID: %s error marshalling outcome notification: %s", item.ContentID, err)
		return
	}
	wrapperBytes, err := json.Marshal(snsMessage{Default: string(notificationBytes)})
	if err != nil {
		log.Printf("correlationID: %s error marshalling outcome wrapper: %s", item.ContentID, err)
		return
	}
	wrapper := string(wrapperBytes)
	_, err = snsSvc.Publish(&sns.PublishInput{
		Message:          &wrapper,
		TopicArn:         &topicArn,
		MessageStructure: aws.String("json"),
		MessageAttributes: map[string]*sns.MessageAttributeValue{
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(status)),
			},
		},
	})
	if err != nil {
		log.Printf("correlationID: %s failed publishing to outcome topic: %s", item.ContentID, err)
	}
}
