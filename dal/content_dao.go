package dal

import (
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/google/uuid"

	dynamo_configuration "github.com/crosspost-media-core/v2/configuration/dynamo"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"

	"log"
)

func CreateContentItem(item tables.ContentItem) (string, error) {
	if item.ContentID == "" {
		item.ContentID = uuid.New().String()
	}
	if item.ContentStatus == "" {
		item.ContentStatus = tables.CONTENT_DRAFT
	}
	now := time.Now().UnixMilli()
	item.CreatedAtEpochMilli = now
	item.UpdatedAtEpochMilli = now

	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		log.Printf("correlationID: %s got error marshalling content item: %s", item.ContentID, err)
		return "", err
	}
	input := &dynamodb.PutItemInput{
		Item:      av,
		TableName: aws.String(dynamo_configuration.TABLE_CONTENT_ITEMS),
	}
	_, err = svc.PutItem(input)
	if err != nil {
		log.Printf("correlationID: %s got error calling PutItem content: %s", item.ContentID, err)
		return "", err
	}
	return item.ContentID, nil
}

func GetContentItem(contentId string) (tables.ContentItem, error) {
	result, err := svc.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(dynamo_configuration.TABLE_CONTENT_ITEMS),
		Key: map[string]*dynamodb.AttributeValue{
			"ContentID": {
				S: aws.String(contentId),
			},
		},
	})
	resultItem := tables.ContentItem{}
	if err != nil {
		log.Printf("correlationID: %s got error calling GetItem content: %s", contentId, err)
		return resultItem, err
	}
	if result.Item == nil {
		return resultItem, errors.New("content item not found")
	}
	err = dynamodbattribute.UnmarshalMap(result.Item, &resultItem)
	if err != nil {
		log.Printf("correlationID: %s error unmarshalling content item: %s", contentId, err)
	}
	return resultItem, err
}

// ListDueScheduledContent returns scheduled items whose scheduled time
// has arrived as of now. The range key lower bound of 1 excludes items
// stored with no schedule time.
func ListDueScheduledContent(now time.Time) ([]tables.ContentItem, error) {
	queryInput := &dynamodb.QueryInput{
		TableName:              aws.String(dynamo_configuration.TABLE_CONTENT_ITEMS),
		IndexName:              aws.String(dynamo_configuration.CONTENT_SCHEDULE_GSI_NAME),
		KeyConditionExpression: aws.String("ContentStatus = :s AND ScheduledAtEpochMilli BETWEEN :lo AND :hi"),
		ScanIndexForward:       aws.Bool(true), // oldest due items first
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":s": {
				S: aws.String(string(tables.CONTENT_SCHEDULED)),
			},
			":lo": {
				N: aws.String("1"),
			},
			":hi": {
				N: aws.String(strconv.FormatInt(now.UnixMilli(), 10)),
			},
		},
	}
	results := []tables.ContentItem{}
	queryOutput, err := svc.Query(queryInput)
	if err != nil {
		log.Printf("unable to query due scheduled content: %s", err)
		return results, err
	}
	for _, rawItem := range queryOutput.Items {
		item := tables.ContentItem{}
		err = dynamodbattribute.UnmarshalMap(rawItem, &item)
		if err != nil {
			log.Printf("error unmarshalling content item: %s", err)
			return results, err
		}
		results = append(results, item)
	}
	return results, nil
}

func SetContentScheduled(contentId string, scheduledAtEpochMilli int64) error {
	return updateContentStatus(contentId, tables.CONTENT_SCHEDULED, map[string]*dynamodb.AttributeValue{
		":sch": {
			N: aws.String(strconv.FormatInt(scheduledAtEpochMilli, 10)),
		},
	}, ", ScheduledAtEpochMilli = :sch")
}

// MarkContentPublished records the terminal published state with the
// per-platform outcome map.
func MarkContentPublished(contentId string, resultsJson string) error {
	return updateContentStatus(contentId, tables.CONTENT_PUBLISHED, map[string]*dynamodb.AttributeValue{
		":r": {
			S: aws.String(resultsJson),
		},
		":p": {
			N: aws.String(strconv.FormatInt(time.Now().UnixMilli(), 10)),
		},
	}, ", PublishResults = :r, PublishedAtEpochMilli = :p")
}

// MarkContentFailed records the terminal failed state when no target
// platform accepted the item.
func MarkContentFailed(contentId string, resultsJson string) error {
	return updateContentStatus(contentId, tables.CONTENT_FAILED, map[string]*dynamodb.AttributeValue{
		":r": {
			S: aws.String(resultsJson),
		},
	}, ", PublishResults = :r")
}

func updateContentStatus(contentId string, status tables.ContentStatus,
	extraValues map[string]*dynamodb.AttributeValue, extraExpr string) error {
	exprValues := map[string]*dynamodb.AttributeValue{
		":s": {
			S: aws.String(string(status)),
		},
		":u": {
			N: aws.String(strconv.FormatInt(time.Now().UnixMilli(), 10)),
		},
	}
	for k, v := range extraValues {
		exprValues[k] = v
	}
	_, err := svc.UpdateItem(&dynamodb.UpdateItemInput{
		TableName: aws.String(dynamo_configuration.TABLE_CONTENT_ITEMS),
		Key: map[string]*dynamodb.AttributeValue{
			"ContentID": {
				S: aws.String(contentId),
			},
		},
		UpdateExpression:          aws.String("SET ContentStatus = :s, UpdatedAtEpochMilli = :u" + extraExpr),
		ExpressionAttributeValues: exprValues,
	})
	if err != nil {
		log.Printf("correlationID: %s got error updating content status to %s: %s", contentId, status, err)
	}
	return err
}

func DeleteContentItem(contentId string) error {
	_, err := svc.DeleteItem(&dynamodb.DeleteItemInput{
		TableName: aws.String(dynamo_configuration.TABLE_CONTENT_ITEMS),
		Key: map[string]*dynamodb.AttributeValue{
			"ContentID": {
				S: aws.String(contentId),
			},
		},
	})
	if err != nil {
		log.Printf("correlationID: %s got error calling DeleteItem content: %s", contentId, err)
	}
	return err
}
