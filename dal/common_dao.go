package dal

import (
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	aws_configuration "github.com/crosspost-media-core/v2/configuration"
)

var svc dynamodbiface.DynamoDBAPI = dynamodb.New(aws_configuration.GetAwsSession())
