package dynamo

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	aws_configuration "github.com/crosspost-media-core/v2/configuration"

	"log"
	"strings"
)

const TABLE_CREDENTIALS = "SocialCredentials"
const TABLE_CONTENT_ITEMS = "ContentItems"

// For querying active credentials nearing token expiry.
const CREDENTIAL_EXPIRY_GSI_NAME = "ActiveExpiry"

// For listing a user's connected accounts.
const CREDENTIAL_OWNER_GSI_NAME = "OwnerCredentials"

// For selecting scheduled items due for dispatch.
const CONTENT_SCHEDULE_GSI_NAME = "StatusSchedule"

const MAX_QPS_ON_DEMAND_GSI = 50

func Init() {
	log.Printf("Initializing DynamoDB Tables")

	svc := dynamodb.New(aws_configuration.GetAwsSession())
	createCredentialsTable(svc)
	createContentItemsTable(svc)
}

// Credentials table.
// PK: CredentialID (guid).
// ActiveExpiry GSI: ActiveFlag + ExpiresAtEpochSec, drives the
// due-for-refresh query without scanning inactive rows.
// OwnerCredentials GSI: UserID, drives per-user listing.
func createCredentialsTable(svc *dynamodb.DynamoDB) {
	tableName := TABLE_CREDENTIALS
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("CredentialID"),
				AttributeType: aws.String("S"),
			},
			{
				AttributeName: aws.String("ActiveFlag"),
				AttributeType: aws.String("S"),
			},
			{
				AttributeName: aws.String("ExpiresAtEpochSec"),
				AttributeType: aws.String("N"),
			},
			{
				AttributeName: aws.String("UserID"),
				AttributeType: aws.String("S"),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("CredentialID"),
				KeyType:       aws.String("HASH"),
			},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String(CREDENTIAL_EXPIRY_GSI_NAME),
				KeySchema: []*dynamodb.KeySchemaElement{
					{
						AttributeName: aws.String("ActiveFlag"),
						KeyType:       aws.String("HASH"),
					},
					{
						AttributeName: aws.String("ExpiresAtEpochSec"),
						KeyType:       aws.String("RANGE"),
					},
				},
				Projection: &dynamodb.Projection{
					ProjectionType: aws.String(dynamodb.ProjectionTypeAll),
				},
				OnDemandThroughput: &dynamodb.OnDemandThroughput{
					MaxReadRequestUnits:  aws.Int64(MAX_QPS_ON_DEMAND_GSI),
					MaxWriteRequestUnits: aws.Int64(MAX_QPS_ON_DEMAND_GSI),
				},
			},
			{
				IndexName: aws.String(CREDENTIAL_OWNER_GSI_NAME),
				KeySchema: []*dynamodb.KeySchemaElement{
					{
						AttributeName: aws.String("UserID"),
						KeyType:       aws.String("HASH"),
					},
				},
				Projection: &dynamodb.Projection{
					ProjectionType: aws.String(dynamodb.ProjectionTypeAll),
				},
				OnDemandThroughput: &dynamodb.OnDemandThroughput{
					MaxReadRequestUnits:  aws.Int64(MAX_QPS_ON_DEMAND_GSI),
					MaxWriteRequestUnits: aws.Int64(MAX_QPS_ON_DEMAND_GSI),
				},
			},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		TableName:   aws.String(tableName),
	}
	createTable(svc, input, tableName)
}

// Content items table.
// PK: ContentID (guid).
// StatusSchedule GSI: ContentStatus + ScheduledAtEpochMilli, so the
// dispatch loop reads only due scheduled rows.
func createContentItemsTable(svc *dynamodb.DynamoDB) {
	tableName := TABLE_CONTENT_ITEMS
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("ContentID"),
				AttributeType: aws.String("S"),
			},
			{
				AttributeName: aws.String("ContentStatus"),
				AttributeType: aws.String("S"),
			},
			{
				AttributeName: aws.String("ScheduledAtEpochMilli"),
				AttributeType: aws.String("N"),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("ContentID"),
				KeyType:       aws.String("HASH"),
			},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String(CONTENT_SCHEDULE_GSI_NAME),
				KeySchema: []*dynamodb.KeySchemaElement{
					{
						AttributeName: aws.String("ContentStatus"),
						KeyType:       aws.String("HASH"),
					},
					{
						AttributeName: aws.String("ScheduledAtEpochMilli"),
						KeyType:       aws.String("RANGE"),
					},
				},
				Projection: &dynamodb.Projection{
					ProjectionType: aws.String(dynamodb.ProjectionTypeAll),
				},
				OnDemandThroughput: &dynamodb.OnDemandThroughput{
					MaxReadRequestUnits:  aws.Int64(MAX_QPS_ON_DEMAND_GSI),
					MaxWriteRequestUnits: aws.Int64(MAX_QPS_ON_DEMAND_GSI),
				},
			},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		TableName:   aws.String(tableName),
	}
	createTable(svc, input, tableName)
}

func createTable(svc *dynamodb.DynamoDB, input *dynamodb.CreateTableInput, tableName string) {
	_, err := svc.CreateTable(input)
	if tableAlreadyExists(err) {
		log.Println("Table already exists", tableName)
	} else if err != nil {
		log.Fatalf("Got error calling CreateTable: %s", err)
	} else {
		log.Println("Created the table", tableName)
	}
}

func tableAlreadyExists(err error) bool {
	if err != nil && strings.Contains(err.Error(), "ResourceInUseException") {
		return true
	}
	return false
}
