package dal

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/google/uuid"

	dynamo_configuration "github.com/crosspost-media-core/v2/configuration/dynamo"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"
	"github.com/crosspost-media-core/v2/vault"

	"log"
)

// CreateCredential seals the tokens and stores the record. The caller
// passes plaintext tokens; they never hit the table unencrypted.
func CreateCredential(item tables.Credential) (string, error) {
	if item.CredentialID == "" {
		item.CredentialID = uuid.New().String()
	}
	if item.ActiveFlag == "" {
		item.ActiveFlag = tables.CREDENTIAL_ACTIVE
	}
	now := time.Now().UnixMilli()
	item.CreatedAtEpochMilli = now
	item.UpdatedAtEpochMilli = now

	sealed, err := sealTokens(item.AccessToken, item.RefreshToken)
	if err != nil {
		log.Printf("credentialID: %s error sealing tokens: %s", item.CredentialID, err)
		return "", err
	}
	item.AccessToken = sealed.access
	item.RefreshToken = sealed.refresh

	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		log.Printf("credentialID: %s got error marshalling credential item: %s", item.CredentialID, err)
		return "", err
	}
	input := &dynamodb.PutItemInput{
		Item:      av,
		TableName: aws.String(dynamo_configuration.TABLE_CREDENTIALS),
	}
	_, err = svc.PutItem(input)
	if err != nil {
		log.Printf("credentialID: %s got error calling PutItem credential: %s", item.CredentialID, err)
		return "", err
	}
	return item.CredentialID, nil
}

// GetCredential loads and decrypts a credential. When a token envelope
// fails to open, the record is returned with the envelope untouched so
// callers can still inspect or deactivate it.
func GetCredential(credentialId string) (tables.Credential, error) {
	result, err := svc.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(dynamo_configuration.TABLE_CREDENTIALS),
		Key: map[string]*dynamodb.AttributeValue{
			"CredentialID": {
				S: aws.String(credentialId),
			},
		},
	})
	resultItem := tables.Credential{}
	if err != nil {
		log.Printf("credentialID: %s got error calling GetItem credential: %s", credentialId, err)
		return resultItem, err
	}
	if result.Item == nil {
		return resultItem, errors.New("credential not found")
	}
	err = dynamodbattribute.UnmarshalMap(result.Item, &resultItem)
	if err != nil {
		log.Printf("credentialID: %s error unmarshalling credential item: %s", credentialId, err)
		return resultItem, err
	}
	openTokens(&resultItem)
	return resultItem, nil
}

// ListCredentialsByOwner returns every credential owned by the user,
// active or not. Tokens are decrypted where possible.
func ListCredentialsByOwner(userId string) ([]tables.Credential, error) {
	queryInput := &dynamodb.QueryInput{
		TableName:              aws.String(dynamo_configuration.TABLE_CREDENTIALS),
		IndexName:              aws.String(dynamo_configuration.CREDENTIAL_OWNER_GSI_NAME),
		KeyConditionExpression: aws.String("UserID = :u"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":u": {
				S: aws.String(userId),
			},
		},
	}
	return queryCredentials(queryInput)
}

// ListActiveCredentials returns the user's active credentials with
// tokens decrypted where possible.
func ListActiveCredentials(userId string) ([]tables.Credential, error) {
	credentials, err := ListCredentialsByOwner(userId)
	if err != nil {
		return nil, err
	}
	active := make([]tables.Credential, 0, len(credentials))
	for _, c := range credentials {
		if c.IsActive() {
			active = append(active, c)
		}
	}
	return active, nil
}

// GetActiveCredentialForPlatform returns the user's first active
// credential on the platform. Multiple connected accounts on the same
// platform resolve to the first one returned by the index.
func GetActiveCredentialForPlatform(userId string, platform tables.Platform) (tables.Credential, error) {
	credentials, err := ListActiveCredentials(userId)
	if err != nil {
		return tables.Credential{}, err
	}
	for _, c := range credentials {
		if c.Platform == platform {
			return c, nil
		}
	}
	return tables.Credential{}, errors.New("no active credential for platform " + string(platform))
}

// ListCredentialsDueForRefresh returns active credentials whose access
// token expires within the horizon. The range key lower bound of 1
// excludes non-expiring credentials, which store 0.
func ListCredentialsDueForRefresh(within time.Duration) ([]tables.Credential, error) {
	horizon := time.Now().Add(within).Unix()
	queryInput := &dynamodb.QueryInput{
		TableName:              aws.String(dynamo_configuration.TABLE_CREDENTIALS),
		IndexName:              aws.String(dynamo_configuration.CREDENTIAL_EXPIRY_GSI_NAME),
		KeyConditionExpression: aws.String("ActiveFlag = :a AND ExpiresAtEpochSec BETWEEN :lo AND :hi"),
		ScanIndexForward:       aws.Bool(true), // soonest expiry first
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":a": {
				S: aws.String(tables.CREDENTIAL_ACTIVE),
			},
			":lo": {
				N: aws.String("1"),
			},
			":hi": {
				N: aws.String(strconv.FormatInt(horizon, 10)),
			},
		},
	}
	return queryCredentials(queryInput)
}

// UpdateCredentialTokens seals and stores a fresh token pair after a
// refresh. An empty refreshToken means the platform issued none and the
// existing stored refresh token is kept.
func UpdateCredentialTokens(credentialId string, accessToken string, refreshToken string, expiresAtEpochSec int64) error {
	sealedAccess, err := vault.Seal(accessToken)
	if err != nil {
		log.Printf("credentialID: %s error sealing access token: %s", credentialId, err)
		return err
	}
	updateExpr := "SET AccessToken = :at, ExpiresAtEpochSec = :exp, UpdatedAtEpochMilli = :u"
	exprValues := map[string]*dynamodb.AttributeValue{
		":at": {
			S: aws.String(sealedAccess),
		},
		":exp": {
			N: aws.String(strconv.FormatInt(expiresAtEpochSec, 10)),
		},
		":u": {
			N: aws.String(strconv.FormatInt(time.Now().UnixMilli(), 10)),
		},
	}
	if refreshToken != "" {
		sealedRefresh, err := vault.Seal(refreshToken)
		if err != nil {
			log.Printf("credentialID: %s error sealing refresh token: %s", credentialId, err)
			return err
		}
		updateExpr += ", RefreshToken = :rt"
		exprValues[":rt"] = &dynamodb.AttributeValue{
			S: aws.String(sealedRefresh),
		}
	}
	_, err = svc.UpdateItem(&dynamodb.UpdateItemInput{
		TableName: aws.String(dynamo_configuration.TABLE_CREDENTIALS),
		Key: map[string]*dynamodb.AttributeValue{
			"CredentialID": {
				S: aws.String(credentialId),
			},
		},
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeValues: exprValues,
	})
	if err != nil {
		log.Printf("credentialID: %s got error updating tokens: %s", credentialId, err)
	}
	return err
}

// SetCredentialActive flips the active flag without touching tokens.
func SetCredentialActive(credentialId string, active bool) error {
	flag := tables.CREDENTIAL_INACTIVE
	if active {
		flag = tables.CREDENTIAL_ACTIVE
	}
	_, err := svc.UpdateItem(&dynamodb.UpdateItemInput{
		TableName: aws.String(dynamo_configuration.TABLE_CREDENTIALS),
		Key: map[string]*dynamodb.AttributeValue{
			"CredentialID": {
				S: aws.String(credentialId),
			},
		},
		UpdateExpression: aws.String("SET ActiveFlag = :f, UpdatedAtEpochMilli = :u"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":f": {
				S: aws.String(flag),
			},
			":u": {
				N: aws.String(strconv.FormatInt(time.Now().UnixMilli(), 10)),
			},
		},
	})
	if err != nil {
		log.Printf("credentialID: %s got error setting active flag: %s", credentialId, err)
	}
	return err
}

// DeactivateCredentialWithError marks a credential inactive and records
// the failure details in its profile metadata for operator inspection.
func DeactivateCredentialWithError(credentialId string, refreshErr string) error {
	existing, err := GetCredential(credentialId)
	if err != nil {
		return err
	}
	metadata := map[string]interface{}{}
	if existing.ProfileMetadata != "" {
		json.Unmarshal([]byte(existing.ProfileMetadata), &metadata)
	}
	metadata["lastRefreshError"] = refreshErr
	metadata["lastRefreshAttempt"] = time.Now().UTC().Format(time.RFC3339)
	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = svc.UpdateItem(&dynamodb.UpdateItemInput{
		TableName: aws.String(dynamo_configuration.TABLE_CREDENTIALS),
		Key: map[string]*dynamodb.AttributeValue{
			"CredentialID": {
				S: aws.String(credentialId),
			},
		},
		UpdateExpression: aws.String("SET ActiveFlag = :f, ProfileMetadata = :m, UpdatedAtEpochMilli = :u"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":f": {
				S: aws.String(tables.CREDENTIAL_INACTIVE),
			},
			":m": {
				S: aws.String(string(raw)),
			},
			":u": {
				N: aws.String(strconv.FormatInt(time.Now().UnixMilli(), 10)),
			},
		},
	})
	if err != nil {
		log.Printf("credentialID: %s got error deactivating credential: %s", credentialId, err)
	}
	return err
}

// DeleteCredential hard-deletes the record. Disconnecting an account
// removes its tokens entirely rather than leaving sealed secrets behind.
func DeleteCredential(credentialId string) error {
	_, err := svc.DeleteItem(&dynamodb.DeleteItemInput{
		TableName: aws.String(dynamo_configuration.TABLE_CREDENTIALS),
		Key: map[string]*dynamodb.AttributeValue{
			"CredentialID": {
				S: aws.String(credentialId),
			},
		},
	})
	if err != nil {
		log.Printf("credentialID: %s got error calling DeleteItem credential: %s", credentialId, err)
	}
	return err
}

func queryCredentials(queryInput *dynamodb.QueryInput) ([]tables.Credential, error) {
	results := []tables.Credential{}
	queryOutput, err := svc.Query(queryInput)
	if err != nil {
		log.Printf("unable to query credentials: %s", err)
		return results, err
	}
	for _, item := range queryOutput.Items {
		credential := tables.Credential{}
		err = dynamodbattribute.UnmarshalMap(item, &credential)
		if err != nil {
			log.Printf("error unmarshalling credential item: %s", err)
			return results, err
		}
		openTokens(&credential)
		results = append(results, credential)
	}
	return results, nil
}

type sealedPair struct {
	access  string
	refresh string
}

func sealTokens(accessToken string, refreshToken string) (sealedPair, error) {
	pair := sealedPair{}
	sealedAccess, err := vault.Seal(accessToken)
	if err != nil {
		return pair, err
	}
	pair.access = sealedAccess
	if refreshToken != "" {
		sealedRefresh, err := vault.Seal(refreshToken)
		if err != nil {
			return pair, err
		}
		pair.refresh = sealedRefresh
	}
	return pair, nil
}

// openTokens decrypts in place, tolerating per-field failures. A field
// that cannot be opened keeps its envelope value.
func openTokens(credential *tables.Credential) {
	if credential.AccessToken != "" {
		plain, err := vault.Open(credential.AccessToken)
		if err != nil {
			log.Printf("credentialID: %s unable to open access token, leaving sealed: %s", credential.CredentialID, err)
		} else {
			credential.AccessToken = plain
		}
	}
	if credential.RefreshToken != "" {
		plain, err := vault.Open(credential.RefreshToken)
		if err != nil {
			log.Printf("credentialID: %s unable to open refresh token, leaving sealed: %s", credential.CredentialID, err)
		} else {
			credential.RefreshToken = plain
		}
	}
}
