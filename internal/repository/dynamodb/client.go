// Package dynamodb stores presence in a single DynamoDB table keyed by
// pk (partition name) and sk (user id), with a numeric ttl attribute that
// DynamoDB's own reaper acts on.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock"
)

const (
	userConnectionsPK = "userConnections"
	lastActivityPK    = "lastActivity"

	attrPK  = "pk"
	attrSK  = "sk"
	attrTTL = "ttl"
)

// API is the subset of the DynamoDB client the adapter uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// ClientConfig configures the DynamoDB client.
type ClientConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient builds a DynamoDB client from the default AWS config chain,
// with optional static credentials and endpoint override (DynamoDB Local).
func NewClient(ctx context.Context, cfg ClientConfig) (*dynamodb.Client, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// EnsureTable creates the presence table when it does not exist and waits
// until it is active.
func EnsureTable(ctx context.Context, client *dynamodb.Client, table string) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describe table %s: %w", table, err)
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrPK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrSK), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrPK), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrSK), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", table, err)
	}

	_, err = client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(table),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(attrTTL),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		// Reads filter expired items, so presence stays correct without the reaper.
		log.Printf("ERROR [dynamodb.EnsureTable] enable ttl on %s: %v", table, err)
	}
	return nil
}

func NewRepositories(api API, table string, clk clock.Clock, opts repository.Options) *repository.Repositories {
	return &repository.Repositories{
		Connection: &connectionRepository{api: api, table: table, clock: clk, ttl: opts.ConnectionTTL},
		Activity:   &activityRepository{api: api, table: table, clock: clk, retention: opts.ActivityRetentionMonths},
	}
}

func itemKey(pk, userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: userID},
	}
}

func batchKeys(pk string, userIDs []string) []map[string]types.AttributeValue {
	keys := make([]map[string]types.AttributeValue, len(userIDs))
	for i, id := range userIDs {
		keys[i] = itemKey(pk, id)
	}
	return keys
}

// batchGet reads keys from the table in one request. Unprocessed keys are
// reported, not retried.
func batchGet(ctx context.Context, api API, table string, ka types.KeysAndAttributes) ([]map[string]types.AttributeValue, error) {
	out, err := api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{table: ka},
	})
	if err != nil {
		return nil, err
	}
	if unprocessed, ok := out.UnprocessedKeys[table]; ok && len(unprocessed.Keys) > 0 {
		return nil, fmt.Errorf("%d keys: %w", len(unprocessed.Keys), repository.ErrPartialBatch)
	}
	return out.Responses[table], nil
}

// expired reports whether an item's ttl attribute has passed. DynamoDB
// deletes expired items lazily, so reads must check.
func expired(ttl int64, now time.Time) bool {
	return ttl > 0 && ttl <= now.Unix()
}
