package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dom/presence-registry/internal/domain"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock"
)

type connectionItem struct {
	PK          string           `dynamodbav:"pk"`
	SK          string           `dynamodbav:"sk"`
	TTL         int64            `dynamodbav:"ttl"`
	Connections []connectionAttr `dynamodbav:"connections,omitempty"`
}

type connectionAttr struct {
	ID   string `dynamodbav:"id"`
	Time string `dynamodbav:"time"`
}

// keyItem is the projection used for existence checks.
type keyItem struct {
	SK  string `dynamodbav:"sk"`
	TTL int64  `dynamodbav:"ttl"`
}

var keyProjection = struct {
	expr  string
	names map[string]string
}{
	expr:  "sk, #ttl",
	names: map[string]string{"#ttl": attrTTL},
}

type connectionRepository struct {
	api   API
	table string
	clock clock.Clock
	ttl   time.Duration
}

func (r *connectionRepository) Get(ctx context.Context, userID string) (*domain.ConnectionRecord, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key:       itemKey(userConnectionsPK, userID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, repository.ErrNotFound
	}

	var item connectionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decode connection item %s: %w", userID, err)
	}
	if expired(item.TTL, r.clock.Now()) {
		return nil, repository.ErrNotFound
	}
	return item.toDomain()
}

func (r *connectionRepository) Save(ctx context.Context, record *domain.ConnectionRecord) error {
	item := connectionItem{
		PK:  userConnectionsPK,
		SK:  record.UserID,
		TTL: record.ExpiresAt(r.clock.Now(), r.ttl).Unix(),
	}
	for _, c := range record.Connections {
		item.Connections = append(item.Connections, connectionAttr{
			ID:   c.ConnectionID,
			Time: c.LastActiveAt.UTC().Format(time.RFC3339Nano),
		})
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("encode connection item: %w", err)
	}

	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      av,
	})
	return err
}

func (r *connectionRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key:       itemKey(userConnectionsPK, userID),
	})
	return err
}

func (r *connectionRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	now := r.clock.Now()
	paginator := dynamodb.NewQueryPaginator(r.api, &dynamodb.QueryInput{
		TableName:                aws.String(r.table),
		KeyConditionExpression:   aws.String("pk = :pk"),
		ProjectionExpression:     aws.String(keyProjection.expr),
		ExpressionAttributeNames: keyProjection.names,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: userConnectionsPK},
		},
	})

	var ids []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var items []keyItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("decode query page: %w", err)
		}
		for _, item := range items {
			if !expired(item.TTL, now) {
				ids = append(ids, item.SK)
			}
		}
	}
	return ids, nil
}

func (r *connectionRepository) FilterExisting(ctx context.Context, userIDs []string) ([]string, error) {
	userIDs = repository.Unique(userIDs)
	if err := repository.CheckBatch(userIDs); err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	raw, err := batchGet(ctx, r.api, r.table, types.KeysAndAttributes{
		Keys:                     batchKeys(userConnectionsPK, userIDs),
		ProjectionExpression:     aws.String(keyProjection.expr),
		ExpressionAttributeNames: keyProjection.names,
	})
	if err != nil {
		return nil, err
	}

	var items []keyItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	now := r.clock.Now()
	var found []string
	for _, item := range items {
		if !expired(item.TTL, now) {
			found = append(found, item.SK)
		}
	}
	return found, nil
}

func (r *connectionRepository) GetMany(ctx context.Context, userIDs []string) (map[string]*domain.ConnectionRecord, error) {
	userIDs = repository.Unique(userIDs)
	if err := repository.CheckBatch(userIDs); err != nil {
		return nil, err
	}
	out := make(map[string]*domain.ConnectionRecord, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	raw, err := batchGet(ctx, r.api, r.table, types.KeysAndAttributes{
		Keys: batchKeys(userConnectionsPK, userIDs),
	})
	if err != nil {
		return nil, err
	}

	var items []connectionItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	now := r.clock.Now()
	for _, item := range items {
		if expired(item.TTL, now) {
			continue
		}
		rec, err := item.toDomain()
		if err != nil {
			return nil, err
		}
		out[item.SK] = rec
	}
	return out, nil
}

func (item connectionItem) toDomain() (*domain.ConnectionRecord, error) {
	rec := domain.NewConnectionRecord(item.SK)
	for _, c := range item.Connections {
		at, err := time.Parse(time.RFC3339Nano, c.Time)
		if err != nil {
			return nil, fmt.Errorf("parse time of connection %s: %w", c.ID, err)
		}
		rec.Connections = append(rec.Connections, domain.ConnectionEntry{
			ConnectionID: c.ID,
			LastActiveAt: at.UTC(),
		})
	}
	return rec, nil
}
