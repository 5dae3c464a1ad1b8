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

type activityItem struct {
	PK   string `dynamodbav:"pk"`
	SK   string `dynamodbav:"sk"`
	Time string `dynamodbav:"time"`
	TTL  int64  `dynamodbav:"ttl"`
}

type activityRepository struct {
	api       API
	table     string
	clock     clock.Clock
	retention int
}

func (r *activityRepository) Record(ctx context.Context, userID string) error {
	now := r.clock.Now().UTC()
	av, err := attributevalue.MarshalMap(activityItem{
		PK:   lastActivityPK,
		SK:   userID,
		Time: now.Format(time.RFC3339Nano),
		TTL:  domain.ActivityExpiresAt(now, r.retention).Unix(),
	})
	if err != nil {
		return fmt.Errorf("encode activity item: %w", err)
	}

	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      av,
	})
	return err
}

func (r *activityRepository) GetMany(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	userIDs = repository.Unique(userIDs)
	if err := repository.CheckBatch(userIDs); err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	raw, err := batchGet(ctx, r.api, r.table, types.KeysAndAttributes{
		Keys: batchKeys(lastActivityPK, userIDs),
	})
	if err != nil {
		return nil, err
	}

	var items []activityItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	now := r.clock.Now()
	for _, item := range items {
		if expired(item.TTL, now) {
			continue
		}
		seenAt, err := time.Parse(time.RFC3339Nano, item.Time)
		if err != nil {
			return nil, fmt.Errorf("parse last activity of %s: %w", item.SK, err)
		}
		out[item.SK] = seenAt.UTC()
	}
	return out, nil
}
