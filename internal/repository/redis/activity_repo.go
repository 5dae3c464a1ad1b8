package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/dom/presence-registry/internal/domain"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
)

type activityRepository struct {
	rdb       redis.UniversalClient
	keys      keyspace
	clock     clock.Clock
	retention int
}

func (r *activityRepository) Record(ctx context.Context, userID string) error {
	now := r.clock.Now().UTC()
	return r.rdb.SetArgs(ctx, r.keys.activity(userID), now.Format(time.RFC3339Nano), redis.SetArgs{
		ExpireAt: domain.ActivityExpiresAt(now, r.retention),
	}).Err()
}

func (r *activityRepository) GetMany(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	if err := repository.CheckBatch(userIDs); err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = r.keys.activity(id)
	}

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		seenAt, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("decode last activity for %s: %w", userIDs[i], err)
		}
		out[userIDs[i]] = seenAt.UTC()
	}
	return out, nil
}
