package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dom/presence-registry/internal/domain"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
)

const scanCount = 100

// connectionsValue is the stored JSON. The list is omitted when empty.
type connectionsValue struct {
	Connections []domain.ConnectionEntry `json:"connections,omitempty"`
}

type connectionRepository struct {
	rdb   redis.UniversalClient
	keys  keyspace
	clock clock.Clock
	ttl   time.Duration
}

func (r *connectionRepository) Get(ctx context.Context, userID string) (*domain.ConnectionRecord, error) {
	data, err := r.rdb.Get(ctx, r.keys.connections(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return decodeRecord(userID, data)
}

func (r *connectionRepository) Save(ctx context.Context, record *domain.ConnectionRecord) error {
	data, err := json.Marshal(connectionsValue{Connections: record.Connections})
	if err != nil {
		return fmt.Errorf("encode connections: %w", err)
	}

	return r.rdb.SetArgs(ctx, r.keys.connections(record.UserID), data, redis.SetArgs{
		ExpireAt: record.ExpiresAt(r.clock.Now(), r.ttl),
	}).Err()
}

func (r *connectionRepository) Delete(ctx context.Context, userID string) error {
	return r.rdb.Del(ctx, r.keys.connections(userID)).Err()
}

func (r *connectionRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.rdb.Scan(ctx, 0, r.keys.connectionsPattern(), scanCount).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, r.keys.userFromConnections(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	// SCAN may return a key more than once while the keyspace rehashes.
	return repository.Unique(ids), nil
}

func (r *connectionRepository) FilterExisting(ctx context.Context, userIDs []string) ([]string, error) {
	if err := repository.CheckBatch(userIDs); err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.IntCmd, len(userIDs))
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range userIDs {
			cmds[i] = p.Exists(ctx, r.keys.connections(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var found []string
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			found = append(found, userIDs[i])
		}
	}
	return found, nil
}

func (r *connectionRepository) GetMany(ctx context.Context, userIDs []string) (map[string]*domain.ConnectionRecord, error) {
	if err := repository.CheckBatch(userIDs); err != nil {
		return nil, err
	}
	out := make(map[string]*domain.ConnectionRecord, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = r.keys.connections(id)
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
		rec, err := decodeRecord(userIDs[i], []byte(s))
		if err != nil {
			return nil, err
		}
		out[userIDs[i]] = rec
	}
	return out, nil
}

func decodeRecord(userID string, data []byte) (*domain.ConnectionRecord, error) {
	var v connectionsValue
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode connections for %s: %w", userID, err)
	}
	rec := domain.NewConnectionRecord(userID)
	for _, c := range v.Connections {
		rec.Connections = append(rec.Connections, domain.ConnectionEntry{
			ConnectionID: c.ConnectionID,
			LastActiveAt: c.LastActiveAt.UTC(),
		})
	}
	return rec, nil
}
