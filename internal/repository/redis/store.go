// Package redis stores presence in Redis and leans on native key expiry.
//
// Keys:
//
//	{prefix}:userConnections:{userId} = JSON connection set (EXAT expiresAt)
//	{prefix}:lastActivity:{userId}    = RFC3339 timestamp   (EXAT now+retention)
package redis

import (
	"context"
	"fmt"

	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
)

const (
	userConnectionsPartition = "userConnections"
	lastActivityPartition    = "lastActivity"
)

// NewClient connects and pings so a bad address fails at startup.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return rdb, nil
}

type keyspace struct {
	prefix string
}

func (k keyspace) connections(userID string) string {
	return k.prefix + ":" + userConnectionsPartition + ":" + userID
}

func (k keyspace) activity(userID string) string {
	return k.prefix + ":" + lastActivityPartition + ":" + userID
}

func (k keyspace) connectionsPattern() string {
	return k.prefix + ":" + userConnectionsPartition + ":*"
}

func (k keyspace) userFromConnections(key string) string {
	return key[len(k.connections("")):]
}

func NewRepositories(rdb redis.UniversalClient, prefix string, clk clock.Clock, opts repository.Options) *repository.Repositories {
	ks := keyspace{prefix: prefix}
	return &repository.Repositories{
		Connection: &connectionRepository{rdb: rdb, keys: ks, clock: clk, ttl: opts.ConnectionTTL},
		Activity:   &activityRepository{rdb: rdb, keys: ks, clock: clk, retention: opts.ActivityRetentionMonths},
	}
}
