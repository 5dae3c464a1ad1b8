package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dom/presence-registry/internal/domain"
	"github.com/dom/presence-registry/internal/repository"
	repoRedis "github.com/dom/presence-registry/internal/repository/redis"
	"github.com/dom/presence-registry/internal/repository/repotest"
	"github.com/dom/presence-registry/internal/testutil"
	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceRepositories(t *testing.T) {
	tr := testutil.NewTestRedis(t)

	repotest.Run(t, func(t *testing.T) repotest.Harness {
		prefix := "test-" + uuid.NewString()[:8]
		clk := testclock.NewClock(time.Now())
		return repotest.Harness{
			Repos: repoRedis.NewRepositories(tr.Client, prefix, clk, repository.DefaultOptions()),
			Clock: clk,
			ExpiresAt: func(t *testing.T, userID string) time.Time {
				at, err := tr.Client.ExpireTime(context.Background(), prefix+":userConnections:"+userID).Result()
				require.NoError(t, err)
				return time.Unix(int64(at/time.Second), 0)
			},
		}
	})
}

func TestConnectionRepository_KeyLayout(t *testing.T) {
	tr := testutil.NewTestRedis(t)
	ctx := context.Background()
	clk := testclock.NewClock(time.Now())
	repos := repoRedis.NewRepositories(tr.Client, "layout", clk, repository.DefaultOptions())

	rec := domain.NewConnectionRecord("u1")
	rec.Upsert("c1", clk.Now())
	require.NoError(t, repos.Connection.Save(ctx, rec))
	require.NoError(t, repos.Activity.Record(ctx, "u1"))

	raw, err := tr.Client.Get(ctx, "layout:userConnections:u1").Result()
	require.NoError(t, err)
	assert.Contains(t, raw, `"id":"c1"`)

	seen, err := tr.Client.Get(ctx, "layout:lastActivity:u1").Result()
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339Nano, seen)
	assert.NoError(t, err)

	ttl, err := tr.Client.TTL(ctx, "layout:lastActivity:u1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 24*time.Hour*150, "last activity outlives connections by months")

	require.True(t, rec.Remove("c1"))
	require.NoError(t, repos.Connection.Save(ctx, rec))
	raw, err = tr.Client.Get(ctx, "layout:userConnections:u1").Result()
	require.NoError(t, err)
	assert.NotContains(t, raw, "connections", "an empty set is omitted")
}

func TestConnectionRepository_ListUserIDsDistinct(t *testing.T) {
	tr := testutil.NewTestRedis(t)
	ctx := context.Background()
	clk := testclock.NewClock(time.Now())
	repos := repoRedis.NewRepositories(tr.Client, "scan-"+uuid.NewString()[:8], clk, repository.DefaultOptions())

	const users = 1000
	for i := 0; i < users; i++ {
		rec := domain.NewConnectionRecord(fmt.Sprintf("u%d", i))
		rec.Upsert("c1", clk.Now())
		require.NoError(t, repos.Connection.Save(ctx, rec))
	}

	// Growing the keyspace while listing makes Redis rehash mid-scan.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5000; i++ {
			tr.Client.Set(ctx, fmt.Sprintf("filler:%d", i), "x", time.Minute)
		}
	}()

	for round := 0; round < 5; round++ {
		ids, err := repos.Connection.ListUserIDs(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, users)
		assert.ElementsMatch(t, repository.Unique(ids), ids, "each user is listed once")
	}
	<-done
}
