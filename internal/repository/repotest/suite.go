// Package repotest holds behaviour tests every presence store adapter must pass.
package repotest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dom/presence-registry/internal/domain"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Harness is a freshly emptied store plus the clock it was built with.
type Harness struct {
	Repos *repository.Repositories
	Clock *testclock.Clock
	// ClockDrivesExpiry is false for stores whose expiry runs on wall time
	// (redis), which skips the tests that advance the clock past a TTL.
	ClockDrivesExpiry bool
	// ExpiresAt reads back the stored expiry, when the adapter can.
	ExpiresAt func(t *testing.T, userID string) time.Time
}

type Factory func(t *testing.T) Harness

// Run executes the whole suite against the adapter built by newHarness.
func Run(t *testing.T, newHarness Factory) {
	t.Run("ConnectionSaveAndGet", func(t *testing.T) { testSaveAndGet(t, newHarness(t)) })
	t.Run("ConnectionGetMissing", func(t *testing.T) { testGetMissing(t, newHarness(t)) })
	t.Run("ConnectionSaveEmpty", func(t *testing.T) { testSaveEmpty(t, newHarness(t)) })
	t.Run("ConnectionOverwrite", func(t *testing.T) { testOverwrite(t, newHarness(t)) })
	t.Run("ConnectionDelete", func(t *testing.T) { testDelete(t, newHarness(t)) })
	t.Run("ConnectionListUserIDs", func(t *testing.T) { testListUserIDs(t, newHarness(t)) })
	t.Run("ConnectionFilterExisting", func(t *testing.T) { testFilterExisting(t, newHarness(t)) })
	t.Run("ConnectionGetMany", func(t *testing.T) { testGetMany(t, newHarness(t)) })
	t.Run("ConnectionBatchTooLarge", func(t *testing.T) { testBatchTooLarge(t, newHarness(t)) })
	t.Run("ConnectionExpiry", func(t *testing.T) { testConnectionExpiry(t, newHarness(t)) })
	t.Run("ActivityRecordAndGet", func(t *testing.T) { testActivityRecord(t, newHarness(t)) })
	t.Run("ActivityOverwrite", func(t *testing.T) { testActivityOverwrite(t, newHarness(t)) })
	t.Run("ActivityExpiry", func(t *testing.T) { testActivityExpiry(t, newHarness(t)) })
}

func testSaveAndGet(t *testing.T, h Harness) {
	ctx := context.Background()
	now := h.Clock.Now()

	rec := domain.NewConnectionRecord("alice")
	rec.Upsert("c1", now)
	rec.Upsert("c2", now.Add(time.Second))
	require.NoError(t, h.Repos.Connection.Save(ctx, rec))

	got, err := h.Repos.Connection.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	require.Len(t, got.Connections, 2)
	assert.Equal(t, "c1", got.Connections[0].ConnectionID)
	assert.True(t, now.Equal(got.Connections[0].LastActiveAt), "want %v got %v", now, got.Connections[0].LastActiveAt)
	assert.Equal(t, "c2", got.Connections[1].ConnectionID)

	if h.ExpiresAt != nil {
		want := now.Add(time.Second).Add(domain.DefaultConnectionTTL)
		assert.WithinDuration(t, want, h.ExpiresAt(t, "alice"), time.Second)
	}
}

func testGetMissing(t *testing.T, h Harness) {
	_, err := h.Repos.Connection.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testSaveEmpty(t *testing.T, h Harness) {
	ctx := context.Background()

	require.NoError(t, h.Repos.Connection.Save(ctx, domain.NewConnectionRecord("bob")))

	got, err := h.Repos.Connection.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, got.Connections)

	if h.ExpiresAt != nil {
		want := h.Clock.Now().Add(domain.DefaultConnectionTTL)
		assert.WithinDuration(t, want, h.ExpiresAt(t, "bob"), time.Second)
	}
}

func testOverwrite(t *testing.T, h Harness) {
	ctx := context.Background()
	now := h.Clock.Now()

	rec := domain.NewConnectionRecord("carol")
	rec.Upsert("c1", now)
	rec.Upsert("c2", now)
	require.NoError(t, h.Repos.Connection.Save(ctx, rec))

	rec = domain.NewConnectionRecord("carol")
	rec.Upsert("c3", now)
	require.NoError(t, h.Repos.Connection.Save(ctx, rec))

	got, err := h.Repos.Connection.Get(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, got.Connections, 1)
	assert.Equal(t, "c3", got.Connections[0].ConnectionID)
}

func testDelete(t *testing.T, h Harness) {
	ctx := context.Background()

	rec := domain.NewConnectionRecord("dave")
	rec.Upsert("c1", h.Clock.Now())
	require.NoError(t, h.Repos.Connection.Save(ctx, rec))

	require.NoError(t, h.Repos.Connection.Delete(ctx, "dave"))
	_, err := h.Repos.Connection.Get(ctx, "dave")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.NoError(t, h.Repos.Connection.Delete(ctx, "dave"), "delete must be idempotent")
}

func testListUserIDs(t *testing.T, h Harness) {
	ctx := context.Background()
	now := h.Clock.Now()

	ids, err := h.Repos.Connection.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	active := domain.NewConnectionRecord("u1")
	active.Upsert("c1", now)
	require.NoError(t, h.Repos.Connection.Save(ctx, active))
	require.NoError(t, h.Repos.Connection.Save(ctx, domain.NewConnectionRecord("u2")))

	ids, err = h.Repos.Connection.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids)
}

func testFilterExisting(t *testing.T, h Harness) {
	ctx := context.Background()

	rec := domain.NewConnectionRecord("u1")
	rec.Upsert("c1", h.Clock.Now())
	require.NoError(t, h.Repos.Connection.Save(ctx, rec))
	require.NoError(t, h.Repos.Connection.Save(ctx, domain.NewConnectionRecord("u3")))

	got, err := h.Repos.Connection.FilterExisting(ctx, []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u3"}, got)

	got, err = h.Repos.Connection.FilterExisting(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testGetMany(t *testing.T, h Harness) {
	ctx := context.Background()

	rec := domain.NewConnectionRecord("u1")
	rec.Upsert("c1", h.Clock.Now())
	require.NoError(t, h.Repos.Connection.Save(ctx, rec))
	require.NoError(t, h.Repos.Connection.Save(ctx, domain.NewConnectionRecord("u3")))

	got, err := h.Repos.Connection.GetMany(ctx, []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got["u1"].Connections, 1)
	assert.Empty(t, got["u3"].Connections)
	assert.NotContains(t, got, "u2")
}

func testBatchTooLarge(t *testing.T, h Harness) {
	ids := make([]string, repository.BatchLimit+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("user-%d", i)
	}

	_, err := h.Repos.Connection.FilterExisting(context.Background(), ids)
	assert.ErrorIs(t, err, repository.ErrBatchTooLarge)
	_, err = h.Repos.Connection.GetMany(context.Background(), ids)
	assert.ErrorIs(t, err, repository.ErrBatchTooLarge)
	_, err = h.Repos.Activity.GetMany(context.Background(), ids)
	assert.ErrorIs(t, err, repository.ErrBatchTooLarge)
}

func testConnectionExpiry(t *testing.T, h Harness) {
	if !h.ClockDrivesExpiry {
		t.Skip("store expires on wall time")
	}
	ctx := context.Background()

	rec := domain.NewConnectionRecord("eve")
	rec.Upsert("c1", h.Clock.Now())
	require.NoError(t, h.Repos.Connection.Save(ctx, rec))

	h.Clock.Advance(domain.DefaultConnectionTTL - time.Minute)
	_, err := h.Repos.Connection.Get(ctx, "eve")
	require.NoError(t, err, "record must survive inside its TTL")

	h.Clock.Advance(2 * time.Minute)
	_, err = h.Repos.Connection.Get(ctx, "eve")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	ids, err := h.Repos.Connection.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "eve")

	found, err := h.Repos.Connection.FilterExisting(ctx, []string{"eve"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func testActivityRecord(t *testing.T, h Harness) {
	ctx := context.Background()

	require.NoError(t, h.Repos.Activity.Record(ctx, "u1"))

	got, err := h.Repos.Activity.GetMany(ctx, []string{"u1", "u2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.WithinDuration(t, h.Clock.Now(), got["u1"], time.Second)

	got, err = h.Repos.Activity.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testActivityOverwrite(t *testing.T, h Harness) {
	ctx := context.Background()

	require.NoError(t, h.Repos.Activity.Record(ctx, "u1"))
	first := h.Clock.Now()
	h.Clock.Advance(time.Hour)
	require.NoError(t, h.Repos.Activity.Record(ctx, "u1"))

	got, err := h.Repos.Activity.GetMany(ctx, []string{"u1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.WithinDuration(t, first.Add(time.Hour), got["u1"], time.Second)
}

func testActivityExpiry(t *testing.T, h Harness) {
	if !h.ClockDrivesExpiry {
		t.Skip("store expires on wall time")
	}
	ctx := context.Background()

	require.NoError(t, h.Repos.Activity.Record(ctx, "u1"))

	h.Clock.Advance(24 * time.Hour * 90)
	got, err := h.Repos.Activity.GetMany(ctx, []string{"u1"})
	require.NoError(t, err)
	assert.Len(t, got, 1, "entry must outlive connection TTL by months")

	h.Clock.Advance(24 * time.Hour * 100)
	got, err = h.Repos.Activity.GetMany(ctx, []string{"u1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}
