package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/dom/presence-registry/internal/domain"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/dom/presence-registry/internal/repository/postgres"
	"github.com/dom/presence-registry/internal/repository/repotest"
	"github.com/dom/presence-registry/internal/testutil"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceRepositories(t *testing.T) {
	testDB := testutil.NewTestDB(t)

	repotest.Run(t, func(t *testing.T) repotest.Harness {
		testDB.Truncate(t)
		clk := testclock.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
		return repotest.Harness{
			Repos:             postgres.NewRepositories(testDB.DB, clk, repository.DefaultOptions()),
			Clock:             clk,
			ClockDrivesExpiry: true,
			ExpiresAt: func(t *testing.T, userID string) time.Time {
				var expiresAt time.Time
				err := testDB.DB.Raw("SELECT expires_at FROM presence_connections WHERE user_id = ?", userID).
					Scan(&expiresAt).Error
				require.NoError(t, err)
				return expiresAt
			},
		}
	})
}

func TestConnectionRepository_EmptySetStoredAsNull(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	clk := testclock.NewClock(time.Now())
	repo := postgres.NewConnectionRepository(testDB.DB, clk, domain.DefaultConnectionTTL)
	ctx := context.Background()

	rec := domain.NewConnectionRecord("u1")
	rec.Upsert("c1", clk.Now())
	require.NoError(t, repo.Save(ctx, rec))

	require.True(t, rec.Remove("c1"))
	require.NoError(t, repo.Save(ctx, rec))

	var nullCount int64
	err := testDB.DB.Raw("SELECT COUNT(*) FROM presence_connections WHERE user_id = ? AND connections IS NULL", "u1").
		Scan(&nullCount).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), nullCount)
}

func TestReaper_Reap(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	clk := testclock.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	repos := postgres.NewRepositories(testDB.DB, clk, repository.DefaultOptions())
	reaper := postgres.NewReaper(testDB.DB, clk, time.Minute)
	ctx := context.Background()

	rec := domain.NewConnectionRecord("u1")
	rec.Upsert("c1", clk.Now())
	require.NoError(t, repos.Connection.Save(ctx, rec))
	require.NoError(t, repos.Activity.Record(ctx, "u1"))

	removed, err := reaper.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	clk.Advance(domain.DefaultConnectionTTL + time.Second)
	removed, err = reaper.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed, "only the connection row is past its TTL")

	var remaining int64
	require.NoError(t, testDB.DB.Raw("SELECT COUNT(*) FROM presence_activities").Scan(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
}
