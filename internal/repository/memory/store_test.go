package memory_test

import (
	"testing"
	"time"

	"github.com/dom/presence-registry/internal/repository"
	"github.com/dom/presence-registry/internal/repository/memory"
	"github.com/dom/presence-registry/internal/repository/repotest"
	"github.com/juju/clock/testclock"
)

func TestStore(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repotest.Harness {
		clk := testclock.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
		store := memory.NewStore(clk, repository.DefaultOptions())
		return repotest.Harness{
			Repos:             memory.NewRepositories(store),
			Clock:             clk,
			ClockDrivesExpiry: true,
			ExpiresAt: func(t *testing.T, userID string) time.Time {
				at, ok := store.ExpiresAt(userID)
				if !ok {
					t.Fatalf("no record for %s", userID)
				}
				return at
			},
		}
	})
}
