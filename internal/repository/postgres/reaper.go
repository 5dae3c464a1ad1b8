package postgres

import (
	"context"
	"log"
	"time"

	"github.com/juju/clock"
	"gorm.io/gorm"
)

// Reaper deletes presence rows whose expiry has passed. Postgres has no
// native TTL, so this stands in for the store-side reaper; reads already
// hide expired rows, the reaper only reclaims space.
type Reaper struct {
	db       *gorm.DB
	clock    clock.Clock
	interval time.Duration
}

func NewReaper(db *gorm.DB, clk clock.Clock, interval time.Duration) *Reaper {
	return &Reaper{db: db, clock: clk, interval: interval}
}

// Run reaps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.interval):
			if _, err := r.Reap(ctx); err != nil && ctx.Err() == nil {
				log.Printf("ERROR [postgres.Reaper] reap failed: %v", err)
			}
		}
	}
}

// Reap deletes every expired row once and returns how many were removed.
func (r *Reaper) Reap(ctx context.Context) (int64, error) {
	now := r.clock.Now()
	var total int64

	for _, model := range []interface{}{&connectionRow{}, &activityRow{}} {
		result := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(model)
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
	}

	if total > 0 {
		log.Printf("Reaper: removed %d expired presence rows", total)
	}
	return total, nil
}
