package postgres

import (
	"context"
	"time"

	"github.com/dom/presence-registry/internal/domain"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type activityRow struct {
	UserID    string    `gorm:"primaryKey"`
	SeenAt    time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
}

func (activityRow) TableName() string {
	return "presence_activities"
}

type activityRepository struct {
	db        *gorm.DB
	clock     clock.Clock
	retention int
}

func NewActivityRepository(db *gorm.DB, clk clock.Clock, retentionMonths int) *activityRepository {
	return &activityRepository{db: db, clock: clk, retention: retentionMonths}
}

func (r *activityRepository) Record(ctx context.Context, userID string) error {
	now := r.clock.Now().UTC()
	row := activityRow{
		UserID:    userID,
		SeenAt:    now,
		ExpiresAt: domain.ActivityExpiresAt(now, r.retention),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (r *activityRepository) GetMany(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	if err := repository.CheckBatch(userIDs); err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	var rows []activityRow
	err := r.db.WithContext(ctx).
		Where("user_id IN ? AND expires_at > ?", userIDs, r.clock.Now()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		out[row.UserID] = row.SeenAt.UTC()
	}
	return out, nil
}
