package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dom/presence-registry/internal/domain"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// connectionRow stores a user's connection set. Connections is NULL when the
// set is empty.
type connectionRow struct {
	UserID      string         `gorm:"primaryKey"`
	Connections datatypes.JSON `gorm:"type:jsonb"`
	ExpiresAt   time.Time      `gorm:"index;not null"`
}

func (connectionRow) TableName() string {
	return "presence_connections"
}

type connectionRepository struct {
	db    *gorm.DB
	clock clock.Clock
	ttl   time.Duration
}

func NewConnectionRepository(db *gorm.DB, clk clock.Clock, ttl time.Duration) *connectionRepository {
	return &connectionRepository{db: db, clock: clk, ttl: ttl}
}

func (r *connectionRepository) Get(ctx context.Context, userID string) (*domain.ConnectionRecord, error) {
	var row connectionRow
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, r.clock.Now()).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

func (r *connectionRepository) Save(ctx context.Context, record *domain.ConnectionRecord) error {
	row := connectionRow{
		UserID:    record.UserID,
		ExpiresAt: record.ExpiresAt(r.clock.Now(), r.ttl),
	}
	if len(record.Connections) > 0 {
		data, err := json.Marshal(record.Connections)
		if err != nil {
			return fmt.Errorf("encode connections: %w", err)
		}
		row.Connections = datatypes.JSON(data)
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (r *connectionRepository) Delete(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Delete(&connectionRow{}, "user_id = ?", userID).Error
}

func (r *connectionRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&connectionRow{}).
		Where("expires_at > ?", r.clock.Now()).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *connectionRepository) FilterExisting(ctx context.Context, userIDs []string) ([]string, error) {
	if err := repository.CheckBatch(userIDs); err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	var ids []string
	err := r.db.WithContext(ctx).
		Model(&connectionRow{}).
		Where("user_id IN ? AND expires_at > ?", userIDs, r.clock.Now()).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *connectionRepository) GetMany(ctx context.Context, userIDs []string) (map[string]*domain.ConnectionRecord, error) {
	if err := repository.CheckBatch(userIDs); err != nil {
		return nil, err
	}
	out := make(map[string]*domain.ConnectionRecord, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	var rows []connectionRow
	err := r.db.WithContext(ctx).
		Where("user_id IN ? AND expires_at > ?", userIDs, r.clock.Now()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out[row.UserID] = rec
	}
	return out, nil
}

func (row connectionRow) toDomain() (*domain.ConnectionRecord, error) {
	rec := domain.NewConnectionRecord(row.UserID)
	if len(row.Connections) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(row.Connections, &rec.Connections); err != nil {
		return nil, fmt.Errorf("decode connections for %s: %w", row.UserID, err)
	}
	for i := range rec.Connections {
		rec.Connections[i].LastActiveAt = rec.Connections[i].LastActiveAt.UTC()
	}
	return rec, nil
}
