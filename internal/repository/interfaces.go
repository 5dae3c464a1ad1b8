package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dom/presence-registry/internal/domain"
)

// BatchLimit is the most keys a single batch read accepts. It matches the
// DynamoDB BatchGetItem limit so every backend behaves the same.
const BatchLimit = 100

var (
	ErrNotFound      = errors.New("record not found")
	ErrBatchTooLarge = errors.New("batch exceeds key limit")
	ErrPartialBatch  = errors.New("batch read returned unprocessed keys")
)

// ConnectionRepository persists one ConnectionRecord per user. Records expire
// on their own; callers never run expiry.
type ConnectionRepository interface {
	// Get returns ErrNotFound when no live record exists.
	Get(ctx context.Context, userID string) (*domain.ConnectionRecord, error)
	// Save overwrites the whole record and recomputes its expiry.
	Save(ctx context.Context, record *domain.ConnectionRecord) error
	// Delete removes the record. Deleting an absent key succeeds.
	Delete(ctx context.Context, userID string) error
	// ListUserIDs returns every user with a live record, empty or not.
	ListUserIDs(ctx context.Context) ([]string, error)
	// FilterExisting returns the candidates that have a live record.
	FilterExisting(ctx context.Context, userIDs []string) ([]string, error)
	// GetMany returns the live records among userIDs. Absent keys are omitted.
	GetMany(ctx context.Context, userIDs []string) (map[string]*domain.ConnectionRecord, error)
}

// ActivityRepository is the long-retention last-seen ledger.
type ActivityRepository interface {
	Record(ctx context.Context, userID string) error
	GetMany(ctx context.Context, userIDs []string) (map[string]time.Time, error)
}

type Repositories struct {
	Connection ConnectionRepository
	Activity   ActivityRepository
}

// Options configures every backend adapter.
type Options struct {
	ConnectionTTL           time.Duration
	ActivityRetentionMonths int
}

func DefaultOptions() Options {
	return Options{
		ConnectionTTL:           domain.DefaultConnectionTTL,
		ActivityRetentionMonths: domain.DefaultActivityRetentionMonths,
	}
}

// CheckBatch validates the size of a batch read.
func CheckBatch(userIDs []string) error {
	if len(userIDs) > BatchLimit {
		return ErrBatchTooLarge
	}
	return nil
}

// Unique drops empty and repeated ids, keeping first-seen order.
func Unique(userIDs []string) []string {
	seen := make(map[string]struct{}, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
