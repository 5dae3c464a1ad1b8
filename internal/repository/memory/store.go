// Package memory is an in-process presence store for tests and local runs.
// Expired entries are hidden on read and dropped lazily.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dom/presence-registry/internal/domain"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock"
)

type connectionItem struct {
	connections []domain.ConnectionEntry
	expiresAt   time.Time
}

type activityItem struct {
	seenAt    time.Time
	expiresAt time.Time
}

// Store backs both repositories with maps guarded by a single mutex.
type Store struct {
	mu          sync.Mutex
	clock       clock.Clock
	opts        repository.Options
	connections map[string]connectionItem
	activities  map[string]activityItem
}

func NewStore(clk clock.Clock, opts repository.Options) *Store {
	return &Store{
		clock:       clk,
		opts:        opts,
		connections: make(map[string]connectionItem),
		activities:  make(map[string]activityItem),
	}
}

func NewRepositories(s *Store) *repository.Repositories {
	return &repository.Repositories{
		Connection: &connectionRepository{s: s},
		Activity:   &activityRepository{s: s},
	}
}

// ExpiresAt exposes a record's stored expiry for tests.
func (s *Store) ExpiresAt(userID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.liveConnection(userID)
	return item.expiresAt, ok
}

func (s *Store) liveConnection(userID string) (connectionItem, bool) {
	item, ok := s.connections[userID]
	if !ok {
		return connectionItem{}, false
	}
	if !s.clock.Now().Before(item.expiresAt) {
		delete(s.connections, userID)
		return connectionItem{}, false
	}
	return item, true
}

func (s *Store) liveActivity(userID string) (activityItem, bool) {
	item, ok := s.activities[userID]
	if !ok {
		return activityItem{}, false
	}
	if !s.clock.Now().Before(item.expiresAt) {
		delete(s.activities, userID)
		return activityItem{}, false
	}
	return item, true
}

type connectionRepository struct {
	s *Store
}

func (r *connectionRepository) Get(ctx context.Context, userID string) (*domain.ConnectionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	item, ok := r.s.liveConnection(userID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return toRecord(userID, item), nil
}

func (r *connectionRepository) Save(ctx context.Context, record *domain.ConnectionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var conns []domain.ConnectionEntry
	if len(record.Connections) > 0 {
		conns = append([]domain.ConnectionEntry(nil), record.Connections...)
	}
	r.s.connections[record.UserID] = connectionItem{
		connections: conns,
		expiresAt:   record.ExpiresAt(r.s.clock.Now(), r.s.opts.ConnectionTTL),
	}
	return nil
}

func (r *connectionRepository) Delete(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.connections, userID)
	return nil
}

func (r *connectionRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ids := make([]string, 0, len(r.s.connections))
	for id := range r.s.connections {
		if _, ok := r.s.liveConnection(id); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *connectionRepository) FilterExisting(ctx context.Context, userIDs []string) ([]string, error) {
	if err := repository.CheckBatch(userIDs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var found []string
	for _, id := range userIDs {
		if _, ok := r.s.liveConnection(id); ok {
			found = append(found, id)
		}
	}
	return found, nil
}

func (r *connectionRepository) GetMany(ctx context.Context, userIDs []string) (map[string]*domain.ConnectionRecord, error) {
	if err := repository.CheckBatch(userIDs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make(map[string]*domain.ConnectionRecord, len(userIDs))
	for _, id := range userIDs {
		if item, ok := r.s.liveConnection(id); ok {
			out[id] = toRecord(id, item)
		}
	}
	return out, nil
}

func toRecord(userID string, item connectionItem) *domain.ConnectionRecord {
	rec := domain.NewConnectionRecord(userID)
	if len(item.connections) > 0 {
		rec.Connections = append([]domain.ConnectionEntry(nil), item.connections...)
	}
	return rec
}

type activityRepository struct {
	s *Store
}

func (r *activityRepository) Record(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.clock.Now().UTC()
	r.s.activities[userID] = activityItem{
		seenAt:    now,
		expiresAt: domain.ActivityExpiresAt(now, r.s.opts.ActivityRetentionMonths),
	}
	return nil
}

func (r *activityRepository) GetMany(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	if err := repository.CheckBatch(userIDs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make(map[string]time.Time, len(userIDs))
	for _, id := range userIDs {
		if item, ok := r.s.liveActivity(id); ok {
			out[id] = item.seenAt
		}
	}
	return out, nil
}
