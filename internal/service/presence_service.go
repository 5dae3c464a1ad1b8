package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dom/presence-registry/internal/domain"
	"github.com/dom/presence-registry/internal/metrics"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock"
)

// PresenceService is the registry entry point for transport handlers.
//
// It holds no state of its own. Every connection-set change is a
// read-modify-write of the whole record, so two concurrent events for the
// same user can lose an update; a stale entry heals through TTL expiry or
// the next activity or disconnect event.
type PresenceService struct {
	connRepo     repository.ConnectionRepository
	activityRepo repository.ActivityRepository
	query        *PresenceQuery
	clock        clock.Clock
	batchSize    int
	metrics      *metrics.Metrics
}

func NewPresenceService(repos *repository.Repositories, query *PresenceQuery, clk clock.Clock, batchSize int, m *metrics.Metrics) *PresenceService {
	if batchSize < 1 || batchSize > repository.BatchLimit {
		batchSize = repository.BatchLimit
	}
	return &PresenceService{
		connRepo:     repos.Connection,
		activityRepo: repos.Activity,
		query:        query,
		clock:        clk,
		batchSize:    batchSize,
		metrics:      m,
	}
}

func (s *PresenceService) Policy() OnlinePolicy {
	return s.query.Policy()
}

// Now is the registry clock, for handlers stamping events.
func (s *PresenceService) Now() time.Time {
	return s.clock.Now()
}

// OnConnect adds connectionID to the user's record, creating the record on
// first connect. Reconnecting with a known id only refreshes its timestamp.
func (s *PresenceService) OnConnect(ctx context.Context, userID, connectionID string, at time.Time) error {
	if err := validateConnection(userID, connectionID); err != nil {
		return err
	}
	s.metrics.Event("connect")

	rec, err := s.load(ctx, userID)
	if err != nil {
		return s.storeError("connect", err)
	}

	rec.Upsert(connectionID, at)
	if err := s.connRepo.Save(ctx, rec); err != nil {
		return s.storeError("connect", fmt.Errorf("save connections for %s: %w", userID, err))
	}
	return nil
}

// OnDisconnect removes connectionID. The record is saved even when it ends
// up empty so it lingers for the grace window. No record is a no-op.
func (s *PresenceService) OnDisconnect(ctx context.Context, userID, connectionID string) error {
	if err := validateConnection(userID, connectionID); err != nil {
		return err
	}
	s.metrics.Event("disconnect")

	rec, err := s.connRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return s.storeError("disconnect", fmt.Errorf("load connections for %s: %w", userID, err))
	}

	rec.Remove(connectionID)
	if err := s.connRepo.Save(ctx, rec); err != nil {
		return s.storeError("disconnect", fmt.Errorf("save connections for %s: %w", userID, err))
	}
	return nil
}

// OnActivity refreshes the connection's activity time, which pushes the
// record's expiry out, and stamps the last-activity ledger. Only a known
// connection is refreshed: activity never creates a record or restores a
// disconnected entry. The two writes are independent; both are attempted
// and their errors joined.
func (s *PresenceService) OnActivity(ctx context.Context, userID, connectionID string, at time.Time) error {
	if err := validateConnection(userID, connectionID); err != nil {
		return err
	}
	s.metrics.Event("activity")

	var errs []error
	if err := s.touch(ctx, userID, connectionID, at); err != nil {
		errs = append(errs, s.storeError("activity", err))
	}
	if err := s.activityRepo.Record(ctx, userID); err != nil {
		errs = append(errs, s.storeError("activity", fmt.Errorf("record activity for %s: %w", userID, err)))
	}
	return errors.Join(errs...)
}

func (s *PresenceService) touch(ctx context.Context, userID, connectionID string, at time.Time) error {
	rec, err := s.connRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load connections for %s: %w", userID, err)
	}
	if !rec.Touch(connectionID, at) {
		return nil
	}
	if err := s.connRepo.Save(ctx, rec); err != nil {
		return fmt.Errorf("save connections for %s: %w", userID, err)
	}
	return nil
}

// Remove deletes the user's whole record, unlike OnDisconnect which only
// drops one connection.
func (s *PresenceService) Remove(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrInvalidUserID
	}
	if err := s.connRepo.Delete(ctx, userID); err != nil {
		return s.storeError("remove", fmt.Errorf("delete connections for %s: %w", userID, err))
	}
	return nil
}

// Connections returns the stored record, or repository.ErrNotFound.
func (s *PresenceService) Connections(ctx context.Context, userID string) (*domain.ConnectionRecord, error) {
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	return s.connRepo.Get(ctx, userID)
}

func (s *PresenceService) IsOnline(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, domain.ErrInvalidUserID
	}
	s.metrics.Query("is_online")

	online, err := s.query.IsOnline(ctx, userID)
	if err != nil {
		return false, s.storeError("is_online", fmt.Errorf("presence of %s: %w", userID, err))
	}
	return online, nil
}

// BulkIsOnline returns the online users among userIDs, de-duplicated and in
// first-seen order. Empty input never reaches the store.
func (s *PresenceService) BulkIsOnline(ctx context.Context, userIDs []string) ([]string, error) {
	ids := repository.Unique(userIDs)
	online := make([]string, 0, len(ids))
	if len(ids) == 0 {
		return online, nil
	}
	s.metrics.Query("bulk_is_online")

	for _, batch := range chunk(ids, s.batchSize) {
		found, err := s.query.BulkIsOnline(ctx, batch)
		if err != nil {
			return nil, s.storeError("bulk_is_online", fmt.Errorf("bulk presence: %w", err))
		}
		online = append(online, found...)
	}
	return online, nil
}

// GetLastActivity returns the last-seen time of every user with a ledger
// entry. Users without one are absent from the result.
func (s *PresenceService) GetLastActivity(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	ids := repository.Unique(userIDs)
	out := make(map[string]time.Time, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	s.metrics.Query("last_activity")

	for _, batch := range chunk(ids, s.batchSize) {
		seen, err := s.activityRepo.GetMany(ctx, batch)
		if err != nil {
			return nil, s.storeError("last_activity", fmt.Errorf("last activity: %w", err))
		}
		for id, at := range seen {
			out[id] = at
		}
	}
	return out, nil
}

// OnlineUsers lists every online user known to the store.
func (s *PresenceService) OnlineUsers(ctx context.Context) ([]string, error) {
	s.metrics.Query("online_users")

	ids, err := s.query.OnlineUsers(ctx, s.batchSize)
	if err != nil {
		return nil, s.storeError("online_users", fmt.Errorf("list online users: %w", err))
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *PresenceService) load(ctx context.Context, userID string) (*domain.ConnectionRecord, error) {
	rec, err := s.connRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewConnectionRecord(userID), nil
		}
		return nil, fmt.Errorf("load connections for %s: %w", userID, err)
	}
	return rec, nil
}

func (s *PresenceService) storeError(op string, err error) error {
	s.metrics.StoreError(op)
	return err
}

func validateConnection(userID, connectionID string) error {
	if userID == "" {
		return domain.ErrInvalidUserID
	}
	if connectionID == "" {
		return domain.ErrInvalidConnectionID
	}
	return nil
}
