package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dom/presence-registry/internal/repository"
)

// OnlinePolicy decides what a stored connection record means for presence.
type OnlinePolicy string

const (
	// PolicyActiveConnections: online iff the record exists and holds at
	// least one connection. A just-disconnected user waiting out the grace
	// window is offline.
	PolicyActiveConnections OnlinePolicy = "active_connections"
	// PolicyRecordExists: online iff a live record exists, empty or not.
	PolicyRecordExists OnlinePolicy = "record_exists"
)

var ErrUnknownPolicy = errors.New("unknown online policy")

func ParseOnlinePolicy(s string) (OnlinePolicy, error) {
	switch p := OnlinePolicy(s); p {
	case PolicyActiveConnections, PolicyRecordExists:
		return p, nil
	case "":
		return PolicyActiveConnections, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// PresenceQuery answers online-status questions from the connection store.
// It does not retry and has no fallback: store errors are returned as is.
type PresenceQuery struct {
	connRepo repository.ConnectionRepository
	policy   OnlinePolicy
}

func NewPresenceQuery(connRepo repository.ConnectionRepository, policy OnlinePolicy) *PresenceQuery {
	return &PresenceQuery{connRepo: connRepo, policy: policy}
}

func (q *PresenceQuery) Policy() OnlinePolicy {
	return q.policy
}

func (q *PresenceQuery) IsOnline(ctx context.Context, userID string) (bool, error) {
	rec, err := q.connRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if q.policy == PolicyRecordExists {
		return true, nil
	}
	return rec.HasConnections(), nil
}

// BulkIsOnline returns the online users among userIDs in input order. The
// input must fit in one store batch; callers chunk larger sets.
func (q *PresenceQuery) BulkIsOnline(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	online := make(map[string]bool, len(userIDs))
	switch q.policy {
	case PolicyRecordExists:
		ids, err := q.connRepo.FilterExisting(ctx, userIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			online[id] = true
		}
	default:
		records, err := q.connRepo.GetMany(ctx, userIDs)
		if err != nil {
			return nil, err
		}
		for id, rec := range records {
			online[id] = rec.HasConnections()
		}
	}

	var out []string
	for _, id := range userIDs {
		if online[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// OnlineUsers lists every online user. Under PolicyActiveConnections the
// partition listing is filtered in batches of batchSize.
func (q *PresenceQuery) OnlineUsers(ctx context.Context, batchSize int) ([]string, error) {
	ids, err := q.connRepo.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	if q.policy == PolicyRecordExists {
		return ids, nil
	}

	var out []string
	for _, batch := range chunk(ids, batchSize) {
		online, err := q.BulkIsOnline(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, online...)
	}
	return out, nil
}

func chunk(ids []string, size int) [][]string {
	if size < 1 {
		size = repository.BatchLimit
	}
	var batches [][]string
	for len(ids) > size {
		batches = append(batches, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		batches = append(batches, ids)
	}
	return batches
}
