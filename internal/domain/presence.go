package domain

import (
	"slices"
	"time"
)

const (
	// DefaultConnectionTTL is the grace window a connection record survives past
	// its most recent activity.
	DefaultConnectionTTL = 30 * time.Minute

	// DefaultActivityRetentionMonths is how long a last-seen entry is kept.
	DefaultActivityRetentionMonths = 6
)

// ConnectionEntry is one open transport session of a user.
type ConnectionEntry struct {
	ConnectionID string    `json:"id"`
	LastActiveAt time.Time `json:"time"`
}

// ConnectionRecord holds every open session of a single user. An empty
// Connections slice means the user just disconnected and the record is
// waiting out its TTL.
type ConnectionRecord struct {
	UserID      string            `json:"userId"`
	Connections []ConnectionEntry `json:"connections,omitempty"`
}

// NewConnectionRecord returns an empty record for userID.
func NewConnectionRecord(userID string) *ConnectionRecord {
	return &ConnectionRecord{UserID: userID}
}

// HasConnections reports whether at least one session is open.
func (r *ConnectionRecord) HasConnections() bool {
	return r != nil && len(r.Connections) > 0
}

// Find returns the index of connectionID, or -1.
func (r *ConnectionRecord) Find(connectionID string) int {
	return slices.IndexFunc(r.Connections, func(e ConnectionEntry) bool {
		return e.ConnectionID == connectionID
	})
}

// Upsert sets the entry for connectionID, replacing an existing entry in
// place so the sequence stays a set keyed by connection id.
func (r *ConnectionRecord) Upsert(connectionID string, at time.Time) {
	at = at.UTC()
	if i := r.Find(connectionID); i >= 0 {
		r.Connections[i].LastActiveAt = at
		return
	}
	r.Connections = append(r.Connections, ConnectionEntry{ConnectionID: connectionID, LastActiveAt: at})
}

// Touch moves the entry's LastActiveAt forward to at. Older timestamps are
// ignored. It reports false when connectionID is not in the record.
func (r *ConnectionRecord) Touch(connectionID string, at time.Time) bool {
	i := r.Find(connectionID)
	if i < 0 {
		return false
	}
	if at.After(r.Connections[i].LastActiveAt) {
		r.Connections[i].LastActiveAt = at.UTC()
	}
	return true
}

// Remove drops connectionID and reports whether it was present.
func (r *ConnectionRecord) Remove(connectionID string) bool {
	i := r.Find(connectionID)
	if i < 0 {
		return false
	}
	r.Connections = slices.Delete(r.Connections, i, i+1)
	return true
}

// LastActiveAt is the latest activity over all connections, zero if none.
func (r *ConnectionRecord) LastActiveAt() time.Time {
	var latest time.Time
	for _, c := range r.Connections {
		if c.LastActiveAt.After(latest) {
			latest = c.LastActiveAt
		}
	}
	return latest
}

// ExpiresAt derives the record's expiry: max(last activity, now) + ttl.
func (r *ConnectionRecord) ExpiresAt(now time.Time, ttl time.Duration) time.Time {
	base := now
	if latest := r.LastActiveAt(); latest.After(base) {
		base = latest
	}
	return base.Add(ttl).UTC()
}

// LastActivity is a user's last-seen timestamp as kept by the activity ledger.
type LastActivity struct {
	UserID string    `json:"userId"`
	SeenAt time.Time `json:"seenAt"`
}

// ActivityExpiresAt is the ledger retention horizon for an entry seen at seenAt.
func ActivityExpiresAt(seenAt time.Time, months int) time.Time {
	return seenAt.AddDate(0, months, 0).UTC()
}
