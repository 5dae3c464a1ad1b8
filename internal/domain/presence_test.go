package domain_test

import (
	"testing"
	"time"

	"github.com/dom/presence-registry/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRecord_Upsert(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := domain.NewConnectionRecord("u1")

	rec.Upsert("c1", t0)
	rec.Upsert("c2", t0)
	rec.Upsert("c1", t0.Add(time.Minute))

	require.Len(t, rec.Connections, 2)
	assert.Equal(t, "c1", rec.Connections[0].ConnectionID)
	assert.Equal(t, t0.Add(time.Minute), rec.Connections[0].LastActiveAt)
	assert.Equal(t, "c2", rec.Connections[1].ConnectionID)
}

func TestConnectionRecord_Touch(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := domain.NewConnectionRecord("u1")
	rec.Upsert("c1", t0)

	assert.True(t, rec.Touch("c1", t0.Add(-time.Minute)))
	assert.Equal(t, t0, rec.Connections[0].LastActiveAt, "older timestamp must not move activity back")

	assert.True(t, rec.Touch("c1", t0.Add(time.Minute)))
	assert.Equal(t, t0.Add(time.Minute), rec.Connections[0].LastActiveAt)

	assert.False(t, rec.Touch("missing", t0))
}

func TestConnectionRecord_Remove(t *testing.T) {
	t0 := time.Now()
	rec := domain.NewConnectionRecord("u1")
	rec.Upsert("c1", t0)
	rec.Upsert("c2", t0)

	assert.True(t, rec.Remove("c1"))
	assert.False(t, rec.Remove("c1"))
	require.Len(t, rec.Connections, 1)
	assert.Equal(t, "c2", rec.Connections[0].ConnectionID)

	assert.True(t, rec.Remove("c2"))
	assert.False(t, rec.HasConnections())
}

func TestConnectionRecord_ExpiresAt(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ttl := 30 * time.Minute

	tests := []struct {
		name  string
		times []time.Time
		want  time.Time
	}{
		{
			name: "empty record uses now",
			want: now.Add(ttl),
		},
		{
			name:  "activity in the past uses now",
			times: []time.Time{now.Add(-10 * time.Minute)},
			want:  now.Add(ttl),
		},
		{
			name:  "latest of several entries wins when in the future",
			times: []time.Time{now.Add(time.Minute), now.Add(5 * time.Minute), now.Add(-time.Hour)},
			want:  now.Add(5 * time.Minute).Add(ttl),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := domain.NewConnectionRecord("u1")
			for i, ts := range tt.times {
				rec.Upsert(string(rune('a'+i)), ts)
			}
			assert.Equal(t, tt.want, rec.ExpiresAt(now, ttl))
		})
	}
}

func TestActivityExpiresAt(t *testing.T) {
	seen := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 7, 15, 8, 0, 0, 0, time.UTC), domain.ActivityExpiresAt(seen, 6))
}
