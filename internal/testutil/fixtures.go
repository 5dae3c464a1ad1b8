package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/dom/presence-registry/internal/domain"
	"github.com/google/uuid"
)

// NewUserID returns a unique user id for a test
func NewUserID() string {
	return fmt.Sprintf("user_%s", uuid.New().String()[:8])
}

// Authenticate issues an access token for userID signed with the server's secret
func (ts *TestServer) Authenticate(t *testing.T, userID string) string {
	t.Helper()

	token, err := ts.Services.Token.IssueToken(userID, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

// RecordBuilder seeds connection records straight into the registry
type RecordBuilder struct {
	userID      string
	connections []string
}

// NewRecordBuilder creates a RecordBuilder for a fresh user
func NewRecordBuilder() *RecordBuilder {
	return &RecordBuilder{userID: NewUserID()}
}

// WithUserID sets the user id
func (b *RecordBuilder) WithUserID(userID string) *RecordBuilder {
	b.userID = userID
	return b
}

// WithConnection adds an open connection
func (b *RecordBuilder) WithConnection(connectionID string) *RecordBuilder {
	b.connections = append(b.connections, connectionID)
	return b
}

// Build connects every configured connection, or leaves an empty record when
// there are none, and returns the stored record.
func (b *RecordBuilder) Build(t *testing.T, ts *TestServer) *domain.ConnectionRecord {
	t.Helper()

	ctx := context.Background()
	presence := ts.Services.Presence
	if len(b.connections) == 0 {
		const transient = "builder-transient"
		if err := presence.OnConnect(ctx, b.userID, transient, presence.Now()); err != nil {
			t.Fatalf("failed to seed record: %v", err)
		}
		if err := presence.OnDisconnect(ctx, b.userID, transient); err != nil {
			t.Fatalf("failed to empty record: %v", err)
		}
	}
	for _, connectionID := range b.connections {
		if err := presence.OnConnect(ctx, b.userID, connectionID, presence.Now()); err != nil {
			t.Fatalf("failed to seed connection %s: %v", connectionID, err)
		}
	}

	record, err := presence.Connections(ctx, b.userID)
	if err != nil {
		t.Fatalf("failed to load seeded record: %v", err)
	}
	return record
}

// CreateAuthenticatedRequest creates an HTTP request with auth token
func CreateAuthenticatedRequest(t *testing.T, method, url string, body interface{}, token string) *http.Request {
	t.Helper()

	var bodyReader *bytes.Buffer
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	} else {
		bodyReader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}
