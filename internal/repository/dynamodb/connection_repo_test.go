package dynamodb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dom/presence-registry/internal/domain"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI records writes and serves canned batch responses.
type fakeAPI struct {
	API
	puts       []*dynamodb.PutItemInput
	batchCalls int
	batchOut   *dynamodb.BatchGetItemOutput
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) BatchGetItem(_ context.Context, _ *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.batchCalls++
	return f.batchOut, nil
}

func newTestRepos(api API) (*repository.Repositories, *testclock.Clock) {
	clk := testclock.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	return NewRepositories(api, "presence", clk, repository.DefaultOptions()), clk
}

func TestConnectionRepository_SaveItemShape(t *testing.T) {
	api := &fakeAPI{}
	repos, clk := newTestRepos(api)
	ctx := context.Background()

	rec := domain.NewConnectionRecord("u1")
	rec.Upsert("c1", clk.Now())
	require.NoError(t, repos.Connection.Save(ctx, rec))

	require.True(t, rec.Remove("c1"))
	require.NoError(t, repos.Connection.Save(ctx, rec))

	require.Len(t, api.puts, 2)

	full := api.puts[0].Item
	assert.Equal(t, &types.AttributeValueMemberS{Value: "userConnections"}, full["pk"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "u1"}, full["sk"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: fmt.Sprint(clk.Now().Add(30 * time.Minute).Unix())}, full["ttl"])
	conns, ok := full["connections"].(*types.AttributeValueMemberL)
	require.True(t, ok)
	require.Len(t, conns.Value, 1)
	entry := conns.Value[0].(*types.AttributeValueMemberM).Value
	assert.Equal(t, &types.AttributeValueMemberS{Value: "c1"}, entry["id"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "2026-03-01T10:00:00Z"}, entry["time"])

	assert.NotContains(t, api.puts[1].Item, "connections", "an empty set is omitted")
}

func TestActivityRepository_RecordItemShape(t *testing.T) {
	api := &fakeAPI{}
	repos, _ := newTestRepos(api)

	require.NoError(t, repos.Activity.Record(context.Background(), "u1"))

	require.Len(t, api.puts, 1)
	item := api.puts[0].Item
	assert.Equal(t, &types.AttributeValueMemberS{Value: "lastActivity"}, item["pk"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "2026-03-01T10:00:00Z"}, item["time"])
	want := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC).Unix()
	assert.Equal(t, &types.AttributeValueMemberN{Value: fmt.Sprint(want)}, item["ttl"])
}

func TestBatchReads_UnprocessedKeys(t *testing.T) {
	api := &fakeAPI{batchOut: &dynamodb.BatchGetItemOutput{
		Responses: map[string][]map[string]types.AttributeValue{"presence": {}},
		UnprocessedKeys: map[string]types.KeysAndAttributes{
			"presence": {Keys: batchKeys(userConnectionsPK, []string{"u2"})},
		},
	}}
	repos, _ := newTestRepos(api)
	ctx := context.Background()

	_, err := repos.Connection.FilterExisting(ctx, []string{"u1", "u2"})
	assert.ErrorIs(t, err, repository.ErrPartialBatch)

	_, err = repos.Connection.GetMany(ctx, []string{"u1", "u2"})
	assert.ErrorIs(t, err, repository.ErrPartialBatch)

	_, err = repos.Activity.GetMany(ctx, []string{"u1", "u2"})
	assert.ErrorIs(t, err, repository.ErrPartialBatch)
}

func TestBatchReads_LimitsAndEmptyInput(t *testing.T) {
	api := &fakeAPI{}
	repos, _ := newTestRepos(api)
	ctx := context.Background()

	tooMany := make([]string, repository.BatchLimit+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("u%d", i)
	}

	_, err := repos.Connection.GetMany(ctx, tooMany)
	assert.ErrorIs(t, err, repository.ErrBatchTooLarge)
	_, err = repos.Activity.GetMany(ctx, tooMany)
	assert.ErrorIs(t, err, repository.ErrBatchTooLarge)

	got, err := repos.Connection.FilterExisting(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Zero(t, api.batchCalls, "no request is sent for rejected or empty batches")
}

func TestExpired(t *testing.T) {
	now := time.Unix(1_000, 0)

	assert.False(t, expired(0, now), "missing ttl never expires")
	assert.False(t, expired(1_001, now))
	assert.True(t, expired(1_000, now))
	assert.True(t, expired(999, now))
}
