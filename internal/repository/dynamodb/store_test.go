package dynamodb_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dom/presence-registry/internal/repository"
	repoDynamo "github.com/dom/presence-registry/internal/repository/dynamodb"
	"github.com/dom/presence-registry/internal/repository/repotest"
	"github.com/dom/presence-registry/internal/testutil"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
)

func TestPresenceRepositories(t *testing.T) {
	td := testutil.NewTestDynamoDB(t)

	repotest.Run(t, func(t *testing.T) repotest.Harness {
		table := td.CreateTable(t)
		// Wall-clock start keeps stored ttl values in the future for DynamoDB Local.
		clk := testclock.NewClock(time.Now())
		return repotest.Harness{
			Repos:             repoDynamo.NewRepositories(td.Client, table, clk, repository.DefaultOptions()),
			Clock:             clk,
			ClockDrivesExpiry: true,
			ExpiresAt: func(t *testing.T, userID string) time.Time {
				out, err := td.Client.GetItem(context.Background(), &dynamodb.GetItemInput{
					TableName: aws.String(table),
					Key: map[string]types.AttributeValue{
						"pk": &types.AttributeValueMemberS{Value: "userConnections"},
						"sk": &types.AttributeValueMemberS{Value: userID},
					},
				})
				require.NoError(t, err)
				ttl, ok := out.Item["ttl"].(*types.AttributeValueMemberN)
				require.True(t, ok, "ttl attribute must be numeric")
				secs, err := strconv.ParseInt(ttl.Value, 10, 64)
				require.NoError(t, err)
				return time.Unix(secs, 0)
			},
		}
	})
}
