package dynamodb

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/storage/dynamodb/mocks"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(client *mocks.DynamoDBAPI) *Store {
	s := New(client, Tables{
		Accounts:     "accounts",
		Transactions: "transactions",
		Outbox:       "outbox",
		Config:       "config",
		Connections:  "connections",
	})
	s.now = func() time.Time { return fixedNow }
	return s
}

func accountAV(t *testing.T, a *models.Account) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(toAccountItem(a))
	require.NoError(t, err)
	return av
}

func transactionAV(t *testing.T, tx *models.Transaction) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(toTransactionItem(tx))
	require.NoError(t, err)
	return av
}

// cancelled builds the error DynamoDB returns when a transact write is rejected.
// failed lists the indexes whose condition failed; items carries ALL_OLD images.
func cancelled(n int, failed map[int]map[string]types.AttributeValue) error {
	reasons := make([]types.CancellationReason, n)
	for i := range reasons {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		if item, ok := failed[i]; ok {
			reasons[i] = types.CancellationReason{Code: aws.String(conditionalCheckFailed), Item: item}
		}
	}
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}
