package websockets

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/notify"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockConnections struct{ mock.Mock }

func (m *mockConnections) AddConnection(ctx context.Context, connectionID, accountID string) error {
	return m.Called(ctx, connectionID, accountID).Error(0)
}

func (m *mockConnections) RemoveConnection(ctx context.Context, connectionID string) error {
	return m.Called(ctx, connectionID).Error(0)
}

func (m *mockConnections) GetConnections(ctx context.Context, accountID string) ([]string, error) {
	args := m.Called(ctx, accountID)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

type mockPoster struct{ mock.Mock }

func (m *mockPoster) PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*apigatewaymanagementapi.PostToConnectionOutput)
	return out, args.Error(1)
}

func TestAPIGatewayPublisher(t *testing.T) {
	ctx := context.Background()
	msg := notify.Message{AccountID: "acct-1", TransactionID: "tx-1", Title: "Deposit completed", Amount: decimal.NewFromInt(5)}

	t.Run("Success", func(t *testing.T) {
		conns := new(mockConnections)
		poster := new(mockPoster)
		conns.On("GetConnections", mock.Anything, "acct-1").Return([]string{"c1", "c2"}, nil)
		poster.On("PostToConnection", mock.Anything, mock.MatchedBy(func(in *apigatewaymanagementapi.PostToConnectionInput) bool {
			return strings.Contains(string(in.Data), `"type":"transactionUpdate"`)
		})).Return(&apigatewaymanagementapi.PostToConnectionOutput{}, nil).Twice()

		p := NewAPIGatewayPublisherWithClient(conns, poster, nil)
		require.NoError(t, p.Send(ctx, models.NotificationChannel{Kind: models.ChannelWebSocket}, msg))
		poster.AssertExpectations(t)
	})

	t.Run("Stale Connection Removed", func(t *testing.T) {
		conns := new(mockConnections)
		poster := new(mockPoster)
		conns.On("GetConnections", mock.Anything, "acct-1").Return([]string{"gone"}, nil)
		conns.On("RemoveConnection", mock.Anything, "gone").Return(nil).Once()
		poster.On("PostToConnection", mock.Anything, mock.Anything).Return(nil, &apigwtypes.GoneException{})

		p := NewAPIGatewayPublisherWithClient(conns, poster, nil)
		require.NoError(t, p.Send(ctx, models.NotificationChannel{}, msg))
		conns.AssertExpectations(t)
	})

	t.Run("Store Error", func(t *testing.T) {
		conns := new(mockConnections)
		conns.On("GetConnections", mock.Anything, "acct-1").Return(nil, errors.New("boom"))

		p := NewAPIGatewayPublisherWithClient(conns, new(mockPoster), nil)
		assert.Error(t, p.Send(ctx, models.NotificationChannel{}, msg))
	})
}

func TestHub(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?account_id=acct-1"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return hub.Connections("acct-1") == 1 }, time.Second, 10*time.Millisecond)

	msg := notify.Message{AccountID: "acct-1", TransactionID: "tx-1", Title: "Interest credited"}
	require.NoError(t, hub.Send(context.Background(), models.NotificationChannel{Kind: models.ChannelWebSocket}, msg))

	var got struct {
		Type    MessageType    `json:"type"`
		Payload notify.Message `json:"payload"`
	}
	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, MessageTypeTransactionUpdate, got.Type)
	assert.Equal(t, "tx-1", got.Payload.TransactionID)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return hub.Connections("acct-1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubRequiresAccount(t *testing.T) {
	srv := httptest.NewServer(NewHub(nil))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
