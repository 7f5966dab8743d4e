package websockets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/chris/cash-settlement/pkg/websockets/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func request(route, connectionID, accountID string) events.APIGatewayWebsocketProxyRequest {
	req := events.APIGatewayWebsocketProxyRequest{
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			RouteKey:     route,
			ConnectionID: connectionID,
		},
	}
	if accountID != "" {
		req.QueryStringParameters = map[string]string{"account_id": accountID}
	}
	return req
}

func TestRoute(t *testing.T) {
	ctx := context.Background()

	t.Run("Connect", func(t *testing.T) {
		mgr := new(mocks.ConnectionManager)
		mgr.On("AddConnection", mock.Anything, "c1", "acct-1").Return(nil).Once()

		resp, err := NewHandler(mgr, nil).Route(ctx, request("$connect", "c1", "acct-1"))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		mgr.AssertExpectations(t)
	})

	t.Run("Connect Without Account", func(t *testing.T) {
		mgr := new(mocks.ConnectionManager)
		resp, err := NewHandler(mgr, nil).Route(ctx, request("$connect", "c1", ""))
		assert.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
		mgr.AssertNotCalled(t, "AddConnection", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Connect Store Error", func(t *testing.T) {
		mgr := new(mocks.ConnectionManager)
		mgr.On("AddConnection", mock.Anything, "c1", "acct-1").Return(errors.New("boom")).Once()

		resp, err := NewHandler(mgr, nil).Route(ctx, request("$connect", "c1", "acct-1"))
		assert.Error(t, err)
		assert.Equal(t, 500, resp.StatusCode)
	})

	t.Run("Disconnect", func(t *testing.T) {
		mgr := new(mocks.ConnectionManager)
		mgr.On("RemoveConnection", mock.Anything, "c1").Return(nil).Once()

		resp, err := NewHandler(mgr, nil).Route(ctx, request("$disconnect", "c1", ""))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		mgr.AssertExpectations(t)
	})

	t.Run("Default", func(t *testing.T) {
		resp, err := NewHandler(new(mocks.ConnectionManager), nil).Route(ctx, request("ping", "c1", ""))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	})
}
