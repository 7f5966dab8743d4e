package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/chris/cash-settlement/pkg/config"
	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/notify"
	"github.com/chris/cash-settlement/pkg/payout"
	"github.com/chris/cash-settlement/pkg/providers/momo"
	"github.com/chris/cash-settlement/pkg/providers/stripe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureSender struct {
	sent []notify.Message
}

func (c *captureSender) Send(_ context.Context, _ models.NotificationChannel, msg notify.Message) error {
	c.sent = append(c.sent, msg)
	return nil
}

func memoryConfig() *config.Config {
	return &config.Config{
		Environment:        "development",
		Backend:            config.BackendMemory,
		InterestWorkers:    2,
		MinUnitScale:       8,
		WithdrawalCurrency: "usdtbsc",
	}
}

func TestRegistry(t *testing.T) {
	t.Run("Only configured providers", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.MoMo = momo.Config{SecretKey: "s", AccessKey: "a"}
		cfg.Stripe = stripe.Config{WebhookSecret: "whsec"}

		names := Registry(cfg, zap.NewNop()).Names()

		assert.ElementsMatch(t, []string{momo.Name, stripe.Name}, names)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, Registry(memoryConfig(), zap.NewNop()).Names())
	})
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory backend", func(t *testing.T) {
		e, err := New(ctx, memoryConfig(), prometheus.NewRegistry(), nil)
		require.NoError(t, err)
		defer e.Close()

		assert.NotNil(t, e.Store)
		assert.NotNil(t, e.Metrics)
		assert.Nil(t, e.Connections)
		assert.NotNil(t, e.Runner())
	})

	t.Run("Unknown backend", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.Backend = "sqlite"

		_, err := New(ctx, cfg, nil, nil)
		assert.Error(t, err)
	})

	t.Run("Scheduler needs a queue", func(t *testing.T) {
		e, err := New(ctx, memoryConfig(), nil, nil)
		require.NoError(t, err)

		_, err = e.Scheduler(ctx)
		assert.Error(t, err)
	})

	t.Run("Approvals deferred without payout provider", func(t *testing.T) {
		e, err := New(ctx, memoryConfig(), nil, nil)
		require.NoError(t, err)

		_, err = e.Store.CreateAccount(ctx, &models.Account{ID: "acct-1"})
		require.NoError(t, err)
		_, err = e.Ledger.Credit(ctx, "acct-1", decimal.NewFromInt(50), ledger.Entry{Kind: models.DEPOSIT, ExternalRef: "seed:acct-1"})
		require.NoError(t, err)

		req, err := e.Withdrawals.Request(ctx, "acct-1", decimal.NewFromInt(20), "0x52908400098527886E0F7030069857D2E4169EE7")
		require.NoError(t, err)

		_, err = e.Withdrawals.Approve(ctx, req.TransactionID, "admin-1")
		assert.True(t, errors.Is(err, payout.ErrProviderTransient))

		tx, err := e.Store.GetTransaction(ctx, req.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, models.PENDING, tx.Status)
	})
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, memoryConfig(), nil, nil)
	require.NoError(t, err)

	local := &captureSender{}
	d, err := e.Dispatcher(ctx, local)
	require.NoError(t, err)

	_, err = e.Store.CreateAccount(ctx, &models.Account{
		ID:                  "acct-ws",
		NotificationChannel: &models.NotificationChannel{Kind: models.ChannelWebSocket, Address: "acct-ws"},
	})
	require.NoError(t, err)
	_, err = e.Ledger.Credit(ctx, "acct-ws", decimal.NewFromInt(5), ledger.Entry{Kind: models.DEPOSIT, ExternalRef: "seed:acct-ws"})
	require.NoError(t, err)

	report, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	require.Len(t, local.sent, 1)

	// A second drain has nothing left to deliver.
	report, err = d.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Sent)
	assert.Len(t, local.sent, 1)
}
