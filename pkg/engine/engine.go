// Package engine wires the settlement components from a config.Config. Every
// binary builds one Engine and takes the pieces it serves.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/chris/cash-settlement/pkg/config"
	"github.com/chris/cash-settlement/pkg/interest"
	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/metrics"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/notify"
	"github.com/chris/cash-settlement/pkg/notify/telegram"
	"github.com/chris/cash-settlement/pkg/payout"
	"github.com/chris/cash-settlement/pkg/providers"
	"github.com/chris/cash-settlement/pkg/providers/momo"
	"github.com/chris/cash-settlement/pkg/providers/nowpayments"
	"github.com/chris/cash-settlement/pkg/providers/payos"
	"github.com/chris/cash-settlement/pkg/providers/stripe"
	"github.com/chris/cash-settlement/pkg/scheduler"
	"github.com/chris/cash-settlement/pkg/settlement"
	"github.com/chris/cash-settlement/pkg/storage"
	dynamostore "github.com/chris/cash-settlement/pkg/storage/dynamodb"
	"github.com/chris/cash-settlement/pkg/storage/memory"
	"github.com/chris/cash-settlement/pkg/storage/postgres"
	"github.com/chris/cash-settlement/pkg/websockets"
	"github.com/chris/cash-settlement/pkg/withdrawal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine holds the wired components.
type Engine struct {
	Config      *config.Config
	Store       storage.Storage
	Ledger      *ledger.Ledger
	Providers   *providers.Registry
	Settlement  *settlement.Pipeline
	Withdrawals *withdrawal.Service
	Interest    *interest.Job
	Metrics     *metrics.Metrics
	Logger      *zap.Logger

	// Connections is set for the DynamoDB backend, which also tracks API Gateway
	// WebSocket connections.
	Connections websockets.ConnectionStore

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error
	closers []func()
}

// New builds an Engine. A nil reg disables metrics.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{Config: cfg, Logger: logger}
	if reg != nil {
		e.Metrics = metrics.New(reg)
	}

	if err := e.openStore(ctx); err != nil {
		return nil, err
	}

	e.Ledger = ledger.New(e.Store, logger.Named("ledger"))
	e.Providers = Registry(cfg, logger)

	var payouts payout.Adapter = payout.Disabled{}
	if cfg.NowPayments.APIKey != "" && cfg.NowPayments.Email != "" {
		payouts = nowpayments.New(cfg.NowPayments)
	} else {
		logger.Warn("no payout provider configured, approvals will be deferred")
	}

	e.Settlement = settlement.New(e.Ledger, e.Store, e.Providers, settlement.Options{
		ReferralCommissionPercent: cfg.ReferralCommissionPercent,
		MinUnitScale:              cfg.MinUnitScale,
	}, e.Metrics, logger.Named("settlement"))
	e.Withdrawals = withdrawal.New(e.Ledger, e.Store, payouts, withdrawal.Options{
		Currency:        cfg.WithdrawalCurrency,
		MinUnitScale:    cfg.MinUnitScale,
		UnresolvedAfter: cfg.WithdrawalUnresolvedAfter,
	}, e.Metrics, logger.Named("withdrawal"))
	e.Interest = interest.New(e.Ledger, e.Store, interest.Options{
		Workers:      cfg.InterestWorkers,
		MinUnitScale: cfg.MinUnitScale,
	}, e.Metrics, logger.Named("interest"))

	logger.Info("engine ready",
		zap.String("backend", cfg.Backend),
		zap.Strings("providers", e.Providers.Names()))
	return e, nil
}

// Registry registers an adapter for every provider with credentials.
func Registry(cfg *config.Config, logger *zap.Logger) *providers.Registry {
	r := providers.NewRegistry()
	if cfg.NowPayments.IPNSecret != "" {
		r.Register(nowpayments.New(cfg.NowPayments))
	}
	if cfg.MoMo.SecretKey != "" {
		r.Register(momo.New(cfg.MoMo))
	}
	if cfg.PayOS.ChecksumKey != "" {
		r.Register(payos.New(cfg.PayOS))
	}
	if cfg.Stripe.WebhookSecret != "" {
		sc := cfg.Stripe
		sc.Logger = logger.Named("stripe")
		r.Register(stripe.New(sc))
	}
	return r
}

func (e *Engine) openStore(ctx context.Context) error {
	switch e.Config.Backend {
	case config.BackendDynamoDB:
		awsCfg, err := e.AWS(ctx)
		if err != nil {
			return err
		}
		store := dynamostore.New(dynamodb.NewFromConfig(awsCfg), e.Config.Tables)
		e.Store = store
		if e.Config.Tables.Connections != "" {
			e.Connections = store
		}
	case config.BackendPostgres:
		store, err := postgres.NewStore(ctx, e.Config.DatabaseURL)
		if err != nil {
			return err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return err
		}
		e.Store = store
		e.closers = append(e.closers, store.Close)
	case config.BackendMemory:
		e.Store = memory.New()
	default:
		return fmt.Errorf("unknown backend %q", e.Config.Backend)
	}
	return nil
}

// AWS loads the default AWS configuration once.
func (e *Engine) AWS(ctx context.Context) (aws.Config, error) {
	e.awsOnce.Do(func() {
		e.awsCfg, e.awsErr = awsconfig.LoadDefaultConfig(ctx)
		if e.awsErr != nil {
			e.awsErr = fmt.Errorf("unable to load SDK config: %w", e.awsErr)
		}
	})
	return e.awsCfg, e.awsErr
}

// Scheduler returns the SQS job scheduler.
func (e *Engine) Scheduler(ctx context.Context) (*scheduler.SQSScheduler, error) {
	if e.Config.SQSQueueURL == "" {
		return nil, errors.New("SQS_QUEUE_URL environment variable not set")
	}
	awsCfg, err := e.AWS(ctx)
	if err != nil {
		return nil, err
	}
	return scheduler.NewSQSScheduler(sqs.NewFromConfig(awsCfg), e.Config.SQSQueueURL), nil
}

// Runner returns the executor for queued jobs.
func (e *Engine) Runner() *scheduler.Runner {
	return &scheduler.Runner{Withdrawals: e.Withdrawals, Deposits: e.Settlement, Logger: e.Logger.Named("runner")}
}

// Dispatcher builds the outbox dispatcher. Websocket messages go to local when
// it is non-nil, otherwise to API Gateway when an endpoint is configured.
func (e *Engine) Dispatcher(ctx context.Context, local notify.Sender) (*notify.Dispatcher, error) {
	router := notify.NewRouter()
	if e.Config.TelegramBotToken != "" {
		router.Handle(models.ChannelTelegram, telegram.NewClient(e.Config.TelegramBotToken))
	}
	switch {
	case local != nil:
		router.Handle(models.ChannelWebSocket, local)
	case e.Config.WebSocketEndpoint != "" && e.Connections != nil:
		publisher, err := websockets.NewAPIGatewayPublisher(ctx, e.Connections, e.Config.WebSocketEndpoint, e.Logger.Named("publisher"))
		if err != nil {
			return nil, err
		}
		router.Handle(models.ChannelWebSocket, publisher)
	}

	var dedupe notify.Deduper = notify.NewMemoryDeduper()
	if e.Config.RedisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{e.Config.RedisAddr},
			Password: e.Config.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", e.Config.RedisAddr, err)
		}
		e.closers = append(e.closers, func() { _ = client.Close() })
		dedupe = notify.NewRedisDeduper(client, e.Config.NotifyDedupeTTL)
	} else {
		e.Logger.Warn("REDIS_ADDR not set, notification dedupe is per process")
	}

	return notify.NewDispatcher(e.Store, e.Store, router, dedupe, e.Metrics, e.Logger.Named("notify")), nil
}

// Close releases pooled connections.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}
