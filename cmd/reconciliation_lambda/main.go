package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/cash-settlement/pkg/config"
	"github.com/chris/cash-settlement/pkg/engine"
	"github.com/chris/cash-settlement/pkg/scheduler"
	"go.uber.org/zap"
)

var (
	sweeper *scheduler.Sweeper
	logger  *zap.Logger
)

func init() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	logger, err = cfg.NewLogger()
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}

	ctx := context.Background()
	e, err := engine.New(ctx, cfg, nil, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	sqsScheduler, err := e.Scheduler(ctx)
	if err != nil {
		logger.Fatal("failed to build scheduler", zap.Error(err))
	}

	sweeper = &scheduler.Sweeper{
		Scheduler:   sqsScheduler,
		Withdrawals: e.Withdrawals,
		Deposits:    e.Settlement,
		StaleAfter:  cfg.DepositStaleAfter,
		Logger:      logger.Named("sweeper"),
	}
}

// HandleRequest is triggered by an EventBridge Schedule.
func HandleRequest(ctx context.Context) (scheduler.SweepReport, error) {
	logger.Info("starting reconciliation sweep")
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		logger.Error("sweep failed", zap.Error(err))
		return report, err
	}
	logger.Info("sweep finished",
		zap.Int("withdrawals", report.Withdrawals),
		zap.Int("deposits", report.Deposits),
		zap.Int("failed", report.Failed))
	return report, nil
}

func main() {
	lambda.Start(HandleRequest)
}
