package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/cash-settlement/pkg/config"
	"github.com/chris/cash-settlement/pkg/engine"
	"github.com/chris/cash-settlement/pkg/notify"
	"go.uber.org/zap"
)

var (
	dispatcher *notify.Dispatcher
	logger     *zap.Logger
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
	// Websocket messages go through the API Gateway management API.
	dispatcher, err = e.Dispatcher(ctx, nil)
	if err != nil {
		logger.Fatal("failed to build dispatcher", zap.Error(err))
	}
}

// HandleRequest drains the outbox. It runs on a short schedule; a transition
// that fails to send stays in the outbox for the next run.
func HandleRequest(ctx context.Context) (notify.DrainReport, error) {
	report, err := dispatcher.Drain(ctx)
	if err != nil {
		logger.Error("outbox drain failed", zap.Error(err))
		return report, err
	}
	logger.Info("outbox drained",
		zap.Int("read", report.Read),
		zap.Int("sent", report.Sent),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("failed", report.Failed))
	return report, nil
}

func main() {
	lambda.Start(HandleRequest)
}
