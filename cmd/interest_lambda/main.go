package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/cash-settlement/pkg/config"
	"github.com/chris/cash-settlement/pkg/engine"
	"github.com/chris/cash-settlement/pkg/interest"
	"go.uber.org/zap"
)

var (
	job    *interest.Job
	logger *zap.Logger
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

	e, err := engine.New(context.Background(), cfg, nil, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	job = e.Interest
}

// Event is the scheduled payload. An empty Period means today (UTC).
type Event struct {
	Period string `json:"period"`
}

// HandleRequest is triggered once a day by an EventBridge Schedule.
func HandleRequest(ctx context.Context, event Event) (*interest.Report, error) {
	report, err := job.Run(ctx, event.Period)
	if err != nil {
		logger.Error("interest run failed", zap.String("period", event.Period), zap.Error(err))
		return nil, err
	}
	return report, nil
}

func main() {
	lambda.Start(HandleRequest)
}
