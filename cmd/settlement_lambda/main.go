package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/cash-settlement/pkg/config"
	"github.com/chris/cash-settlement/pkg/engine"
	"github.com/chris/cash-settlement/pkg/scheduler"
	"go.uber.org/zap"
)

var (
	runner *scheduler.Runner
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

	// Initialize dependencies once per container.
	e, err := engine.New(context.Background(), cfg, nil, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	runner = e.Runner()
}

// HandleRequest runs the reconciliation jobs in an SQS batch. Failed messages
// are reported back so only they are redelivered.
func HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, message := range sqsEvent.Records {
		log := logger.With(zap.String("message_id", message.MessageId))

		job, err := scheduler.ParseJob(message.Body)
		if err != nil {
			// A malformed job will never succeed; drop it instead of looping.
			log.Error("dropping malformed job", zap.Error(err))
			continue
		}

		if err := runner.Run(ctx, job); err != nil {
			log.Error("job failed",
				zap.String("kind", string(job.Kind)),
				zap.String("transaction_id", job.TransactionID),
				zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: message.MessageId})
			continue
		}
		log.Info("job done", zap.String("kind", string(job.Kind)), zap.String("transaction_id", job.TransactionID))
	}
	return resp, nil
}

func main() {
	lambda.Start(HandleRequest)
}
