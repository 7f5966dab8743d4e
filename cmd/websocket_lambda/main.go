package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/cash-settlement/pkg/config"
	"github.com/chris/cash-settlement/pkg/engine"
	wshandler "github.com/chris/cash-settlement/pkg/handlers/websockets"
	"go.uber.org/zap"
)

var handler *wshandler.Handler

func init() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}

	e, err := engine.New(context.Background(), cfg, nil, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	if e.Connections == nil {
		logger.Fatal("websocket lambda needs the dynamodb backend with DYNAMODB_CONNECTIONS_TABLE_NAME set")
	}
	handler = wshandler.NewHandler(e.Connections, logger.Named("websocket"))
}

func main() {
	lambda.Start(handler.Route)
}
