package main

import (
	"log"

	"polymarket-watch/app"
	"polymarket-watch/config"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	cfg := config.LoadFromEnv()

	application := app.New(cfg, logger)
	if err := application.Start(); err != nil {
		logger.Fatal("application exited", zap.Error(err))
	}
}
