package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/HanTheDev/beneficiary-center/internal/app"
	"github.com/HanTheDev/beneficiary-center/internal/config"
	"github.com/HanTheDev/beneficiary-center/internal/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("BDC_CONFIG"), "path to a YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer logger.Sync()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}
	defer application.Close()

	logger.Info("server starting",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("debug", cfg.Server.Debug),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("api_prefix", app.APIPrefix))
	if err := application.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}
