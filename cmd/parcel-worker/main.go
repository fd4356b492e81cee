package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/ParcelDesk/config"
	"github.com/BearBump/ParcelDesk/internal/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Dir:        cfg.Log.Dir,
		Service:    "parcel-worker",
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	f := defaultWorkerFactories()
	f.swaggerPath = os.Getenv("swaggerPath")
	if err := RunParcelWorker(ctx, cfg, f, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("parcel-worker stopped", zap.Error(err))
		panic(err)
	}
}
