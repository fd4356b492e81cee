package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ParcelDesk/config"
	"github.com/BearBump/ParcelDesk/internal/api/httpapi"
	"github.com/BearBump/ParcelDesk/internal/broker/kafka"
	"github.com/BearBump/ParcelDesk/internal/cache/rediscache"
	"github.com/BearBump/ParcelDesk/internal/logger"
	"github.com/BearBump/ParcelDesk/internal/services/catalog"
	"github.com/BearBump/ParcelDesk/internal/services/settlement"
	"github.com/BearBump/ParcelDesk/internal/storage/pgstore"
	"go.uber.org/zap"
)

type parcelAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     apiOpts
	log      *zap.Logger
	handler  *httpapi.Handler
	wf       *settlement.Workflow
	consumer *kafka.Consumer
	closers  []func()
}

func mustBootstrapParcelAPI() *parcelAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Dir:        cfg.Log.Dir,
		Service:    "parcel-api",
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		panic(err)
	}

	if cfg.ParcelDesk.JWTSecret == "" {
		panic("parceldesk.jwt_secret (or JWT_SECRET) is required")
	}
	httpAddr := cfg.ParcelDesk.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.ParcelDesk.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "parcel-api"
	}
	topic := cfg.Kafka.ShipmentEventsTopicName
	if topic == "" {
		topic = "shipment.events"
	}
	cacheTTL := time.Duration(cfg.ParcelDesk.TrackingCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	createPerMin := int64(cfg.ParcelDesk.CreateRateLimitPerMinute)
	if createPerMin <= 0 {
		createPerMin = 30
	}

	st := mustOpenPostgresWithRetry(cfg.Database.DSN(), 60*time.Second, log)
	rc := rediscache.New(cfg.Redis.Addr())
	rl := rediscache.NewRateLimiter(cfg.Redis.Addr())

	wf := settlement.New(st, st, log.Named("settlement")).
		WithTrackingCache(rc, cacheTTL).
		WithEventTopic(topic)
	cat := catalog.New(st, log.Named("catalog"))

	h := httpapi.New(wf, cat, httpapi.Options{
		JWTSecret:       []byte(cfg.ParcelDesk.JWTSecret),
		SwaggerPath:     os.Getenv("swaggerPath"),
		Limiter:         rl,
		CreatePerMinute: createPerMin,
		Ready:           st.Ping,
	}, log.Named("http"))

	consumer := kafka.NewConsumer([]string{cfg.Kafka.Addr()}, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &parcelAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: apiOpts{
			httpAddr:      httpAddr,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		log:      log,
		handler:  h,
		wf:       wf,
		consumer: consumer,
		closers: []func(){
			func() { _ = consumer.Close() },
			func() { _ = rl.Close() },
			func() { _ = rc.Close() },
			st.Close,
			func() { _ = log.Sync() },
		},
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration, log *zap.Logger) *pgstore.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		log.Warn("postgres not ready, retrying", zap.Error(err))
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *parcelAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, c := range a.closers {
		c()
	}
}

func (a *parcelAPIApp) Run() error {
	return runParcelAPI(a.ctx, a.opts, a.handler.Routes(), a.consumer, a.wf, a.log)
}
