package main

import (
	"context"
	"time"

	"github.com/BearBump/ParcelDesk/config"
	"github.com/BearBump/ParcelDesk/internal/broker/kafka"
	"github.com/BearBump/ParcelDesk/internal/cache/rediscache"
	"github.com/BearBump/ParcelDesk/internal/services/reconcile"
	"github.com/BearBump/ParcelDesk/internal/services/relay"
	"github.com/BearBump/ParcelDesk/internal/storage/pgstore"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// workerRepo is the slice of the store the worker needs.
type workerRepo interface {
	relay.Repository
	reconcile.Repository
	PendingEvents(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo workerRepo, closeFn func(), err error)
	newProducer    func(cfg *config.Config) relay.Producer
	newRateLimiter func(cfg *config.Config) relay.RateLimiter
	newLocker      func(cfg *config.Config) reconcile.Locker

	swaggerPath string
	onListen    func(httpAddr string)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerRepo, func(), error) {
			st, err := pgstore.New(cfg.Database.DSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) relay.Producer {
			return kafka.NewProducer([]string{cfg.Kafka.Addr()})
		},
		newRateLimiter: func(cfg *config.Config) relay.RateLimiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
		newLocker: func(cfg *config.Config) reconcile.Locker {
			return rediscache.NewLocker(cfg.Redis.Addr())
		},
	}
}

func closeIfCloser(v any) {
	if c, ok := v.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func RunParcelWorker(ctx context.Context, cfg *config.Config, f workerFactories, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	pd := cfg.ParcelDesk
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	defer closeIfCloser(producer)
	rl := f.newRateLimiter(cfg)
	defer closeIfCloser(rl)

	r := relay.New(repo, producer, rl, log.Named("relay")).
		WithSettings(seconds(pd.RelayPollIntervalSeconds), pd.RelayBatchSize, pd.RelayConcurrency,
			seconds(pd.RelayLeaseSeconds), int64(pd.RelayRateLimitPerMinute)).
		WithBackoff(relay.BackoffConfig{
			Backoff1: seconds(pd.RelayBackoff1Seconds),
			Backoff2: seconds(pd.RelayBackoff2Seconds),
			Backoff3: seconds(pd.RelayBackoff3Seconds),
			Backoff4: seconds(pd.RelayBackoff4Seconds),
			Jitter:   time.Duration(pd.RelayBackoffJitterMillis) * time.Millisecond,
		})

	var locker reconcile.Locker
	if f.newLocker != nil {
		locker = f.newLocker(cfg)
		defer closeIfCloser(locker)
	}
	rec := reconcile.New(repo, locker, log.Named("reconcile"))

	if pd.ReconcileSchedule != "" {
		c := cron.New()
		if _, err := rec.Schedule(ctx, c, pd.ReconcileSchedule); err != nil {
			return err
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		log.Info("reconcile scheduled", zap.String("spec", pd.ReconcileSchedule))
	}

	httpErr := make(chan error, 1)
	if pd.WorkerHTTPAddr != "" {
		go func() {
			httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    pd.WorkerHTTPAddr,
				swaggerPath: f.swaggerPath,
				onListen:    f.onListen,
				relay:       r,
				reconciler:  rec,
				repo:        repo,
				cfg:         cfg,
				log:         log,
			})
		}()
	}

	relayErr := make(chan error, 1)
	go func() { relayErr <- r.Run(ctx) }()

	select {
	case err := <-relayErr:
		return err
	case err := <-httpErr:
		if err != nil {
			cancel()
			<-relayErr
			return err
		}
		return <-relayErr
	}
}
