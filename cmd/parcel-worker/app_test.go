package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/ParcelDesk/config"
	"github.com/BearBump/ParcelDesk/internal/broker/kafka"
	"github.com/BearBump/ParcelDesk/internal/cache/rediscache"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/BearBump/ParcelDesk/internal/services/reconcile"
	"github.com/BearBump/ParcelDesk/internal/services/relay"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	claims atomic.Int64

	mu    sync.Mutex
	drift []models.WalletDrift
}

func (r *fakeRepo) setDrift(d []models.WalletDrift) {
	r.mu.Lock()
	r.drift = d
	r.mu.Unlock()
}

func (r *fakeRepo) ClaimDueEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEvent, error) {
	r.claims.Add(1)
	return nil, nil
}
func (r *fakeRepo) MarkEventPublished(ctx context.Context, id uint64, at time.Time) error { return nil }
func (r *fakeRepo) MarkEventFailed(ctx context.Context, id uint64, lastError string, next time.Time) error {
	return nil
}
func (r *fakeRepo) WalletDrift(ctx context.Context) ([]models.WalletDrift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drift, nil
}
func (r *fakeRepo) LedgerTotals(ctx context.Context) (models.LedgerTotals, error) {
	return models.LedgerTotals{Balances: decimal.NewFromInt(10), ApprovedTopups: decimal.NewFromInt(10)}, nil
}
func (r *fakeRepo) PendingEvents(ctx context.Context) (int64, error) { return 4, nil }
func (r *fakeRepo) Ping(ctx context.Context) error                 { return nil }

type noopProducer struct{}

func (p noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error { return nil }

func testFactories(repo *fakeRepo, closed *bool) workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerRepo, func(), error) {
			return repo, func() { *closed = true }, nil
		},
		newProducer:    func(cfg *config.Config) relay.Producer { return noopProducer{} },
		newRateLimiter: func(cfg *config.Config) relay.RateLimiter { return nil },
	}
}

func TestDefaultWorkerFactories_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	_, ok := f.newProducer(cfg).(*kafka.Producer)
	require.True(t, ok)
	_, ok = f.newRateLimiter(cfg).(*rediscache.RateLimiter)
	require.True(t, ok)
	_, ok = f.newLocker(cfg).(*rediscache.Locker)
	require.True(t, ok)
}

func TestRunParcelWorker_ContextCanceled(t *testing.T) {
	closed := false
	cfg := &config.Config{ParcelDesk: config.ParcelDeskConfig{RelayPollIntervalSeconds: 1}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunParcelWorker(ctx, cfg, testFactories(&fakeRepo{}, &closed), zap.NewNop())
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, closed)
}

func TestRunParcelWorker_BadCronSpec(t *testing.T) {
	closed := false
	cfg := &config.Config{ParcelDesk: config.ParcelDeskConfig{ReconcileSchedule: "every tuesday"}}

	err := RunParcelWorker(context.Background(), cfg, testFactories(&fakeRepo{}, &closed), zap.NewNop())
	require.Error(t, err)
	require.True(t, closed)
}

func TestRunParcelWorker_OpsHTTP(t *testing.T) {
	closed := false
	repo := &fakeRepo{}
	cfg := &config.Config{ParcelDesk: config.ParcelDeskConfig{
		WorkerHTTPAddr:           "127.0.0.1:0",
		RelayPollIntervalSeconds: 60,
		ReconcileSchedule:        "@every 1h",
	}}

	addrCh := make(chan string, 1)
	f := testFactories(repo, &closed)
	f.onListen = func(addr string) { addrCh <- addr }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- RunParcelWorker(ctx, cfg, f, zap.NewNop()) }()
	base := "http://" + <-addrCh

	resp, err := http.Get(base + "/reconcile")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(base+"/reconcile", "application/json", nil)
	require.NoError(t, err)
	var rep reconcile.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, rep.OK())

	before := repo.claims.Load()
	resp, err = http.Post(base+"/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Eventually(t, func() bool { return repo.claims.Load() > before }, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.EqualValues(t, 4, stats["pendingEvents"])
	require.Contains(t, stats, "lastReconcile")

	repo.setDrift([]models.WalletDrift{{UserID: 1, Balance: decimal.NewFromInt(5), JournalSum: decimal.NewFromInt(4)}})
	resp, err = http.Post(base+"/reconcile", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.True(t, closed)
}
