package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Repository interface {
	ClaimDueEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, id uint64, at time.Time) error
	MarkEventFailed(ctx context.Context, id uint64, lastError string, nextAttemptAt time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

const errRateLimited = "rate limited"

// Relay moves committed outbox events to Kafka. Distinct keys are published in
// parallel. Per-key ordering relies on the repository handing out a key's
// events in id order and never past an unpublished predecessor.
type Relay struct {
	repo     Repository
	producer Producer
	rl       RateLimiter
	log      *zap.Logger

	backoff *Backoff
	now     func() time.Time

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64
	publishAttempts    int
	publishRetryDelay  time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	totalDeferred       atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, rl RateLimiter, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		repo: repo, producer: producer, rl: rl, log: log,
		backoff:            NewBackoff(DefaultBackoffConfig(), nil),
		now:                func() time.Time { return time.Now().UTC() },
		pollInterval:       time.Second,
		batchSize:          100,
		concurrency:        8,
		lease:              30 * time.Second,
		rateLimitPerMinute: 6000,
		publishAttempts:    3,
		publishRetryDelay:  150 * time.Millisecond,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (r *Relay) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Relay {
	if pollInterval > 0 {
		r.pollInterval = pollInterval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if concurrency > 0 {
		r.concurrency = concurrency
	}
	if lease > 0 {
		r.lease = lease
	}
	if rlPerMin > 0 {
		r.rateLimitPerMinute = rlPerMin
	}
	return r
}

func (r *Relay) WithBackoff(cfg BackoffConfig) *Relay {
	r.backoff = NewBackoff(cfg, nil)
	return r
}

// Trigger forces an immediate relay cycle (best-effort, non-blocking).
func (r *Relay) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalErrors    int64      `json:"totalErrors"`
	TotalDeferred  int64      `json:"totalDeferred"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Relay) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalClaimed:   r.totalClaimed.Load(),
		TotalPublished: r.totalPublished.Load(),
		TotalErrors:    r.totalErrors.Load(),
		TotalDeferred:  r.totalDeferred.Load(),
		InFlight:       r.inFlight.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.RunOnce(ctx)
		case <-r.triggerCh:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce claims one batch of due events and publishes it.
func (r *Relay) RunOnce(ctx context.Context) {
	now := r.now()
	r.lastCycleUnixNano.Store(now.UnixNano())

	items, err := r.repo.ClaimDueEvents(ctx, now, r.batchSize, r.lease)
	if err != nil {
		r.log.Error("claim due events", zap.Error(err))
		r.setLastError(err.Error())
		return
	}
	r.totalClaimed.Add(int64(len(items)))
	if len(items) == 0 {
		return
	}
	publishedBefore := r.totalPublished.Load()

	groups := make(map[string][]*models.OutboxEvent)
	var order []string
	for _, ev := range items {
		if _, ok := groups[ev.Key]; !ok {
			order = append(order, ev.Key)
		}
		groups[ev.Key] = append(groups[ev.Key], ev)
	}

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, key := range order {
		group := groups[key]
		sem <- struct{}{}
		wg.Add(1)
		r.inFlight.Add(int64(len(group)))
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			r.processGroup(ctx, group)
		}()
	}
	wg.Wait()

	// Successors of the events just published are due now.
	if r.totalPublished.Load() > publishedBefore {
		select {
		case r.triggerCh <- struct{}{}:
		default:
		}
	}
}

// processGroup stops at the first failure so later events of the same key are
// not published ahead of it. Their lease expires and they are claimed again.
func (r *Relay) processGroup(ctx context.Context, group []*models.OutboxEvent) {
	for i, ev := range group {
		err := r.processOne(ctx, ev)
		r.inFlight.Add(-1)
		if err == nil {
			continue
		}
		r.totalErrors.Add(1)
		r.setLastError(err.Error())
		r.log.Error("relay event", zap.Uint64("event_id", ev.ID), zap.String("key", ev.Key), zap.Error(err))
		r.inFlight.Add(-int64(len(group) - i - 1))
		return
	}
}

func (r *Relay) processOne(ctx context.Context, ev *models.OutboxEvent) error {
	now := r.now()

	if r.rl != nil && r.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:relay:%s:%s", ev.Topic, now.Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, minuteKey, r.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			r.totalDeferred.Add(1)
			r.log.Warn("relay rate limit exceeded", zap.String("topic", ev.Topic), zap.Int64("count", n))
			next := now.Truncate(time.Minute).Add(time.Minute)
			if err := r.repo.MarkEventFailed(ctx, ev.ID, errRateLimited, next); err != nil {
				return err
			}
			return errors.Errorf("%s: deferred to %s", errRateLimited, next.Format(time.RFC3339))
		}
	}

	var pubErr error
	for i := 0; i < r.publishAttempts; i++ {
		if pubErr = r.producer.Publish(ctx, ev.Topic, []byte(ev.Key), ev.Payload); pubErr == nil {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * r.publishRetryDelay):
		}
	}

	if pubErr != nil {
		attempts := ev.Attempts + 1
		next := now.Add(r.backoff.Delay(attempts))
		if err := r.repo.MarkEventFailed(ctx, ev.ID, pubErr.Error(), next); err != nil {
			return err
		}
		return pubErr
	}

	r.totalPublished.Add(1)
	return r.repo.MarkEventPublished(ctx, ev.ID, r.now())
}

func (r *Relay) setLastError(msg string) {
	r.lastErrorMu.Lock()
	r.lastError = msg
	r.lastErrorMu.Unlock()
}
