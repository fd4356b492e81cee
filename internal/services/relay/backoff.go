package relay

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type BackoffConfig struct {
	Backoff1 time.Duration // default: 5 seconds
	Backoff2 time.Duration // default: 30 seconds
	Backoff3 time.Duration // default: 2 minutes
	Backoff4 time.Duration // default: 10 minutes

	// Jitter is the upper bound of a random delay added to every backoff.
	// Negative disables it.
	Jitter time.Duration // default: 1 second
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Backoff1: 5 * time.Second,
		Backoff2: 30 * time.Second,
		Backoff3: 2 * time.Minute,
		Backoff4: 10 * time.Minute,
		Jitter:   time.Second,
	}
}

type Backoff struct {
	cfg BackoffConfig
	r   Rand
}

func NewBackoff(cfg BackoffConfig, r Rand) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	switch {
	case cfg.Jitter == 0:
		cfg.Jitter = def.Jitter
	case cfg.Jitter < 0:
		cfg.Jitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Backoff{cfg: cfg, r: r}
}

// Delay is how long to wait before the next publish attempt of an event that
// has now failed attempts times.
func (b *Backoff) Delay(attempts int32) time.Duration {
	var d time.Duration
	switch {
	case attempts <= 1:
		d = b.cfg.Backoff1
	case attempts == 2:
		d = b.cfg.Backoff2
	case attempts == 3:
		d = b.cfg.Backoff3
	default:
		d = b.cfg.Backoff4
	}
	if ms := int(b.cfg.Jitter / time.Millisecond); ms > 0 {
		d += time.Duration(b.r.Intn(ms)) * time.Millisecond
	}
	return d
}
