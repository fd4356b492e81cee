package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Repository interface {
	WalletDrift(ctx context.Context) ([]models.WalletDrift, error)
	LedgerTotals(ctx context.Context) (models.LedgerTotals, error)
}

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

const lockKey = "lock:reconcile"

// Report is the outcome of one reconciliation pass.
type Report struct {
	CheckedAt time.Time            `json:"checkedAt"`
	Skipped   bool                 `json:"skipped,omitempty"`
	Drift     []models.WalletDrift `json:"drift,omitempty"`
	Totals    models.LedgerTotals  `json:"totals"`
	// Imbalance is Balances - (ApprovedTopups - ActiveCharges); zero when money
	// is conserved.
	Imbalance decimal.Decimal `json:"imbalance"`
}

func (r Report) OK() bool {
	return !r.Skipped && len(r.Drift) == 0 && r.Imbalance.IsZero()
}

// Reconciler checks that every balance matches its journal and that money is
// conserved across wallets, topups and shipments.
type Reconciler struct {
	repo    Repository
	locker  Locker
	log     *zap.Logger
	lockTTL time.Duration

	mu   sync.Mutex
	last *Report
}

func New(repo Repository, locker Locker, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{repo: repo, locker: locker, log: log, lockTTL: 5 * time.Minute}
}

func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	rep := Report{CheckedAt: time.Now().UTC()}

	if r.locker != nil {
		release, ok, err := r.locker.TryLock(ctx, lockKey, r.lockTTL)
		if err != nil {
			return rep, err
		}
		if !ok {
			rep.Skipped = true
			r.log.Info("reconcile skipped, another replica holds the lock")
			return rep, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn("reconcile unlock failed", zap.Error(err))
			}
		}()
	}

	drift, err := r.repo.WalletDrift(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "wallet drift")
	}
	totals, err := r.repo.LedgerTotals(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "ledger totals")
	}
	rep.Drift = drift
	rep.Totals = totals
	rep.Imbalance = totals.Balances.Sub(totals.ApprovedTopups.Sub(totals.ActiveCharges))

	for _, d := range drift {
		r.log.Error("wallet drift",
			zap.Uint64("user_id", d.UserID),
			zap.String("balance", d.Balance.String()),
			zap.String("journal_sum", d.JournalSum.String()),
		)
	}
	if !rep.Imbalance.IsZero() {
		r.log.Error("ledger imbalance", zap.String("imbalance", rep.Imbalance.String()))
	}
	if rep.OK() {
		r.log.Info("reconcile ok", zap.String("balances", totals.Balances.String()))
	}

	r.mu.Lock()
	r.last = &rep
	r.mu.Unlock()
	return rep, nil
}

// Last returns the most recent completed report, if any.
func (r *Reconciler) Last() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	c := *r.last
	return &c
}

// Schedule registers Run on c using a standard five-field cron spec.
func (r *Reconciler) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if _, err := r.Run(ctx); err != nil {
			r.log.Error("reconcile failed", zap.Error(err))
		}
	})
	if err != nil {
		return 0, errors.Wrapf(err, "schedule reconcile %q", spec)
	}
	return id, nil
}
