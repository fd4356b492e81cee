package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ClaimDueEvents picks a batch of unpublished events whose next attempt is due
// and leases them so a concurrent relay skips them until the lease runs out.
// Only the oldest unpublished event of each key is eligible, so a key stays
// blocked behind a failed event until it is published.
// Uses SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEvent, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT e.id, e.topic, e.key, e.payload, e.attempts, e.next_attempt_at, e.last_error, e.created_at, e.published_at
FROM outbox_events e
WHERE e.published_at IS NULL
  AND e.next_attempt_at <= $1
  AND NOT EXISTS (
    SELECT 1 FROM outbox_events prev
    WHERE prev.key = e.key
      AND prev.published_at IS NULL
      AND prev.id < e.id
  )
ORDER BY e.id ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due events")
	}
	defer rows.Close()

	var picked []*models.OutboxEvent
	for rows.Next() {
		var e models.OutboxEvent
		if err := rows.Scan(
			&e.ID, &e.Topic, &e.Key, &e.Payload, &e.Attempts,
			&e.NextAttemptAt, &e.LastError, &e.CreatedAt, &e.PublishedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan due event")
		}
		picked = append(picked, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, e := range picked {
		_, err := tx.Exec(ctx, `UPDATE outbox_events SET next_attempt_at = $2 WHERE id = $1`, e.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease event")
		}
		e.NextAttemptAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) MarkEventPublished(ctx context.Context, id uint64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE outbox_events
SET published_at = $2, attempts = attempts + 1, last_error = NULL
WHERE id = $1
`, id, at.UTC())
	return errors.Wrap(err, "mark event published")
}

func (s *Storage) MarkEventFailed(ctx context.Context, id uint64, lastError string, nextAttemptAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE outbox_events
SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3
WHERE id = $1
`, id, lastError, nextAttemptAt.UTC())
	return errors.Wrap(err, "mark event failed")
}

// PendingEvents counts events not yet published.
func (s *Storage) PendingEvents(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM outbox_events WHERE published_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count pending events")
	}
	return n, nil
}
