package pgstore

import (
	"context"

	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/pkg/errors"
)

// ListTopups returns topups newest first. A nil userID or status does not filter.
func (s *Storage) ListTopups(ctx context.Context, userID *uint64, status *models.TopupStatus) ([]*models.Topup, error) {
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.db.Query(ctx, `
SELECT id, user_id, amount, proof_ref, status, admin_notes, created_at, decided_at
FROM topups
WHERE ($1::BIGINT IS NULL OR user_id = $1)
  AND ($2::TEXT IS NULL OR status = $2)
ORDER BY id DESC
`, userID, statusArg)
	if err != nil {
		return nil, errors.Wrap(err, "select topups")
	}
	defer rows.Close()

	out := []*models.Topup{}
	for rows.Next() {
		var tp models.Topup
		if err := rows.Scan(&tp.ID, &tp.UserID, &tp.Amount, &tp.ProofRef, &tp.Status, &tp.AdminNotes, &tp.CreatedAt, &tp.DecidedAt); err != nil {
			return nil, errors.Wrap(err, "scan topup")
		}
		out = append(out, &tp)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
