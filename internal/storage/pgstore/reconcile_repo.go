package pgstore

import (
	"context"

	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/pkg/errors"
)

// WalletDrift lists users whose balance differs from the sum of their journal.
func (s *Storage) WalletDrift(ctx context.Context) ([]models.WalletDrift, error) {
	rows, err := s.db.Query(ctx, `
SELECT u.id, u.balance, COALESCE(j.total, 0)
FROM users u
LEFT JOIN (
  SELECT user_id, SUM(amount) AS total
  FROM wallet_entries
  GROUP BY user_id
) j ON j.user_id = u.id
WHERE u.balance <> COALESCE(j.total, 0)
ORDER BY u.id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select wallet drift")
	}
	defer rows.Close()

	var out []models.WalletDrift
	for rows.Next() {
		var d models.WalletDrift
		if err := rows.Scan(&d.UserID, &d.Balance, &d.JournalSum); err != nil {
			return nil, errors.Wrap(err, "scan wallet drift")
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) LedgerTotals(ctx context.Context) (models.LedgerTotals, error) {
	var t models.LedgerTotals
	err := s.db.QueryRow(ctx, `
SELECT
  (SELECT COALESCE(SUM(balance), 0) FROM users),
  (SELECT COALESCE(SUM(amount), 0) FROM topups WHERE status = $1),
  (SELECT COALESCE(SUM(total_price), 0) FROM shipments WHERE status <> $2)
`, models.TopupApproved, models.StatusCanceled).Scan(&t.Balances, &t.ApprovedTopups, &t.ActiveCharges)
	if err != nil {
		return models.LedgerTotals{}, errors.Wrap(err, "select ledger totals")
	}
	return t, nil
}
