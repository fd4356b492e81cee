package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const priceColumns = `
  id, destination, category,
  retail_per_kg, retail_per_volume, partner_per_kg, partner_per_volume,
  identity_required, tiered, updated_at
`

func scanPrice(row pgx.Row) (*models.Price, error) {
	var p models.Price
	err := row.Scan(
		&p.ID, &p.Destination, &p.Category,
		&p.Rates.Retail.PerKg, &p.Rates.Retail.PerVolume, &p.Rates.Partner.PerKg, &p.Rates.Partner.PerVolume,
		&p.IdentityRequired, &p.Tiered, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// getPrice loads a price and its tiers with two statements. Callers must make
// both see the same definition: either share-lock the row (forShare) so a
// concurrent ReplacePrice waits, or run inside one snapshot.
func getPrice(ctx context.Context, q querier, destination string, category models.Category, forShare bool) (*models.Price, error) {
	query := `SELECT ` + priceColumns + ` FROM prices WHERE destination = $1 AND category = $2`
	if forShare {
		query += ` FOR SHARE`
	}
	p, err := scanPrice(q.QueryRow(ctx, query, destination, category))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrPriceNotAvailable
	}
	if err != nil {
		return nil, errors.Wrap(err, "select price")
	}
	if p.Tiered {
		if p.Tiers, err = listTiers(ctx, q, p.ID); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func listTiers(ctx context.Context, q querier, priceID uint64) ([]models.PriceTier, error) {
	rows, err := q.Query(ctx, `
SELECT id, price_id, min_weight, max_weight,
       retail_per_kg, retail_per_volume, partner_per_kg, partner_per_volume
FROM price_tiers
WHERE price_id = $1
ORDER BY min_weight ASC
`, priceID)
	if err != nil {
		return nil, errors.Wrap(err, "select price tiers")
	}
	defer rows.Close()

	var out []models.PriceTier
	for rows.Next() {
		var t models.PriceTier
		var max decimal.NullDecimal
		if err := rows.Scan(
			&t.ID, &t.PriceID, &t.MinWeight, &max,
			&t.Rates.Retail.PerKg, &t.Rates.Retail.PerVolume, &t.Rates.Partner.PerKg, &t.Rates.Partner.PerVolume,
		); err != nil {
			return nil, errors.Wrap(err, "scan price tier")
		}
		if max.Valid {
			m := max.Decimal
			t.MaxWeight = &m
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func insertTiers(ctx context.Context, tx pgx.Tx, priceID uint64, tiers []models.PriceTier) error {
	for _, t := range tiers {
		var max decimal.NullDecimal
		if t.MaxWeight != nil {
			max = decimal.NewNullDecimal(*t.MaxWeight)
		}
		_, err := tx.Exec(ctx, `
INSERT INTO price_tiers (
  price_id, min_weight, max_weight,
  retail_per_kg, retail_per_volume, partner_per_kg, partner_per_volume
)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, priceID, t.MinWeight, max,
			t.Rates.Retail.PerKg, t.Rates.Retail.PerVolume, t.Rates.Partner.PerKg, t.Rates.Partner.PerVolume)
		if err != nil {
			return errors.Wrap(err, "insert price tier")
		}
	}
	return nil
}

func (s *Storage) CreatePrice(ctx context.Context, p *models.Price) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	err = tx.QueryRow(ctx, `
INSERT INTO prices (
  destination, category,
  retail_per_kg, retail_per_volume, partner_per_kg, partner_per_volume,
  identity_required, tiered, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id
`, p.Destination, p.Category,
		p.Rates.Retail.PerKg, p.Rates.Retail.PerVolume, p.Rates.Partner.PerKg, p.Rates.Partner.PerVolume,
		p.IdentityRequired, p.Tiered, time.Now().UTC()).Scan(&id)
	if pgErr := pgError(err); pgErr != nil && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == constraintPriceKey {
		return 0, apperr.Validation("price for %s/%s already exists", p.Destination, p.Category)
	}
	if err != nil {
		return 0, errors.Wrap(err, "insert price")
	}

	if err := insertTiers(ctx, tx, id, p.Tiers); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	p.ID = id
	return id, nil
}

// ReplacePrice overwrites the rates of an existing (destination, category) and
// swaps its whole tier set. The UPDATE takes the row lock first, so it waits
// for share-locking readers and they in turn wait for the commit.
func (s *Storage) ReplacePrice(ctx context.Context, p *models.Price) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	err = tx.QueryRow(ctx, `
UPDATE prices
SET retail_per_kg = $3, retail_per_volume = $4, partner_per_kg = $5, partner_per_volume = $6,
    identity_required = $7, tiered = $8, updated_at = now()
WHERE destination = $1 AND category = $2
RETURNING id
`, p.Destination, p.Category,
		p.Rates.Retail.PerKg, p.Rates.Retail.PerVolume, p.Rates.Partner.PerKg, p.Rates.Partner.PerVolume,
		p.IdentityRequired, p.Tiered).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Newf(apperr.KindNotFound, "price for %s/%s not found", p.Destination, p.Category)
	}
	if err != nil {
		return errors.Wrap(err, "update price")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM price_tiers WHERE price_id = $1`, id); err != nil {
		return errors.Wrap(err, "delete price tiers")
	}
	if err := insertTiers(ctx, tx, id, p.Tiers); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	p.ID = id
	return nil
}

// readSnapshot runs fn in a read-only REPEATABLE READ transaction so multi
// statement reads observe a single committed state.
func (s *Storage) readSnapshot(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) ListPrices(ctx context.Context) ([]*models.Price, error) {
	var out []*models.Price
	err := s.readSnapshot(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+priceColumns+` FROM prices ORDER BY destination, category`)
		if err != nil {
			return errors.Wrap(err, "select prices")
		}
		for rows.Next() {
			p, err := scanPrice(rows)
			if err != nil {
				rows.Close()
				return errors.Wrap(err, "scan price")
			}
			out = append(out, p)
		}
		rows.Close()
		if rows.Err() != nil {
			return errors.Wrap(rows.Err(), "rows")
		}

		for _, p := range out {
			if !p.Tiered {
				continue
			}
			if p.Tiers, err = listTiers(ctx, tx, p.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Storage) FindPrice(ctx context.Context, destination string, category models.Category) (*models.Price, error) {
	var p *models.Price
	err := s.readSnapshot(ctx, func(tx pgx.Tx) error {
		var err error
		p, err = getPrice(ctx, tx, destination, category, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Storage) CreateExpedition(ctx context.Context, e *models.Expedition) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO expeditions (name, code, api_url, is_active)
VALUES ($1, $2, $3, $4)
RETURNING id
`, e.Name, e.Code, e.APIURL, e.IsActive).Scan(&id)
	if pgErr := pgError(err); pgErr != nil && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == constraintExpeditionCode {
		return 0, apperr.Validation("expedition code %s already exists", e.Code)
	}
	if err != nil {
		return 0, errors.Wrap(err, "insert expedition")
	}
	e.ID = id
	return id, nil
}

func (s *Storage) UpdateExpedition(ctx context.Context, e *models.Expedition) error {
	tag, err := s.db.Exec(ctx, `
UPDATE expeditions
SET name = $2, code = $3, api_url = $4, is_active = $5
WHERE id = $1
`, e.ID, e.Name, e.Code, e.APIURL, e.IsActive)
	if pgErr := pgError(err); pgErr != nil && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == constraintExpeditionCode {
		return apperr.Validation("expedition code %s already exists", e.Code)
	}
	if err != nil {
		return errors.Wrap(err, "update expedition")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "expedition %d not found", e.ID)
	}
	return nil
}

func (s *Storage) ListExpeditions(ctx context.Context, activeOnly bool) ([]*models.Expedition, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, code, api_url, is_active
FROM expeditions
WHERE NOT $1 OR is_active
ORDER BY id
`, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, "select expeditions")
	}
	defer rows.Close()

	var out []*models.Expedition
	for rows.Next() {
		var e models.Expedition
		if err := rows.Scan(&e.ID, &e.Name, &e.Code, &e.APIURL, &e.IsActive); err != nil {
			return nil, errors.Wrap(err, "scan expedition")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
