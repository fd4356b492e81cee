package pgstore

import (
	"context"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const shipmentColumns = `
  id, tracking_code, user_id,
  sender_name, sender_phone, sender_address,
  receiver_name, receiver_phone, receiver_address,
  receiver_postal_code, receiver_email, receiver_identity_number,
  destination, category, contents,
  weight, length, width, height, volumetric_weight,
  rate_per_kg, rate_per_volume, total_price,
  doc_address_photo, doc_id_front, doc_id_back,
  idempotency_key, status, expedition_id, expedition_tracking_code, manual_tracking,
  created_at, updated_at
`

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var s models.Shipment
	err := row.Scan(
		&s.ID, &s.TrackingCode, &s.UserID,
		&s.Sender.Name, &s.Sender.Phone, &s.Sender.Address,
		&s.Receiver.Name, &s.Receiver.Phone, &s.Receiver.Address,
		&s.Receiver.PostalCode, &s.Receiver.Email, &s.Receiver.IdentityNumber,
		&s.Destination, &s.Category, &s.Contents,
		&s.Weight, &s.Length, &s.Width, &s.Height, &s.VolumetricWeight,
		&s.RatePerKg, &s.RatePerVolume, &s.TotalPrice,
		&s.Documents.AddressPhoto, &s.Documents.IDFront, &s.Documents.IDBack,
		&s.IdempotencyKey, &s.Status, &s.ExpeditionID, &s.ExpeditionTrackingCode, &s.ManualTracking,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Storage) GetShipment(ctx context.Context, id uint64) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

func (s *Storage) GetShipmentByTrackingCode(ctx context.Context, code string) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE tracking_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by tracking code")
	}
	return sh, nil
}

// ListShipments returns one page newest first and the total row count. A nil
// userID lists every shipment.
func (s *Storage) ListShipments(ctx context.Context, userID *uint64, limit, offset int) ([]*models.Shipment, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM shipments WHERE $1::BIGINT IS NULL OR user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count shipments")
	}

	rows, err := s.db.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE $1::BIGINT IS NULL OR user_id = $1
ORDER BY id DESC
LIMIT $2 OFFSET $3
`, userID, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	out := make([]*models.Shipment, 0, limit)
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan shipment")
		}
		out = append(out, sh)
	}
	if rows.Err() != nil {
		return nil, 0, errors.Wrap(rows.Err(), "rows")
	}
	return out, total, nil
}

func (s *Storage) ListTrackingEntries(ctx context.Context, shipmentID uint64) ([]*models.TrackingEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, shipment_id, status, description, created_at
FROM tracking_entries
WHERE shipment_id = $1
ORDER BY id DESC
`, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select tracking entries")
	}
	defer rows.Close()

	var out []*models.TrackingEntry
	for rows.Next() {
		var e models.TrackingEntry
		if err := rows.Scan(&e.ID, &e.ShipmentID, &e.Status, &e.Description, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan tracking entry")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
