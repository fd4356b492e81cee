package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/BearBump/ParcelDesk/internal/services/settlement"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const defaultTxAttempts = 3

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func pgError(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}

func retryable(err error) bool {
	pgErr := pgError(err)
	return pgErr != nil && (pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected)
}

// InTx runs fn inside one pgx transaction. Serialization failures and deadlocks
// rerun the whole unit of work.
func (s *Storage) InTx(ctx context.Context, fn func(ctx context.Context, tx settlement.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.txAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !retryable(err) {
			return err
		}
	}
	return err
}

func (s *Storage) runTx(ctx context.Context, fn func(ctx context.Context, tx settlement.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

var _ settlement.Tx = (*pgTx)(nil)

func (t *pgTx) GetPrice(ctx context.Context, destination string, category models.Category) (*models.Price, error) {
	return getPrice(ctx, t.tx, destination, category, true)
}

func (t *pgTx) GetExpedition(ctx context.Context, id uint64) (*models.Expedition, error) {
	var e models.Expedition
	err := t.tx.QueryRow(ctx, `SELECT id, name, code, api_url, is_active FROM expeditions WHERE id = $1`, id).
		Scan(&e.ID, &e.Name, &e.Code, &e.APIURL, &e.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "expedition %d not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select expedition")
	}
	return &e, nil
}

func (t *pgTx) LockUser(ctx context.Context, userID uint64) (*models.User, error) {
	var u models.User
	err := t.tx.QueryRow(ctx, `SELECT id, name, role, balance, created_at FROM users WHERE id = $1 FOR UPDATE`, userID).
		Scan(&u.ID, &u.Name, &u.Role, &u.Balance, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "user %d not found", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock user")
	}
	return &u, nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, userID uint64, delta decimal.Decimal, reason models.WalletReason, refID uint64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRow(ctx, `UPDATE users SET balance = balance + $2 WHERE id = $1 RETURNING balance`, userID, delta).
		Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, apperr.Newf(apperr.KindNotFound, "user %d not found", userID)
	}
	if pgErr := pgError(err); pgErr != nil && pgErr.Code == codeCheckViolation {
		return decimal.Zero, apperr.ErrInsufficientBalance
	}
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "update balance")
	}

	_, err = t.tx.Exec(ctx, `
INSERT INTO wallet_entries (user_id, amount, reason, ref_id, balance_after, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, userID, delta, reason, refID, balance, time.Now().UTC())
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "insert wallet entry")
	}
	return balance, nil
}

func (t *pgTx) InsertShipment(ctx context.Context, s *models.Shipment) (uint64, error) {
	var id uint64
	err := t.tx.QueryRow(ctx, `
INSERT INTO shipments (
  tracking_code, user_id,
  sender_name, sender_phone, sender_address,
  receiver_name, receiver_phone, receiver_address,
  receiver_postal_code, receiver_email, receiver_identity_number,
  destination, category, contents,
  weight, length, width, height, volumetric_weight,
  rate_per_kg, rate_per_volume, total_price,
  doc_address_photo, doc_id_front, doc_id_back,
  idempotency_key, status, manual_tracking,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,FALSE,$28,$29)
RETURNING id
`,
		s.TrackingCode, s.UserID,
		s.Sender.Name, s.Sender.Phone, s.Sender.Address,
		s.Receiver.Name, s.Receiver.Phone, s.Receiver.Address,
		s.Receiver.PostalCode, s.Receiver.Email, s.Receiver.IdentityNumber,
		s.Destination, s.Category, s.Contents,
		s.Weight, s.Length, s.Width, s.Height, s.VolumetricWeight,
		s.RatePerKg, s.RatePerVolume, s.TotalPrice,
		s.Documents.AddressPhoto, s.Documents.IDFront, s.Documents.IDBack,
		s.IdempotencyKey, s.Status,
		s.CreatedAt, s.UpdatedAt,
	).Scan(&id)
	if pgErr := pgError(err); pgErr != nil && pgErr.Code == codeUniqueViolation {
		switch pgErr.ConstraintName {
		case constraintTrackingCode:
			return 0, settlement.ErrTrackingCodeTaken
		case constraintIdempotencyKey:
			return 0, settlement.ErrIdempotencyKeyTaken
		}
	}
	if err != nil {
		return 0, errors.Wrap(err, "insert shipment")
	}
	return id, nil
}

func (t *pgTx) LockShipment(ctx context.Context, id uint64) (*models.Shipment, error) {
	sh, err := scanShipment(t.tx.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock shipment")
	}
	return sh, nil
}

func (t *pgTx) GetShipmentByIdempotencyKey(ctx context.Context, userID uint64, key string) (*models.Shipment, error) {
	sh, err := scanShipment(t.tx.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by idempotency key")
	}
	return sh, nil
}

func (t *pgTx) UpdateShipmentStatus(ctx context.Context, id uint64, status models.ShipmentStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE shipments SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return errors.Wrap(err, "update shipment status")
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrShipmentNotFound
	}
	return nil
}

func (t *pgTx) SetExpeditionLink(ctx context.Context, id uint64, link models.ExpeditionLink) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE shipments
SET expedition_id = $2, expedition_tracking_code = $3, manual_tracking = $4, updated_at = now()
WHERE id = $1
`, id, link.ExpeditionID, link.TrackingCode, link.ManualTracking)
	if err != nil {
		return errors.Wrap(err, "update expedition link")
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrShipmentNotFound
	}
	return nil
}

func (t *pgTx) AppendTrackingEntry(ctx context.Context, e *models.TrackingEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := t.tx.QueryRow(ctx, `
INSERT INTO tracking_entries (shipment_id, status, description, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id
`, e.ShipmentID, e.Status, e.Description, e.CreatedAt).Scan(&e.ID)
	return errors.Wrap(err, "insert tracking entry")
}

func (t *pgTx) InsertTopup(ctx context.Context, tp *models.Topup) (uint64, error) {
	var id uint64
	err := t.tx.QueryRow(ctx, `
INSERT INTO topups (user_id, amount, proof_ref, status, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`, tp.UserID, tp.Amount, tp.ProofRef, tp.Status, tp.CreatedAt).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert topup")
	}
	return id, nil
}

func (t *pgTx) LockTopup(ctx context.Context, id uint64) (*models.Topup, error) {
	var tp models.Topup
	err := t.tx.QueryRow(ctx, `
SELECT id, user_id, amount, proof_ref, status, admin_notes, created_at, decided_at
FROM topups WHERE id = $1 FOR UPDATE
`, id).Scan(&tp.ID, &tp.UserID, &tp.Amount, &tp.ProofRef, &tp.Status, &tp.AdminNotes, &tp.CreatedAt, &tp.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "topup %d not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock topup")
	}
	return &tp, nil
}

func (t *pgTx) DecideTopup(ctx context.Context, id uint64, status models.TopupStatus, notes *string) error {
	_, err := t.tx.Exec(ctx, `UPDATE topups SET status = $2, admin_notes = $3, decided_at = now() WHERE id = $1`, id, status, notes)
	return errors.Wrap(err, "decide topup")
}

func (t *pgTx) EnqueueEvent(ctx context.Context, topic, key string, payload []byte) error {
	now := time.Now().UTC()
	_, err := t.tx.Exec(ctx, `
INSERT INTO outbox_events (topic, key, payload, next_attempt_at, created_at)
VALUES ($1, $2, $3, $4, $4)
`, topic, key, payload, now)
	return errors.Wrap(err, "enqueue event")
}
