package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

const (
	constraintTrackingCode   = "shipments_tracking_code_key"
	constraintIdempotencyKey = "uq_shipments_user_idempotency"
	constraintPriceKey       = "uq_prices_destination_category"
	constraintExpeditionCode = "expeditions_code_key"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  role TEXT NOT NULL CHECK (role IN ('customer', 'mitra', 'admin')),
  balance NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
  created_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS wallet_entries (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  amount NUMERIC(18,2) NOT NULL,
  reason TEXT NOT NULL,
  ref_id BIGINT NOT NULL,
  balance_after NUMERIC(18,2) NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_entries_user_id ON wallet_entries(user_id, id)`,
		`
CREATE TABLE IF NOT EXISTS prices (
  id BIGSERIAL PRIMARY KEY,
  destination TEXT NOT NULL,
  category TEXT NOT NULL,
  retail_per_kg NUMERIC(18,2) NOT NULL DEFAULT 0,
  retail_per_volume NUMERIC(18,2) NOT NULL DEFAULT 0,
  partner_per_kg NUMERIC(18,2) NOT NULL DEFAULT 0,
  partner_per_volume NUMERIC(18,2) NOT NULL DEFAULT 0,
  identity_required BOOLEAN NOT NULL DEFAULT FALSE,
  tiered BOOLEAN NOT NULL DEFAULT FALSE,
  updated_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT uq_prices_destination_category UNIQUE (destination, category)
)`,
		`
CREATE TABLE IF NOT EXISTS price_tiers (
  id BIGSERIAL PRIMARY KEY,
  price_id BIGINT NOT NULL REFERENCES prices(id) ON DELETE CASCADE,
  min_weight NUMERIC(18,4) NOT NULL,
  max_weight NUMERIC(18,4) NULL,
  retail_per_kg NUMERIC(18,2) NOT NULL,
  retail_per_volume NUMERIC(18,2) NOT NULL,
  partner_per_kg NUMERIC(18,2) NOT NULL,
  partner_per_volume NUMERIC(18,2) NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_price_tiers_price_id ON price_tiers(price_id, min_weight)`,
		`
CREATE TABLE IF NOT EXISTS expeditions (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  code TEXT NOT NULL UNIQUE,
  api_url TEXT NOT NULL DEFAULT '',
  is_active BOOLEAN NOT NULL DEFAULT TRUE
)`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  tracking_code TEXT NOT NULL UNIQUE,
  user_id BIGINT NOT NULL REFERENCES users(id),
  sender_name TEXT NOT NULL,
  sender_phone TEXT NOT NULL,
  sender_address TEXT NOT NULL,
  receiver_name TEXT NOT NULL,
  receiver_phone TEXT NOT NULL,
  receiver_address TEXT NOT NULL,
  receiver_postal_code TEXT NOT NULL DEFAULT '',
  receiver_email TEXT NOT NULL DEFAULT '',
  receiver_identity_number TEXT NOT NULL DEFAULT '',
  destination TEXT NOT NULL,
  category TEXT NOT NULL,
  contents TEXT NOT NULL,
  weight NUMERIC(18,4) NOT NULL,
  length NUMERIC(18,4) NOT NULL,
  width NUMERIC(18,4) NOT NULL,
  height NUMERIC(18,4) NOT NULL,
  volumetric_weight NUMERIC(18,4) NOT NULL,
  rate_per_kg NUMERIC(18,2) NOT NULL,
  rate_per_volume NUMERIC(18,2) NOT NULL,
  total_price NUMERIC(18,2) NOT NULL,
  doc_address_photo TEXT NOT NULL DEFAULT '',
  doc_id_front TEXT NOT NULL DEFAULT '',
  doc_id_back TEXT NOT NULL DEFAULT '',
  idempotency_key TEXT NULL,
  status TEXT NOT NULL,
  expedition_id BIGINT NULL REFERENCES expeditions(id),
  expedition_tracking_code TEXT NULL,
  manual_tracking BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT uq_shipments_user_idempotency UNIQUE (user_id, idempotency_key)
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_user_id ON shipments(user_id, id DESC)`,
		`
CREATE TABLE IF NOT EXISTS tracking_entries (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  description TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_entries_shipment_id ON tracking_entries(shipment_id, id DESC)`,
		`
CREATE TABLE IF NOT EXISTS topups (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  amount NUMERIC(18,2) NOT NULL CHECK (amount > 0),
  proof_ref TEXT NOT NULL,
  status TEXT NOT NULL,
  admin_notes TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  decided_at TIMESTAMPTZ NULL
)`,
		`
CREATE TABLE IF NOT EXISTS outbox_events (
  id BIGSERIAL PRIMARY KEY,
  topic TEXT NOT NULL,
  key TEXT NOT NULL,
  payload JSONB NOT NULL,
  attempts INT NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ NOT NULL,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  published_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_events_due ON outbox_events(next_attempt_at) WHERE published_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_events_key ON outbox_events(key, id) WHERE published_at IS NULL`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
