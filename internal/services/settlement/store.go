package settlement

import (
	"context"
	"time"

	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/shopspring/decimal"
)

// Store runs a unit of work. Every write made through tx either commits together
// or is discarded together when fn returns an error.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view the workflow needs. Lock* methods serialise
// concurrent units of work touching the same row until commit.
type Tx interface {
	GetPrice(ctx context.Context, destination string, category models.Category) (*models.Price, error)
	GetExpedition(ctx context.Context, id uint64) (*models.Expedition, error)

	LockUser(ctx context.Context, userID uint64) (*models.User, error)
	// AdjustBalance applies a signed delta to a locked user's balance and writes
	// the journal entry. It returns the new balance.
	AdjustBalance(ctx context.Context, userID uint64, delta decimal.Decimal, reason models.WalletReason, refID uint64) (decimal.Decimal, error)

	InsertShipment(ctx context.Context, s *models.Shipment) (uint64, error)
	LockShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	GetShipmentByIdempotencyKey(ctx context.Context, userID uint64, key string) (*models.Shipment, error)
	UpdateShipmentStatus(ctx context.Context, id uint64, status models.ShipmentStatus) error
	SetExpeditionLink(ctx context.Context, id uint64, link models.ExpeditionLink) error

	AppendTrackingEntry(ctx context.Context, e *models.TrackingEntry) error

	InsertTopup(ctx context.Context, t *models.Topup) (uint64, error)
	LockTopup(ctx context.Context, id uint64) (*models.Topup, error)
	DecideTopup(ctx context.Context, id uint64, status models.TopupStatus, notes *string) error

	EnqueueEvent(ctx context.Context, topic, key string, payload []byte) error
}

// Reader serves the read-only queries outside of a unit of work.
type Reader interface {
	GetShipment(ctx context.Context, id uint64) (*models.Shipment, error)
	GetShipmentByTrackingCode(ctx context.Context, code string) (*models.Shipment, error)
	ListShipments(ctx context.Context, userID *uint64, limit, offset int) ([]*models.Shipment, int, error)
	ListTrackingEntries(ctx context.Context, shipmentID uint64) ([]*models.TrackingEntry, error)
	ListTopups(ctx context.Context, userID *uint64, status *models.TopupStatus) ([]*models.Topup, error)
	GetUser(ctx context.Context, id uint64) (*models.User, error)
}

// TrackingCache holds rendered public tracking lookups. Failures are ignored.
// A fill only lands when no Invalidate happened since Version was read.
type TrackingCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Version(ctx context.Context, key string) (int64, error)
	SetIfVersion(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (bool, error)
	Invalidate(ctx context.Context, key string) error
}
