package memstore

import (
	"context"
	"time"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/BearBump/ParcelDesk/internal/services/settlement"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type tx struct {
	store *Store
	st    *state
}

var _ settlement.Tx = (*tx)(nil)

func (t *tx) GetPrice(_ context.Context, destination string, category models.Category) (*models.Price, error) {
	if err := t.store.injected("GetPrice"); err != nil {
		return nil, err
	}
	for _, p := range t.st.prices {
		if p.Destination == destination && p.Category == category {
			c := p
			c.Tiers = append([]models.PriceTier(nil), p.Tiers...)
			return &c, nil
		}
	}
	return nil, apperr.ErrPriceNotAvailable
}

func (t *tx) GetExpedition(_ context.Context, id uint64) (*models.Expedition, error) {
	e, ok := t.st.expeditions[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "expedition %d not found", id)
	}
	return &e, nil
}

func (t *tx) LockUser(_ context.Context, userID uint64) (*models.User, error) {
	if err := t.store.injected("LockUser"); err != nil {
		return nil, err
	}
	u, ok := t.st.users[userID]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "user %d not found", userID)
	}
	return &u, nil
}

func (t *tx) AdjustBalance(_ context.Context, userID uint64, delta decimal.Decimal, reason models.WalletReason, refID uint64) (decimal.Decimal, error) {
	if err := t.store.injected("AdjustBalance"); err != nil {
		return decimal.Zero, err
	}
	u, ok := t.st.users[userID]
	if !ok {
		return decimal.Zero, apperr.Newf(apperr.KindNotFound, "user %d not found", userID)
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, apperr.ErrInsufficientBalance
	}
	u.Balance = next
	t.st.users[userID] = u
	t.st.wallet = append(t.st.wallet, models.WalletEntry{
		ID:           t.st.nextID(),
		UserID:       userID,
		Amount:       delta,
		Reason:       reason,
		RefID:        refID,
		BalanceAfter: next,
		CreatedAt:    time.Now().UTC(),
	})
	return next, nil
}

func (t *tx) InsertShipment(_ context.Context, s *models.Shipment) (uint64, error) {
	if err := t.store.injected("InsertShipment"); err != nil {
		return 0, err
	}
	for _, ex := range t.st.shipments {
		if ex.TrackingCode == s.TrackingCode {
			return 0, settlement.ErrTrackingCodeTaken
		}
		if s.IdempotencyKey != nil && ex.IdempotencyKey != nil && ex.UserID == s.UserID && *ex.IdempotencyKey == *s.IdempotencyKey {
			return 0, settlement.ErrIdempotencyKeyTaken
		}
	}
	c := *s
	c.ID = t.st.nextID()
	t.st.shipments[c.ID] = c
	return c.ID, nil
}

func (t *tx) LockShipment(_ context.Context, id uint64) (*models.Shipment, error) {
	s, ok := t.st.shipments[id]
	if !ok {
		return nil, apperr.ErrShipmentNotFound
	}
	return &s, nil
}

func (t *tx) GetShipmentByIdempotencyKey(_ context.Context, userID uint64, key string) (*models.Shipment, error) {
	for _, s := range t.st.shipments {
		if s.UserID == userID && s.IdempotencyKey != nil && *s.IdempotencyKey == key {
			c := s
			return &c, nil
		}
	}
	return nil, apperr.ErrShipmentNotFound
}

func (t *tx) UpdateShipmentStatus(_ context.Context, id uint64, status models.ShipmentStatus) error {
	if err := t.store.injected("UpdateShipmentStatus"); err != nil {
		return err
	}
	s, ok := t.st.shipments[id]
	if !ok {
		return apperr.ErrShipmentNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	t.st.shipments[id] = s
	return nil
}

func (t *tx) SetExpeditionLink(_ context.Context, id uint64, link models.ExpeditionLink) error {
	s, ok := t.st.shipments[id]
	if !ok {
		return apperr.ErrShipmentNotFound
	}
	code := link.TrackingCode
	s.ExpeditionID = link.ExpeditionID
	s.ExpeditionTrackingCode = &code
	s.ManualTracking = link.ManualTracking
	t.st.shipments[id] = s
	return nil
}

func (t *tx) AppendTrackingEntry(_ context.Context, e *models.TrackingEntry) error {
	if err := t.store.injected("AppendTrackingEntry"); err != nil {
		return err
	}
	if _, ok := t.st.shipments[e.ShipmentID]; !ok {
		return errors.New("tracking entry references unknown shipment")
	}
	c := *e
	c.ID = t.st.nextID()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	t.st.tracking = append(t.st.tracking, c)
	e.ID = c.ID
	return nil
}

func (t *tx) InsertTopup(_ context.Context, tp *models.Topup) (uint64, error) {
	if _, ok := t.st.users[tp.UserID]; !ok {
		return 0, apperr.Newf(apperr.KindNotFound, "user %d not found", tp.UserID)
	}
	c := *tp
	c.ID = t.st.nextID()
	t.st.topups[c.ID] = c
	return c.ID, nil
}

func (t *tx) LockTopup(_ context.Context, id uint64) (*models.Topup, error) {
	tp, ok := t.st.topups[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "topup %d not found", id)
	}
	return &tp, nil
}

func (t *tx) DecideTopup(_ context.Context, id uint64, status models.TopupStatus, notes *string) error {
	tp, ok := t.st.topups[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "topup %d not found", id)
	}
	now := time.Now().UTC()
	tp.Status = status
	tp.AdminNotes = notes
	tp.DecidedAt = &now
	t.st.topups[id] = tp
	return nil
}

func (t *tx) EnqueueEvent(_ context.Context, topic, key string, payload []byte) error {
	if err := t.store.injected("EnqueueEvent"); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.st.outbox = append(t.st.outbox, models.OutboxEvent{
		ID:            t.st.nextID(),
		Topic:         topic,
		Key:           key,
		Payload:       append([]byte(nil), payload...),
		NextAttemptAt: now,
		CreatedAt:     now,
	})
	return nil
}
