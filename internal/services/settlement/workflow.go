package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/broker/messages"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/BearBump/ParcelDesk/internal/pricing"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const trackingCodePrefix = "BE"

const defaultCreateAttempts = 3

var (
	// ErrTrackingCodeTaken is returned by InsertShipment when the generated
	// tracking code collides with an existing one.
	ErrTrackingCodeTaken = errors.New("tracking code already taken")
	// ErrIdempotencyKeyTaken is returned by InsertShipment when a concurrent
	// request stored the same idempotency key first.
	ErrIdempotencyKeyTaken = errors.New("idempotency key already used")
)

type Rand interface {
	Intn(n int) int
}

type globalRand struct{}

func (globalRand) Intn(n int) int { return rand.Intn(n) }

type Workflow struct {
	store  Store
	reader Reader
	log    *zap.Logger

	cache    TrackingCache
	cacheTTL time.Duration

	eventTopic string

	now            func() time.Time
	rnd            Rand
	createAttempts int
}

func New(store Store, reader Reader, log *zap.Logger) *Workflow {
	if log == nil {
		log = zap.NewNop()
	}
	return &Workflow{
		store:          store,
		reader:         reader,
		log:            log,
		now:            func() time.Time { return time.Now().UTC() },
		rnd:            globalRand{},
		createAttempts: defaultCreateAttempts,
		eventTopic:     messages.TopicShipmentEvents,
	}
}

// WithEventTopic overrides the Kafka topic recorded on outbox events.
func (w *Workflow) WithEventTopic(topic string) *Workflow {
	if topic != "" {
		w.eventTopic = topic
	}
	return w
}

func (w *Workflow) WithTrackingCache(c TrackingCache, ttl time.Duration) *Workflow {
	w.cache = c
	w.cacheTTL = ttl
	return w
}

func (w *Workflow) WithClock(now func() time.Time, r Rand) *Workflow {
	if now != nil {
		w.now = now
	}
	if r != nil {
		w.rnd = r
	}
	return w
}

// GenerateTrackingCode builds "BE" + last 8 digits of the unix millisecond clock
// + a 3 digit random suffix. Uniqueness is enforced by the store.
func GenerateTrackingCode(now time.Time, r Rand) string {
	ms := fmt.Sprintf("%08d", now.UnixMilli())
	return fmt.Sprintf("%s%s%03d", trackingCodePrefix, ms[len(ms)-8:], r.Intn(1000))
}

type CreateShipmentInput struct {
	Sender      models.Party
	Receiver    models.Receiver
	Destination string
	Category    models.Category
	Contents    string

	Weight decimal.Decimal
	Length decimal.Decimal
	Width  decimal.Decimal
	Height decimal.Decimal

	Documents      models.Documents
	IdempotencyKey string
}

func (in CreateShipmentInput) dimensions() pricing.Dimensions {
	return pricing.Dimensions{Weight: in.Weight, Length: in.Length, Width: in.Width, Height: in.Height}
}

func (in CreateShipmentInput) validate() error {
	var missing []string
	req := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	req("sender_name", in.Sender.Name)
	req("sender_phone", in.Sender.Phone)
	req("sender_address", in.Sender.Address)
	req("destination", in.Destination)
	req("receiver_name", in.Receiver.Name)
	req("receiver_phone", in.Receiver.Phone)
	req("receiver_address", in.Receiver.Address)
	req("item_category", string(in.Category))
	req("isi_paket", in.Contents)
	if len(missing) > 0 {
		return apperr.Validation("all required fields must be filled: %s", strings.Join(missing, ", "))
	}
	if !in.Category.Valid() {
		return apperr.Validation("unknown item_category %q", in.Category)
	}
	if in.IdempotencyKey != "" {
		if _, err := uuid.Parse(in.IdempotencyKey); err != nil {
			return apperr.Validation("idempotency key must be a UUID")
		}
	}
	return in.dimensions().Validate()
}

type CreateResult struct {
	ShipmentID   uint64
	TrackingCode string
	Total        decimal.Decimal
	// Replayed is set when the idempotency key matched an earlier shipment and
	// nothing was charged.
	Replayed bool
}

func checkCaller(c models.Caller) error {
	if c.ID == 0 || !c.Role.Valid() {
		return apperr.Validation("caller identity is required")
	}
	return nil
}

func requireStaff(c models.Caller) error {
	if err := checkCaller(c); err != nil {
		return err
	}
	if !c.Role.IsStaff() {
		return apperr.ErrForbidden
	}
	return nil
}

// CreateShipment prices the parcel, debits the caller's wallet, stores the
// shipment with its frozen pricing and seeds the tracking history in one unit
// of work.
func (w *Workflow) CreateShipment(ctx context.Context, caller models.Caller, in CreateShipmentInput) (*CreateResult, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var res *CreateResult
	var err error
	for attempt := 1; attempt <= w.createAttempts; attempt++ {
		res, err = w.createOnce(ctx, caller, in)
		if errors.Is(err, ErrTrackingCodeTaken) || errors.Is(err, ErrIdempotencyKeyTaken) {
			w.log.Warn("create shipment conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	if res.Replayed {
		w.log.Info("shipment create replayed",
			zap.Uint64("shipment_id", res.ShipmentID),
			zap.Uint64("user_id", caller.ID),
		)
	} else {
		w.log.Info("shipment created",
			zap.Uint64("shipment_id", res.ShipmentID),
			zap.String("tracking_code", res.TrackingCode),
			zap.Uint64("user_id", caller.ID),
			zap.String("total", res.Total.String()),
		)
	}
	return res, nil
}

func (w *Workflow) createOnce(ctx context.Context, caller models.Caller, in CreateShipmentInput) (*CreateResult, error) {
	var res *CreateResult
	err := w.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		user, err := tx.LockUser(ctx, caller.ID)
		if err != nil {
			return err
		}

		if in.IdempotencyKey != "" {
			prev, err := tx.GetShipmentByIdempotencyKey(ctx, caller.ID, in.IdempotencyKey)
			if err != nil && !errors.Is(err, apperr.ErrShipmentNotFound) {
				return err
			}
			if prev != nil {
				res = &CreateResult{ShipmentID: prev.ID, TrackingCode: prev.TrackingCode, Total: prev.TotalPrice, Replayed: true}
				return nil
			}
		}

		price, err := tx.GetPrice(ctx, in.Destination, in.Category)
		if err != nil {
			return err
		}
		if price.IdentityRequired && (!in.Documents.Complete() || strings.TrimSpace(in.Receiver.IdentityNumber) == "") {
			return apperr.ErrIdentityDocumentsRequired
		}

		charge, err := pricing.Quote(price, pricing.AudienceFor(caller.Role), in.dimensions())
		if err != nil {
			return err
		}

		if user.Balance.LessThan(charge.Total) {
			return apperr.ErrInsufficientBalance
		}

		now := w.now()
		sh := &models.Shipment{
			TrackingCode:     GenerateTrackingCode(now, w.rnd),
			UserID:           caller.ID,
			Sender:           in.Sender,
			Receiver:         in.Receiver,
			Destination:      in.Destination,
			Category:         in.Category,
			Contents:         in.Contents,
			Weight:           in.Weight,
			Length:           in.Length,
			Width:            in.Width,
			Height:           in.Height,
			VolumetricWeight: charge.VolumetricWeight,
			RatePerKg:        charge.Rate.PerKg,
			RatePerVolume:    charge.Rate.PerVolume,
			TotalPrice:       charge.Total,
			Documents:        in.Documents,
			Status:           models.StatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if in.IdempotencyKey != "" {
			key := in.IdempotencyKey
			sh.IdempotencyKey = &key
		}

		id, err := tx.InsertShipment(ctx, sh)
		if err != nil {
			return err
		}
		sh.ID = id

		if _, err := tx.AdjustBalance(ctx, caller.ID, charge.Total.Neg(), models.WalletShipmentDebit, id); err != nil {
			return err
		}
		if err := tx.AppendTrackingEntry(ctx, &models.TrackingEntry{
			ShipmentID:  id,
			Status:      models.StatusPending,
			Description: descRegistered,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		if err := w.enqueue(ctx, tx, messages.ShipmentEvent{
			Type:         messages.EventShipmentCreated,
			ShipmentID:   id,
			TrackingCode: sh.TrackingCode,
			UserID:       caller.ID,
			Status:       string(models.StatusPending),
			Amount:       charge.Total.StringFixed(2),
		}); err != nil {
			return err
		}

		res = &CreateResult{ShipmentID: id, TrackingCode: sh.TrackingCode, Total: charge.Total}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type AssignExpeditionInput struct {
	ExpeditionID *uint64
	// TrackingCode is the carrier's tracking number, or free text when Manual.
	TrackingCode string
	Manual       bool
}

// AssignExpedition links a shipment to its carrier and moves it to dikirim.
// Re-running overwrites the linkage and appends another tracking entry.
func (w *Workflow) AssignExpedition(ctx context.Context, caller models.Caller, shipmentID uint64, in AssignExpeditionInput) error {
	if err := requireStaff(caller); err != nil {
		return err
	}
	if strings.TrimSpace(in.TrackingCode) == "" {
		return apperr.Validation("expedition_tracking_code is required")
	}
	if in.Manual == (in.ExpeditionID != nil) {
		return apperr.Validation("either expedition_id or manual_flag is required")
	}

	var code string
	err := w.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if in.ExpeditionID != nil {
			exp, err := tx.GetExpedition(ctx, *in.ExpeditionID)
			if err != nil {
				return err
			}
			if !exp.IsActive {
				return apperr.Validation("expedition %s is not active", exp.Code)
			}
		}

		sh, err := tx.LockShipment(ctx, shipmentID)
		if err != nil {
			return err
		}
		if !CanTransition(sh.Status, models.StatusShipped) {
			return apperr.InvalidTransition("cannot hand over a shipment in status %s", sh.Status)
		}
		code = sh.TrackingCode

		if err := tx.SetExpeditionLink(ctx, sh.ID, models.ExpeditionLink{
			ExpeditionID:   in.ExpeditionID,
			TrackingCode:   in.TrackingCode,
			ManualTracking: in.Manual,
		}); err != nil {
			return err
		}
		return w.moveStatus(ctx, tx, sh, models.StatusShipped, descHandedOver, messages.EventShipmentStatusChanged, "")
	})
	if err != nil {
		return err
	}

	w.invalidate(ctx, code)
	w.log.Info("expedition assigned",
		zap.Uint64("shipment_id", shipmentID),
		zap.Bool("manual", in.Manual),
	)
	return nil
}

// CancelShipment cancels a pending shipment and refunds exactly the frozen total.
func (w *Workflow) CancelShipment(ctx context.Context, caller models.Caller, shipmentID uint64) (decimal.Decimal, error) {
	if err := requireStaff(caller); err != nil {
		return decimal.Zero, err
	}

	var refunded decimal.Decimal
	var code string
	err := w.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sh, err := tx.LockShipment(ctx, shipmentID)
		if err != nil {
			return err
		}
		if sh.Status != models.StatusPending {
			return apperr.InvalidTransition("only pending shipments can be cancelled")
		}
		if _, err := tx.LockUser(ctx, sh.UserID); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, sh.UserID, sh.TotalPrice, models.WalletShipmentRefund, sh.ID); err != nil {
			return err
		}
		refunded = sh.TotalPrice
		code = sh.TrackingCode
		return w.moveStatus(ctx, tx, sh, models.StatusCanceled, descCanceled, messages.EventShipmentCanceled, sh.TotalPrice.StringFixed(2))
	})
	if err != nil {
		return decimal.Zero, err
	}

	w.invalidate(ctx, code)
	w.log.Info("shipment canceled",
		zap.Uint64("shipment_id", shipmentID),
		zap.String("refunded", refunded.String()),
	)
	return refunded, nil
}

// AppendTrackingUpdate records a staff tracking update and mirrors its status
// onto the shipment. Cancellation must go through CancelShipment so the
// refund is never skipped.
func (w *Workflow) AppendTrackingUpdate(ctx context.Context, caller models.Caller, trackingCode string, status models.ShipmentStatus, description string) error {
	if err := requireStaff(caller); err != nil {
		return err
	}
	if strings.TrimSpace(description) == "" {
		return apperr.Validation("status and description are required")
	}
	if !KnownStatus(status) {
		return apperr.Validation("unknown status %q", status)
	}
	if status == models.StatusCanceled {
		return apperr.InvalidTransition("use cancellation to cancel a shipment")
	}

	ref, err := w.reader.GetShipmentByTrackingCode(ctx, trackingCode)
	if err != nil {
		return err
	}

	err = w.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sh, err := tx.LockShipment(ctx, ref.ID)
		if err != nil {
			return err
		}
		if !CanTransition(sh.Status, status) {
			return apperr.InvalidTransition("cannot move shipment from %s to %s", sh.Status, status)
		}
		return w.moveStatus(ctx, tx, sh, status, description, messages.EventShipmentStatusChanged, "")
	})
	if err != nil {
		return err
	}

	w.invalidate(ctx, trackingCode)
	w.log.Info("tracking update appended",
		zap.Uint64("shipment_id", ref.ID),
		zap.String("status", string(status)),
	)
	return nil
}

// moveStatus is the single place that writes shipment status, so the latest
// tracking entry always mirrors it.
func (w *Workflow) moveStatus(ctx context.Context, tx Tx, sh *models.Shipment, to models.ShipmentStatus, desc, event, amount string) error {
	if err := tx.UpdateShipmentStatus(ctx, sh.ID, to); err != nil {
		return err
	}
	if err := tx.AppendTrackingEntry(ctx, &models.TrackingEntry{
		ShipmentID:  sh.ID,
		Status:      to,
		Description: desc,
		CreatedAt:   w.now(),
	}); err != nil {
		return err
	}
	return w.enqueue(ctx, tx, messages.ShipmentEvent{
		Type:         event,
		ShipmentID:   sh.ID,
		TrackingCode: sh.TrackingCode,
		UserID:       sh.UserID,
		Status:       string(to),
		Amount:       amount,
	})
}

// RequestTopup records a pending wallet funding request.
func (w *Workflow) RequestTopup(ctx context.Context, caller models.Caller, amount decimal.Decimal, proofRef string) (uint64, error) {
	if err := checkCaller(caller); err != nil {
		return 0, err
	}
	if !amount.IsPositive() {
		return 0, apperr.Validation("amount must be greater than zero")
	}
	if strings.TrimSpace(proofRef) == "" {
		return 0, apperr.Validation("all fields are required including proof image")
	}

	var id uint64
	err := w.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		id, err = tx.InsertTopup(ctx, &models.Topup{
			UserID:    caller.ID,
			Amount:    amount.Round(2),
			ProofRef:  proofRef,
			Status:    models.TopupPending,
			CreatedAt: w.now(),
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// DecideTopup approves or rejects a pending topup. Approval credits the wallet
// through the same primitive used by refunds.
func (w *Workflow) DecideTopup(ctx context.Context, caller models.Caller, topupID uint64, approve bool, notes *string) error {
	if err := requireStaff(caller); err != nil {
		return err
	}
	status := models.TopupRejected
	if approve {
		status = models.TopupApproved
	}

	err := w.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.LockTopup(ctx, topupID)
		if err != nil {
			return err
		}
		if t.Status != models.TopupPending {
			return apperr.InvalidTransition("topup already %s", t.Status)
		}
		if err := tx.DecideTopup(ctx, t.ID, status, notes); err != nil {
			return err
		}
		if approve {
			if _, err := tx.LockUser(ctx, t.UserID); err != nil {
				return err
			}
			if _, err := tx.AdjustBalance(ctx, t.UserID, t.Amount, models.WalletTopupCredit, t.ID); err != nil {
				return err
			}
		}
		return w.enqueue(ctx, tx, messages.ShipmentEvent{
			Type:    messages.EventTopupDecided,
			UserID:  t.UserID,
			TopupID: t.ID,
			Status:  string(status),
			Amount:  t.Amount.StringFixed(2),
		})
	})
	if err != nil {
		return err
	}

	w.log.Info("topup decided", zap.Uint64("topup_id", topupID), zap.String("status", string(status)))
	return nil
}

// Quote prices a parcel for the caller without charging anything.
func (w *Workflow) Quote(ctx context.Context, caller models.Caller, destination string, category models.Category, dims pricing.Dimensions) (pricing.Charge, error) {
	if err := checkCaller(caller); err != nil {
		return pricing.Charge{}, err
	}
	var charge pricing.Charge
	err := w.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		price, err := tx.GetPrice(ctx, destination, category)
		if err != nil {
			return err
		}
		charge, err = pricing.Quote(price, pricing.AudienceFor(caller.Role), dims)
		return err
	})
	return charge, err
}

func (w *Workflow) enqueue(ctx context.Context, tx Tx, ev messages.ShipmentEvent) error {
	ev.EventID = uuid.NewString()
	ev.OccurredAt = w.now()
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	key := fmt.Sprintf("%d", ev.UserID)
	return tx.EnqueueEvent(ctx, w.eventTopic, key, b)
}
