package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/models"
	"go.uber.org/zap"
)

const maxPageSize = 100

// TrackingView is what anyone holding a tracking code may see. It carries no
// owner, party contact, identity or pricing data, and is what gets cached.
type TrackingView struct {
	TrackingCode           string                `json:"tracking_code"`
	Status                 models.ShipmentStatus `json:"status"`
	Destination            string                `json:"destination"`
	ExpeditionID           *uint64               `json:"expedition_id,omitempty"`
	ExpeditionTrackingCode *string               `json:"expedition_tracking_code,omitempty"`
	ManualTracking         bool                  `json:"manual_tracking"`
	CreatedAt              time.Time             `json:"created_at"`
	UpdatedAt              time.Time             `json:"updated_at"`
	// Entries are ordered newest first.
	Entries []TrackingStep `json:"entries"`
}

type TrackingStep struct {
	Status      models.ShipmentStatus `json:"status"`
	Description string                `json:"description"`
	CreatedAt   time.Time             `json:"created_at"`
}

func newTrackingView(sh *models.Shipment, entries []*models.TrackingEntry) *TrackingView {
	v := &TrackingView{
		TrackingCode:           sh.TrackingCode,
		Status:                 sh.Status,
		Destination:            sh.Destination,
		ExpeditionID:           sh.ExpeditionID,
		ExpeditionTrackingCode: sh.ExpeditionTrackingCode,
		ManualTracking:         sh.ManualTracking,
		CreatedAt:              sh.CreatedAt,
		UpdatedAt:              sh.UpdatedAt,
		Entries:                make([]TrackingStep, 0, len(entries)),
	}
	for _, e := range entries {
		v.Entries = append(v.Entries, TrackingStep{Status: e.Status, Description: e.Description, CreatedAt: e.CreatedAt})
	}
	return v
}

type ShipmentPage struct {
	Items      []*models.Shipment
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// GetShipment returns a shipment visible to the caller. Customers and partners
// only see their own shipments.
func (w *Workflow) GetShipment(ctx context.Context, caller models.Caller, id uint64) (*models.Shipment, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	sh, err := w.reader.GetShipment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.Role.IsStaff() && sh.UserID != caller.ID {
		return nil, apperr.ErrShipmentNotFound
	}
	return sh, nil
}

func (w *Workflow) ListShipments(ctx context.Context, caller models.Caller, page, limit int) (*ShipmentPage, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var owner *uint64
	if !caller.Role.IsStaff() {
		id := caller.ID
		owner = &id
	}
	items, total, err := w.reader.ListShipments(ctx, owner, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	return &ShipmentPage{
		Items:      items,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// ListTopups lists topup requests newest first. Staff see every request and
// may filter by status; everyone else sees only their own.
func (w *Workflow) ListTopups(ctx context.Context, caller models.Caller, status models.TopupStatus) ([]*models.Topup, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	var filter *models.TopupStatus
	if status != "" {
		if !status.Valid() {
			return nil, apperr.Validation("unknown topup status %q", status)
		}
		filter = &status
	}
	var owner *uint64
	if !caller.Role.IsStaff() {
		id := caller.ID
		owner = &id
	}
	return w.reader.ListTopups(ctx, owner, filter)
}

// Wallet returns the caller's account with its current balance.
func (w *Workflow) Wallet(ctx context.Context, caller models.Caller) (*models.User, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	return w.reader.GetUser(ctx, caller.ID)
}

// Track is the public lookup by tracking code.
func (w *Workflow) Track(ctx context.Context, trackingCode string) (*TrackingView, error) {
	trackingCode = strings.TrimSpace(trackingCode)
	if trackingCode == "" {
		return nil, apperr.Validation("tracking code is required")
	}

	key := TrackingCacheKey(trackingCode)
	version, fill := int64(0), false
	if w.cacheEnabled() {
		b, ok, err := w.cache.Get(ctx, key)
		if err == nil && ok {
			var v TrackingView
			if json.Unmarshal(b, &v) == nil {
				return &v, nil
			}
		}
		if version, err = w.cache.Version(ctx, key); err == nil {
			fill = true
		}
	}

	sh, err := w.reader.GetShipmentByTrackingCode(ctx, trackingCode)
	if err != nil {
		return nil, err
	}
	entries, err := w.reader.ListTrackingEntries(ctx, sh.ID)
	if err != nil {
		return nil, err
	}
	v := newTrackingView(sh, entries)

	if fill {
		b, err := json.Marshal(v)
		if err == nil {
			_, _ = w.cache.SetIfVersion(ctx, key, version, b, w.cacheTTL)
		}
	}
	return v, nil
}

// InvalidateTracking drops the cached public view of a shipment. Used by the
// event consumer so every API replica forgets stale views.
func (w *Workflow) InvalidateTracking(ctx context.Context, trackingCode string) {
	w.invalidate(ctx, trackingCode)
}

func (w *Workflow) invalidate(ctx context.Context, trackingCode string) {
	if !w.cacheEnabled() || trackingCode == "" {
		return
	}
	if err := w.cache.Invalidate(ctx, TrackingCacheKey(trackingCode)); err != nil {
		w.log.Warn("tracking cache invalidate failed", zap.String("tracking_code", trackingCode), zap.Error(err))
	}
}

func (w *Workflow) cacheEnabled() bool {
	return w.cache != nil && w.cacheTTL > 0
}

func TrackingCacheKey(trackingCode string) string {
	return fmt.Sprintf("tracking:%s:view", trackingCode)
}
