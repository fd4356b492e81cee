package httpapi

import (
	"time"

	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/BearBump/ParcelDesk/internal/pricing"
	"github.com/BearBump/ParcelDesk/internal/services/settlement"
	"github.com/shopspring/decimal"
)

type dimensionsDTO struct {
	Weight decimal.Decimal `json:"weight"`
	Length decimal.Decimal `json:"length"`
	Width  decimal.Decimal `json:"width"`
	Height decimal.Decimal `json:"height"`
}

func (d dimensionsDTO) toModel() pricing.Dimensions {
	return pricing.Dimensions{Weight: d.Weight, Length: d.Length, Width: d.Width, Height: d.Height}
}

// shipmentFields is the flat parcel description shared by the create body and
// the shipment view.
type shipmentFields struct {
	SenderName             string          `json:"sender_name"`
	SenderPhone            string          `json:"sender_phone"`
	SenderAddress          string          `json:"sender_address"`
	Destination            string          `json:"destination"`
	ReceiverName           string          `json:"receiver_name"`
	ReceiverPhone          string          `json:"receiver_phone"`
	ReceiverAddress        string          `json:"receiver_address"`
	ReceiverPostalCode     string          `json:"receiver_postal_code"`
	ReceiverEmail          string          `json:"receiver_email,omitempty"`
	ReceiverIdentityNumber string          `json:"receiver_identity_number,omitempty"`
	ItemCategory           models.Category `json:"item_category"`
	IsiPaket               string          `json:"isi_paket"`
	dimensionsDTO
	AddressPhoto string `json:"address_photo,omitempty"`
	IDFront      string `json:"id_front,omitempty"`
	IDBack       string `json:"id_back,omitempty"`
}

func shipmentFieldsOf(s *models.Shipment) shipmentFields {
	return shipmentFields{
		SenderName:             s.Sender.Name,
		SenderPhone:            s.Sender.Phone,
		SenderAddress:          s.Sender.Address,
		Destination:            s.Destination,
		ReceiverName:           s.Receiver.Name,
		ReceiverPhone:          s.Receiver.Phone,
		ReceiverAddress:        s.Receiver.Address,
		ReceiverPostalCode:     s.Receiver.PostalCode,
		ReceiverEmail:          s.Receiver.Email,
		ReceiverIdentityNumber: s.Receiver.IdentityNumber,
		ItemCategory:           s.Category,
		IsiPaket:               s.Contents,
		dimensionsDTO:          dimensionsDTO{Weight: s.Weight, Length: s.Length, Width: s.Width, Height: s.Height},
		AddressPhoto:           s.Documents.AddressPhoto,
		IDFront:                s.Documents.IDFront,
		IDBack:                 s.Documents.IDBack,
	}
}

type createShipmentRequest struct {
	shipmentFields
}

func (req createShipmentRequest) toInput(idempotencyKey string) settlement.CreateShipmentInput {
	return settlement.CreateShipmentInput{
		Sender: models.Party{Name: req.SenderName, Phone: req.SenderPhone, Address: req.SenderAddress},
		Receiver: models.Receiver{
			Party:          models.Party{Name: req.ReceiverName, Phone: req.ReceiverPhone, Address: req.ReceiverAddress},
			PostalCode:     req.ReceiverPostalCode,
			Email:          req.ReceiverEmail,
			IdentityNumber: req.ReceiverIdentityNumber,
		},
		Destination: req.Destination,
		Category:    req.ItemCategory,
		Contents:    req.IsiPaket,
		Weight:      req.Weight,
		Length:      req.Length,
		Width:       req.Width,
		Height:      req.Height,
		Documents: models.Documents{
			AddressPhoto: req.AddressPhoto,
			IDFront:      req.IDFront,
			IDBack:       req.IDBack,
		},
		IdempotencyKey: idempotencyKey,
	}
}

type createShipmentResponse struct {
	ShipmentID   uint64          `json:"shipment_id"`
	TrackingCode string          `json:"tracking_code"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	Replayed     bool            `json:"replayed,omitempty"`
}

type shipmentDTO struct {
	ID           uint64 `json:"id"`
	TrackingCode string `json:"tracking_code"`
	UserID       uint64 `json:"user_id"`
	shipmentFields
	VolumetricWeight       decimal.Decimal       `json:"volumetric_weight"`
	RatePerKg              decimal.Decimal       `json:"rate_per_kg"`
	RatePerVolume          decimal.Decimal       `json:"rate_per_volume"`
	TotalPrice             decimal.Decimal       `json:"total_price"`
	Status                 models.ShipmentStatus `json:"status"`
	ExpeditionID           *uint64               `json:"expedition_id,omitempty"`
	ExpeditionTrackingCode *string               `json:"expedition_tracking_code,omitempty"`
	ManualFlag             bool                  `json:"manual_flag"`
	CreatedAt              time.Time             `json:"created_at"`
	UpdatedAt              time.Time             `json:"updated_at"`
}

func toShipmentDTO(s *models.Shipment) shipmentDTO {
	return shipmentDTO{
		ID:                     s.ID,
		TrackingCode:           s.TrackingCode,
		UserID:                 s.UserID,
		shipmentFields:         shipmentFieldsOf(s),
		VolumetricWeight:       s.VolumetricWeight,
		RatePerKg:              s.RatePerKg,
		RatePerVolume:          s.RatePerVolume,
		TotalPrice:             s.TotalPrice,
		Status:                 s.Status,
		ExpeditionID:           s.ExpeditionID,
		ExpeditionTrackingCode: s.ExpeditionTrackingCode,
		ManualFlag:             s.ManualTracking,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
	}
}

type pageDTO struct {
	Items      []shipmentDTO `json:"items"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	Total      int           `json:"total"`
	TotalPages int           `json:"total_pages"`
}

type trackingEntryDTO struct {
	Status      models.ShipmentStatus `json:"status"`
	Description string                `json:"description"`
	CreatedAt   time.Time             `json:"created_at"`
}

// trackingDTO is the public view: no owner, wallet or party contact details.
type trackingDTO struct {
	TrackingCode           string                `json:"tracking_code"`
	Status                 models.ShipmentStatus `json:"status"`
	Destination            string                `json:"destination"`
	ExpeditionTrackingCode *string               `json:"expedition_tracking_code,omitempty"`
	History                []trackingEntryDTO    `json:"history"`
}

func toTrackingDTO(v *settlement.TrackingView) trackingDTO {
	out := trackingDTO{
		TrackingCode:           v.TrackingCode,
		Status:                 v.Status,
		Destination:            v.Destination,
		ExpeditionTrackingCode: v.ExpeditionTrackingCode,
		History:                make([]trackingEntryDTO, 0, len(v.Entries)),
	}
	for _, e := range v.Entries {
		out.History = append(out.History, trackingEntryDTO(e))
	}
	return out
}

type trackingUpdateRequest struct {
	Status      models.ShipmentStatus `json:"status"`
	Description string                `json:"description"`
}

type assignExpeditionRequest struct {
	ExpeditionID           *uint64 `json:"expedition_id"`
	ExpeditionTrackingCode string  `json:"expedition_tracking_code"`
	ManualFlag             bool    `json:"manual_flag"`
}

type cancelResponse struct {
	Refunded decimal.Decimal `json:"refunded"`
}

type quoteRequest struct {
	Destination string          `json:"destination"`
	Category    models.Category `json:"category"`
	dimensionsDTO
}

type quoteResponse struct {
	VolumetricWeight decimal.Decimal `json:"volumetric_weight"`
	EffectiveWeight  decimal.Decimal `json:"effective_weight"`
	RatePerKg        decimal.Decimal `json:"rate_per_kg"`
	RatePerVolume    decimal.Decimal `json:"rate_per_volume"`
	WeightCost       decimal.Decimal `json:"weight_cost"`
	VolumeCost       decimal.Decimal `json:"volume_cost"`
	Total            decimal.Decimal `json:"total"`
}

func toQuoteResponse(c pricing.Charge) quoteResponse {
	return quoteResponse{
		VolumetricWeight: c.VolumetricWeight,
		EffectiveWeight:  c.EffectiveWeight,
		RatePerKg:        c.Rate.PerKg,
		RatePerVolume:    c.Rate.PerVolume,
		WeightCost:       c.WeightCost,
		VolumeCost:       c.VolumeCost,
		Total:            c.Total,
	}
}

type tierDTO struct {
	MinWeight decimal.Decimal  `json:"min_weight"`
	MaxWeight *decimal.Decimal `json:"max_weight"`
	Rates     models.Rates     `json:"rates"`
}

type priceDTO struct {
	ID               uint64          `json:"id,omitempty"`
	Destination      string          `json:"destination"`
	Category         models.Category `json:"category"`
	Rates            models.Rates    `json:"rates"`
	IdentityRequired bool            `json:"identity_required"`
	Tiered           bool            `json:"tiered"`
	Tiers            []tierDTO       `json:"tiers,omitempty"`
}

type savePriceRequest struct {
	priceDTO
	Replace bool `json:"replace"`
}

func (p priceDTO) toModel() *models.Price {
	out := &models.Price{
		Destination:      p.Destination,
		Category:         p.Category,
		Rates:            p.Rates,
		IdentityRequired: p.IdentityRequired,
		Tiered:           p.Tiered,
	}
	for _, t := range p.Tiers {
		out.Tiers = append(out.Tiers, models.PriceTier{MinWeight: t.MinWeight, MaxWeight: t.MaxWeight, Rates: t.Rates})
	}
	return out
}

func toPriceDTO(p *models.Price) priceDTO {
	out := priceDTO{
		ID:               p.ID,
		Destination:      p.Destination,
		Category:         p.Category,
		Rates:            p.Rates,
		IdentityRequired: p.IdentityRequired,
		Tiered:           p.Tiered,
	}
	for _, t := range p.Tiers {
		out.Tiers = append(out.Tiers, tierDTO{MinWeight: t.MinWeight, MaxWeight: t.MaxWeight, Rates: t.Rates})
	}
	return out
}

type expeditionDTO struct {
	ID       uint64 `json:"id,omitempty"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	APIURL   string `json:"api_url,omitempty"`
	IsActive bool   `json:"is_active"`
}

type topupRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	ProofRef string          `json:"proof_ref"`
}

type topupDTO struct {
	ID         uint64             `json:"id"`
	UserID     uint64             `json:"user_id"`
	Amount     decimal.Decimal    `json:"amount"`
	ProofRef   string             `json:"proof_ref"`
	Status     models.TopupStatus `json:"status"`
	AdminNotes *string            `json:"admin_notes,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	DecidedAt  *time.Time         `json:"decided_at,omitempty"`
}

type profileDTO struct {
	ID      uint64          `json:"id"`
	Name    string          `json:"name"`
	Role    models.Role     `json:"role"`
	Balance decimal.Decimal `json:"balance"`
}

type topupDecisionRequest struct {
	Status     models.TopupStatus `json:"status"`
	AdminNotes *string            `json:"admin_notes"`
}

type idResponse struct {
	ID uint64 `json:"id"`
}
