package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShipmentStatus string

const (
	StatusPending  ShipmentStatus = "pending"
	StatusShipped  ShipmentStatus = "dikirim"
	StatusDone     ShipmentStatus = "sukses"
	StatusCanceled ShipmentStatus = "canceled"

	// In-transit refinements of the dikirim phase.
	StatusInTransit      ShipmentStatus = "transit"
	StatusCustomsHold    ShipmentStatus = "tertahan_bea_cukai"
	StatusDeliveryFailed ShipmentStatus = "gagal_kirim"
)

type Party struct {
	Name    string
	Phone   string
	Address string
}

type Receiver struct {
	Party
	PostalCode     string
	Email          string
	IdentityNumber string
}

// Documents are opaque references produced by the upload collaborator.
type Documents struct {
	AddressPhoto string
	IDFront      string
	IDBack       string
}

func (d Documents) Complete() bool {
	return d.AddressPhoto != "" && d.IDFront != "" && d.IDBack != ""
}

type Shipment struct {
	ID           uint64
	TrackingCode string
	UserID       uint64

	Sender      Party
	Receiver    Receiver
	Destination string
	Category    Category
	Contents    string

	Weight           decimal.Decimal
	Length           decimal.Decimal
	Width            decimal.Decimal
	Height           decimal.Decimal
	VolumetricWeight decimal.Decimal

	RatePerKg     decimal.Decimal
	RatePerVolume decimal.Decimal
	TotalPrice    decimal.Decimal

	Documents      Documents
	IdempotencyKey *string

	Status                 ShipmentStatus
	ExpeditionID           *uint64
	ExpeditionTrackingCode *string
	ManualTracking         bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

type TrackingEntry struct {
	ID          uint64
	ShipmentID  uint64
	Status      ShipmentStatus
	Description string
	CreatedAt   time.Time
}

type ExpeditionLink struct {
	ExpeditionID   *uint64
	TrackingCode   string
	ManualTracking bool
}
