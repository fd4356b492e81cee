package messages

import (
	"time"
)

const TopicShipmentEvents = "shipment.events"

const (
	EventShipmentCreated       = "shipment.created"
	EventShipmentStatusChanged = "shipment.status_changed"
	EventShipmentCanceled      = "shipment.canceled"
	EventTopupDecided          = "topup.decided"
)

// ShipmentEvent is the payload written to the outbox and relayed to Kafka.
// Amount is a decimal string so consumers never round-trip money through floats.
type ShipmentEvent struct {
	EventID      string    `json:"event_id"`
	Type         string    `json:"type"`
	ShipmentID   uint64    `json:"shipment_id,omitempty"`
	TrackingCode string    `json:"tracking_code,omitempty"`
	UserID       uint64    `json:"user_id"`
	Status       string    `json:"status,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	TopupID      uint64    `json:"topup_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
