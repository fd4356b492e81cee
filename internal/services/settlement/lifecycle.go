package settlement

import "github.com/BearBump/ParcelDesk/internal/models"

const (
	descRegistered = "Paket telah terdaftar dan menunggu diproses"
	descHandedOver = "Paket telah diserahkan ke ekspedisi untuk pengiriman"
	descCanceled   = "Pesanan dibatalkan oleh admin. Saldo telah dikembalikan ke akun pelanggan."
)

func inTransitPhase(s models.ShipmentStatus) bool {
	switch s {
	case models.StatusShipped, models.StatusInTransit, models.StatusCustomsHold, models.StatusDeliveryFailed:
		return true
	}
	return false
}

func terminal(s models.ShipmentStatus) bool {
	return s == models.StatusDone || s == models.StatusCanceled
}

// KnownStatus reports whether s is part of the lifecycle vocabulary.
func KnownStatus(s models.ShipmentStatus) bool {
	return s == models.StatusPending || terminal(s) || inTransitPhase(s)
}

// CanTransition reports whether a shipment in from may be moved to to.
// pending -> dikirim -> sukses, pending -> canceled. Transit refinements belong
// to the dikirim phase. Nothing leaves canceled or sukses and pending is never
// re-entered.
func CanTransition(from, to models.ShipmentStatus) bool {
	if terminal(from) || !KnownStatus(to) {
		return false
	}
	switch to {
	case models.StatusPending:
		return false
	case models.StatusCanceled:
		return from == models.StatusPending
	case models.StatusShipped:
		return from == models.StatusPending || inTransitPhase(from)
	case models.StatusDone:
		return inTransitPhase(from)
	default:
		return inTransitPhase(from)
	}
}
