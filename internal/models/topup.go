package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TopupStatus string

const (
	TopupPending  TopupStatus = "pending"
	TopupApproved TopupStatus = "approved"
	TopupRejected TopupStatus = "rejected"
)

func (s TopupStatus) Valid() bool {
	switch s {
	case TopupPending, TopupApproved, TopupRejected:
		return true
	}
	return false
}

type Topup struct {
	ID         uint64
	UserID     uint64
	Amount     decimal.Decimal
	ProofRef   string
	Status     TopupStatus
	AdminNotes *string
	CreatedAt  time.Time
	DecidedAt  *time.Time
}
