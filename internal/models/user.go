package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleMitra    Role = "mitra"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleMitra, RoleAdmin:
		return true
	}
	return false
}

func (r Role) IsStaff() bool {
	return r == RoleAdmin
}

// Caller is the authenticated identity handed to the core by the HTTP layer.
type Caller struct {
	ID   uint64
	Role Role
}

type User struct {
	ID        uint64
	Name      string
	Role      Role
	Balance   decimal.Decimal
	CreatedAt time.Time
}

type WalletReason string

const (
	WalletShipmentDebit  WalletReason = "shipment_debit"
	WalletShipmentRefund WalletReason = "shipment_refund"
	WalletTopupCredit    WalletReason = "topup_credit"
)

// WalletEntry is one journal line. Amount is signed: debits are negative.
type WalletEntry struct {
	ID           uint64
	UserID       uint64
	Amount       decimal.Decimal
	Reason       WalletReason
	RefID        uint64
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}

// WalletDrift is a user whose stored balance disagrees with their journal.
type WalletDrift struct {
	UserID     uint64
	Balance    decimal.Decimal
	JournalSum decimal.Decimal
}

// LedgerTotals are the system-wide sums used for the conservation check:
// Balances must equal ApprovedTopups minus ActiveCharges.
type LedgerTotals struct {
	Balances       decimal.Decimal
	ApprovedTopups decimal.Decimal
	ActiveCharges  decimal.Decimal
}
