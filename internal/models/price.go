package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryNormal    Category = "normal"
	CategorySensitive Category = "sensitive"
	CategoryBattery   Category = "battery"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryNormal, CategorySensitive, CategoryBattery:
		return true
	}
	return false
}

// RatePair is a unit price per kilogram and per volumetric-weight unit.
type RatePair struct {
	PerKg     decimal.Decimal `json:"per_kg"`
	PerVolume decimal.Decimal `json:"per_volume"`
}

// Rates holds the rate pair for both audiences.
type Rates struct {
	Retail  RatePair `json:"retail"`
	Partner RatePair `json:"partner"`
}

type Price struct {
	ID               uint64
	Destination      string
	Category         Category
	Rates            Rates
	IdentityRequired bool
	Tiered           bool
	Tiers            []PriceTier
	UpdatedAt        time.Time
}

// PriceTier covers the half-open weight range [MinWeight, MaxWeight).
// A nil MaxWeight is an open-ended top tier.
type PriceTier struct {
	ID        uint64
	PriceID   uint64
	MinWeight decimal.Decimal
	MaxWeight *decimal.Decimal
	Rates     Rates
}

func (t PriceTier) Contains(w decimal.Decimal) bool {
	if w.LessThan(t.MinWeight) {
		return false
	}
	return t.MaxWeight == nil || w.LessThan(*t.MaxWeight)
}

type Expedition struct {
	ID       uint64
	Name     string
	Code     string
	APIURL   string
	IsActive bool
}
