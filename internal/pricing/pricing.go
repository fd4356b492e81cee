package pricing

import (
	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/shopspring/decimal"
)

// VolumetricDivisor converts cubic centimetres to kilograms of volumetric weight.
const VolumetricDivisor = 5000

const (
	weightPlaces = 4
	moneyPlaces  = 2
)

// Audience selects which rate pair of a price applies to the caller.
type Audience int

const (
	AudienceRetail Audience = iota
	AudiencePartner
)

func (a Audience) String() string {
	if a == AudiencePartner {
		return "partner"
	}
	return "retail"
}

// AudienceFor is the only place a role string is turned into a rate audience.
func AudienceFor(role models.Role) Audience {
	if role == models.RoleMitra {
		return AudiencePartner
	}
	return AudienceRetail
}

func ratesFor(r models.Rates, a Audience) models.RatePair {
	if a == AudiencePartner {
		return r.Partner
	}
	return r.Retail
}

type Dimensions struct {
	Weight decimal.Decimal
	Length decimal.Decimal
	Width  decimal.Decimal
	Height decimal.Decimal
}

func (d Dimensions) Validate() error {
	switch {
	case !d.Weight.IsPositive():
		return apperr.Validation("invalid dimensions: weight must be greater than zero")
	case !d.Length.IsPositive():
		return apperr.Validation("invalid dimensions: length must be greater than zero")
	case !d.Width.IsPositive():
		return apperr.Validation("invalid dimensions: width must be greater than zero")
	case !d.Height.IsPositive():
		return apperr.Validation("invalid dimensions: height must be greater than zero")
	}
	return nil
}

type Charge struct {
	VolumetricWeight decimal.Decimal
	EffectiveWeight  decimal.Decimal
	Rate             models.RatePair
	WeightCost       decimal.Decimal
	VolumeCost       decimal.Decimal
	Total            decimal.Decimal
}

func VolumetricWeight(d Dimensions) decimal.Decimal {
	cm3 := d.Length.Mul(d.Width).Mul(d.Height)
	return cm3.DivRound(decimal.NewFromInt(VolumetricDivisor), weightPlaces)
}

// EffectiveWeight is the weight used for tier selection.
func EffectiveWeight(d Dimensions) decimal.Decimal {
	return decimal.Max(d.Weight, VolumetricWeight(d))
}

// ResolveRate picks the audience's rate pair from a flat price or from the tier
// containing effectiveWeight. It never falls back to the flat rate when the
// price is tiered.
func ResolveRate(p *models.Price, a Audience, effectiveWeight decimal.Decimal) (models.RatePair, error) {
	if p == nil {
		return models.RatePair{}, apperr.ErrPriceNotAvailable
	}
	if !p.Tiered {
		return ratesFor(p.Rates, a), nil
	}

	var best *models.PriceTier
	for i := range p.Tiers {
		t := &p.Tiers[i]
		if !t.Contains(effectiveWeight) {
			continue
		}
		if best == nil || tighter(t, best) {
			best = t
		}
	}
	if best == nil {
		return models.RatePair{}, apperr.ErrNoPricingTierFound
	}
	return ratesFor(best.Rates, a), nil
}

// tighter prefers a bounded tier over an open-ended one, then the higher floor.
func tighter(a, b *models.PriceTier) bool {
	if (a.MaxWeight != nil) != (b.MaxWeight != nil) {
		return a.MaxWeight != nil
	}
	return a.MinWeight.GreaterThan(b.MinWeight)
}

// ComputeCharge bills whichever of actual weight or volumetric weight costs more.
func ComputeCharge(d Dimensions, rate models.RatePair) (Charge, error) {
	if err := d.Validate(); err != nil {
		return Charge{}, err
	}
	vol := VolumetricWeight(d)
	weightCost := d.Weight.Mul(rate.PerKg).Round(moneyPlaces)
	volumeCost := vol.Mul(rate.PerVolume).Round(moneyPlaces)

	return Charge{
		VolumetricWeight: vol,
		EffectiveWeight:  decimal.Max(d.Weight, vol),
		Rate:             rate,
		WeightCost:       weightCost,
		VolumeCost:       volumeCost,
		Total:            decimal.Max(weightCost, volumeCost),
	}, nil
}

// Quote runs the whole pricing pipeline for one parcel. It is a pure function of
// its arguments.
func Quote(p *models.Price, a Audience, d Dimensions) (Charge, error) {
	if err := d.Validate(); err != nil {
		return Charge{}, err
	}
	rate, err := ResolveRate(p, a, EffectiveWeight(d))
	if err != nil {
		return Charge{}, err
	}
	return ComputeCharge(d, rate)
}
