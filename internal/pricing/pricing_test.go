package pricing

import (
	"testing"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func pair(kg, vol string) models.RatePair {
	return models.RatePair{PerKg: d(kg), PerVolume: d(vol)}
}

func flatMalaysia() *models.Price {
	return &models.Price{
		ID:          1,
		Destination: "Malaysia",
		Category:    models.CategoryNormal,
		Rates: models.Rates{
			Retail:  pair("25000", "5000"),
			Partner: pair("20000", "4000"),
		},
	}
}

func tiered(tiers ...models.PriceTier) *models.Price {
	return &models.Price{ID: 2, Destination: "Taiwan", Category: models.CategoryNormal, Tiered: true, Tiers: tiers}
}

func tier(min string, max *decimal.Decimal, kg string) models.PriceTier {
	return models.PriceTier{
		MinWeight: d(min),
		MaxWeight: max,
		Rates: models.Rates{
			Retail:  pair(kg, kg),
			Partner: pair(kg, kg),
		},
	}
}

func fullTiers() *models.Price {
	return tiered(
		tier("0", dp("1"), "210000"),
		tier("1", dp("5"), "160000"),
		tier("5", nil, "140000"),
	)
}

func TestVolumetricWeight_Divisor5000(t *testing.T) {
	dims := Dimensions{Weight: d("2"), Length: d("20"), Width: d("20"), Height: d("20")}
	require.True(t, d("1.6").Equal(VolumetricWeight(dims)), "8000 cm3 / 5000 = 1.6 kg, not m3")
	require.True(t, d("2").Equal(EffectiveWeight(dims)))

	bulky := Dimensions{Weight: d("1"), Length: d("50"), Width: d("40"), Height: d("30")}
	require.True(t, d("12").Equal(VolumetricWeight(bulky)))
	require.True(t, d("12").Equal(EffectiveWeight(bulky)))
}

func TestQuote_FlatScenario(t *testing.T) {
	dims := Dimensions{Weight: d("2"), Length: d("20"), Width: d("20"), Height: d("20")}
	c, err := Quote(flatMalaysia(), AudienceRetail, dims)
	require.NoError(t, err)
	require.True(t, d("50000").Equal(c.WeightCost))
	require.True(t, d("8000").Equal(c.VolumeCost))
	require.True(t, d("50000").Equal(c.Total))
	require.True(t, d("25000").Equal(c.Rate.PerKg))
}

func TestQuote_PartnerAudienceUsesPartnerRate(t *testing.T) {
	dims := Dimensions{Weight: d("2"), Length: d("20"), Width: d("20"), Height: d("20")}
	c, err := Quote(flatMalaysia(), AudienceFor(models.RoleMitra), dims)
	require.NoError(t, err)
	require.True(t, d("40000").Equal(c.Total))

	c, err = Quote(flatMalaysia(), AudienceFor(models.RoleAdmin), dims)
	require.NoError(t, err)
	require.True(t, d("50000").Equal(c.Total))
}

func TestQuote_VolumeBasisWins(t *testing.T) {
	dims := Dimensions{Weight: d("1"), Length: d("50"), Width: d("40"), Height: d("30")}
	c, err := Quote(flatMalaysia(), AudienceRetail, dims)
	require.NoError(t, err)
	require.True(t, d("25000").Equal(c.WeightCost))
	require.True(t, d("60000").Equal(c.VolumeCost))
	require.True(t, d("60000").Equal(c.Total))
}

func TestQuote_TieredScenario(t *testing.T) {
	dims := Dimensions{Weight: d("3"), Length: d("10"), Width: d("10"), Height: d("10")}
	c, err := Quote(fullTiers(), AudienceRetail, dims)
	require.NoError(t, err)
	require.True(t, d("160000").Equal(c.Rate.PerKg))
	require.True(t, d("480000").Equal(c.Total))
}

func TestQuote_TierSelectedByVolumetricWeight(t *testing.T) {
	// 0.5 kg on the scale but 6 kg volumetric: priced in the [5,inf) tier.
	dims := Dimensions{Weight: d("0.5"), Length: d("50"), Width: d("30"), Height: d("20")}
	c, err := Quote(fullTiers(), AudienceRetail, dims)
	require.NoError(t, err)
	require.True(t, d("140000").Equal(c.Rate.PerKg))
	require.True(t, d("6").Equal(c.EffectiveWeight))
	require.True(t, d("840000").Equal(c.Total))
}

func TestResolveRate_TierBoundariesAreHalfOpen(t *testing.T) {
	p := fullTiers()
	cases := map[string]string{
		"0":       "210000",
		"0.9999":  "210000",
		"1":       "160000",
		"4.9999":  "160000",
		"5":       "140000",
		"1000000": "140000",
	}
	for w, want := range cases {
		r, err := ResolveRate(p, AudienceRetail, d(w))
		require.NoError(t, err, w)
		require.True(t, d(want).Equal(r.PerKg), "weight %s", w)
	}
}

func TestResolveRate_GapFailsExactlyOnGap(t *testing.T) {
	p := tiered(
		tier("0", dp("2"), "100"),
		tier("3", dp("5"), "90"),
	)
	_, err := ResolveRate(p, AudienceRetail, d("1.99"))
	require.NoError(t, err)
	_, err = ResolveRate(p, AudienceRetail, d("2.5"))
	require.ErrorIs(t, err, apperr.ErrNoPricingTierFound)
	_, err = ResolveRate(p, AudienceRetail, d("3"))
	require.NoError(t, err)
	_, err = ResolveRate(p, AudienceRetail, d("7"))
	require.ErrorIs(t, err, apperr.ErrNoPricingTierFound)
}

func TestResolveRate_TieredNeverFallsBackToFlat(t *testing.T) {
	p := tiered(tier("0", dp("5"), "100"))
	p.Rates = models.Rates{Retail: pair("1", "1")}
	_, err := ResolveRate(p, AudienceRetail, d("7"))
	require.ErrorIs(t, err, apperr.ErrNoPricingTierFound)
}

func TestResolveRate_PrefersBoundedTighterTier(t *testing.T) {
	p := tiered(
		tier("0", nil, "999"),
		tier("0", dp("10"), "500"),
		tier("2", dp("10"), "300"),
	)
	r, err := ResolveRate(p, AudienceRetail, d("3"))
	require.NoError(t, err)
	require.True(t, d("300").Equal(r.PerKg))

	r, err = ResolveRate(p, AudienceRetail, d("11"))
	require.NoError(t, err)
	require.True(t, d("999").Equal(r.PerKg))
}

func TestResolveRate_NilPrice(t *testing.T) {
	_, err := ResolveRate(nil, AudienceRetail, d("1"))
	require.ErrorIs(t, err, apperr.ErrPriceNotAvailable)
}

func TestQuote_InvalidDimensions(t *testing.T) {
	for _, dims := range []Dimensions{
		{Weight: d("0"), Length: d("1"), Width: d("1"), Height: d("1")},
		{Weight: d("1"), Length: d("-1"), Width: d("1"), Height: d("1")},
		{Weight: d("1"), Length: d("1"), Width: decimal.Zero, Height: d("1")},
		{Weight: d("1"), Length: d("1"), Width: d("1")},
	} {
		_, err := Quote(flatMalaysia(), AudienceRetail, dims)
		require.ErrorIs(t, err, apperr.ErrValidation)
	}
}

func TestQuote_Deterministic(t *testing.T) {
	dims := Dimensions{Weight: d("2.35"), Length: d("33.3"), Width: d("21.7"), Height: d("15.1")}
	first, err := Quote(fullTiers(), AudiencePartner, dims)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := Quote(fullTiers(), AudiencePartner, dims)
		require.NoError(t, err)
		require.True(t, first.Total.Equal(again.Total))
		require.True(t, first.VolumetricWeight.Equal(again.VolumetricWeight))
	}
	require.True(t, first.Total.Equal(first.Total.Round(2)))
}
