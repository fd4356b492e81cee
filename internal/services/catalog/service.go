package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Repository interface {
	CreatePrice(ctx context.Context, p *models.Price) (uint64, error)
	ReplacePrice(ctx context.Context, p *models.Price) error
	ListPrices(ctx context.Context) ([]*models.Price, error)
	FindPrice(ctx context.Context, destination string, category models.Category) (*models.Price, error)
	CreateExpedition(ctx context.Context, e *models.Expedition) (uint64, error)
	UpdateExpedition(ctx context.Context, e *models.Expedition) error
	ListExpeditions(ctx context.Context, activeOnly bool) ([]*models.Expedition, error)
}

type Service struct {
	repo Repository
	log  *zap.Logger
}

func New(repo Repository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, log: log}
}

// SavePrice creates the price for (destination, category), or replaces it when
// replace is set. Existing shipments keep the rates they were charged with.
func (s *Service) SavePrice(ctx context.Context, caller models.Caller, p *models.Price, replace bool) (uint64, error) {
	if !caller.Role.IsStaff() {
		return 0, apperr.ErrForbidden
	}
	if p == nil {
		return 0, apperr.Validation("price is required")
	}
	p.Destination = strings.TrimSpace(p.Destination)
	if err := ValidatePrice(p); err != nil {
		return 0, err
	}
	sortTiers(p.Tiers)

	if replace {
		if err := s.repo.ReplacePrice(ctx, p); err != nil {
			return 0, err
		}
		s.log.Info("price replaced", zap.String("destination", p.Destination), zap.String("category", string(p.Category)))
		return p.ID, nil
	}

	id, err := s.repo.CreatePrice(ctx, p)
	if err != nil {
		return 0, err
	}
	s.log.Info("price created",
		zap.Uint64("price_id", id),
		zap.String("destination", p.Destination),
		zap.String("category", string(p.Category)),
		zap.Bool("tiered", p.Tiered),
	)
	return id, nil
}

func (s *Service) ListPrices(ctx context.Context) ([]*models.Price, error) {
	return s.repo.ListPrices(ctx)
}

func (s *Service) FindPrice(ctx context.Context, destination string, category models.Category) (*models.Price, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" || !category.Valid() {
		return nil, apperr.Validation("destination and a known category are required")
	}
	return s.repo.FindPrice(ctx, destination, category)
}

func (s *Service) CreateExpedition(ctx context.Context, caller models.Caller, e *models.Expedition) (uint64, error) {
	if !caller.Role.IsStaff() {
		return 0, apperr.ErrForbidden
	}
	if e == nil || strings.TrimSpace(e.Name) == "" || strings.TrimSpace(e.Code) == "" {
		return 0, apperr.Validation("expedition name and code are required")
	}
	e.Code = strings.ToUpper(strings.TrimSpace(e.Code))
	id, err := s.repo.CreateExpedition(ctx, e)
	if err != nil {
		return 0, err
	}
	s.log.Info("expedition created", zap.Uint64("expedition_id", id), zap.String("code", e.Code))
	return id, nil
}

// UpdateExpedition rewrites a registered expedition. Clearing IsActive stops
// new hand-overs to it; shipments already linked keep their linkage.
func (s *Service) UpdateExpedition(ctx context.Context, caller models.Caller, e *models.Expedition) error {
	if !caller.Role.IsStaff() {
		return apperr.ErrForbidden
	}
	if e == nil || e.ID == 0 {
		return apperr.Validation("expedition id is required")
	}
	if strings.TrimSpace(e.Name) == "" || strings.TrimSpace(e.Code) == "" {
		return apperr.Validation("expedition name and code are required")
	}
	e.Name = strings.TrimSpace(e.Name)
	e.Code = strings.ToUpper(strings.TrimSpace(e.Code))
	if err := s.repo.UpdateExpedition(ctx, e); err != nil {
		return err
	}
	s.log.Info("expedition updated",
		zap.Uint64("expedition_id", e.ID),
		zap.String("code", e.Code),
		zap.Bool("active", e.IsActive),
	)
	return nil
}

func (s *Service) ListExpeditions(ctx context.Context, activeOnly bool) ([]*models.Expedition, error) {
	return s.repo.ListExpeditions(ctx, activeOnly)
}

// ValidatePrice checks a price definition before it is stored. Tiered prices
// must partition [0, inf): first tier starts at zero, each tier starts where the
// previous ended and only the last one is unbounded.
func ValidatePrice(p *models.Price) error {
	if p.Destination == "" {
		return apperr.Validation("destination is required")
	}
	if !p.Category.Valid() {
		return apperr.Validation("unknown category %q", p.Category)
	}

	if !p.Tiered {
		if len(p.Tiers) > 0 {
			return apperr.Validation("flat prices cannot carry tiers")
		}
		return validateRates(p.Rates, "price")
	}

	if len(p.Tiers) == 0 {
		return apperr.Validation("tiered price needs at least one tier")
	}
	tiers := append([]models.PriceTier(nil), p.Tiers...)
	sortTiers(tiers)

	expect := decimal.Zero
	for i, t := range tiers {
		if !fitsScale(t.MinWeight, weightScale) || (t.MaxWeight != nil && !fitsScale(*t.MaxWeight, weightScale)) {
			return apperr.Validation("tier %d weights allow at most %d decimal places", i+1, weightScale)
		}
		if !t.MinWeight.Equal(expect) {
			return apperr.Validation("tier %d must start at %s, got %s", i+1, expect, t.MinWeight)
		}
		last := i == len(tiers)-1
		if t.MaxWeight == nil {
			if !last {
				return apperr.Validation("only the last tier may be unbounded")
			}
		} else {
			if last {
				return apperr.Validation("last tier must be unbounded")
			}
			if !t.MaxWeight.GreaterThan(t.MinWeight) {
				return apperr.Validation("tier %d max weight must exceed its min weight", i+1)
			}
			expect = *t.MaxWeight
		}
		if err := validateRates(t.Rates, "tier"); err != nil {
			return err
		}
	}
	return nil
}

// Stored scales of money and weight columns.
const (
	moneyScale  = 2
	weightScale = 4
)

func fitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Round(places))
}

func validateRates(r models.Rates, what string) error {
	for _, pair := range []models.RatePair{r.Retail, r.Partner} {
		if !pair.PerKg.IsPositive() || !pair.PerVolume.IsPositive() {
			return apperr.Validation("%s rates must be greater than zero", what)
		}
		if !fitsScale(pair.PerKg, moneyScale) || !fitsScale(pair.PerVolume, moneyScale) {
			return apperr.Validation("%s rates allow at most %d decimal places", what, moneyScale)
		}
	}
	return nil
}

func sortTiers(t []models.PriceTier) {
	sort.SliceStable(t, func(i, j int) bool { return t[i].MinWeight.LessThan(t[j].MinWeight) })
}
