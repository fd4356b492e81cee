package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/shopspring/decimal"
)

func (s *Store) CreatePrice(_ context.Context, p *models.Price) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ex := range s.st.prices {
		if ex.Destination == p.Destination && ex.Category == p.Category {
			return 0, apperr.Validation("price for %s/%s already exists", p.Destination, p.Category)
		}
	}
	c := *p
	c.ID = s.st.nextID()
	c.UpdatedAt = time.Now().UTC()
	c.Tiers = s.st.tiersFor(c.ID, p.Tiers)
	s.st.prices[c.ID] = c
	return c.ID, nil
}

// ReplacePrice overwrites the price matching (destination, category) with its
// tier set.
func (s *Store) ReplacePrice(_ context.Context, p *models.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ex := range s.st.prices {
		if ex.Destination != p.Destination || ex.Category != p.Category {
			continue
		}
		c := *p
		c.ID = id
		c.UpdatedAt = time.Now().UTC()
		c.Tiers = s.st.tiersFor(id, p.Tiers)
		s.st.prices[id] = c
		p.ID = id
		return nil
	}
	return apperr.Newf(apperr.KindNotFound, "price for %s/%s not found", p.Destination, p.Category)
}

func (s *state) tiersFor(priceID uint64, in []models.PriceTier) []models.PriceTier {
	out := make([]models.PriceTier, 0, len(in))
	for _, t := range in {
		t.ID = s.nextID()
		t.PriceID = priceID
		out = append(out, t)
	}
	return out
}

func (s *Store) ListPrices(_ context.Context) ([]*models.Price, error) {
	var out []*models.Price
	s.read(func(st *state) {
		for _, p := range st.prices {
			c := p
			c.Tiers = append([]models.PriceTier(nil), p.Tiers...)
			out = append(out, &c)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Destination != out[j].Destination {
			return out[i].Destination < out[j].Destination
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

func (s *Store) FindPrice(_ context.Context, destination string, category models.Category) (*models.Price, error) {
	var out *models.Price
	s.read(func(st *state) {
		for _, p := range st.prices {
			if p.Destination == destination && p.Category == category {
				c := p
				c.Tiers = append([]models.PriceTier(nil), p.Tiers...)
				out = &c
				return
			}
		}
	})
	if out == nil {
		return nil, apperr.ErrPriceNotAvailable
	}
	return out, nil
}

func (s *Store) CreateExpedition(_ context.Context, e *models.Expedition) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ex := range s.st.expeditions {
		if ex.Code == e.Code {
			return 0, apperr.Validation("expedition code %s already exists", e.Code)
		}
	}
	c := *e
	c.ID = s.st.nextID()
	s.st.expeditions[c.ID] = c
	return c.ID, nil
}

func (s *Store) UpdateExpedition(_ context.Context, e *models.Expedition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.expeditions[e.ID]; !ok {
		return apperr.Newf(apperr.KindNotFound, "expedition %d not found", e.ID)
	}
	for id, ex := range s.st.expeditions {
		if id != e.ID && ex.Code == e.Code {
			return apperr.Validation("expedition code %s already exists", e.Code)
		}
	}
	s.st.expeditions[e.ID] = *e
	return nil
}

func (s *Store) ListExpeditions(_ context.Context, activeOnly bool) ([]*models.Expedition, error) {
	var out []*models.Expedition
	s.read(func(st *state) {
		for _, e := range st.expeditions {
			if activeOnly && !e.IsActive {
				continue
			}
			c := e
			out = append(out, &c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) WalletDrift(_ context.Context) ([]models.WalletDrift, error) {
	var out []models.WalletDrift
	s.read(func(st *state) {
		sums := make(map[uint64]decimal.Decimal, len(st.users))
		for _, e := range st.wallet {
			sums[e.UserID] = sums[e.UserID].Add(e.Amount)
		}
		for id, u := range st.users {
			if !u.Balance.Equal(sums[id]) {
				out = append(out, models.WalletDrift{UserID: id, Balance: u.Balance, JournalSum: sums[id]})
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) LedgerTotals(_ context.Context) (models.LedgerTotals, error) {
	var t models.LedgerTotals
	s.read(func(st *state) {
		for _, u := range st.users {
			t.Balances = t.Balances.Add(u.Balance)
		}
		for _, tp := range st.topups {
			if tp.Status == models.TopupApproved {
				t.ApprovedTopups = t.ApprovedTopups.Add(tp.Amount)
			}
		}
		for _, sh := range st.shipments {
			if sh.Status != models.StatusCanceled {
				t.ActiveCharges = t.ActiveCharges.Add(sh.TotalPrice)
			}
		}
	})
	return t, nil
}
