package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/BearBump/ParcelDesk/internal/services/settlement"
	"github.com/shopspring/decimal"
)

// Store is an in-memory system of record. Units of work are serialised by a
// single mutex and applied copy-on-write, so a failed unit leaves no trace.
type Store struct {
	mu sync.Mutex
	st *state

	failMu sync.Mutex
	fail   map[string]error
}

type state struct {
	seq uint64

	users       map[uint64]models.User
	wallet      []models.WalletEntry
	prices      map[uint64]models.Price
	expeditions map[uint64]models.Expedition
	shipments   map[uint64]models.Shipment
	tracking    []models.TrackingEntry
	topups      map[uint64]models.Topup
	outbox      []models.OutboxEvent
}

func New() *Store {
	return &Store{
		st: &state{
			users:       map[uint64]models.User{},
			prices:      map[uint64]models.Price{},
			expeditions: map[uint64]models.Expedition{},
			shipments:   map[uint64]models.Shipment{},
			topups:      map[uint64]models.Topup{},
		},
		fail: map[string]error{},
	}
}

func (s *state) clone() *state {
	c := &state{
		seq:         s.seq,
		users:       make(map[uint64]models.User, len(s.users)),
		wallet:      append([]models.WalletEntry(nil), s.wallet...),
		prices:      make(map[uint64]models.Price, len(s.prices)),
		expeditions: make(map[uint64]models.Expedition, len(s.expeditions)),
		shipments:   make(map[uint64]models.Shipment, len(s.shipments)),
		tracking:    append([]models.TrackingEntry(nil), s.tracking...),
		topups:      make(map[uint64]models.Topup, len(s.topups)),
		outbox:      append([]models.OutboxEvent(nil), s.outbox...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.prices {
		v.Tiers = append([]models.PriceTier(nil), v.Tiers...)
		c.prices[k] = v
	}
	for k, v := range s.expeditions {
		c.expeditions[k] = v
	}
	for k, v := range s.shipments {
		c.shipments[k] = v
	}
	for k, v := range s.topups {
		c.topups[k] = v
	}
	return c
}

func (s *state) nextID() uint64 {
	s.seq++
	return s.seq
}

// FailNext makes the next call of the named Tx method fail with err.
func (s *Store) FailNext(method string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.fail[method] = err
}

func (s *Store) injected(method string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	err, ok := s.fail[method]
	if !ok {
		return nil
	}
	delete(s.fail, method)
	return err
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx settlement.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &tx{store: s, st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// CreateUser registers a user with a zero balance.
func (s *Store) CreateUser(_ context.Context, name string, role models.Role) (uint64, error) {
	if !role.Valid() {
		return 0, apperr.Validation("unknown role %q", role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.nextID()
	s.st.users[id] = models.User{ID: id, Name: name, Role: role, Balance: decimal.Zero, CreatedAt: time.Now().UTC()}
	return id, nil
}

func (s *Store) GetUser(_ context.Context, id uint64) (*models.User, error) {
	var u models.User
	var ok bool
	s.read(func(st *state) { u, ok = st.users[id] })
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "user %d not found", id)
	}
	return &u, nil
}

func (s *Store) GetShipment(_ context.Context, id uint64) (*models.Shipment, error) {
	var sh models.Shipment
	var ok bool
	s.read(func(st *state) { sh, ok = st.shipments[id] })
	if !ok {
		return nil, apperr.ErrShipmentNotFound
	}
	return &sh, nil
}

func (s *Store) GetShipmentByTrackingCode(_ context.Context, code string) (*models.Shipment, error) {
	var out *models.Shipment
	s.read(func(st *state) {
		for _, sh := range st.shipments {
			if sh.TrackingCode == code {
				c := sh
				out = &c
				return
			}
		}
	})
	if out == nil {
		return nil, apperr.ErrShipmentNotFound
	}
	return out, nil
}

func (s *Store) ListShipments(_ context.Context, userID *uint64, limit, offset int) ([]*models.Shipment, int, error) {
	var all []*models.Shipment
	s.read(func(st *state) {
		for _, sh := range st.shipments {
			if userID != nil && sh.UserID != *userID {
				continue
			}
			c := sh
			all = append(all, &c)
		}
	})
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset >= total {
		return []*models.Shipment{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) ListTopups(_ context.Context, userID *uint64, status *models.TopupStatus) ([]*models.Topup, error) {
	out := []*models.Topup{}
	s.read(func(st *state) {
		for _, tp := range st.topups {
			if userID != nil && tp.UserID != *userID {
				continue
			}
			if status != nil && tp.Status != *status {
				continue
			}
			c := tp
			out = append(out, &c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) ListTrackingEntries(_ context.Context, shipmentID uint64) ([]*models.TrackingEntry, error) {
	var out []*models.TrackingEntry
	s.read(func(st *state) {
		for i := len(st.tracking) - 1; i >= 0; i-- {
			if st.tracking[i].ShipmentID == shipmentID {
				e := st.tracking[i]
				out = append(out, &e)
			}
		}
	})
	return out, nil
}

func (s *Store) WalletEntries(_ context.Context, userID uint64) []models.WalletEntry {
	var out []models.WalletEntry
	s.read(func(st *state) {
		for _, e := range st.wallet {
			if e.UserID == userID {
				out = append(out, e)
			}
		}
	})
	return out
}

func (s *Store) OutboxEvents() []models.OutboxEvent {
	var out []models.OutboxEvent
	s.read(func(st *state) { out = append(out, st.outbox...) })
	return out
}
