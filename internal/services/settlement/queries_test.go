package settlement_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/cache/rediscache"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/BearBump/ParcelDesk/internal/pricing"
	"github.com/BearBump/ParcelDesk/internal/services/settlement"
	"github.com/BearBump/ParcelDesk/internal/storage/memstore"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type queryFixture struct {
	ctx   context.Context
	store *memstore.Store
	wf    *settlement.Workflow
	admin models.Caller
}

func newQueryFixture(t *testing.T) *queryFixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	adminID, err := st.CreateUser(ctx, "ops", models.RoleAdmin)
	require.NoError(t, err)
	_, err = st.CreatePrice(ctx, &models.Price{
		Destination: "Malaysia",
		Category:    models.CategoryNormal,
		Rates: models.Rates{
			Retail:  models.RatePair{PerKg: dec("25000"), PerVolume: dec("5000")},
			Partner: models.RatePair{PerKg: dec("20000"), PerVolume: dec("4000")},
		},
	})
	require.NoError(t, err)
	return &queryFixture{
		ctx:   ctx,
		store: st,
		wf:    settlement.New(st, st, zap.NewNop()),
		admin: models.Caller{ID: adminID, Role: models.RoleAdmin},
	}
}

func dims(w, l, wd, h string) pricing.Dimensions {
	return pricing.Dimensions{Weight: dec(w), Length: dec(l), Width: dec(wd), Height: dec(h)}
}

func (f *queryFixture) customer(t *testing.T, balance string) models.Caller {
	t.Helper()
	id, err := f.store.CreateUser(f.ctx, "cust", models.RoleCustomer)
	require.NoError(t, err)
	c := models.Caller{ID: id, Role: models.RoleCustomer}
	topup, err := f.wf.RequestTopup(f.ctx, c, dec(balance), "proof.jpg")
	require.NoError(t, err)
	require.NoError(t, f.wf.DecideTopup(f.ctx, f.admin, topup, true, nil))
	return c
}

func TestGetShipment_OwnerOrStaff(t *testing.T) {
	f := newQueryFixture(t)
	alice := f.customer(t, "100000")
	bob := f.customer(t, "100000")

	res, err := f.wf.CreateShipment(f.ctx, alice, input("Malaysia", "2"))
	require.NoError(t, err)

	sh, err := f.wf.GetShipment(f.ctx, alice, res.ShipmentID)
	require.NoError(t, err)
	require.Equal(t, res.TrackingCode, sh.TrackingCode)

	_, err = f.wf.GetShipment(f.ctx, bob, res.ShipmentID)
	require.ErrorIs(t, err, apperr.ErrShipmentNotFound)

	_, err = f.wf.GetShipment(f.ctx, f.admin, res.ShipmentID)
	require.NoError(t, err)

	_, err = f.wf.GetShipment(f.ctx, models.Caller{}, res.ShipmentID)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestListShipments_ScopesAndPages(t *testing.T) {
	f := newQueryFixture(t)
	alice := f.customer(t, "1000000")
	bob := f.customer(t, "1000000")

	for i := 0; i < 5; i++ {
		_, err := f.wf.CreateShipment(f.ctx, alice, input("Malaysia", "2"))
		require.NoError(t, err)
	}
	_, err := f.wf.CreateShipment(f.ctx, bob, input("Malaysia", "2"))
	require.NoError(t, err)

	page, err := f.wf.ListShipments(f.ctx, alice, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 5, page.Total)
	require.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Items, 2)
	require.Greater(t, page.Items[0].ID, page.Items[1].ID)

	page, err = f.wf.ListShipments(f.ctx, alice, 3, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	page, err = f.wf.ListShipments(f.ctx, f.admin, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 6, page.Total)
	require.Equal(t, 1, page.Page)
	require.Equal(t, 10, page.Limit)

	page, err = f.wf.ListShipments(f.ctx, bob, 1, 1000)
	require.NoError(t, err)
	require.Equal(t, 100, page.Limit)
	require.Len(t, page.Items, 1)
}

func TestTrack_CachesAndInvalidatesOnWrite(t *testing.T) {
	f := newQueryFixture(t)
	mr := miniredis.RunT(t)
	f.wf.WithTrackingCache(rediscache.New(mr.Addr()), time.Minute)

	c := f.customer(t, "100000")
	in := input("Malaysia", "2")
	in.Receiver.IdentityNumber = "3174000000000001"
	res, err := f.wf.CreateShipment(f.ctx, c, in)
	require.NoError(t, err)

	v, err := f.wf.Track(f.ctx, res.TrackingCode)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, v.Status)
	require.Len(t, v.Entries, 1)
	require.True(t, mr.Exists(settlement.TrackingCacheKey(res.TrackingCode)))

	raw, err := mr.Get(settlement.TrackingCacheKey(res.TrackingCode))
	require.NoError(t, err)
	var cached map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	require.Equal(t, res.TrackingCode, cached["tracking_code"])
	for _, private := range []string{"3174000000000001", "Budi", "Jakarta", "Kuala Lumpur", "total_price", "user_id"} {
		require.NotContains(t, raw, private)
	}

	require.NoError(t, f.wf.AssignExpedition(f.ctx, f.admin, res.ShipmentID, settlement.AssignExpeditionInput{Manual: true, TrackingCode: "M-1"}))
	require.False(t, mr.Exists(settlement.TrackingCacheKey(res.TrackingCode)))

	v, err = f.wf.Track(f.ctx, res.TrackingCode)
	require.NoError(t, err)
	require.Equal(t, models.StatusShipped, v.Status)
	require.Len(t, v.Entries, 2)
	require.Equal(t, models.StatusShipped, v.Entries[0].Status)
}

// racingReader returns the shipment as it was before running write, the way
// a slow read overtaken by a commit would.
type racingReader struct {
	settlement.Reader
	write func()
}

func (r *racingReader) GetShipmentByTrackingCode(ctx context.Context, code string) (*models.Shipment, error) {
	sh, err := r.Reader.GetShipmentByTrackingCode(ctx, code)
	if r.write != nil {
		w := r.write
		r.write = nil
		w()
	}
	return sh, err
}

func TestTrack_ReadOvertakenByWriteIsNotCached(t *testing.T) {
	f := newQueryFixture(t)
	mr := miniredis.RunT(t)
	cache := rediscache.New(mr.Addr())
	f.wf.WithTrackingCache(cache, time.Minute)

	c := f.customer(t, "100000")
	res, err := f.wf.CreateShipment(f.ctx, c, input("Malaysia", "2"))
	require.NoError(t, err)

	rr := &racingReader{Reader: f.store}
	reader := settlement.New(f.store, rr, zap.NewNop()).WithTrackingCache(cache, time.Minute)
	rr.write = func() {
		require.NoError(t, f.wf.AssignExpedition(f.ctx, f.admin, res.ShipmentID, settlement.AssignExpeditionInput{Manual: true, TrackingCode: "M-1"}))
	}

	v, err := reader.Track(f.ctx, res.TrackingCode)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, v.Status)
	require.False(t, mr.Exists(settlement.TrackingCacheKey(res.TrackingCode)))

	v, err = reader.Track(f.ctx, res.TrackingCode)
	require.NoError(t, err)
	require.Equal(t, models.StatusShipped, v.Status)
	require.True(t, mr.Exists(settlement.TrackingCacheKey(res.TrackingCode)))
}

func TestTrack_ServesFromCache(t *testing.T) {
	f := newQueryFixture(t)
	mr := miniredis.RunT(t)
	f.wf.WithTrackingCache(rediscache.New(mr.Addr()), time.Minute)

	b, err := json.Marshal(settlement.TrackingView{TrackingCode: "BE12345678001", Status: models.StatusInTransit})
	require.NoError(t, err)
	require.NoError(t, mr.Set(settlement.TrackingCacheKey("BE12345678001"), string(b)))

	v, err := f.wf.Track(f.ctx, "BE12345678001")
	require.NoError(t, err)
	require.Equal(t, models.StatusInTransit, v.Status)
}

func TestTrack_UnknownCode(t *testing.T) {
	f := newQueryFixture(t)

	_, err := f.wf.Track(f.ctx, "BE00000000000")
	require.ErrorIs(t, err, apperr.ErrShipmentNotFound)

	_, err = f.wf.Track(f.ctx, "  ")
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestTrack_CacheDownFallsBackToStore(t *testing.T) {
	f := newQueryFixture(t)
	mr := miniredis.RunT(t)
	f.wf.WithTrackingCache(rediscache.New(mr.Addr()), time.Minute)

	c := f.customer(t, "100000")
	res, err := f.wf.CreateShipment(f.ctx, c, input("Malaysia", "2"))
	require.NoError(t, err)

	mr.Close()
	v, err := f.wf.Track(f.ctx, res.TrackingCode)
	require.NoError(t, err)
	require.Equal(t, res.TrackingCode, v.TrackingCode)
}

func TestQuote_DoesNotCharge(t *testing.T) {
	f := newQueryFixture(t)
	c := f.customer(t, "100000")

	charge, err := f.wf.Quote(f.ctx, c, "Malaysia", models.CategoryNormal, dims("2", "20", "20", "20"))
	require.NoError(t, err)
	require.True(t, dec("50000").Equal(charge.Total))

	u, err := f.store.GetUser(f.ctx, c.ID)
	require.NoError(t, err)
	require.True(t, dec("100000").Equal(u.Balance))

	_, err = f.wf.Quote(f.ctx, c, "Atlantis", models.CategoryNormal, dims("2", "20", "20", "20"))
	require.ErrorIs(t, err, apperr.ErrPriceNotAvailable)
}
