package settlement

import (
	"testing"
	"time"

	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.ShipmentStatus
		want     bool
	}{
		{models.StatusPending, models.StatusShipped, true},
		{models.StatusPending, models.StatusCanceled, true},
		{models.StatusPending, models.StatusDone, false},
		{models.StatusPending, models.StatusInTransit, false},
		{models.StatusPending, models.StatusPending, false},

		{models.StatusShipped, models.StatusInTransit, true},
		{models.StatusShipped, models.StatusCustomsHold, true},
		{models.StatusShipped, models.StatusDeliveryFailed, true},
		{models.StatusShipped, models.StatusDone, true},
		{models.StatusShipped, models.StatusShipped, true},
		{models.StatusShipped, models.StatusCanceled, false},
		{models.StatusShipped, models.StatusPending, false},

		{models.StatusDeliveryFailed, models.StatusInTransit, true},
		{models.StatusCustomsHold, models.StatusDone, true},
		{models.StatusInTransit, models.StatusCanceled, false},

		{models.StatusDone, models.StatusShipped, false},
		{models.StatusDone, models.StatusCanceled, false},
		{models.StatusCanceled, models.StatusPending, false},
		{models.StatusCanceled, models.StatusShipped, false},

		{models.StatusShipped, "lost", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestKnownStatus(t *testing.T) {
	for _, s := range []models.ShipmentStatus{
		models.StatusPending, models.StatusShipped, models.StatusDone, models.StatusCanceled,
		models.StatusInTransit, models.StatusCustomsHold, models.StatusDeliveryFailed,
	} {
		require.True(t, KnownStatus(s), s)
	}
	require.False(t, KnownStatus(""))
	require.False(t, KnownStatus("delivered"))
}

type fixedRand int

func (f fixedRand) Intn(int) int { return int(f) }

func TestGenerateTrackingCode(t *testing.T) {
	now := time.UnixMilli(1767225600123)
	require.Equal(t, "BE25600123007", GenerateTrackingCode(now, fixedRand(7)))
	require.Equal(t, "BE25600123999", GenerateTrackingCode(now, fixedRand(999)))

	early := time.UnixMilli(42)
	require.Equal(t, "BE00000042000", GenerateTrackingCode(early, fixedRand(0)))
}
