package solar

import (
	"math"
	"time"

	"github.com/berfenger/pvheat/internal/core/domain"
)

const (
	DefaultMaxChargePercent    = 90.0
	DefaultFullChargeHour      = 15
	DefaultWattHoursPerPercent = 100.0
)

// ReservationPolicy yields the power kept for battery charging, always <= 0.
type ReservationPolicy interface {
	MinimumChargeReservation(snapshot domain.PowerSnapshot) float64
}

// FixedReservation always reserves the same power.
type FixedReservation float64

func (f FixedReservation) MinimumChargeReservation(domain.PowerSnapshot) float64 {
	return math.Min(float64(f), 0)
}

// ChargeReservation spreads the missing battery charge over the hours left
// until FullChargeHour.
type ChargeReservation struct {
	MaxChargePercent    float64
	FullChargeHour      int
	WattHoursPerPercent float64
	Now                 func() time.Time
}

func NewChargeReservation(maxCharge float64, fullChargeHour int, whPerPercent float64) *ChargeReservation {
	return &ChargeReservation{
		MaxChargePercent:    maxCharge,
		FullChargeHour:      fullChargeHour,
		WattHoursPerPercent: whPerPercent,
		Now:                 time.Now,
	}
}

func (r *ChargeReservation) MinimumChargeReservation(snapshot domain.PowerSnapshot) float64 {
	toCharge := r.MaxChargePercent - snapshot.ChargePercent
	if toCharge <= 0 {
		return 0
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	period := r.FullChargeHour - now().Hour()
	var reservation float64
	switch {
	case period > 0:
		reservation = -(r.WattHoursPerPercent * toCharge / float64(period))
	case toCharge < 5:
		reservation = 0
	default:
		reservation = -(r.WattHoursPerPercent * toCharge)
	}
	return math.Round(reservation*100) / 100
}
