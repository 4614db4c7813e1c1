package port

import (
	"context"

	"github.com/berfenger/pvheat/internal/core/domain"
)

// TelemetrySource provides power readings of the PV installation.
type TelemetrySource interface {
	Snapshot(ctx context.Context) (domain.PowerSnapshot, error)
	// MinimumChargeReservation returns the power kept for battery charging, always <= 0.
	MinimumChargeReservation(snapshot domain.PowerSnapshot) float64
	// SupportsExport reports whether surplus can be fed into the grid.
	SupportsExport() bool
}
