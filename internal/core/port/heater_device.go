package port

import (
	"context"

	"github.com/berfenger/pvheat/internal/core/domain"
)

// HeaterDevice is the transport to a single physical heater.
type HeaterDevice interface {
	// Status returns the current on/off state and the active load level.
	Status(ctx context.Context) (domain.DeviceStatus, error)
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	// SetLevel writes level into the device field at index.
	SetLevel(ctx context.Context, index int, level string) error
}
