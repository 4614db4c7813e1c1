package port

import (
	"context"

	"github.com/berfenger/pvheat/internal/core/domain"
)

// HeatControlLogic is the step selection engine driven by the heat manager actor.
// Tick, Start and Shutdown are only called from a single goroutine at a time.
type HeatControlLogic interface {
	Mode() domain.ControlMode
	ActiveStep() int
	Start(ctx context.Context) error
	Tick(ctx context.Context) (domain.TickReport, error)
	Shutdown(ctx context.Context) error
	Status(ctx context.Context) (domain.TickReport, error)
	HeaterStates(ctx context.Context) []domain.HeaterState
	SetHeaterEnabled(name string, enabled bool) error
	Swap(a, b string) (domain.SwapResult, error)
	ClearSwap()
	Info() string
	EnergyReport() map[string]float64
}
