package port

import "github.com/berfenger/pvheat/internal/core/domain"

// HeatMetrics receives the outcome of every control loop tick.
type HeatMetrics interface {
	ObserveTick(report domain.TickReport)
	ObserveTickError(mode domain.ControlMode)
	SetRunning(running bool)
	ObserveEnergyReport(wattHours map[string]float64)
}
