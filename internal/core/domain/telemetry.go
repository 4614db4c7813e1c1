package domain

import "time"

// PowerSnapshot is a single telemetry reading of the installation.
//
// Sign conventions: GridWatt > 0 imports from the grid, < 0 exports.
// BatteryWatt > 0 discharges the battery, < 0 charges it.
type PowerSnapshot struct {
	Time          time.Time
	PVWatt        float64
	GridWatt      float64
	BatteryWatt   float64
	LoadWatt      float64
	ChargePercent float64
}

// Deficit is the combined draw from grid and battery.
func (s PowerSnapshot) Deficit() float64 {
	return s.GridWatt + s.BatteryWatt
}
