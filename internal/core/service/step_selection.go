package service

import "math"

const (
	DefaultTryTolerance   = 30.0
	DefaultTryStickyTicks = 5
)

// AvailablePower estimates the power heating may claim in measure mode.
// reservation is <= 0 and actualWatt is the current draw of the active step.
func AvailablePower(gridWatt, batteryWatt, reservation, actualWatt float64) float64 {
	return round2(-gridWatt - batteryWatt + reservation + actualWatt)
}

// SelectMeasuredStep scans from the highest step down and returns the first one
// whose nominal draw fits into available. Step 0 is the floor.
func SelectMeasuredStep(nominals []float64, available float64) int {
	for i := len(nominals) - 1; i > 0; i-- {
		if nominals[i] <= available {
			return i
		}
	}
	return 0
}

// TryStepper moves one step at a time based on the grid+battery deficit,
// holding back step-ups for StickyTicks ticks after a step-down.
type TryStepper struct {
	Tolerance   float64
	StickyTicks int
	sticky      int
}

func NewTryStepper(tolerance float64, stickyTicks int) *TryStepper {
	return &TryStepper{Tolerance: tolerance, StickyTicks: stickyTicks}
}

// Next returns the next step index for the given deficit.
func (t *TryStepper) Next(index, steps int, deficit float64) int {
	switch {
	case deficit > t.Tolerance:
		if index > 0 {
			t.sticky = t.StickyTicks
			return index - 1
		}
		return index
	case t.sticky > 0:
		t.sticky--
		return index
	case index < steps-1:
		return index + 1
	default:
		return index
	}
}

// ProbeAllows reports whether probing may continue to the next step.
func (t *TryStepper) ProbeAllows(deficit float64) bool {
	return deficit < t.Tolerance
}

func (t *TryStepper) Sticky() int {
	return t.sticky
}

func (t *TryStepper) Reset() {
	t.sticky = 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
