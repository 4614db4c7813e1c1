package domain

import "time"

type TickPhase string

const (
	PhaseMeasure TickPhase = "measure"
	PhaseProbe   TickPhase = "probe"
	PhaseTry     TickPhase = "try"
)

// TickReport describes one control loop decision.
type TickReport struct {
	Time          time.Time
	Mode          ControlMode
	Phase         TickPhase
	Snapshot      PowerSnapshot
	Reservation   float64
	Available     float64
	PreviousStep  int
	ActiveStep    int
	Applied       bool
	ChangePending bool
	Heaters       []HeaterState
	WattHours     float64
	StatusLine    string
}

type SwapResult struct {
	Swapped bool
	Message string
}
