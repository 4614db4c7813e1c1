package solar

import (
	"context"
	"sync"

	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/core/port"
)

// StaticSource serves a mutable snapshot.
type StaticSource struct {
	ReservationPolicy
	export bool

	mu       sync.Mutex
	snapshot domain.PowerSnapshot
	err      error
	reads    int
}

func NewStaticSource(export bool, policy ReservationPolicy) *StaticSource {
	if policy == nil {
		policy = FixedReservation(0)
	}
	return &StaticSource{ReservationPolicy: policy, export: export}
}

func (s *StaticSource) Snapshot(_ context.Context) (domain.PowerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return domain.PowerSnapshot{}, s.err
	}
	return s.snapshot, nil
}

func (s *StaticSource) SupportsExport() bool {
	return s.export
}

func (s *StaticSource) Set(snapshot domain.PowerSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	s.err = nil
}

// SetFlows updates grid and battery flow, keeping the other readings.
func (s *StaticSource) SetFlows(gridWatt, batteryWatt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.GridWatt = gridWatt
	s.snapshot.BatteryWatt = batteryWatt
	s.err = nil
}

func (s *StaticSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

var _ port.TelemetrySource = (*StaticSource)(nil)
