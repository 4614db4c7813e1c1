package solar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/core/port"
	"github.com/berfenger/pvheat/pkg/sunspec_modbus"

	"go.uber.org/zap"
)

// SunSpecSource reads PV, battery and grid flows from a SunSpec inverter and
// its smart meter over Modbus TCP. Readers are opened on first use and
// reopened after a failed read.
type SunSpecSource struct {
	ReservationPolicy
	export bool

	mu       sync.Mutex
	inverter sunspec_modbus.InverterModbusReader
	meter    sunspec_modbus.ACMeterModbusReader
	open     bool
	now      func() time.Time
	logger   *zap.Logger
}

func NewSunSpecSource(inverter sunspec_modbus.InverterModbusReader, meter sunspec_modbus.ACMeterModbusReader,
	export bool, policy ReservationPolicy, logger *zap.Logger) *SunSpecSource {
	if policy == nil {
		policy = FixedReservation(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SunSpecSource{
		ReservationPolicy: policy,
		export:            export,
		inverter:          inverter,
		meter:             meter,
		now:               time.Now,
		logger:            logger,
	}
}

func (s *SunSpecSource) SupportsExport() bool {
	return s.export
}

func (s *SunSpecSource) Snapshot(ctx context.Context) (domain.PowerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.PowerSnapshot{}, err
	}
	if err := s.ensureOpen(); err != nil {
		return domain.PowerSnapshot{}, err
	}
	snapshot, err := s.read()
	if err != nil {
		s.logger.Warn("sunspec: read failed, reopening on next snapshot", zap.Error(err))
		s.close()
		return domain.PowerSnapshot{}, err
	}
	return snapshot, nil
}

func (s *SunSpecSource) read() (domain.PowerSnapshot, error) {
	flow, err := s.inverter.GetPowerFlow()
	if err != nil {
		return domain.PowerSnapshot{}, fmt.Errorf("inverter power flow: %w", err)
	}
	grid, err := s.meter.GetCurrentPowerFlowWatt()
	if err != nil {
		return domain.PowerSnapshot{}, fmt.Errorf("meter power flow: %w", err)
	}
	var soc float64
	hasStorage, err := s.inverter.HasStorage()
	if err != nil {
		return domain.PowerSnapshot{}, fmt.Errorf("inverter storage: %w", err)
	}
	if hasStorage {
		state, err := s.inverter.GetStorageState()
		if err != nil {
			return domain.PowerSnapshot{}, fmt.Errorf("inverter storage: %w", err)
		}
		soc = state.StateOfCharge
	}

	return domain.PowerSnapshot{
		Time:          s.now(),
		PVWatt:        flow.PVPowerWatt,
		GridWatt:      grid,
		BatteryWatt:   flow.BatteryDCPowerFlowWatt,
		LoadWatt:      flow.ACPowerWatt + grid,
		ChargePercent: soc,
	}, nil
}

func (s *SunSpecSource) ensureOpen() error {
	if s.open {
		return nil
	}
	if err := s.inverter.Open(); err != nil {
		return fmt.Errorf("inverter open: %w", err)
	}
	if err := s.meter.Open(); err != nil {
		s.inverter.Close()
		return fmt.Errorf("meter open: %w", err)
	}
	if err := errors.Join(s.inverter.Validate(), s.meter.Validate()); err != nil {
		s.inverter.Close()
		s.meter.Close()
		return err
	}
	s.open = true
	return nil
}

func (s *SunSpecSource) close() {
	if !s.open {
		return
	}
	if err := errors.Join(s.inverter.Close(), s.meter.Close()); err != nil {
		s.logger.Debug("sunspec: close", zap.Error(err))
	}
	s.open = false
}

// Close releases the Modbus connections.
func (s *SunSpecSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.close()
}

var _ port.TelemetrySource = (*SunSpecSource)(nil)
