package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/berfenger/pvheat/internal/adapter/device"
	"github.com/berfenger/pvheat/internal/adapter/solar"
	"github.com/berfenger/pvheat/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasureSelectsHighestFittingStep(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()

	ctrl, source, dev := newScenarioControl(t, true)
	require.Equal(domain.ModeMeasure, ctrl.Mode())
	require.NoError(ctrl.Start(ctx))

	source.SetFlows(-900, 0)
	report, err := ctrl.Tick(ctx)
	require.NoError(err)
	require.Equal(900.0, report.Available)
	require.Equal(1, report.ActiveStep, "step 2 needs 1500 W, step 1 fits into 900 W")
	require.True(report.Applied)
	require.Equal("low", dev.Field(4))
}

func TestMeasureCountsDisabledHeatersAsZero(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()

	ctrl, source, _ := newScenarioControl(t, true)
	require.NoError(ctrl.Start(ctx))
	require.NoError(ctrl.SetHeaterEnabled("A", false))

	source.SetFlows(-100, 0)
	report, err := ctrl.Tick(ctx)
	require.NoError(err)
	require.Equal(2, report.ActiveStep, "disabled heaters have a nominal draw of 0 W")
}

func TestMeasureAddsBackActualDraw(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()

	ctrl, source, dev := newScenarioControl(t, true)
	require.NoError(ctrl.Start(ctx))

	source.SetFlows(-900, 0)
	_, err := ctrl.Tick(ctx)
	require.NoError(err)
	dev.Calls()

	// heater now draws 750 W, leaving 150 W export
	source.SetFlows(-150, 0)
	report, err := ctrl.Tick(ctx)
	require.NoError(err)
	require.Equal(900.0, report.Available)
	require.Equal(1, report.ActiveStep)
	require.False(report.Applied, "same step without a change must not be reapplied")
	require.NotContains(dev.Calls(), "level:4=low")
}

func TestDynamicChangeForcesReapply(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()

	ctrl, source, dev := newScenarioControl(t, true)
	require.NoError(ctrl.Start(ctx))

	source.SetFlows(-900, 0)
	_, err := ctrl.Tick(ctx)
	require.NoError(err)

	require.NoError(ctrl.SetHeaterEnabled("A", false))
	require.NoError(ctrl.SetHeaterEnabled("A", true))
	dev.Calls()

	source.SetFlows(-150, 0)
	report, err := ctrl.Tick(ctx)
	require.NoError(err)
	require.Equal(1, report.ActiveStep)
	require.True(report.ChangePending)
	require.True(report.Applied, "change flag must force reapplying the same step")
	require.Contains(dev.Calls(), "level:4=low")
	require.False(ctrl.Ladder().Changes().Raised(), "flag is consumed by the tick")
}

func TestTryModeProbesAndSteps(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()

	ctrl, source, _ := newScenarioControl(t, false)
	require.Equal(domain.ModeTry, ctrl.Mode())
	require.NoError(ctrl.Start(ctx))
	require.Equal(domain.PhaseProbe, ctrl.Phase())

	source.SetFlows(0, 10)
	report, err := ctrl.Tick(ctx)
	require.NoError(err)
	require.Equal(1, report.ActiveStep)

	report, err = ctrl.Tick(ctx)
	require.NoError(err)
	require.Equal(2, report.ActiveStep)
	require.Equal(domain.PhaseTry, report.Phase, "probe ends at the top of the ladder")

	source.SetFlows(80, 20)
	report, err = ctrl.Tick(ctx)
	require.NoError(err)
	require.Equal(1, report.ActiveStep)

	source.SetFlows(0, 0)
	for i := 0; i < DefaultTryStickyTicks; i++ {
		report, err = ctrl.Tick(ctx)
		require.NoError(err)
		require.Equal(1, report.ActiveStep, "sticky tick %d", i)
	}
	report, err = ctrl.Tick(ctx)
	require.NoError(err)
	require.Equal(2, report.ActiveStep)
}

func TestTryModeProbeStopsOnDeficit(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()

	ctrl, source, _ := newScenarioControl(t, false)
	require.NoError(ctrl.Start(ctx))

	source.SetFlows(0, 0)
	_, err := ctrl.Tick(ctx)
	require.NoError(err)

	source.SetFlows(100, 0)
	report, err := ctrl.Tick(ctx)
	require.NoError(err)
	require.Equal(1, report.ActiveStep, "step exceeding the tolerance stays active")
	require.False(report.Applied)
	require.Equal(domain.PhaseTry, ctrl.Phase())
}

func TestTickKeepsStepOnTelemetryError(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()

	ctrl, source, _ := newScenarioControl(t, true)
	require.NoError(ctrl.Start(ctx))
	source.SetFlows(-900, 0)
	_, err := ctrl.Tick(ctx)
	require.NoError(err)

	source.SetError(errors.New("connection refused"))
	_, err = ctrl.Tick(ctx)
	require.Error(err)
	require.Equal(1, ctrl.ActiveStep())
}

func TestTickRecoversPanics(t *testing.T) {

	clock := newTestClock()
	ladder, _ := newTwoHeaterLadder(t, clock)
	ctrl := NewHeatControl(ladder, panickingSource{}, DefaultHeatControlConfig(), WithControlClock(clock.Now))

	_, err := ctrl.Tick(context.Background())
	assert.ErrorContains(t, err, "panicked")
}

func TestTickDoesNotOverlap(t *testing.T) {

	clock := newTestClock()
	ladder, _ := newTwoHeaterLadder(t, clock)
	source := &blockingSource{entered: make(chan struct{}, 1), release: make(chan struct{})}
	ctrl := NewHeatControl(ladder, source, DefaultHeatControlConfig(), WithControlClock(clock.Now))

	// the first tick outlives its context
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Tick(ctx)
		done <- err
	}()
	<-source.entered
	<-ctx.Done()

	_, err := ctrl.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(source.release)
	require.NoError(t, <-done)

	_, err = ctrl.Tick(context.Background())
	assert.NoError(t, err)
}

func TestShutdownTurnsOffActiveStep(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()

	ctrl, source, dev := newScenarioControl(t, true)
	require.NoError(ctrl.Start(ctx))
	source.SetFlows(-2000, 0)
	_, err := ctrl.Tick(ctx)
	require.NoError(err)

	require.NoError(ctrl.Shutdown(ctx))
	status, err := dev.Status(ctx)
	require.NoError(err)
	require.False(status.On)
}

func TestEnergyReportRebases(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()

	clock := newTestClock()
	ctrl, source, _ := newScenarioControlWithClock(t, true, clock)
	require.NoError(ctrl.Start(ctx))
	source.SetFlows(-900, 0)
	_, err := ctrl.Tick(ctx)
	require.NoError(err)

	clock.Advance(time.Hour)
	require.Equal(map[string]float64{"A": 750}, ctrl.EnergyReport())

	clock.Advance(2 * time.Hour)
	require.Equal(map[string]float64{"A": 1500}, ctrl.EnergyReport())

	states := ctrl.HeaterStates(ctx)
	require.Len(states, 1)
	require.Equal(2250.0, states[0].WattHours, "lifetime energy is never reset")
}

func TestStatusDoesNotDecide(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()

	ctrl, source, _ := newScenarioControl(t, true)
	require.NoError(ctrl.Start(ctx))

	source.Set(domain.PowerSnapshot{PVWatt: 3500, GridWatt: -2000, ChargePercent: 55})
	report, err := ctrl.Status(ctx)
	require.NoError(err)
	require.Equal(0, report.ActiveStep)
	require.False(report.Applied)
	require.Equal(2000.0, report.Available)
	require.Equal(0, ctrl.ActiveStep())
	require.True(strings.HasPrefix(report.StatusLine, "01.06.24 12:30  (3.5k)"), report.StatusLine)
}

func TestFormatStatusLine(t *testing.T) {

	report := domain.TickReport{
		Time: time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC),
		Snapshot: domain.PowerSnapshot{
			PVWatt:        3500,
			GridWatt:      -900,
			BatteryWatt:   0,
			ChargePercent: 55,
		},
		Available: 900,
		Heaters: []domain.HeaterState{
			{Name: "A", Status: domain.ShortStatusOnLevel("low")},
			{Name: "B", Status: domain.ShortStatus{Kind: domain.ShortStatusDisabled}},
		},
		WattHours: 1234,
	}
	slots := []StepSlot{{Heater: "A", Level: "low"}}

	assert.Equal(t,
		"01.06.24 12:30  (3.5k)   -900.0 GRD     +0.0 AKK (55.0)      0.0 MIN   +900.0 AVA [A  low] 1.2 kWh",
		FormatStatusLine(report, slots))

	report.ChangePending = true
	assert.True(t, strings.HasSuffix(FormatStatusLine(report, slots), "kWh CS"))
}

func TestInfoDescribesLadder(t *testing.T) {

	ctrl, _, _ := newScenarioControl(t, true)

	info := ctrl.Info()
	assert.Contains(t, info, "mode: measure")
	assert.Contains(t, info, "step 1 (750 W): A=low")
	assert.Contains(t, info, "heater A: enabled, loads low=750 high=1500")
}

// newScenarioControl builds the ladder
// step 0: A off (0 W), step 1: A@low (750 W), step 2: A@high (1500 W)
func newScenarioControl(t *testing.T, export bool) (*HeatControl, *solar.StaticSource, *device.MemoryDevice) {
	return newScenarioControlWithClock(t, export, newTestClock())
}

func newScenarioControlWithClock(t *testing.T, export bool, clock *testClock) (*HeatControl, *solar.StaticSource, *device.MemoryDevice) {
	t.Helper()
	changes := &ChangeFlag{}
	dev := device.NewMemoryDevice("low")
	a := NewHeater(HeaterConfig{Name: "A", Enabled: true, LoadIndex: 4, Loads: map[string]float64{"low": 750, "high": 1500}}, dev, changes, WithHeaterClock(clock.Now))
	ladder, err := NewStepLadder([]*Heater{a}, [][]StepSlot{
		{{Heater: "A", Level: "off"}},
		{{Heater: "A", Level: "low"}},
		{{Heater: "A", Level: "high"}},
	}, changes)
	require.NoError(t, err)
	source := solar.NewStaticSource(export, solar.FixedReservation(0))
	ctrl := NewHeatControl(ladder, source, DefaultHeatControlConfig(), WithControlClock(clock.Now))
	return ctrl, source, dev
}

type panickingSource struct{}

func (panickingSource) Snapshot(context.Context) (domain.PowerSnapshot, error) {
	panic("broken inverter")
}

func (panickingSource) MinimumChargeReservation(domain.PowerSnapshot) float64 {
	return 0
}

func (panickingSource) SupportsExport() bool {
	return true
}

// blockingSource ignores ctx and blocks until release is closed.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSource) Snapshot(context.Context) (domain.PowerSnapshot, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return domain.PowerSnapshot{GridWatt: -100}, nil
}

func (s *blockingSource) MinimumChargeReservation(domain.PowerSnapshot) float64 {
	return 0
}

func (s *blockingSource) SupportsExport() bool {
	return true
}
