package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/core/port"

	"go.uber.org/zap"
)

const statusTimeLayout = "02.01.06 15:04"

// ErrTickInProgress is returned by Tick while a previous tick has not returned yet.
var ErrTickInProgress = errors.New("heat control: previous tick still running")

type HeatControlConfig struct {
	TryTolerance   float64
	TryStickyTicks int
}

func DefaultHeatControlConfig() HeatControlConfig {
	return HeatControlConfig{
		TryTolerance:   DefaultTryTolerance,
		TryStickyTicks: DefaultTryStickyTicks,
	}
}

// HeatControl decides which ladder step is active. The mode is fixed at
// construction from the telemetry source export capability.
type HeatControl struct {
	ladder  *StepLadder
	solar   port.TelemetrySource
	mode    domain.ControlMode
	stepper *TryStepper
	now     func() time.Time
	logger  *zap.Logger
	ticking atomic.Bool

	mu        sync.Mutex
	index     int
	phase     domain.TickPhase
	probeNext int
	baseline  map[string]float64
}

type HeatControlOption func(*HeatControl)

func WithControlClock(now func() time.Time) HeatControlOption {
	return func(c *HeatControl) {
		c.now = now
	}
}

func WithControlLogger(logger *zap.Logger) HeatControlOption {
	return func(c *HeatControl) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewHeatControl(ladder *StepLadder, solar port.TelemetrySource, cfg HeatControlConfig, opts ...HeatControlOption) *HeatControl {
	mode := domain.ModeTry
	if solar.SupportsExport() {
		mode = domain.ModeMeasure
	}
	c := &HeatControl{
		ladder:   ladder,
		solar:    solar,
		mode:     mode,
		stepper:  NewTryStepper(cfg.TryTolerance, cfg.TryStickyTicks),
		now:      time.Now,
		logger:   zap.NewNop(),
		phase:    domain.PhaseMeasure,
		baseline: map[string]float64{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HeatControl) Mode() domain.ControlMode {
	return c.mode
}

func (c *HeatControl) ActiveStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

func (c *HeatControl) Phase() domain.TickPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *HeatControl) Ladder() *StepLadder {
	return c.ladder
}

// Start applies the lowest step and resets the loop state.
func (c *HeatControl) Start(ctx context.Context) error {
	c.stepper.Reset()
	c.mu.Lock()
	c.index = 0
	c.probeNext = 1
	if c.mode == domain.ModeTry {
		c.phase = domain.PhaseProbe
	} else {
		c.phase = domain.PhaseMeasure
	}
	c.mu.Unlock()

	c.ladder.Changes().Consume()
	if err := c.ladder.Step(0).Apply(ctx); err != nil {
		c.logger.Warn("heat control: could not apply step 0", zap.Error(err))
		// the next tick has to retry
		c.ladder.Changes().Raise()
	}
	if c.mode == domain.ModeTry && c.ladder.Len() < 2 {
		c.setPhase(domain.PhaseTry)
	}
	return nil
}

// Tick runs one control decision. Panics are recovered into the returned error.
// Ticks never overlap: a call made while another tick is still running fails
// with ErrTickInProgress.
func (c *HeatControl) Tick(ctx context.Context) (report domain.TickReport, err error) {
	if !c.ticking.CompareAndSwap(false, true) {
		return report, ErrTickInProgress
	}
	defer c.ticking.Store(false)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heat control tick panicked: %v", r)
		}
	}()

	report, err = c.observe(ctx)
	if err != nil {
		return report, err
	}
	report.ChangePending = c.ladder.Changes().Raised()

	switch report.Phase {
	case domain.PhaseMeasure:
		c.measureTick(ctx, &report)
	case domain.PhaseProbe:
		c.probeTick(ctx, &report)
	default:
		c.tryTick(ctx, &report)
	}
	c.finish(ctx, &report)
	return report, nil
}

// Shutdown turns off every heater of the active step.
func (c *HeatControl) Shutdown(ctx context.Context) error {
	return c.ladder.Step(c.ActiveStep()).TurnOffAll(ctx)
}

// Status reads fresh telemetry without taking a decision.
func (c *HeatControl) Status(ctx context.Context) (domain.TickReport, error) {
	report, err := c.observe(ctx)
	if err != nil {
		return report, err
	}
	report.ChangePending = c.ladder.Changes().Raised()
	c.finish(ctx, &report)
	return report, nil
}

func (c *HeatControl) HeaterStates(ctx context.Context) []domain.HeaterState {
	heaters := c.ladder.Heaters()
	states := make([]domain.HeaterState, 0, len(heaters))
	for _, h := range heaters {
		states = append(states, domain.HeaterState{
			Name:      h.Name(),
			Enabled:   h.Enabled(),
			Status:    h.ShortStatus(ctx),
			WattHours: round2(h.WattHours()),
			Loads:     h.Loads(),
		})
	}
	return states
}

func (c *HeatControl) SetHeaterEnabled(name string, enabled bool) error {
	return c.ladder.SetHeaterEnabled(name, enabled)
}

func (c *HeatControl) Swap(a, b string) (domain.SwapResult, error) {
	return c.ladder.Swap(a, b)
}

func (c *HeatControl) ClearSwap() {
	c.ladder.ClearSwap()
}

// Info describes the mode, the ladder and the heaters.
func (c *HeatControl) Info() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mode: %s\n", c.mode)
	for _, step := range c.ladder.Steps() {
		sb.WriteString(step.String())
		sb.WriteByte('\n')
	}
	for _, h := range c.ladder.Heaters() {
		state := "enabled"
		if !h.Enabled() {
			state = "disabled"
		}
		loads := h.Loads()
		levels := make([]string, 0, len(loads))
		for level := range loads {
			levels = append(levels, level)
		}
		slices.SortFunc(levels, func(a, b string) int {
			if loads[a] != loads[b] {
				if loads[a] < loads[b] {
					return -1
				}
				return 1
			}
			return strings.Compare(a, b)
		})
		fmt.Fprintf(&sb, "heater %s: %s, loads", h.Name(), state)
		for _, level := range levels {
			fmt.Fprintf(&sb, " %s=%.0f", level, loads[level])
		}
		sb.WriteByte('\n')
	}
	if a, b, ok := c.ladder.SwapPair(); ok {
		fmt.Fprintf(&sb, "swap: %s <-> %s\n", a, b)
	}
	return sb.String()
}

// EnergyReport returns the watt-hours of every heater since the previous report.
func (c *HeatControl) EnergyReport() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.ladder.Heaters()))
	for _, h := range c.ladder.Heaters() {
		wh := h.WattHours()
		out[h.Name()] = round2(wh - c.baseline[h.Name()])
		c.baseline[h.Name()] = wh
	}
	return out
}

func (c *HeatControl) observe(ctx context.Context) (domain.TickReport, error) {
	snap, err := c.solar.Snapshot(ctx)
	if err != nil {
		return domain.TickReport{}, fmt.Errorf("telemetry snapshot: %w", err)
	}
	if snap.Time.IsZero() {
		snap.Time = c.now()
	}
	reservation := c.solar.MinimumChargeReservation(snap)

	c.mu.Lock()
	index, phase := c.index, c.phase
	c.mu.Unlock()

	actual := c.ladder.Step(index).ActualWatt(ctx)
	return domain.TickReport{
		Time:         snap.Time,
		Mode:         c.mode,
		Phase:        phase,
		Snapshot:     snap,
		Reservation:  reservation,
		Available:    AvailablePower(snap.GridWatt, snap.BatteryWatt, reservation, actual),
		PreviousStep: index,
		ActiveStep:   index,
	}, nil
}

func (c *HeatControl) measureTick(ctx context.Context, report *domain.TickReport) {
	selected := SelectMeasuredStep(c.ladder.NominalWatts(), report.Available)
	dynamic := c.ladder.Changes().Consume()
	if selected != report.PreviousStep || dynamic {
		c.apply(ctx, selected, report)
	}
}

func (c *HeatControl) probeTick(ctx context.Context, report *domain.TickReport) {
	c.mu.Lock()
	next := c.probeNext
	c.mu.Unlock()

	deficit := report.Snapshot.Deficit()
	if !c.stepper.ProbeAllows(deficit) || next >= c.ladder.Len() {
		c.logger.Info("heat control: probe finished", zap.Int("step", report.PreviousStep), zap.Float64("deficit", deficit))
		c.setPhase(domain.PhaseTry)
		c.reapplyIfChanged(ctx, report)
		return
	}
	c.ladder.Changes().Consume()
	c.apply(ctx, next, report)
	c.mu.Lock()
	c.probeNext = next + 1
	if c.probeNext >= c.ladder.Len() {
		c.phase = domain.PhaseTry
	}
	c.mu.Unlock()
}

func (c *HeatControl) tryTick(ctx context.Context, report *domain.TickReport) {
	next := c.stepper.Next(report.PreviousStep, c.ladder.Len(), report.Snapshot.Deficit())
	dynamic := c.ladder.Changes().Consume()
	if next != report.PreviousStep || dynamic {
		c.apply(ctx, next, report)
	}
}

func (c *HeatControl) reapplyIfChanged(ctx context.Context, report *domain.TickReport) {
	if c.ladder.Changes().Consume() {
		c.apply(ctx, report.PreviousStep, report)
	}
}

func (c *HeatControl) apply(ctx context.Context, index int, report *domain.TickReport) {
	step := c.ladder.Step(index)
	if err := step.Apply(ctx); err != nil {
		c.logger.Warn("heat control: step applied with errors", zap.Int("step", index), zap.Error(err))
	}
	c.mu.Lock()
	c.index = index
	c.mu.Unlock()
	report.ActiveStep = index
	report.Applied = true
}

func (c *HeatControl) setPhase(phase domain.TickPhase) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
}

func (c *HeatControl) finish(ctx context.Context, report *domain.TickReport) {
	report.Phase = c.Phase()
	report.Heaters = c.HeaterStates(ctx)
	var total float64
	for _, h := range report.Heaters {
		total += h.WattHours
	}
	report.WattHours = round2(total)
	report.StatusLine = FormatStatusLine(*report, c.ladder.Step(report.ActiveStep).Slots())
}

// FormatStatusLine renders a report as a single human readable line showing
// the heaters assigned to slots.
func FormatStatusLine(report domain.TickReport, slots []StepSlot) string {
	statuses := make(map[string]domain.ShortStatus, len(report.Heaters))
	for _, h := range report.Heaters {
		statuses[h.Name] = h.Status
	}
	var heaters strings.Builder
	seen := map[string]bool{}
	for _, slot := range slots {
		if seen[slot.Heater] {
			continue
		}
		seen[slot.Heater] = true
		fmt.Fprintf(&heaters, "[%s %4s] ", slot.Heater, statuses[slot.Heater])
	}
	s := report.Snapshot
	line := fmt.Sprintf("%s  (%3.1fk) %+8.1f GRD %+8.1f AKK (%2.1f) %8.1f MIN %+8.1f AVA %s%.1f kWh",
		report.Time.Format(statusTimeLayout),
		s.PVWatt/1000,
		s.GridWatt,
		s.BatteryWatt,
		s.ChargePercent,
		report.Reservation,
		report.Available,
		heaters.String(),
		report.WattHours/1000,
	)
	if report.ChangePending {
		line += " CS"
	}
	return line
}

var _ port.HeatControlLogic = (*HeatControl)(nil)
