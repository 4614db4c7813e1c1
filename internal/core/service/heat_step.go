package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/berfenger/pvheat/internal/core/domain"
)

// StepSlot assigns a level (or control word) to a heater within a step.
type StepSlot struct {
	Heater string
	Level  string
}

// HeatStep is one rung of the ladder. Heater names are resolved through
// the ladder-wide swap on every access.
type HeatStep struct {
	index  int
	slots  []StepSlot
	names  map[string]struct{}
	ladder *StepLadder
}

func (s *HeatStep) Index() int {
	return s.index
}

// Slots returns the assignments with the active swap applied.
func (s *HeatStep) Slots() []StepSlot {
	pair := s.ladder.currentPair()
	resolved := make([]StepSlot, len(s.slots))
	for i, slot := range s.slots {
		resolved[i] = StepSlot{Heater: resolveWith(pair, slot.Heater), Level: slot.Level}
	}
	return resolved
}

// Contains reports whether name is referenced by the step definition.
func (s *HeatStep) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

// NominalWatt sums the configured wattage of every enabled assignment.
func (s *HeatStep) NominalWatt() float64 {
	var total float64
	for _, slot := range s.Slots() {
		heater := s.ladder.byName[slot.Heater]
		if !heater.Enabled() {
			continue
		}
		if w, ok := heater.Watt(slot.Level); ok {
			total += w
		}
	}
	return total
}

// ActualWatt sums what the step heaters currently draw. Unreachable heaters count 0.
func (s *HeatStep) ActualWatt(ctx context.Context) float64 {
	var total float64
	for _, slot := range s.Slots() {
		total += s.ladder.byName[slot.Heater].CurrentDraw(ctx)
	}
	return total
}

// Apply drives every heater to its assigned level. A failing heater does not
// stop the remaining ones; failures other than disabled heaters are joined.
func (s *HeatStep) Apply(ctx context.Context) error {
	var errs []error
	for _, slot := range s.Slots() {
		heater := s.ladder.byName[slot.Heater]
		var err error
		switch slot.Level {
		case domain.LevelOff:
			err = heater.TurnOff(ctx)
		case domain.LevelOn:
			err = heater.TurnOn(ctx)
		case domain.LevelEnable:
			heater.SetEnabled(true)
		case domain.LevelDisable:
			heater.SetEnabled(false)
		default:
			err = heater.SetLevel(ctx, slot.Level)
		}
		if err != nil && !isDisabled(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TurnOffAll turns off every heater of the step regardless of its level.
func (s *HeatStep) TurnOffAll(ctx context.Context) error {
	var errs []error
	for _, slot := range s.Slots() {
		if err := s.ladder.byName[slot.Heater].TurnOff(ctx); err != nil && !isDisabled(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Swap toggles the swap of a and b, which must both belong to this step.
// The swap is stored once for the whole ladder.
func (s *HeatStep) Swap(a, b string) (domain.SwapResult, error) {
	a, b, err := s.ladder.swapNames(a, b, s)
	if err != nil {
		return domain.SwapResult{}, err
	}
	return s.ladder.swap(a, b)
}

func (s *HeatStep) String() string {
	out := fmt.Sprintf("step %d (%.0f W):", s.index, s.NominalWatt())
	for _, slot := range s.Slots() {
		out += fmt.Sprintf(" %s=%s", slot.Heater, slot.Level)
	}
	return out
}
