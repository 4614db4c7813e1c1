package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/berfenger/pvheat/internal/core/domain"
)

// StepLadder is the ordered list of heat steps, lowest nominal draw first.
// Ordering is not verified.
type StepLadder struct {
	steps   []*HeatStep
	heaters []*Heater
	byName  map[string]*Heater
	names   map[string]struct{}
	changes *ChangeFlag

	mu   sync.RWMutex
	pair *[2]string
}

func NewStepLadder(heaters []*Heater, definitions [][]StepSlot, changes *ChangeFlag) (*StepLadder, error) {
	if len(definitions) == 0 {
		return nil, errors.New("step ladder needs at least one step")
	}
	if changes == nil {
		changes = &ChangeFlag{}
	}
	l := &StepLadder{
		heaters: heaters,
		byName:  make(map[string]*Heater, len(heaters)),
		names:   map[string]struct{}{},
		changes: changes,
	}
	for _, h := range heaters {
		if _, dup := l.byName[h.Name()]; dup {
			return nil, fmt.Errorf("duplicated heater %q", h.Name())
		}
		l.byName[h.Name()] = h
	}
	for i, def := range definitions {
		step := &HeatStep{
			index:  i,
			slots:  make([]StepSlot, len(def)),
			names:  make(map[string]struct{}, len(def)),
			ladder: l,
		}
		for j, slot := range def {
			heater, ok := l.byName[slot.Heater]
			if !ok {
				return nil, fmt.Errorf("step %d: %w: %q", i, domain.ErrUnknownHeater, slot.Heater)
			}
			if _, known := heater.Watt(slot.Level); !known && !domain.IsControlLevel(slot.Level) {
				return nil, fmt.Errorf("step %d: %w: %q for heater %s", i, domain.ErrUnknownLevel, slot.Level, slot.Heater)
			}
			step.slots[j] = slot
			step.names[slot.Heater] = struct{}{}
			l.names[slot.Heater] = struct{}{}
		}
		l.steps = append(l.steps, step)
	}
	return l, nil
}

func (l *StepLadder) Len() int {
	return len(l.steps)
}

func (l *StepLadder) Step(index int) *HeatStep {
	return l.steps[index]
}

func (l *StepLadder) Steps() []*HeatStep {
	return l.steps
}

func (l *StepLadder) Heaters() []*Heater {
	return l.heaters
}

func (l *StepLadder) Changes() *ChangeFlag {
	return l.changes
}

// Heater looks up a heater by name, falling back to a case-insensitive match.
func (l *StepLadder) Heater(name string) (*Heater, error) {
	if h, ok := l.byName[name]; ok {
		return h, nil
	}
	for _, h := range l.heaters {
		if strings.EqualFold(h.Name(), name) {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownHeater, name)
}

func (l *StepLadder) SetHeaterEnabled(name string, enabled bool) error {
	h, err := l.Heater(name)
	if err != nil {
		return err
	}
	h.SetEnabled(enabled)
	return nil
}

// NominalWatts snapshots the nominal draw of every step.
func (l *StepLadder) NominalWatts() []float64 {
	watts := make([]float64, len(l.steps))
	for i, step := range l.steps {
		watts[i] = step.NominalWatt()
	}
	return watts
}

func (l *StepLadder) currentPair() *[2]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.pair == nil {
		return nil
	}
	pair := *l.pair
	return &pair
}

func resolveWith(pair *[2]string, name string) string {
	if pair == nil {
		return name
	}
	switch name {
	case pair[0]:
		return pair[1]
	case pair[1]:
		return pair[0]
	}
	return name
}

func (l *StepLadder) SwapPair() (string, string, bool) {
	pair := l.currentPair()
	if pair == nil {
		return "", "", false
	}
	return pair[0], pair[1], true
}

// Swap toggles the swap of two heaters referenced by the ladder.
func (l *StepLadder) Swap(a, b string) (domain.SwapResult, error) {
	a, b, err := l.swapNames(a, b, nil)
	if err != nil {
		return domain.SwapResult{}, err
	}
	return l.swap(a, b)
}

func (l *StepLadder) ClearSwap() {
	l.mu.Lock()
	l.pair = nil
	l.mu.Unlock()
	l.changes.Raise()
}

// swapNames maps a and b to the configured heater names. When step is not
// nil both heaters must belong to it.
func (l *StepLadder) swapNames(a, b string, step *HeatStep) (string, string, error) {
	names := [2]string{a, b}
	for i, name := range names {
		h, err := l.Heater(name)
		if err == nil {
			if _, ok := l.names[h.Name()]; !ok {
				err = fmt.Errorf("%w: %q is not part of the ladder", domain.ErrUnknownHeater, name)
			}
		}
		if err == nil && step != nil && !step.Contains(h.Name()) {
			err = fmt.Errorf("%w: %q is not part of step %d", domain.ErrUnknownHeater, name, step.index)
		}
		if err != nil {
			return "", "", err
		}
		names[i] = h.Name()
	}
	return names[0], names[1], nil
}

func (l *StepLadder) swap(a, b string) (domain.SwapResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pair != nil && ((l.pair[0] == a && l.pair[1] == b) || (l.pair[0] == b && l.pair[1] == a)) {
		l.pair = nil
		l.changes.Raise()
		return domain.SwapResult{Swapped: false, Message: fmt.Sprintf("heaters %s and %s are no longer swapped", a, b)}, nil
	}
	pair := &[2]string{a, b}
	if err := l.checkLevels(pair); err != nil {
		return domain.SwapResult{}, err
	}
	l.pair = pair
	l.changes.Raise()
	return domain.SwapResult{Swapped: true, Message: fmt.Sprintf("heaters %s and %s are swapped", a, b)}, nil
}

// checkLevels verifies that every heater knows the levels it takes over under pair.
func (l *StepLadder) checkLevels(pair *[2]string) error {
	for _, step := range l.steps {
		for _, slot := range step.slots {
			if domain.IsControlLevel(slot.Level) {
				continue
			}
			name := resolveWith(pair, slot.Heater)
			if _, ok := l.byName[name].Watt(slot.Level); !ok {
				return fmt.Errorf("step %d: %w: %q for heater %s", step.index, domain.ErrUnknownLevel, slot.Level, name)
			}
		}
	}
	return nil
}

// TotalWattHours sums the energy of all heaters.
func (l *StepLadder) TotalWattHours() float64 {
	var total float64
	for _, h := range l.heaters {
		total += h.WattHours()
	}
	return total
}
