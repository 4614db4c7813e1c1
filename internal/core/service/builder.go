package service

import (
	"fmt"

	"github.com/berfenger/pvheat/internal/config"
	"github.com/berfenger/pvheat/internal/core/port"

	"go.uber.org/zap"
)

// NewHeatControlFromConfig wires heaters, the step ladder and the control
// engine. devices maps every configured heater name to its device.
func NewHeatControlFromConfig(cfg *config.Config, devices map[string]port.HeaterDevice, solar port.TelemetrySource,
	logger *zap.Logger) (*HeatControl, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	changes := &ChangeFlag{}
	heaters := make([]*Heater, 0, len(cfg.Heaters))
	for _, hc := range cfg.Heaters {
		device, ok := devices[hc.Name]
		if !ok {
			return nil, fmt.Errorf("heater %s: no device", hc.Name)
		}
		heaters = append(heaters, NewHeater(HeaterConfig{
			Name:         hc.Name,
			Enabled:      hc.Enable,
			LoadIndex:    hc.LoadIndex,
			Loads:        hc.Loads,
			ConnectRetry: cfg.Manager.ConnectRetry(),
		}, device, changes, WithHeaterLogger(logger)))
	}

	definitions := make([][]StepSlot, len(cfg.Steps))
	for i, step := range cfg.Steps {
		definitions[i] = make([]StepSlot, len(step))
		for j, slot := range step {
			definitions[i][j] = StepSlot{Heater: slot.Heater, Level: slot.Level}
		}
	}
	ladder, err := NewStepLadder(heaters, definitions, changes)
	if err != nil {
		return nil, err
	}

	return NewHeatControl(ladder, solar, HeatControlConfig{
		TryTolerance:   cfg.Manager.TryToleranceWatt,
		TryStickyTicks: cfg.Manager.TryStickyTicks,
	}, WithControlLogger(logger)), nil
}
