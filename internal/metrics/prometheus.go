package metrics

import (
	"errors"

	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/core/port"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pvheat"

// PromSink exposes the heat manager state as Prometheus metrics.
type PromSink struct {
	available   prometheus.Gauge
	pv          prometheus.Gauge
	grid        prometheus.Gauge
	battery     prometheus.Gauge
	soc         prometheus.Gauge
	activeStep  prometheus.Gauge
	running     prometheus.Gauge
	energy      *prometheus.GaugeVec
	period      *prometheus.GaugeVec
	ticks       *prometheus.CounterVec
	stepChanges prometheus.Counter
}

// NewPromSink registers the collectors on reg, or on the default registerer
// when reg is nil. Collectors already registered are reused.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	s := &PromSink{
		available:  gauge("available_watt", "Surplus power available to the heaters"),
		pv:         gauge("pv_watt", "PV production"),
		grid:       gauge("grid_watt", "Grid flow, positive on import"),
		battery:    gauge("battery_watt", "Battery flow, positive on discharge"),
		soc:        gauge("battery_soc_percent", "Battery state of charge"),
		activeStep: gauge("active_step", "Index of the active ladder step"),
		running:    gauge("running", "1 while the control loop runs"),
		energy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heater_energy_watt_hours",
			Help:      "Energy delivered by a heater since process start",
		}, []string{"heater"}),
		period: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heater_period_energy_watt_hours",
			Help:      "Energy delivered by a heater during the last report period",
		}, []string{"heater"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Control loop ticks by mode and result",
		}, []string{"mode", "result"}),
		stepChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_changes_total",
			Help:      "Number of times a step was applied",
		}),
	}

	var err error
	if s.available, err = register(reg, s.available); err != nil {
		return nil, err
	}
	if s.pv, err = register(reg, s.pv); err != nil {
		return nil, err
	}
	if s.grid, err = register(reg, s.grid); err != nil {
		return nil, err
	}
	if s.battery, err = register(reg, s.battery); err != nil {
		return nil, err
	}
	if s.soc, err = register(reg, s.soc); err != nil {
		return nil, err
	}
	if s.activeStep, err = register(reg, s.activeStep); err != nil {
		return nil, err
	}
	if s.running, err = register(reg, s.running); err != nil {
		return nil, err
	}
	if s.energy, err = register(reg, s.energy); err != nil {
		return nil, err
	}
	if s.period, err = register(reg, s.period); err != nil {
		return nil, err
	}
	if s.ticks, err = register(reg, s.ticks); err != nil {
		return nil, err
	}
	if s.stepChanges, err = register(reg, s.stepChanges); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) ObserveTick(report domain.TickReport) {
	s.available.Set(report.Available)
	s.pv.Set(report.Snapshot.PVWatt)
	s.grid.Set(report.Snapshot.GridWatt)
	s.battery.Set(report.Snapshot.BatteryWatt)
	s.soc.Set(report.Snapshot.ChargePercent)
	s.activeStep.Set(float64(report.ActiveStep))
	for _, h := range report.Heaters {
		s.energy.WithLabelValues(h.Name).Set(h.WattHours)
	}
	s.ticks.WithLabelValues(report.Mode.String(), "ok").Inc()
	if report.Applied {
		s.stepChanges.Inc()
	}
}

func (s *PromSink) ObserveTickError(mode domain.ControlMode) {
	s.ticks.WithLabelValues(mode.String(), "error").Inc()
}

func (s *PromSink) SetRunning(running bool) {
	if running {
		s.running.Set(1)
	} else {
		s.running.Set(0)
	}
}

func (s *PromSink) ObserveEnergyReport(wattHours map[string]float64) {
	for heater, wh := range wattHours {
		s.period.WithLabelValues(heater).Set(wh)
	}
}

type nopSink struct{}

// Nop returns a sink that drops everything.
func Nop() port.HeatMetrics {
	return nopSink{}
}

func (nopSink) ObserveTick(domain.TickReport) {}
func (nopSink) ObserveTickError(domain.ControlMode) {}
func (nopSink) SetRunning(bool) {}
func (nopSink) ObserveEnergyReport(map[string]float64) {}

var _ port.HeatMetrics = (*PromSink)(nil)
