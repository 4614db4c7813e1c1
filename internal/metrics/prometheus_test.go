package metrics

import (
	"strings"
	"testing"

	"github.com/berfenger/pvheat/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromSinkObserveTick(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()
	sink, err := NewPromSink(reg)
	require.NoError(err)

	sink.ObserveTick(domain.TickReport{
		Mode:       domain.ModeMeasure,
		Snapshot:   domain.PowerSnapshot{PVWatt: 3000, GridWatt: -500, ChargePercent: 80},
		Available:  1250,
		ActiveStep: 2,
		Applied:    true,
		Heaters:    []domain.HeaterState{{Name: "A", WattHours: 125.5}},
	})
	sink.ObserveTickError(domain.ModeMeasure)

	require.Equal(1250.0, testutil.ToFloat64(sink.available))
	require.Equal(2.0, testutil.ToFloat64(sink.activeStep))
	require.Equal(125.5, testutil.ToFloat64(sink.energy.WithLabelValues("A")))
	require.Equal(1.0, testutil.ToFloat64(sink.stepChanges))

	expected := `
# HELP pvheat_ticks_total Control loop ticks by mode and result
# TYPE pvheat_ticks_total counter
pvheat_ticks_total{mode="measure",result="error"} 1
pvheat_ticks_total{mode="measure",result="ok"} 1
`
	require.NoError(testutil.CollectAndCompare(sink.ticks, strings.NewReader(expected)))
}

func TestPromSinkReusesRegisteredCollectors(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()
	first, err := NewPromSink(reg)
	require.NoError(err)
	second, err := NewPromSink(reg)
	require.NoError(err)

	first.SetRunning(true)
	require.Equal(1.0, testutil.ToFloat64(second.running))
	second.SetRunning(false)
	require.Equal(0.0, testutil.ToFloat64(first.running))
}

func TestPromSinkEnergyReport(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSink(reg)
	require.NoError(t, err)

	sink.ObserveEnergyReport(map[string]float64{"A": 900, "B": 0})

	assert.Equal(t, 900.0, testutil.ToFloat64(sink.period.WithLabelValues("A")))
	assert.Equal(t, 2, testutil.CollectAndCount(sink.period))
}

func TestNop(t *testing.T) {
	sink := Nop()
	sink.ObserveTick(domain.TickReport{})
	sink.SetRunning(true)
}
