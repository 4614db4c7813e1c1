package service

import (
	"context"
	"testing"

	"github.com/berfenger/pvheat/internal/adapter/device"
	"github.com/berfenger/pvheat/internal/adapter/solar"
	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/core/port"
	"github.com/berfenger/pvheat/internal/util"

	"github.com/stretchr/testify/require"
)

func TestNewHeatControlFromConfig(t *testing.T) {

	require := require.New(t)

	cfg := util.LoadTestConfig()
	cfg.Heaters[1].Enable = false
	devices := map[string]port.HeaterDevice{
		"A": device.NewMemoryDevice("low"),
		"B": device.NewMemoryDevice("low"),
	}
	ctrl, err := NewHeatControlFromConfig(&cfg, devices, solar.NewStaticSource(true, solar.FixedReservation(0)), nil)
	require.NoError(err)

	require.Equal(domain.ModeMeasure, ctrl.Mode())
	require.Equal(4, ctrl.Ladder().Len())
	// B is disabled, so it does not count
	require.Equal([]float64{0, 750, 1500, 1500}, ctrl.Ladder().NominalWatts())

	states := ctrl.HeaterStates(context.Background())
	require.Len(states, 2)
	require.True(states[0].Enabled)
	require.False(states[1].Enabled)
}

func TestNewHeatControlFromConfigMissingDevice(t *testing.T) {

	cfg := util.LoadTestConfig()
	_, err := NewHeatControlFromConfig(&cfg, map[string]port.HeaterDevice{
		"A": device.NewMemoryDevice("low"),
	}, solar.NewStaticSource(false, solar.FixedReservation(0)), nil)

	require.ErrorContains(t, err, "heater B")
}
