package solar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/berfenger/pvheat/pkg/sunspec_modbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSunSpecSourceSnapshot(t *testing.T) {

	inv := sunspec_modbus.CreateTestInverterModbusReader()
	meter := sunspec_modbus.CreateTestACMeterModbusReader()
	src := NewSunSpecSource(inv, meter, true, nil, nil)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	inv.SetPowerFlow(sunspec_modbus.InverterPowerFlow{ACPowerWatt: 2500, PVPowerWatt: 3000, BatteryDCPowerFlowWatt: -400})
	meter.SetPowerFlowWatt(-1200)

	snapshot, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now, snapshot.Time)
	assert.Equal(t, 3000.0, snapshot.PVWatt)
	assert.Equal(t, -1200.0, snapshot.GridWatt)
	assert.Equal(t, -400.0, snapshot.BatteryWatt)
	assert.Equal(t, 1300.0, snapshot.LoadWatt)
	assert.Equal(t, 23.5, snapshot.ChargePercent)
	assert.True(t, src.SupportsExport())

	opens, _ := inv.Counts()
	assert.Equal(t, 1, opens)

	// readers stay open between snapshots
	_, err = src.Snapshot(context.Background())
	require.NoError(t, err)
	opens, _ = inv.Counts()
	assert.Equal(t, 1, opens)
}

func TestSunSpecSourceWithoutStorage(t *testing.T) {

	inv := sunspec_modbus.CreateTestInverterModbusReader()
	inv.SetStorage(nil)
	src := NewSunSpecSource(inv, sunspec_modbus.CreateTestACMeterModbusReader(), false, nil, nil)

	snapshot, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, snapshot.ChargePercent)
	assert.False(t, src.SupportsExport())
}

func TestSunSpecSourceReopensAfterError(t *testing.T) {

	inv := sunspec_modbus.CreateTestInverterModbusReader()
	src := NewSunSpecSource(inv, sunspec_modbus.CreateTestACMeterModbusReader(), true, nil, nil)

	_, err := src.Snapshot(context.Background())
	require.NoError(t, err)

	inv.Fail(errors.New("i/o timeout"))
	_, err = src.Snapshot(context.Background())
	assert.ErrorContains(t, err, "i/o timeout")
	_, closes := inv.Counts()
	assert.Equal(t, 1, closes)

	// open fails while the inverter is unreachable
	_, err = src.Snapshot(context.Background())
	assert.ErrorContains(t, err, "inverter open")

	inv.Fail(nil)
	_, err = src.Snapshot(context.Background())
	require.NoError(t, err)
	opens, _ := inv.Counts()
	assert.Equal(t, 3, opens)
}

func TestSunSpecSourceReservation(t *testing.T) {

	src := NewSunSpecSource(sunspec_modbus.CreateTestInverterModbusReader(),
		sunspec_modbus.CreateTestACMeterModbusReader(), true, FixedReservation(-250), nil)
	assert.Equal(t, -250.0, src.MinimumChargeReservation(domainSnapshot(50)))
}
