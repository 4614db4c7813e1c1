package sunspec_modbus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScaleFactors(t *testing.T) {
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"positive exponent", applySF(123, 1), 1230},
		{"negative exponent", applySF(2350, 0xFFFE), 23.5},
		{"zero exponent", applySF(42, 0), 42},
		{"signed export", applySFint16(int16(-1250), 0), -1250},
		{"signed scaled", applySFint16(int16(-125), 1), -1250},
		{"energy counter", applySFuint32(2770340, 0) / 1000, 2770.34},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.got, 1e-9)
		})
	}
}

func TestStatusNames(t *testing.T) {
	assert.Equal(t, "mppt_tracking", InverterStatusToString(InverterStatusMPPT))
	assert.Equal(t, "unknown(42)", InverterStatusToString(42))
	assert.Equal(t, "charging", StorageChargeStatusToString(StorageChargeStatusCharging))
	assert.Equal(t, "unknown(0)", StorageChargeStatusToString(0))
}

func TestInverterBlocks(t *testing.T) {
	blocks := inverterBlocks{common: 40002, inverter: 40070, status: 40181, mppt: 40254}
	assert.True(t, blocks.required())
	assert.False(t, blocks.complete())

	blocks.storage = 40304
	assert.True(t, blocks.complete())

	blocks.mppt = 0
	assert.False(t, blocks.required())
}

func TestRecordTimer(t *testing.T) {
	var calls []string
	inst := []ModbusInstrument{{RecordTime: func(fnName string, _ time.Duration) {
		calls = append(calls, fnName)
	}}}

	recordTimer("ReadRegister", inst)()
	recordTimer("ReadRegisters", nil)()

	assert.Equal(t, []string{"ReadRegister"}, calls)
}

func TestCreateReaders(t *testing.T) {
	logger := zap.NewNop()

	inv, err := CreateInverterIntSFModbusReader("127.0.0.1", 502, 1, time.Second, false, logger, nil)
	require.NoError(t, err)
	assert.NotNil(t, inv)

	meter, err := CreateACMeterIntSFModbusReader("127.0.0.1", 502, 200, time.Second, true, logger, &ModbusInstrument{
		RecordTime: func(string, time.Duration) {},
	})
	require.NoError(t, err)
	// survey is skipped, no manufacturer check
	assert.NoError(t, meter.Validate())
}

func TestTestReaders(t *testing.T) {
	inv := CreateTestInverterModbusReader()
	require.NoError(t, inv.Open())

	flow, err := inv.GetPowerFlow()
	require.NoError(t, err)
	assert.InDelta(t, -572.45, flow.BatteryDCPowerFlowWatt, 1e-9)

	inv.SetStorage(nil)
	hasStorage, err := inv.HasStorage()
	require.NoError(t, err)
	assert.False(t, hasStorage)
	_, err = inv.GetStorageState()
	assert.ErrorIs(t, err, errNoStorage)

	inv.Fail(errors.New("timeout"))
	_, err = inv.GetPowerFlow()
	assert.EqualError(t, err, "timeout")
	assert.Error(t, inv.Open())

	opens, closes := inv.Counts()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 0, closes)

	meter := CreateTestACMeterModbusReader()
	meter.SetPowerFlowWatt(310)
	pf, err := meter.GetPowerFlow()
	require.NoError(t, err)
	assert.Equal(t, 310.0, pf.CurrentPowerFlowWatt)
}
