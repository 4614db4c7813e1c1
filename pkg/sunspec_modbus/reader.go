package sunspec_modbus

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

const sunSpecBaseAddr uint16 = 40000

type ModbusClient struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

// ModbusInstrument receives the duration of every register access.
type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

func newModbusClient(host string, port uint, unitId uint8, timeout time.Duration,
	logger *zap.Logger, instrumentation *ModbusInstrument) (ModbusClient, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return ModbusClient{}, err
	}
	if unitId > 0 {
		if err := client.SetUnitId(unitId); err != nil {
			return ModbusClient{}, err
		}
	}
	inst := []ModbusInstrument{traceLoggerInstrumentation(logger.With(zap.Uint8("unit", unitId)))}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}
	return ModbusClient{client: client, instrument: inst}, nil
}

func traceLoggerInstrumentation(logger *zap.Logger) ModbusInstrument {
	return ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus: read", zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}

func (reader ModbusClient) readString(address uint16, size uint16) (string, error) {
	bytes, err := reader.readRawBytes(address, size)
	if err != nil {
		return "", err
	}
	if f := slices.Index(bytes, 0x00); f >= 0 {
		return string(bytes[:f]), nil
	}
	return string(bytes), nil
}

func (reader ModbusClient) readDeviceInfo(common uint16) (*DeviceInfo, error) {
	var info DeviceInfo
	fields := []struct {
		dst    *string
		offset uint16
		size   uint16
	}{
		{&info.Manufacturer, 2, 32},
		{&info.Model, 18, 32},
		{&info.Version, 42, 16},
		{&info.Serial, 50, 32},
	}
	for _, f := range fields {
		str, err := reader.readString(common+f.offset, f.size)
		if err != nil {
			return nil, err
		}
		*f.dst = str
	}
	return &info, nil
}

// applySF scales an unsigned register by its signed power of ten scale factor.
func applySF(number uint16, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}

func applySFint16(number int16, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}

func applySFuint32(number uint32, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}

func (reader ModbusClient) readRegister(addr uint16) (uint16, error) {
	defer recordTimer("ReadRegister", reader.instrument)()
	return reader.client.ReadRegister(addr, modbus.HOLDING_REGISTER)
}

func (reader ModbusClient) readRegisters(addr uint16, quantity uint16) ([]uint16, error) {
	defer recordTimer("ReadRegisters", reader.instrument)()
	return reader.client.ReadRegisters(addr, quantity, modbus.HOLDING_REGISTER)
}

func (reader ModbusClient) readUint32(addr uint16) (uint32, error) {
	defer recordTimer("ReadUint32", reader.instrument)()
	return reader.client.ReadUint32(addr, modbus.HOLDING_REGISTER)
}

func (reader ModbusClient) readRawBytes(addr uint16, quantity uint16) ([]byte, error) {
	defer recordTimer("ReadRawBytes", reader.instrument)()
	return reader.client.ReadRawBytes(addr, quantity, modbus.HOLDING_REGISTER)
}

func recordTimer(name string, instrument []ModbusInstrument) func() {
	if len(instrument) == 0 {
		return func() {}
	}
	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}
