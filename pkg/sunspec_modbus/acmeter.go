package sunspec_modbus

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

type ACMeterIntSFModbusReader struct {
	ModbusClient

	common        uint16
	meter         uint16
	ignoreFronius bool
}

func CreateACMeterIntSFModbusReader(host string, port uint, acMeterAddress uint8, timeout time.Duration,
	ignoreFronius bool, logger *zap.Logger, instrumentation *ModbusInstrument) (ACMeterModbusReader, error) {
	client, err := newModbusClient(host, port, acMeterAddress, timeout,
		logger.With(zap.String("target", "acMeter")), instrumentation)
	if err != nil {
		return nil, err
	}
	return &ACMeterIntSFModbusReader{
		ModbusClient:  client,
		ignoreFronius: ignoreFronius,
	}, nil
}

func (reader *ACMeterIntSFModbusReader) Open() error {
	if err := reader.client.Open(); err != nil {
		return err
	}
	return reader.survey()
}

func (reader *ACMeterIntSFModbusReader) Close() error {
	return reader.client.Close()
}

func (reader *ACMeterIntSFModbusReader) Validate() error {
	if reader.ignoreFronius {
		return nil
	}
	str, err := reader.readString(reader.common+2, 32)
	if err != nil {
		return err
	}
	if str != "Fronius" {
		return errors.New("could not find a Fronius smart meter")
	}
	return nil
}

func (reader *ACMeterIntSFModbusReader) GetInfo() (*DeviceInfo, error) {
	return reader.readDeviceInfo(reader.common)
}

func (reader *ACMeterIntSFModbusReader) GetCurrentPowerFlowWatt() (float64, error) {
	// W, WphA, WphB, WphC, W_SF
	regs, err := reader.readRegisters(reader.meter+18, 5)
	if err != nil {
		return 0, err
	}
	return applySFint16(int16(regs[0]), regs[4]), nil
}

func (reader *ACMeterIntSFModbusReader) GetPowerFlow() (*ACMeterPowerFlow, error) {
	power, err := reader.GetCurrentPowerFlowWatt()
	if err != nil {
		return nil, err
	}
	exported, err := reader.readUint32(reader.meter + 38)
	if err != nil {
		return nil, err
	}
	imported, err := reader.readUint32(reader.meter + 46)
	if err != nil {
		return nil, err
	}
	totWhSF, err := reader.readRegister(reader.meter + 54)
	if err != nil {
		return nil, err
	}
	freq, err := reader.readRegisters(reader.meter+16, 2)
	if err != nil {
		return nil, err
	}
	voltage, err := reader.readRegister(reader.meter + 8)
	if err != nil {
		return nil, err
	}
	voltageSF, err := reader.readRegister(reader.meter + 15)
	if err != nil {
		return nil, err
	}

	return &ACMeterPowerFlow{
		CurrentPowerFlowWatt:   power,
		TotalEnergyExportedKWh: applySFuint32(exported, totWhSF) / 1000,
		TotalEnergyImportedKWh: applySFuint32(imported, totWhSF) / 1000,
		Frequency:              applySF(freq[0], freq[1]),
		PhaseAVoltage:          applySF(voltage, voltageSF),
	}, nil
}

func (reader *ACMeterIntSFModbusReader) survey() error {
	var common, meter uint16
	err := surveyBlocks(reader.ModbusClient, 10, func(block modbusBlock) bool {
		switch {
		case block.id == SUNSPEC_WK_COMMON:
			common = block.baseAddr
		case block.id >= SUNSPEC_WK_METERS_MIN && block.id <= SUNSPEC_WK_METERS_MAX:
			meter = block.baseAddr
		}
		return common > 0 && meter > 0
	})
	if err != nil {
		return err
	}
	if common == 0 || meter == 0 {
		return errors.New("could not find all required sunspec blocks (common, ac_meter)")
	}
	reader.common, reader.meter = common, meter
	return nil
}
