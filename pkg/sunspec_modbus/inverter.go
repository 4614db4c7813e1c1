package sunspec_modbus

import (
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
)

type inverterBlocks struct {
	common   uint16
	inverter uint16
	status   uint16
	mppt     uint16
	storage  uint16
}

func (blk inverterBlocks) complete() bool {
	return blk.common > 0 && blk.inverter > 0 && blk.status > 0 && blk.mppt > 0 && blk.storage > 0
}

func (blk inverterBlocks) required() bool {
	return blk.common > 0 && blk.inverter > 0 && blk.status > 0 && blk.mppt > 0
}

type InverterIntSFModbusReader struct {
	ModbusClient

	blocks        inverterBlocks
	ignoreFronius bool
}

func CreateInverterIntSFModbusReader(host string, port uint, inverterAddress uint8, timeout time.Duration,
	ignoreFronius bool, logger *zap.Logger, instrumentation *ModbusInstrument) (InverterModbusReader, error) {
	client, err := newModbusClient(host, port, inverterAddress, timeout,
		logger.With(zap.String("target", "inverter")), instrumentation)
	if err != nil {
		return nil, err
	}
	return &InverterIntSFModbusReader{
		ModbusClient:  client,
		ignoreFronius: ignoreFronius,
	}, nil
}

func (inv *InverterIntSFModbusReader) Open() error {
	if err := inv.client.Open(); err != nil {
		return err
	}
	return inv.survey()
}

func (inv *InverterIntSFModbusReader) Close() error {
	return inv.client.Close()
}

func (inv *InverterIntSFModbusReader) Validate() error {
	if inv.ignoreFronius {
		return nil
	}
	str, err := inv.readString(inv.blocks.common+2, 32)
	if err != nil {
		return err
	}
	if str != "Fronius" {
		return errors.New("could not find a Fronius inverter")
	}
	return nil
}

func (inv *InverterIntSFModbusReader) GetInfo() (*InverterInfo, error) {
	dev, err := inv.readDeviceInfo(inv.blocks.common)
	if err != nil {
		return nil, err
	}
	pow, err := inv.readRegister(inv.blocks.inverter + 82)
	if err != nil {
		return nil, err
	}
	powSF, err := inv.readRegister(inv.blocks.inverter + 102)
	if err != nil {
		return nil, err
	}
	hasStorage, err := inv.HasStorage()
	if err != nil {
		return nil, err
	}
	return &InverterInfo{
		DeviceInfo:        *dev,
		MaxRatedPowerWatt: uint32(applySF(pow, powSF)),
		HasStorage:        hasStorage,
	}, nil
}

func (inv *InverterIntSFModbusReader) GetState() (*InverterState, error) {
	// Tmp_Cab .. St
	regs, err := inv.readRegisters(inv.blocks.inverter+33, 6)
	if err != nil {
		return nil, err
	}
	return &InverterState{
		CabinetTemperature: applySFint16(int16(regs[0]), regs[4]),
		OperatingState:     regs[5],
		OperatingStateStr:  InverterStatusToString(regs[5]),
	}, nil
}

func (inv *InverterIntSFModbusReader) GetPowerFlow() (*InverterPowerFlow, error) {
	acpower, err := inv.readRegisters(inv.blocks.inverter+14, 2)
	if err != nil {
		return nil, err
	}
	dcPowerSF, err := inv.readRegister(inv.blocks.mppt + 4)
	if err != nil {
		return nil, err
	}
	nMods, err := inv.readRegister(inv.blocks.mppt + 8)
	if err != nil {
		return nil, err
	}

	// modules: 1 or 2 MPPT, optionally followed by battery charge and discharge
	mppts := nMods
	hasBattery := nMods == 3 || nMods == 4
	if hasBattery {
		mppts = nMods - 2
	}

	flow := InverterPowerFlow{
		ACPowerWatt: applySFint16(int16(acpower[0]), acpower[1]),
	}
	for i := uint16(0); i < mppts; i++ {
		raw, err := inv.readMPPTPower(i)
		if err != nil {
			return nil, err
		}
		flow.PVPowerWatt += applySF(raw, dcPowerSF)
	}
	if hasBattery {
		charge, err := inv.readMPPTPower(nMods - 2)
		if err != nil {
			return nil, err
		}
		discharge, err := inv.readMPPTPower(nMods - 1)
		if err != nil {
			return nil, err
		}
		flow.BatteryChargePowerWatt = applySF(charge, dcPowerSF)
		flow.BatteryDischargePowerWatt = applySF(discharge, dcPowerSF)
		flow.BatteryDCPowerFlowWatt = flow.BatteryDischargePowerWatt - flow.BatteryChargePowerWatt
	}
	return &flow, nil
}

func (inv *InverterIntSFModbusReader) readMPPTPower(index uint16) (uint16, error) {
	dcpower, err := inv.readRegister(inv.blocks.mppt + 10 + 20*index + 11)
	if err != nil {
		return 0, err
	}
	// not implemented
	if dcpower == 0xFFFF {
		return 0, nil
	}
	return dcpower, nil
}

func (inv *InverterIntSFModbusReader) HasStorage() (bool, error) {
	storageConn, err := inv.readRegister(inv.blocks.status + 3)
	if err != nil {
		return false, err
	}
	if storageConn&0x0001 == 0 {
		return false, nil
	}
	return inv.blocks.storage > 0, nil
}

func (inv *InverterIntSFModbusReader) GetStorageState() (*StorageState, error) {
	if inv.blocks.storage == 0 {
		return nil, errNoStorage
	}
	regs, err := inv.readRegisters(inv.blocks.storage+2, 24)
	if err != nil {
		return nil, err
	}
	soc := applySF(regs[6], regs[20])
	if regs[9] == StorageChargeStatusOff {
		soc = 0
	}
	maxCap := applySF(regs[0], regs[17])

	return &StorageState{
		StateOfCharge:       soc,
		MaxCapacityWatt:     uint32(math.Round(maxCap)),
		CurrentCapacityWatt: uint32(math.Round(soc / 100 * maxCap)),
		ChargeStatus:        regs[9],
		ChargeStatusStr:     StorageChargeStatusToString(regs[9]),
	}, nil
}

func (inv *InverterIntSFModbusReader) survey() error {
	var blocks inverterBlocks
	err := surveyBlocks(inv.ModbusClient, 20, func(block modbusBlock) bool {
		switch {
		case block.id >= SUNSPEC_WK_INVERTERS_MIN && block.id <= SUNSPEC_WK_INVERTERS_MAX:
			blocks.inverter = block.baseAddr
		case block.id == SUNSPEC_WK_COMMON:
			blocks.common = block.baseAddr
		case block.id == SUNSPEC_WK_STATUS:
			blocks.status = block.baseAddr
		case block.id == SUNSPEC_WK_STORAGE:
			blocks.storage = block.baseAddr
		case block.id == SUNSPEC_WK_MPPT:
			blocks.mppt = block.baseAddr
		}
		return blocks.complete()
	})
	if err != nil {
		return err
	}
	if !blocks.required() {
		return errors.New("could not find all required sunspec blocks (common, inverter, status, mppt)")
	}
	inv.blocks = blocks
	return nil
}
