package sunspec_modbus

import (
	"errors"

	"github.com/simonvetter/modbus"
)

const (
	SUNSPEC_WK_COMMON        = 1
	SUNSPEC_WK_INVERTERS_MIN = 101
	SUNSPEC_WK_INVERTERS_MAX = 103
	SUNSPEC_WK_STATUS        = 122
	SUNSPEC_WK_STORAGE       = 124
	SUNSPEC_WK_MPPT          = 160
	SUNSPEC_WK_METERS_MIN    = 201
	SUNSPEC_WK_METERS_MAX    = 204
)

var (
	errNoSunSpec = errors.New("could not find a SunSpec device")
	errNoStorage = errors.New("sunspec: storage block not supported")
)

type modbusBlock struct {
	id       uint16
	baseAddr uint16
	length   uint16
}

func (block *modbusBlock) isEndBlock() bool {
	return block.id == 0xFFFF
}

// surveyBlocks walks the SunSpec model chain and hands every block to visit
// until visit returns true, the end block is found or maxBlocks were read.
func surveyBlocks(reader ModbusClient, maxBlocks int, visit func(block modbusBlock) bool) error {
	str, err := reader.readString(sunSpecBaseAddr, 4)
	if err != nil {
		return err
	}
	if str != "SunS" {
		return errNoSunSpec
	}

	baseAddr := sunSpecBaseAddr + 2
	for n := 0; n < maxBlocks; n++ {
		block, err := surveyModbusBlock(reader.client, baseAddr)
		if err != nil {
			return err
		}
		if block.isEndBlock() || visit(*block) {
			return nil
		}
		baseAddr = baseAddr + block.length + 2
	}
	return nil
}

func surveyModbusBlock(client *modbus.ModbusClient, baseAddr uint16) (*modbusBlock, error) {
	regs, err := client.ReadRegisters(baseAddr, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	return &modbusBlock{
		id:       regs[0],
		length:   regs[1],
		baseAddr: baseAddr,
	}, nil
}
