package sunspec_modbus

import "sync"

// TestInverterModbusReader serves fixed readings. Fail makes every read return
// the given error until healed with nil.
type TestInverterModbusReader struct {
	mu      sync.Mutex
	flow    InverterPowerFlow
	storage *StorageState
	err     error
	opens   int
	closes  int
}

func CreateTestInverterModbusReader() *TestInverterModbusReader {
	return &TestInverterModbusReader{
		flow: InverterPowerFlow{
			ACPowerWatt:            320.2,
			PVPowerWatt:            920.3,
			BatteryChargePowerWatt: 572.45,
			BatteryDCPowerFlowWatt: -572.45,
		},
		storage: &StorageState{
			StateOfCharge:       23.5,
			MaxCapacityWatt:     5260,
			CurrentCapacityWatt: 1236,
			ChargeStatus:        StorageChargeStatusCharging,
			ChargeStatusStr:     StorageChargeStatusToString(StorageChargeStatusCharging),
		},
	}
}

func (inv *TestInverterModbusReader) SetPowerFlow(flow InverterPowerFlow) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.flow = flow
}

// SetStorage replaces the storage state. nil removes the storage.
func (inv *TestInverterModbusReader) SetStorage(state *StorageState) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.storage = state
}

func (inv *TestInverterModbusReader) Fail(err error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.err = err
}

// Counts returns how often the reader was opened and closed.
func (inv *TestInverterModbusReader) Counts() (opens int, closes int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.opens, inv.closes
}

func (inv *TestInverterModbusReader) Open() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.opens++
	return inv.err
}

func (inv *TestInverterModbusReader) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.closes++
	return nil
}

func (inv *TestInverterModbusReader) Validate() error {
	return nil
}

func (inv *TestInverterModbusReader) GetInfo() (*InverterInfo, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return &InverterInfo{
		DeviceInfo: DeviceInfo{
			Manufacturer: "Fronius",
			Model:        "Primo GEN24 4.0",
			Version:      "1.30.7-1",
		},
		MaxRatedPowerWatt: 4000,
		HasStorage:        inv.storage != nil,
	}, inv.err
}

func (inv *TestInverterModbusReader) GetState() (*InverterState, error) {
	return &InverterState{
		CabinetTemperature: 51.7,
		OperatingState:     InverterStatusMPPT,
		OperatingStateStr:  InverterStatusToString(InverterStatusMPPT),
	}, nil
}

func (inv *TestInverterModbusReader) GetPowerFlow() (*InverterPowerFlow, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.err != nil {
		return nil, inv.err
	}
	flow := inv.flow
	return &flow, nil
}

func (inv *TestInverterModbusReader) HasStorage() (bool, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.storage != nil, inv.err
}

func (inv *TestInverterModbusReader) GetStorageState() (*StorageState, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.err != nil {
		return nil, inv.err
	}
	if inv.storage == nil {
		return nil, errNoStorage
	}
	state := *inv.storage
	return &state, nil
}

// TestACMeterModbusReader serves a fixed grid power flow.
type TestACMeterModbusReader struct {
	mu    sync.Mutex
	watts float64
	err   error
}

func CreateTestACMeterModbusReader() *TestACMeterModbusReader {
	return &TestACMeterModbusReader{watts: -1250}
}

func (reader *TestACMeterModbusReader) SetPowerFlowWatt(watts float64) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	reader.watts = watts
}

func (reader *TestACMeterModbusReader) Fail(err error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	reader.err = err
}

func (reader *TestACMeterModbusReader) Open() error {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	return reader.err
}

func (reader *TestACMeterModbusReader) Close() error {
	return nil
}

func (reader *TestACMeterModbusReader) Validate() error {
	return nil
}

func (reader *TestACMeterModbusReader) GetInfo() (*DeviceInfo, error) {
	return &DeviceInfo{
		Manufacturer: "Fronius",
		Model:        "Smart Meter TS 100A-1",
		Version:      "1.2",
	}, nil
}

func (reader *TestACMeterModbusReader) GetCurrentPowerFlowWatt() (float64, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	return reader.watts, reader.err
}

func (reader *TestACMeterModbusReader) GetPowerFlow() (*ACMeterPowerFlow, error) {
	watts, err := reader.GetCurrentPowerFlowWatt()
	if err != nil {
		return nil, err
	}
	return &ACMeterPowerFlow{
		CurrentPowerFlowWatt:   watts,
		TotalEnergyExportedKWh: 2770.34,
		TotalEnergyImportedKWh: 550.22,
		Frequency:              50,
		PhaseAVoltage:          234.24,
	}, nil
}

var (
	_ InverterModbusReader = (*TestInverterModbusReader)(nil)
	_ ACMeterModbusReader  = (*TestACMeterModbusReader)(nil)
)
