package util

import (
	"github.com/berfenger/pvheat/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Heaters: []config.HeaterConfig{
			{
				Name:      "A",
				Enable:    true,
				Driver:    config.DRIVER_SIMULATED,
				IsOnIndex: 1,
				LoadIndex: 4,
				Loads:     map[string]float64{"low": 750, "high": 1500},
			},
			{
				Name:      "B",
				Enable:    true,
				Driver:    config.DRIVER_SIMULATED,
				IsOnIndex: 1,
				LoadIndex: 4,
				Loads:     map[string]float64{"low": 500, "high": 1000},
			},
		},
		Steps: [][]config.StepSlot{
			{{Heater: "A", Level: "off"}, {Heater: "B", Level: "off"}},
			{{Heater: "A", Level: "low"}},
			{{Heater: "A", Level: "high"}},
			{{Heater: "A", Level: "high"}, {Heater: "B", Level: "low"}},
		},
		Manager: config.ManagerConfig{
			TickIntervalMillis:  1000,
			TryToleranceWatt:    30,
			TryStickyTicks:      5,
			ConnectRetryMillis:  180000,
			Autostart:           false,
			StatusTimeoutMillis: 2000,
			EnergyReportCron:    "0 0 0 * * *",
		},
		Solar: config.SolarConfig{
			Provider:            config.SOLAR_PROVIDER_STATIC,
			SupplyToGrid:        true,
			MaxChargePercent:    90,
			FullChargeHour:      15,
			WattHoursPerPercent: 100,
			Modbus: config.ModbusTCPConfig{
				Host:       "-.-.-.-",
				Port:       502,
				MeterId:    200,
				InverterId: 0,
			},
		},
		MQTT: config.MQTTConfig{
			Host:        "localhost",
			Port:        1883,
			BaseTopic:   "pvheat",
			DeviceTopic: "tuya",
		},
		Port: 8888,
	}
}
