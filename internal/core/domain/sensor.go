package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	SENSOR_ID_AVAILABLE_POWER    = "available_power"
	SENSOR_ID_PV_POWER           = "pv_power"
	SENSOR_ID_GRID_POWER         = "grid_power"
	SENSOR_ID_BATTERY_POWER      = "battery_power"
	SENSOR_ID_BATTERY_SOC        = "battery_soc"
	SENSOR_ID_CHARGE_RESERVATION = "charge_reservation"
	SENSOR_ID_ACTIVE_STEP        = "active_step"
	SENSOR_ID_CONTROL_MODE       = "control_mode"
	SWITCH_ID_MANAGER_RUNNING    = "manager_running"
	SWITCH_ID_MANAGER_VERBOSE    = "manager_verbose"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL            = "total"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_BATTERY         = "battery"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	ENTITY_CLASS_CONFIG          = "config"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
)

const (
	heaterSensorStatus      = "status"
	heaterSensorEnergy      = "energy"
	heaterSensorEnergyToday = "energy_today"
	heaterSensorConnected   = "connected"
	heaterSwitchEnabled     = "enabled"
)

func HeaterStatusSensorId(heater string) string {
	return heaterEntityId(heater, heaterSensorStatus)
}

func HeaterEnergySensorId(heater string) string {
	return heaterEntityId(heater, heaterSensorEnergy)
}

func HeaterEnergyTodaySensorId(heater string) string {
	return heaterEntityId(heater, heaterSensorEnergyToday)
}

func HeaterConnectedSensorId(heater string) string {
	return heaterEntityId(heater, heaterSensorConnected)
}

func HeaterEnabledSwitchId(heater string) string {
	return heaterEntityId(heater, heaterSwitchEnabled)
}

// HeaterFromEnabledSwitchId extracts the heater name from a heater enabled switch id.
func HeaterFromEnabledSwitchId(id string) (string, bool) {
	suffix := "_" + heaterSwitchEnabled
	if !strings.HasPrefix(id, "heater_") || !strings.HasSuffix(id, suffix) {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(id, "heater_"), suffix)
	return name, name != ""
}

func heaterEntityId(heater, kind string) string {
	return fmt.Sprintf("heater_%s_%s", strings.ToLower(heater), kind)
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("pvheat_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "PV Heat",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("PV Heat %s", md5HashShort(baseTopic)),
	}
}

func HeaterDevice(baseTopic, heater string) Device {
	return Device{
		Id:    fmt.Sprintf("pvheat_heater_%s", md5HashShort(baseTopic+"/"+heater)),
		Model: "Heater",
		Name:  fmt.Sprintf("Heater %s", heater),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Connection state
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

// ManagerSensors describes the telemetry and decision sensors published on every tick.
func ManagerSensors(bridgeDevice Device) []GenericSensor {

	powerSensor := func(id, name, icon string) GenericSensor {
		return GenericSensor{
			Device:            IdDevice(bridgeDevice),
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              name,
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_POWER,
			UnitOfMeasurement: "W",
			Icon:              icon,
			UniqueId:          uniqueId(bridgeDevice.Id, id),
		}
	}

	sensors := []GenericSensor{
		powerSensor(SENSOR_ID_AVAILABLE_POWER, "Available power", "mdi:flash"),
		powerSensor(SENSOR_ID_PV_POWER, "PV power", "mdi:solar-power"),
		powerSensor(SENSOR_ID_GRID_POWER, "Grid power", "mdi:transmission-tower"),
		powerSensor(SENSOR_ID_BATTERY_POWER, "Battery power", "mdi:battery-charging"),
		powerSensor(SENSOR_ID_CHARGE_RESERVATION, "Charge reservation", "mdi:battery-lock"),
	}

	sensors = append(sensors, GenericSensor{
		Device:            IdDevice(bridgeDevice),
		Id:                SENSOR_ID_BATTERY_SOC,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Battery SoC",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		UniqueId:          uniqueId(bridgeDevice.Id, SENSOR_ID_BATTERY_SOC),
	})
	sensors = append(sensors, GenericSensor{
		Device:     IdDevice(bridgeDevice),
		Id:         SENSOR_ID_ACTIVE_STEP,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Active step",
		StateClass: STATE_CLASS_MEASUREMENT,
		Icon:       "mdi:stairs",
		UniqueId:   uniqueId(bridgeDevice.Id, SENSOR_ID_ACTIVE_STEP),
	})
	sensors = append(sensors, GenericSensor{
		Device:         IdDevice(bridgeDevice),
		Id:             SENSOR_ID_CONTROL_MODE,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Control mode",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_CONTROL_MODE),
	})

	return sensors
}

func ManagerSwitches(bridgeDevice Device) []GenericSwitch {
	return []GenericSwitch{
		{
			Device:   IdDevice(bridgeDevice),
			Id:       SWITCH_ID_MANAGER_RUNNING,
			Name:     "Heat control",
			UniqueId: uniqueId(bridgeDevice.Id, SWITCH_ID_MANAGER_RUNNING),
			Icon:     "mdi:radiator",
		},
		{
			Device:   IdDevice(bridgeDevice),
			Id:       SWITCH_ID_MANAGER_VERBOSE,
			Name:     "Verbose status log",
			UniqueId: uniqueId(bridgeDevice.Id, SWITCH_ID_MANAGER_VERBOSE),
			Icon:     "mdi:text-box-outline",
		},
	}
}

func HeaterSensors(heaterDevice Device, heater string) []GenericSensor {

	var sensors []GenericSensor

	// Short status: off, dis, err or the active level
	sensors = append(sensors, GenericSensor{
		Device:     heaterDevice,
		Id:         HeaterStatusSensorId(heater),
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Status",
		Icon:       "mdi:radiator",
		UniqueId:   uniqueId(heaterDevice.Id, HeaterStatusSensorId(heater)),
	})

	// Lifetime energy of this process
	sensors = append(sensors, GenericSensor{
		Device:            IdDevice(heaterDevice),
		Id:                HeaterEnergySensorId(heater),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Energy",
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "kWh",
		UniqueId:          uniqueId(heaterDevice.Id, HeaterEnergySensorId(heater)),
	})

	// Energy since last report
	sensors = append(sensors, GenericSensor{
		Device:            IdDevice(heaterDevice),
		Id:                HeaterEnergyTodaySensorId(heater),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Energy last period",
		StateClass:        STATE_CLASS_TOTAL,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "kWh",
		EnabledByDefault:  optionalBool(false),
		UniqueId:          uniqueId(heaterDevice.Id, HeaterEnergyTodaySensorId(heater)),
	})

	return sensors
}

func HeaterBinarySensors(heaterDevice Device, heater string) []GenericBinarySensor {
	return []GenericBinarySensor{
		{
			Device:      IdDevice(heaterDevice),
			Id:          HeaterConnectedSensorId(heater),
			Name:        "Connected",
			DeviceClass: DEVICE_CLASS_CONNECTIVITY,
			UniqueId:    uniqueId(heaterDevice.Id, HeaterConnectedSensorId(heater)),
		},
	}
}

func HeaterSwitches(heaterDevice Device, heater string) []GenericSwitch {
	return []GenericSwitch{
		{
			Device:   IdDevice(heaterDevice),
			Id:       HeaterEnabledSwitchId(heater),
			Name:     "Enabled",
			UniqueId: uniqueId(heaterDevice.Id, HeaterEnabledSwitchId(heater)),
			Icon:     "mdi:power-plug",
		},
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
