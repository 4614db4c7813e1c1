package events

import (
	. "github.com/berfenger/pvheat/internal/core/domain"
)

func TickReportToUpdateEvents(report *TickReport) []any {
	var events []any

	snap := report.Snapshot
	events = append(events, floatEvent(SENSOR_ID_AVAILABLE_POWER, report.Available, 2))
	events = append(events, floatEvent(SENSOR_ID_PV_POWER, snap.PVWatt, 2))
	events = append(events, floatEvent(SENSOR_ID_GRID_POWER, snap.GridWatt, 2))
	events = append(events, floatEvent(SENSOR_ID_BATTERY_POWER, snap.BatteryWatt, 2))
	events = append(events, floatEvent(SENSOR_ID_BATTERY_SOC, snap.ChargePercent, 1))
	events = append(events, floatEvent(SENSOR_ID_CHARGE_RESERVATION, report.Reservation, 2))
	events = append(events, floatEvent(SENSOR_ID_ACTIVE_STEP, float64(report.ActiveStep), 0))
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CONTROL_MODE,
		},
		Value: report.Mode.String(),
	})

	events = append(events, HeaterStatesToUpdateEvents(report.Heaters)...)

	return events
}

func HeaterStatesToUpdateEvents(heaters []HeaterState) []any {
	var events []any
	for _, h := range heaters {
		// Short status
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: HeaterStatusSensorId(h.Name),
			},
			Value: h.Status.String(),
		})
		// Lifetime energy
		events = append(events, floatEvent(HeaterEnergySensorId(h.Name), h.WattHours/1000, 3))
		// Connectivity
		events = append(events, BinarySensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: HeaterConnectedSensorId(h.Name),
			},
			Value: h.Status.Kind != ShortStatusError,
		})
		events = append(events, HeaterEnabledUpdateEvent(h.Name, h.Enabled))
	}
	return events
}

func HeaterEnabledUpdateEvent(heater string, enabled bool) any {
	return SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: HeaterEnabledSwitchId(heater),
		},
		Value: enabled,
	}
}

func EnergyReportToUpdateEvents(report map[string]float64) []any {
	var events []any
	for heater, wattHours := range report {
		events = append(events, floatEvent(HeaterEnergyTodaySensorId(heater), wattHours/1000, 3))
	}
	return events
}

func ManagerSwitchesUpdateEvents(running, verbose bool) []any {
	var events []any
	events = append(events, ManagerRunningSwitchUpdateEvent(running))
	events = append(events, ManagerVerboseSwitchUpdateEvent(verbose))
	return events
}

func ManagerRunningSwitchUpdateEvent(running bool) any {
	return SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SWITCH_ID_MANAGER_RUNNING,
		},
		Value: running,
	}
}

func ManagerVerboseSwitchUpdateEvent(verbose bool) any {
	return SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SWITCH_ID_MANAGER_VERBOSE,
		},
		Value: verbose,
	}
}

func floatEvent(id string, value float64, decimals uint) FloatSensorUpdateEvent {
	return FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id,
		},
		Value:    value,
		Decimals: decimals,
	}
}
