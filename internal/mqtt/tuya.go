package mqtt

import "fmt"

// Topic layout of a tuya-mqtt bridge.
const (
	TUYA_COMMAND_GET_STATES = "get-states"
	TUYA_STATE_OFFLINE      = "offline"
)

func TuyaStateTopic(deviceTopic, deviceId string) string {
	return fmt.Sprintf("%s/%s/state", deviceTopic, deviceId)
}

func TuyaDpsStateTopic(deviceTopic, deviceId string) string {
	return fmt.Sprintf("%s/%s/dps/state", deviceTopic, deviceId)
}

func TuyaDpsCommandTopic(deviceTopic, deviceId string, dps int) string {
	return fmt.Sprintf("%s/%s/dps/%d/command", deviceTopic, deviceId, dps)
}

func TuyaCommandTopic(deviceTopic, deviceId string) string {
	return fmt.Sprintf("%s/%s/command", deviceTopic, deviceId)
}
