package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckMQTTTopic(t *testing.T) {

	assert := assert.New(t)

	topic, err := CheckMQTTTopic("PVHeat_1")
	assert.NoError(err)
	assert.Equal("pvheat_1", topic)

	_, err = CheckMQTTTopic("pv/heat")
	assert.Error(err)
}

func TestCheckHeaters(t *testing.T) {

	heater := func(name string) HeaterConfig {
		return HeaterConfig{Name: name, Enable: true, Driver: DRIVER_SIMULATED, Loads: map[string]float64{"low": 750}}
	}
	steps := [][]StepSlot{{{Heater: "A", Level: "off"}}, {{Heater: "A", Level: "low"}}}

	cases := []struct {
		name    string
		heaters []HeaterConfig
		steps   [][]StepSlot
		valid   bool
	}{
		{"valid", []HeaterConfig{heater("A")}, steps, true},
		{"no heaters", nil, steps, false},
		{"no steps", []HeaterConfig{heater("A")}, nil, false},
		{"bad name", []HeaterConfig{heater("A b")}, steps, false},
		{"duplicated name", []HeaterConfig{heater("A"), heater("a")}, steps, false},
		{"unknown heater", []HeaterConfig{heater("A")}, [][]StepSlot{{{Heater: "B", Level: "low"}}}, false},
		{"unknown level", []HeaterConfig{heater("A")}, [][]StepSlot{{{Heater: "A", Level: "high"}}}, false},
		{"control word", []HeaterConfig{heater("A")}, [][]StepSlot{{{Heater: "A", Level: "disable"}}}, true},
		{"tuya without device", []HeaterConfig{{Name: "A", Driver: DRIVER_TUYA_MQTT, Loads: map[string]float64{"low": 1}}}, steps, false},
		{"unknown driver", []HeaterConfig{{Name: "A", Driver: "zigbee", Loads: map[string]float64{"low": 1}}}, steps, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := CheckHeaters(c.heaters, c.steps)
			if c.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestApplyHeaterDefaults(t *testing.T) {

	heaters := []HeaterConfig{
		{Name: "A"},
		{Name: "B", IsOnIndex: 2, LoadIndex: 5, StaleAfterMillis: 1000, RefreshWaitMillis: 200},
	}
	ApplyHeaterDefaults(heaters)

	assert.Equal(t, 1, heaters[0].IsOnIndex)
	assert.Equal(t, 4, heaters[0].LoadIndex)
	assert.Equal(t, 90*time.Second, heaters[0].StaleAfter())
	assert.Equal(t, 5*time.Second, heaters[0].RefreshWait())

	assert.Equal(t, 2, heaters[1].IsOnIndex)
	assert.Equal(t, 5, heaters[1].LoadIndex)
	assert.Equal(t, time.Second, heaters[1].StaleAfter())
}

func TestUsesMQTTDevices(t *testing.T) {

	cfg := Config{Heaters: []HeaterConfig{{Name: "A", Driver: DRIVER_SIMULATED, Enable: true}}}
	assert.False(t, cfg.UsesMQTTDevices())

	cfg.Heaters = append(cfg.Heaters, HeaterConfig{Name: "B", Driver: DRIVER_TUYA_MQTT, Enable: false})
	assert.True(t, cfg.UsesMQTTDevices())
}
