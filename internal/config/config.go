package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	DRIVER_TUYA_MQTT = "tuya_mqtt"
	DRIVER_SIMULATED = "simulated"

	SOLAR_PROVIDER_FRONIUS_HTTP   = "fronius_http"
	SOLAR_PROVIDER_SUNSPEC_MODBUS = "sunspec_modbus"
	SOLAR_PROVIDER_STATIC         = "static"
)

var heaterNameRegexp = regexp.MustCompile("^[A-Za-z0-9_]+$")

type Config struct {
	LogLevel zapcore.Level
	Heaters  []HeaterConfig `mapstructure:"heaters"`
	Steps    [][]StepSlot   `mapstructure:"steps"`
	Manager  ManagerConfig  `mapstructure:"manager"`
	Solar    SolarConfig    `mapstructure:"solar"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Port     uint           `mapstructure:"port"`
	HttpLog  bool           `mapstructure:"http_log"`
}

type HeaterConfig struct {
	Name              string
	Enable            bool
	Driver            string
	DeviceId          string             `mapstructure:"device_id"`
	IsOnIndex         int                `mapstructure:"is_on_index"`
	LoadIndex         int                `mapstructure:"load_index"`
	Loads             map[string]float64 `mapstructure:"loads"`
	StaleAfterMillis  uint32             `mapstructure:"stale_after_millis"`
	RefreshWaitMillis uint32             `mapstructure:"refresh_wait_millis"`
}

type StepSlot struct {
	Heater string
	Level  string
}

type ManagerConfig struct {
	TickIntervalMillis  uint32  `mapstructure:"tick_interval_millis"`
	TryToleranceWatt    float64 `mapstructure:"try_tolerance_watt"`
	TryStickyTicks      int     `mapstructure:"try_sticky_ticks"`
	ConnectRetryMillis  uint32  `mapstructure:"connect_retry_millis"`
	Autostart           bool    `mapstructure:"autostart"`
	Verbose             bool    `mapstructure:"verbose"`
	StatusTimeoutMillis uint32  `mapstructure:"status_timeout_millis"`
	EnergyReportCron    string  `mapstructure:"energy_report_cron"`
}

type SolarConfig struct {
	Provider            string
	URL                 string          `mapstructure:"url"`
	TimeoutMillis       uint32          `mapstructure:"timeout_millis"`
	SupplyToGrid        bool            `mapstructure:"supply_to_grid"`
	MaxChargePercent    float64         `mapstructure:"max_charge_percent"`
	FullChargeHour      int             `mapstructure:"full_charge_hour"`
	WattHoursPerPercent float64         `mapstructure:"watt_hours_per_percent"`
	Modbus              ModbusTCPConfig `mapstructure:"modbus"`
}

type ModbusTCPConfig struct {
	Host          string
	Port          uint
	MeterId       uint `mapstructure:"meter_id"`
	InverterId    uint `mapstructure:"inverter_id"`
	IgnoreFronius bool `mapstructure:"ignore_fronius"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	DeviceTopic       string `mapstructure:"device_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func (c ManagerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMillis) * time.Millisecond
}

func (c ManagerConfig) ConnectRetry() time.Duration {
	return time.Duration(c.ConnectRetryMillis) * time.Millisecond
}

func (c ManagerConfig) StatusTimeout() time.Duration {
	return time.Duration(c.StatusTimeoutMillis) * time.Millisecond
}

func (c SolarConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// UsesMQTTDevices reports whether any heater, enabled or not, is reached through the MQTT broker.
func (c Config) UsesMQTTDevices() bool {
	for _, h := range c.Heaters {
		if h.Driver == DRIVER_TUYA_MQTT {
			return true
		}
	}
	return false
}

func (h HeaterConfig) StaleAfter() time.Duration {
	return time.Duration(h.StaleAfterMillis) * time.Millisecond
}

func (h HeaterConfig) RefreshWait() time.Duration {
	return time.Duration(h.RefreshWaitMillis) * time.Millisecond
}

// ApplyHeaterDefaults fills the per heater fields left unset in the config file.
func ApplyHeaterDefaults(heaters []HeaterConfig) {
	for i := range heaters {
		h := &heaters[i]
		if h.IsOnIndex == 0 {
			h.IsOnIndex = 1
		}
		if h.LoadIndex == 0 {
			h.LoadIndex = 4
		}
		if h.StaleAfterMillis == 0 {
			h.StaleAfterMillis = 90000
		}
		if h.RefreshWaitMillis == 0 {
			h.RefreshWaitMillis = 5000
		}
	}
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// CheckHeaters validates the heater list and the step ladder against it.
func CheckHeaters(heaters []HeaterConfig, steps [][]StepSlot) error {
	if len(heaters) == 0 {
		return errors.New("at least one heater must be configured")
	}
	loads := make(map[string]map[string]float64, len(heaters))
	for i, h := range heaters {
		if !heaterNameRegexp.MatchString(h.Name) {
			return fmt.Errorf("heaters[%d]: invalid name %q. can only contain letters, numbers and underscores", i, h.Name)
		}
		for name := range loads {
			if strings.EqualFold(name, h.Name) {
				return fmt.Errorf("heaters[%d]: duplicated name %q", i, h.Name)
			}
		}
		if len(h.Loads) == 0 {
			return fmt.Errorf("heater %s: at least one load must be configured", h.Name)
		}
		switch h.Driver {
		case DRIVER_TUYA_MQTT:
			if h.DeviceId == "" {
				return fmt.Errorf("heater %s: device_id is required by driver %s", h.Name, h.Driver)
			}
		case DRIVER_SIMULATED:
		default:
			return fmt.Errorf("heater %s: unknown driver %q", h.Name, h.Driver)
		}
		loads[h.Name] = h.Loads
	}

	if len(steps) == 0 {
		return errors.New("at least one step must be configured")
	}
	for i, step := range steps {
		for _, slot := range step {
			heaterLoads, ok := loads[slot.Heater]
			if !ok {
				return fmt.Errorf("steps[%d]: unknown heater %q", i, slot.Heater)
			}
			if _, ok := heaterLoads[slot.Level]; ok {
				continue
			}
			switch slot.Level {
			case "off", "on", "enable", "disable":
			default:
				return fmt.Errorf("steps[%d]: unknown level %q for heater %s", i, slot.Level, slot.Heater)
			}
		}
	}
	return nil
}
