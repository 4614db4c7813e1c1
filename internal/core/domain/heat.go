package domain

import (
	"errors"
	"fmt"
)

var (
	ErrHeaterDisabled   = errors.New("heater is disabled")
	ErrHeaterConnection = errors.New("heater connection error")
	ErrUnknownLevel     = errors.New("unknown load level")
	ErrUnknownHeater    = errors.New("unknown heater")
)

// Step level words that are not load levels.
const (
	LevelOff     = "off"
	LevelOn      = "on"
	LevelEnable  = "enable"
	LevelDisable = "disable"
)

// IsControlLevel reports whether level is a control word instead of a configured load.
func IsControlLevel(level string) bool {
	switch level {
	case LevelOff, LevelOn, LevelEnable, LevelDisable:
		return true
	}
	return false
}

// DeviceStatus is the raw on/load state reported by a heater device.
type DeviceStatus struct {
	On    bool
	Level string
}

type ShortStatusKind int

const (
	ShortStatusOff ShortStatusKind = iota
	ShortStatusOn
	ShortStatusDisabled
	ShortStatusError
)

// ShortStatus is the condensed heater state shown in status lines.
// Level is only set for ShortStatusOn.
type ShortStatus struct {
	Kind  ShortStatusKind
	Level string
}

func ShortStatusOnLevel(level string) ShortStatus {
	return ShortStatus{Kind: ShortStatusOn, Level: level}
}

func (s ShortStatus) String() string {
	switch s.Kind {
	case ShortStatusOff:
		return "off"
	case ShortStatusOn:
		return s.Level
	case ShortStatusDisabled:
		return "dis"
	case ShortStatusError:
		return "err"
	default:
		return fmt.Sprintf("unknown(%d)", s.Kind)
	}
}

func (s ShortStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ControlMode selects how the heat manager decides on the next step.
type ControlMode int

const (
	// ModeMeasure derives the available surplus from grid and battery flows.
	ModeMeasure ControlMode = iota
	// ModeTry probes step by step, using grid+battery draw as deficit signal.
	ModeTry
)

func (m ControlMode) String() string {
	switch m {
	case ModeMeasure:
		return "measure"
	case ModeTry:
		return "try"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}
