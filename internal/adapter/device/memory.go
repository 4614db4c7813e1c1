package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/core/port"
)

// MemoryDevice keeps the heater state in memory. Failures can be injected
// to simulate an unreachable device.
type MemoryDevice struct {
	mu     sync.Mutex
	on     bool
	level  string
	fields map[int]string
	fail   error
	calls  []string
}

func NewMemoryDevice(level string) *MemoryDevice {
	return &MemoryDevice{
		level:  level,
		fields: map[int]string{},
	}
}

func (d *MemoryDevice) Status(_ context.Context) (domain.DeviceStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "status")
	if d.fail != nil {
		return domain.DeviceStatus{}, d.fail
	}
	return domain.DeviceStatus{On: d.on, Level: d.level}, nil
}

func (d *MemoryDevice) TurnOn(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "on")
	if d.fail != nil {
		return d.fail
	}
	d.on = true
	return nil
}

func (d *MemoryDevice) TurnOff(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "off")
	if d.fail != nil {
		return d.fail
	}
	d.on = false
	return nil
}

func (d *MemoryDevice) SetLevel(_ context.Context, index int, level string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf("level:%d=%s", index, level))
	if d.fail != nil {
		return d.fail
	}
	d.fields[index] = level
	d.level = level
	return nil
}

// Fail makes every following call return err. A nil err heals the device.
func (d *MemoryDevice) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

// Set overrides the state as if changed at the device itself.
func (d *MemoryDevice) Set(on bool, level string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.on = on
	d.level = level
}

func (d *MemoryDevice) Field(index int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fields[index]
}

// Calls returns and resets the recorded calls.
func (d *MemoryDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	calls := d.calls
	d.calls = nil
	return calls
}

var _ port.HeaterDevice = (*MemoryDevice)(nil)
