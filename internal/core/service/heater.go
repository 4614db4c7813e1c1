package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/core/port"

	"go.uber.org/zap"
)

const DefaultConnectRetry = 180 * time.Second

type HeaterConfig struct {
	Name         string
	Enabled      bool
	LoadIndex    int
	Loads        map[string]float64
	ConnectRetry time.Duration
}

// Heater wraps a HeaterDevice with enablement, connection backoff and
// energy accounting. It is safe for concurrent use.
type Heater struct {
	name      string
	loadIndex int
	loads     map[string]float64
	retry     time.Duration
	device    port.HeaterDevice
	changes   *ChangeFlag
	now       func() time.Time
	logger    *zap.Logger

	// serializes device access
	io sync.Mutex

	mu           sync.Mutex
	enabled      bool
	connErr      bool
	connErrSince time.Time
	lastEnabled  bool
	lastConnect  bool
	lastChange   time.Time
	activeLevel  string
	wattHours    float64
}

type HeaterOption func(*Heater)

func WithHeaterClock(now func() time.Time) HeaterOption {
	return func(h *Heater) {
		h.now = now
	}
}

func WithHeaterLogger(logger *zap.Logger) HeaterOption {
	return func(h *Heater) {
		h.logger = logger.With(zap.String("heater", h.name))
	}
}

func NewHeater(cfg HeaterConfig, device port.HeaterDevice, changes *ChangeFlag, opts ...HeaterOption) *Heater {
	loads := make(map[string]float64, len(cfg.Loads))
	for k, v := range cfg.Loads {
		loads[k] = v
	}
	retry := cfg.ConnectRetry
	if retry <= 0 {
		retry = DefaultConnectRetry
	}
	if changes == nil {
		changes = &ChangeFlag{}
	}
	h := &Heater{
		name:        cfg.Name,
		loadIndex:   cfg.LoadIndex,
		loads:       loads,
		retry:       retry,
		device:      device,
		changes:     changes,
		now:         time.Now,
		logger:      zap.NewNop(),
		enabled:     cfg.Enabled,
		lastEnabled: cfg.Enabled,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Heater) Name() string {
	return h.name
}

// Watt returns the configured wattage of level and whether level is known.
func (h *Heater) Watt(level string) (float64, bool) {
	w, ok := h.loads[level]
	return w, ok
}

func (h *Heater) Loads() map[string]float64 {
	loads := make(map[string]float64, len(h.loads))
	for k, v := range h.loads {
		loads[k] = v
	}
	return loads
}

func (h *Heater) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

// SetEnabled changes the runtime enablement. The device is not contacted.
func (h *Heater) SetEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushLocked()
	h.enabled = enabled
	h.markEnabledLocked(enabled)
}

// Connectivity queries the device, honoring the connection error backoff.
func (h *Heater) Connectivity(ctx context.Context) (domain.DeviceStatus, error) {
	h.mu.Lock()
	if !h.enabled {
		h.mu.Unlock()
		return domain.DeviceStatus{}, fmt.Errorf("%w: %s", domain.ErrHeaterDisabled, h.name)
	}
	if h.connErr && h.now().Sub(h.connErrSince) < h.retry {
		h.markConnectLocked(false)
		h.mu.Unlock()
		return domain.DeviceStatus{}, fmt.Errorf("%w: %s (retry pending)", domain.ErrHeaterConnection, h.name)
	}
	h.mu.Unlock()

	h.io.Lock()
	status, err := h.device.Status(ctx)
	h.io.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.connectionFailedLocked()
		return domain.DeviceStatus{}, fmt.Errorf("%w: %s: %w", domain.ErrHeaterConnection, h.name, err)
	}
	h.connErr = false
	h.markConnectLocked(true)
	return status, nil
}

// ShortStatus condenses the device state. It never fails.
func (h *Heater) ShortStatus(ctx context.Context) domain.ShortStatus {
	status, err := h.Connectivity(ctx)
	switch {
	case err == nil && !status.On:
		return domain.ShortStatus{Kind: domain.ShortStatusOff}
	case err == nil:
		if _, ok := h.loads[status.Level]; !ok {
			h.logger.Warn("heater: device reports an unknown level", zap.String("level", status.Level))
			return domain.ShortStatus{Kind: domain.ShortStatusError}
		}
		return domain.ShortStatusOnLevel(status.Level)
	case isDisabled(err):
		return domain.ShortStatus{Kind: domain.ShortStatusDisabled}
	default:
		return domain.ShortStatus{Kind: domain.ShortStatusError}
	}
}

// CurrentDraw returns the wattage the device reports, 0 when disabled, off or unreachable.
func (h *Heater) CurrentDraw(ctx context.Context) float64 {
	status, err := h.Connectivity(ctx)
	if err != nil || !status.On {
		return 0
	}
	return h.loads[status.Level]
}

func (h *Heater) SetLevel(ctx context.Context, level string) error {
	if _, ok := h.loads[level]; !ok {
		return fmt.Errorf("%w: %q for heater %s", domain.ErrUnknownLevel, level, h.name)
	}
	if err := h.checkEnabled(); err != nil {
		return err
	}

	h.io.Lock()
	defer h.io.Unlock()
	h.flush()
	err := h.device.TurnOn(ctx)
	if err == nil {
		err = h.device.SetLevel(ctx, h.loadIndex, level)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.connectionFailedLocked()
		return fmt.Errorf("%w: %s: %w", domain.ErrHeaterConnection, h.name, err)
	}
	h.activeLevel = level
	h.lastChange = h.now()
	return nil
}

// TurnOn switches the device on with whatever level it currently holds.
func (h *Heater) TurnOn(ctx context.Context) error {
	if err := h.checkEnabled(); err != nil {
		return err
	}

	h.io.Lock()
	defer h.io.Unlock()
	h.flush()
	err := h.device.TurnOn(ctx)
	var status domain.DeviceStatus
	if err == nil {
		status, err = h.device.Status(ctx)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.connectionFailedLocked()
		return fmt.Errorf("%w: %s: %w", domain.ErrHeaterConnection, h.name, err)
	}
	if _, ok := h.loads[status.Level]; ok {
		h.activeLevel = status.Level
	}
	h.lastChange = h.now()
	return nil
}

func (h *Heater) TurnOff(ctx context.Context) error {
	if err := h.checkEnabled(); err != nil {
		return err
	}

	h.io.Lock()
	defer h.io.Unlock()
	h.flush()
	err := h.device.TurnOff(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.connectionFailedLocked()
		return fmt.Errorf("%w: %s: %w", domain.ErrHeaterConnection, h.name, err)
	}
	h.activeLevel = ""
	h.lastChange = time.Time{}
	return nil
}

// WattHours flushes the running interval and returns the accumulated energy.
func (h *Heater) WattHours() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushLocked()
	return h.wattHours
}

func (h *Heater) checkEnabled() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.enabled {
		h.markEnabledLocked(false)
		return fmt.Errorf("%w: %s", domain.ErrHeaterDisabled, h.name)
	}
	return nil
}

func (h *Heater) flush() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushLocked()
}

// flushLocked integrates the energy since lastChange at the active level.
// Disabled or erroring heaters count as 0 W for the interval.
func (h *Heater) flushLocked() {
	if h.lastChange.IsZero() {
		return
	}
	now := h.now()
	hours := now.Sub(h.lastChange).Hours()
	if hours > 0 && h.enabled && !h.connErr {
		h.wattHours += h.loads[h.activeLevel] * hours
	}
	h.lastChange = now
}

func (h *Heater) connectionFailedLocked() {
	h.flushLocked()
	h.connErr = true
	h.connErrSince = h.now()
	h.lastChange = time.Time{}
	h.activeLevel = ""
	h.markConnectLocked(false)
	h.logger.Warn("heater: connection error", zap.Duration("retry_in", h.retry))
}

func (h *Heater) markEnabledLocked(enabled bool) {
	if enabled != h.lastEnabled {
		h.lastEnabled = enabled
		h.changes.Raise()
	}
}

func (h *Heater) markConnectLocked(connected bool) {
	if connected != h.lastConnect {
		h.lastConnect = connected
		h.changes.Raise()
	}
}

func isDisabled(err error) bool {
	return errors.Is(err, domain.ErrHeaterDisabled)
}
