package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/core/port"
	"github.com/berfenger/pvheat/internal/mqtt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	DefaultStaleAfter  = 90 * time.Second
	DefaultRefreshWait = 5 * time.Second
)

// MessageBus is the MQTT connection shared by all Tuya devices.
type MessageBus interface {
	Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration)
	Subscribe(topic string, qos byte, handler pahomqtt.MessageHandler, continuation func(error), timeout time.Duration)
}

type TuyaMQTTConfig struct {
	DeviceTopic string
	DeviceId    string
	IsOnIndex   int
	LoadIndex   int
	StaleAfter  time.Duration
	RefreshWait time.Duration
}

// TuyaMQTTDevice drives a Tuya heater exposed by a tuya-mqtt bridge.
// The last dps state received is cached and refreshed on demand when stale.
type TuyaMQTTDevice struct {
	bus    MessageBus
	config TuyaMQTTConfig
	now    func() time.Time
	logger *zap.Logger

	mu         sync.Mutex
	dps        map[string]any
	receivedAt time.Time
	offline    bool
	updated    chan struct{}
}

func NewTuyaMQTTDevice(bus MessageBus, cfg TuyaMQTTConfig, logger *zap.Logger) (*TuyaMQTTDevice, error) {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.RefreshWait <= 0 {
		cfg.RefreshWait = DefaultRefreshWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &TuyaMQTTDevice{
		bus:     bus,
		config:  cfg,
		now:     time.Now,
		logger:  logger.With(zap.String("device", cfg.DeviceId)),
		dps:     map[string]any{},
		updated: make(chan struct{}),
	}

	subscriptions := map[string]pahomqtt.MessageHandler{
		mqtt.TuyaDpsStateTopic(cfg.DeviceTopic, cfg.DeviceId): d.onDpsState,
		mqtt.TuyaStateTopic(cfg.DeviceTopic, cfg.DeviceId):    d.onState,
	}
	for topic, handler := range subscriptions {
		err := d.await(context.Background(), func(continuation func(error)) {
			bus.Subscribe(topic, 1, handler, continuation, cfg.RefreshWait)
		})
		if err != nil {
			return nil, fmt.Errorf("tuya: subscribe %s: %w", topic, err)
		}
	}
	return d, nil
}

func (d *TuyaMQTTDevice) Status(ctx context.Context) (domain.DeviceStatus, error) {
	d.mu.Lock()
	if d.offline {
		d.mu.Unlock()
		return domain.DeviceStatus{}, fmt.Errorf("%w: device %s offline", domain.ErrHeaterConnection, d.config.DeviceId)
	}
	if len(d.dps) > 0 && d.now().Sub(d.receivedAt) < d.config.StaleAfter {
		defer d.mu.Unlock()
		return d.statusLocked()
	}
	updated := d.updated
	d.mu.Unlock()

	d.requestStates()

	timer := time.NewTimer(d.config.RefreshWait)
	defer timer.Stop()
	select {
	case <-updated:
	case <-timer.C:
		return domain.DeviceStatus{}, fmt.Errorf("%w: device %s did not report its state", domain.ErrHeaterConnection, d.config.DeviceId)
	case <-ctx.Done():
		return domain.DeviceStatus{}, ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offline {
		return domain.DeviceStatus{}, fmt.Errorf("%w: device %s offline", domain.ErrHeaterConnection, d.config.DeviceId)
	}
	return d.statusLocked()
}

func (d *TuyaMQTTDevice) TurnOn(ctx context.Context) error {
	return d.command(ctx, d.config.IsOnIndex, true)
}

func (d *TuyaMQTTDevice) TurnOff(ctx context.Context) error {
	return d.command(ctx, d.config.IsOnIndex, false)
}

func (d *TuyaMQTTDevice) SetLevel(ctx context.Context, index int, level string) error {
	return d.command(ctx, index, level)
}

func (d *TuyaMQTTDevice) command(ctx context.Context, index int, value any) error {
	topic := mqtt.TuyaDpsCommandTopic(d.config.DeviceTopic, d.config.DeviceId, index)
	err := d.await(ctx, func(continuation func(error)) {
		d.bus.Publish(topic, fmt.Sprint(value), 1, false, continuation, d.config.RefreshWait)
	})
	if err != nil {
		return fmt.Errorf("%w: device %s: %w", domain.ErrHeaterConnection, d.config.DeviceId, err)
	}
	d.mu.Lock()
	d.dps[strconv.Itoa(index)] = value
	d.mu.Unlock()
	return nil
}

func (d *TuyaMQTTDevice) requestStates() {
	topic := mqtt.TuyaCommandTopic(d.config.DeviceTopic, d.config.DeviceId)
	d.bus.Publish(topic, mqtt.TUYA_COMMAND_GET_STATES, 1, false, func(err error) {
		if err != nil {
			d.logger.Warn("tuya: get-states request failed", zap.Error(err))
		}
	}, d.config.RefreshWait)
}

func (d *TuyaMQTTDevice) statusLocked() (domain.DeviceStatus, error) {
	on, ok := d.dps[strconv.Itoa(d.config.IsOnIndex)].(bool)
	if !ok {
		return domain.DeviceStatus{}, fmt.Errorf("%w: device %s reported no on/off state", domain.ErrHeaterConnection, d.config.DeviceId)
	}
	level, _ := d.dps[strconv.Itoa(d.config.LoadIndex)].(string)
	return domain.DeviceStatus{On: on, Level: level}, nil
}

func (d *TuyaMQTTDevice) onDpsState(_ pahomqtt.Client, msg pahomqtt.Message) {
	var dps map[string]any
	if err := json.Unmarshal(msg.Payload(), &dps); err != nil {
		d.logger.Warn("tuya: invalid dps state", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range dps {
		d.dps[k] = v
	}
	d.receivedAt = d.now()
	d.offline = false
	d.notifyLocked()
}

func (d *TuyaMQTTDevice) onState(_ pahomqtt.Client, msg pahomqtt.Message) {
	offline := strings.EqualFold(strings.TrimSpace(string(msg.Payload())), mqtt.TUYA_STATE_OFFLINE)
	d.mu.Lock()
	defer d.mu.Unlock()
	if offline != d.offline {
		d.logger.Info("tuya: device availability changed", zap.Bool("offline", offline))
	}
	d.offline = offline
	if offline {
		d.notifyLocked()
	}
}

// notifyLocked wakes every Status call waiting for a refresh.
func (d *TuyaMQTTDevice) notifyLocked() {
	close(d.updated)
	d.updated = make(chan struct{})
}

func (d *TuyaMQTTDevice) await(ctx context.Context, op func(continuation func(error))) error {
	done := make(chan error, 1)
	op(func(err error) {
		done <- err
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ port.HeaterDevice = (*TuyaMQTTDevice)(nil)
