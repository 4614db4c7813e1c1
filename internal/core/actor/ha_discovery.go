package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/pvheat/internal/config"
	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	HADISCOVERY_HEALTH_RETRIES = 10
)

type HADiscoveryActor struct {
	config    *config.Config
	behavior  actor.Behavior
	mqttActor *actor.PID
	attempts  int

	logger *zap.Logger
}

type haDiscoveryRetry struct{}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:    config,
		mqttActor: mqttActor,
		behavior:  actor.NewBehavior(),
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.WaitingHealthyReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@healthcheck started")
		state.checkMQTT(ctx)
	case haDiscoveryRetry:
		state.checkMQTT(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if msg.Healthy {
			ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
				Sensors:       DiscoverySensors(state.config),
				BinarySensors: DiscoveryBinarySensors(state.config),
				Switches:      DiscoverySwitches(state.config),
			})
			state.behavior.Become(state.Done)
			return
		}
		state.attempts++
		if state.attempts >= HADISCOVERY_HEALTH_RETRIES {
			panic(errors.New("MQTT Actor is not healthy"))
		}
		scheduler.NewTimerScheduler(ctx).SendOnce(time.Second, ctx.Self(), haDiscoveryRetry{})
	default:
		state.logger.Debug("hadiscovery@healthcheck: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {
}

func (state *HADiscoveryActor) checkMQTT(ctx actor.Context) {
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
		}
	})
}

func DiscoverySensors(cfg *config.Config) []domain.GenericSensor {
	bridgeDevice := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	sensors := domain.BridgeSensors(bridgeDevice)
	sensors = append(sensors, domain.ManagerSensors(bridgeDevice)...)
	for _, h := range cfg.Heaters {
		heaterDevice := domain.HeaterDevice(cfg.MQTT.BaseTopic, h.Name)
		heaterDevice.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, domain.HeaterSensors(heaterDevice, h.Name)...)
	}
	return sensors
}

func DiscoveryBinarySensors(cfg *config.Config) []domain.GenericBinarySensor {
	var sensors []domain.GenericBinarySensor
	for _, h := range cfg.Heaters {
		sensors = append(sensors, domain.HeaterBinarySensors(domain.HeaterDevice(cfg.MQTT.BaseTopic, h.Name), h.Name)...)
	}
	return sensors
}

func DiscoverySwitches(cfg *config.Config) []domain.GenericSwitch {
	switches := domain.ManagerSwitches(domain.BridgeDevice(cfg.MQTT.BaseTopic))
	for _, h := range cfg.Heaters {
		switches = append(switches, domain.HeaterSwitches(domain.HeaterDevice(cfg.MQTT.BaseTopic, h.Name), h.Name)...)
	}
	return switches
}
