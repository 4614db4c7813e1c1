package actorutil

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps a switch command to a heat manager request.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.HeatManagerRequest, error) {
	var on bool
	switch cmd.Payload {
	case mqtt.MQTT_PAYLOAD_ON:
		on = true
	case mqtt.MQTT_PAYLOAD_OFF:
		on = false
	default:
		return nil, fmt.Errorf("invalid switch payload %q", cmd.Payload)
	}

	switch cmd.DeviceId {
	case domain.SWITCH_ID_MANAGER_RUNNING:
		if on {
			return domain.StartRequest{}, nil
		}
		return domain.StopRequest{}, nil
	case domain.SWITCH_ID_MANAGER_VERBOSE:
		return domain.SetVerboseRequest{Verbose: on}, nil
	}
	if heater, ok := domain.HeaterFromEnabledSwitchId(cmd.DeviceId); ok {
		return domain.SetHeaterEnabledRequest{Heater: heater, Enabled: on}, nil
	}
	return nil, fmt.Errorf("unknown switch %q", cmd.DeviceId)
}
