package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/pvheat/internal/config"
	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/core/events"
	"github.com/berfenger/pvheat/internal/core/port"
	"github.com/berfenger/pvheat/internal/metrics"
	. "github.com/berfenger/pvheat/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// When HEAT_TICK_TIMEOUT fires the actor moves on, but the tick goroutine keeps
// running until the telemetry or device call that ignores its context returns.
// Such a hang stalls the control loop: following ticks fail with
// service.ErrTickInProgress until it ends.
const (
	HEAT_TICK_TIMEOUT     = 30 * time.Second
	HEAT_SHUTDOWN_TIMEOUT = 10 * time.Second
)

type HeatManagerActor struct {
	ActorWithStates
	scheduler   *scheduler.TimerScheduler
	stash       *Stash
	control     port.HeatControlLogic
	config      *config.Config
	eventStream *eventstream.EventStream
	metrics     port.HeatMetrics
	verbose     bool
	running     bool
	cancelTick  scheduler.CancelFunc

	logger *zap.Logger
}

type heatTick struct{}

type heatStartDone struct {
	err error
}

type heatTickDone struct {
	report domain.TickReport
	err    error
}

type heatStopDone struct {
	err error
}

type heatHeatersDone struct {
	heaters []domain.HeaterState
	err     error
	replyTo *actor.PID
}

type heatStatusDone struct {
	report  domain.TickReport
	err     error
	replyTo *actor.PID
}

func NewHeatManagerActor(config *config.Config, control port.HeatControlLogic, eventStream *eventstream.EventStream,
	sink port.HeatMetrics, logger *zap.Logger) *HeatManagerActor {
	if sink == nil {
		sink = metrics.Nop()
	}
	act := &HeatManagerActor{
		config:      config,
		control:     control,
		stash:       &Stash{},
		eventStream: eventStream,
		metrics:     sink,
		verbose:     config.Manager.Verbose,
		logger:      ActorLogger(domain.ACTOR_ID_HEAT_MANAGER, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(HMStoppedState{
		actor: act,
	})
	return act
}

func (state *HeatManagerActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Stopped state

type HMStoppedState struct {
	ActorState
	actor *HeatManagerActor
}

func (state HMStoppedState) Name() string {
	return "stopped"
}

func (state HMStoppedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("heatmanager@stopped started", zap.String("mode", state.actor.control.Mode().String()))
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.publish(events.ManagerSwitchesUpdateEvents(false, state.actor.verbose)...)
		state.actor.metrics.SetRunning(false)
		if state.actor.config.Manager.Autostart {
			ctx.Send(ctx.Self(), domain.StartRequest{})
		}
	case domain.StartRequest:
		state.actor.logger.Info("heatmanager@stopped: start")
		state.actor.setRunning(true)
		ForRequest(msg).Respond(ctx, domain.StartResponse{Changed: true})
		state.actor.Become(HMBusyState{
			actor: state.actor,
		}.OnEnterStart(ctx))
	case domain.StopRequest:
		ForRequest(msg).Respond(ctx, domain.StopResponse{Changed: false})
	case heatTick:
		// stale tick scheduled before a stop
	default:
		state.actor.receiveCommon(ctx, state.Name())
	}
}

// Running state, idle between ticks

type HMRunningState struct {
	ActorState
	actor *HeatManagerActor
}

func (state HMRunningState) Name() string {
	return "running"
}

func (state HMRunningState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case heatTick:
		state.actor.cancelTick = nil
		state.actor.Become(HMBusyState{
			actor: state.actor,
		}.OnEnterTick(ctx))
	case domain.StartRequest:
		ForRequest(msg).Respond(ctx, domain.StartResponse{Changed: false})
	case domain.StopRequest:
		state.actor.logger.Info("heatmanager@running: stop")
		if state.actor.cancelTick != nil {
			state.actor.cancelTick()
			state.actor.cancelTick = nil
		}
		state.actor.setRunning(false)
		ForRequest(msg).Respond(ctx, domain.StopResponse{Changed: true})
		state.actor.Become(HMBusyState{
			actor: state.actor,
		}.OnEnterStop(ctx))
	default:
		state.actor.receiveCommon(ctx, state.Name())
	}
}

// Busy state, a start, tick or stop runs in background

type HMBusyState struct {
	ActorState
	actor *HeatManagerActor
}

func (state HMBusyState) Name() string {
	return "busy"
}

func (state HMBusyState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case heatStartDone:
		if msg.err != nil {
			state.actor.logger.Error("heatmanager@busy: start error", zap.Error(msg.err))
		}
		state.actor.Become(HMRunningState{
			actor: state.actor,
		})
		// first tick right away
		ctx.Send(ctx.Self(), heatTick{})
		state.actor.stash.UnstashAll(ctx)
	case heatTickDone:
		state.actor.onTickDone(msg)
		state.actor.cancelTick = state.actor.scheduler.RequestOnce(state.actor.config.Manager.TickInterval(), ctx.Self(), heatTick{})
		state.actor.Become(HMRunningState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case heatStopDone:
		if msg.err != nil {
			state.actor.logger.Error("heatmanager@busy: shutdown error", zap.Error(msg.err))
		}
		state.actor.Become(HMStoppedState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case domain.StartRequest, domain.StopRequest:
		state.actor.logger.Debug("heatmanager@busy: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	case heatTick:
	default:
		state.actor.receiveCommon(ctx, state.Name())
	}
}

func (state HMBusyState) OnEnterStart(ctx actor.Context) HMBusyState {
	control := state.actor.control
	NewBackgroundTask(ctx, func(c context.Context) (*heatStartDone, error) {
		return &heatStartDone{err: control.Start(c)}, nil
	}).WithTimeout(HEAT_TICK_TIMEOUT).Recover(func(err error) heatStartDone {
		return heatStartDone{err: err}
	}).PipeTo(ctx.Self())
	return state
}

func (state HMBusyState) OnEnterTick(ctx actor.Context) HMBusyState {
	control := state.actor.control
	NewBackgroundTask(ctx, func(c context.Context) (*heatTickDone, error) {
		report, err := control.Tick(c)
		return &heatTickDone{report: report, err: err}, nil
	}).WithTimeout(HEAT_TICK_TIMEOUT).Recover(func(err error) heatTickDone {
		return heatTickDone{err: err}
	}).PipeTo(ctx.Self())
	return state
}

func (state HMBusyState) OnEnterStop(ctx actor.Context) HMBusyState {
	control := state.actor.control
	NewBackgroundTask(ctx, func(c context.Context) (*heatStopDone, error) {
		return &heatStopDone{err: control.Shutdown(c)}, nil
	}).WithTimeout(HEAT_SHUTDOWN_TIMEOUT).Recover(func(err error) heatStopDone {
		return heatStopDone{err: err}
	}).PipeTo(ctx.Self())
	return state
}

// Messages handled the same way in every state

func (state *HeatManagerActor) receiveCommon(ctx actor.Context, stateName string) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug(fmt.Sprintf("heatmanager@%s: ActorHealthRequest", stateName))
		ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HEAT_MANAGER,
			Healthy: true,
			State:   stateName,
		})
	case domain.SetVerboseRequest:
		state.logger.Debug(fmt.Sprintf("heatmanager@%s: verbose %t", stateName, msg.Verbose))
		state.verbose = msg.Verbose
		state.publish(events.ManagerVerboseSwitchUpdateEvent(msg.Verbose))
		ForRequest(msg).Respond(ctx, domain.SetVerboseResponse{})
	case domain.SetHeaterEnabledRequest:
		err := state.control.SetHeaterEnabled(msg.Heater, msg.Enabled)
		if err != nil {
			state.logger.Warn(fmt.Sprintf("heatmanager@%s: set heater enabled", stateName), zap.Error(err))
		} else {
			state.logger.Info(fmt.Sprintf("heatmanager@%s: heater %s enabled=%t", stateName, msg.Heater, msg.Enabled))
			state.publish(events.HeaterEnabledUpdateEvent(msg.Heater, msg.Enabled))
		}
		ForRequest(msg).Respond(ctx, domain.SetHeaterEnabledResponse{
			ActorResponseMixIn: domain.ResponseWithError(err),
		})
	case domain.SwapHeatersRequest:
		res, err := state.control.Swap(msg.HeaterA, msg.HeaterB)
		if err == nil {
			state.logger.Info(fmt.Sprintf("heatmanager@%s: %s", stateName, res.Message))
		}
		ForRequest(msg).Respond(ctx, domain.SwapHeatersResponse{
			ActorResponseMixIn: domain.ResponseWithError(err),
			Swapped:            res.Swapped,
			Message:            res.Message,
		})
	case domain.ClearSwapRequest:
		state.control.ClearSwap()
		ForRequest(msg).Respond(ctx, domain.ClearSwapResponse{})
	case domain.InfoRequest:
		ForRequest(msg).Respond(ctx, domain.InfoResponse{Info: state.control.Info()})
	case domain.EnergyReportRequest:
		report := state.control.EnergyReport()
		for heater, wh := range report {
			state.logger.Info(fmt.Sprintf("heatmanager@%s: energy report", stateName), zap.String("heater", heater), zap.Float64("wh", wh))
		}
		state.publish(events.EnergyReportToUpdateEvents(report)...)
		state.metrics.ObserveEnergyReport(report)
		ForRequest(msg).Respond(ctx, domain.EnergyReportResponse{WattHours: report})
	case domain.StatusRequest:
		replyTo := ForRequest(msg).ReplyTo(ctx)
		control := state.control
		NewBackgroundTask(ctx, func(c context.Context) (*heatStatusDone, error) {
			report, err := control.Status(c)
			return &heatStatusDone{report: report, err: err, replyTo: replyTo}, nil
		}).WithTimeout(state.config.Manager.StatusTimeout()).Recover(func(err error) heatStatusDone {
			return heatStatusDone{err: err, replyTo: replyTo}
		}).PipeTo(ctx.Self())
	case domain.HeatersRequest:
		replyTo := ForRequest(msg).ReplyTo(ctx)
		control := state.control
		NewBackgroundTask(ctx, func(c context.Context) (*heatHeatersDone, error) {
			return &heatHeatersDone{heaters: control.HeaterStates(c), replyTo: replyTo}, nil
		}).WithTimeout(state.config.Manager.StatusTimeout()).Recover(func(err error) heatHeatersDone {
			return heatHeatersDone{err: err, replyTo: replyTo}
		}).PipeTo(ctx.Self())
	case heatHeatersDone:
		RespondTo(ctx, msg.replyTo, domain.HeatersResponse{
			ActorResponseMixIn: domain.ResponseWithError(msg.err),
			Heaters:            msg.heaters,
		})
	case heatStatusDone:
		resp := domain.StatusResponse{
			ActorResponseMixIn: domain.ResponseWithError(msg.err),
			StatusLine:         msg.report.StatusLine,
			Running:            state.running,
			Verbose:            state.verbose,
			Mode:               state.control.Mode(),
			ActiveStep:         state.control.ActiveStep(),
			Heaters:            msg.report.Heaters,
		}
		RespondTo(ctx, msg.replyTo, resp)
	case *actor.Stopping:
		state.logger.Debug(fmt.Sprintf("heatmanager@%s: stopping", stateName))
		if state.cancelTick != nil {
			state.cancelTick()
		}
		if state.running {
			_, err := NewBackgroundTask(ctx, func(c context.Context) (*struct{}, error) {
				return &struct{}{}, state.control.Shutdown(c)
			}).WithTimeout(HEAT_SHUTDOWN_TIMEOUT).RunSync()
			if err != nil {
				state.logger.Error(fmt.Sprintf("heatmanager@%s: shutdown error", stateName), zap.Error(err))
			}
		}
	default:
		state.logger.Debug(fmt.Sprintf("heatmanager@%s: recv", stateName), zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Other actor function helpers

func (state *HeatManagerActor) onTickDone(msg heatTickDone) {
	if msg.err != nil {
		state.logger.Warn("heatmanager@busy: tick failed", zap.Error(msg.err))
		state.metrics.ObserveTickError(state.control.Mode())
		return
	}
	report := msg.report
	if state.verbose {
		state.logger.Info(report.StatusLine)
	} else {
		state.logger.Debug(report.StatusLine)
	}
	if report.Applied {
		state.logger.Info("heatmanager@busy: step applied", zap.Int("from", report.PreviousStep), zap.Int("to", report.ActiveStep),
			zap.String("phase", string(report.Phase)))
	}
	state.publish(events.TickReportToUpdateEvents(&report)...)
	state.metrics.ObserveTick(report)
}

func (state *HeatManagerActor) setRunning(running bool) {
	state.running = running
	state.publish(events.ManagerRunningSwitchUpdateEvent(running))
	state.metrics.SetRunning(running)
}

func (state *HeatManagerActor) publish(evs ...any) {
	if state.eventStream == nil {
		return
	}
	for _, ev := range evs {
		state.eventStream.Publish(ev)
	}
}
