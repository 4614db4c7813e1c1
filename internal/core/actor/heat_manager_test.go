package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/berfenger/pvheat/internal/adapter/device"
	"github.com/berfenger/pvheat/internal/adapter/solar"
	"github.com/berfenger/pvheat/internal/config"
	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/core/port"
	"github.com/berfenger/pvheat/internal/core/service"
	"github.com/berfenger/pvheat/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type heatManagerFixture struct {
	system  *actor.ActorSystem
	pid     *actor.PID
	source  *solar.StaticSource
	devices map[string]*device.MemoryDevice
	stream  *eventstream.EventStream
}

func newHeatManagerFixture(t *testing.T, mutate func(cfg *config.Config)) *heatManagerFixture {
	t.Helper()

	cfg := util.LoadTestConfig()
	cfg.Manager.TickIntervalMillis = 50
	if mutate != nil {
		mutate(&cfg)
	}
	logger := zap.NewNop()

	devices := map[string]*device.MemoryDevice{
		"A": device.NewMemoryDevice("low"),
		"B": device.NewMemoryDevice("low"),
	}
	source := solar.NewStaticSource(cfg.Solar.SupplyToGrid, solar.FixedReservation(0))
	control, err := service.NewHeatControlFromConfig(&cfg, map[string]port.HeaterDevice{
		"A": devices["A"],
		"B": devices["B"],
	}, source, logger)
	require.NoError(t, err)

	system := actor.NewActorSystem()
	stream := &eventstream.EventStream{}
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewHeatManagerActor(&cfg, control, stream, nil, logger)
	})
	pid := system.Root.Spawn(props)
	t.Cleanup(func() {
		system.Root.Stop(pid)
		system.Shutdown()
	})

	return &heatManagerFixture{system: system, pid: pid, source: source, devices: devices, stream: stream}
}

func (f *heatManagerFixture) request(t *testing.T, msg any) any {
	t.Helper()
	res, err := f.system.Root.RequestFuture(f.pid, msg, 2*time.Second).Result()
	require.NoError(t, err)
	return res
}

func (f *heatManagerFixture) deviceStatus(name string) domain.DeviceStatus {
	status, _ := f.devices[name].Status(context.Background())
	return status
}

func TestHeatManagerStartStop(t *testing.T) {

	f := newHeatManagerFixture(t, nil)
	f.source.Set(domain.PowerSnapshot{PVWatt: 2000, GridWatt: -900, ChargePercent: 95})

	health := f.request(t, domain.ActorHealthRequest{}).(domain.ActorHealthResponse)
	assert.Equal(t, "stopped", health.State)

	start := f.request(t, domain.StartRequest{}).(domain.StartResponse)
	assert.True(t, start.Changed)

	assert.Eventually(t, func() bool {
		return f.deviceStatus("A").On
	}, 2*time.Second, 20*time.Millisecond)

	again := f.request(t, domain.StartRequest{}).(domain.StartResponse)
	assert.False(t, again.Changed)

	stop := f.request(t, domain.StopRequest{}).(domain.StopResponse)
	assert.True(t, stop.Changed)

	assert.Eventually(t, func() bool {
		return !f.deviceStatus("A").On
	}, 2*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		res, err := f.system.Root.RequestFuture(f.pid, domain.ActorHealthRequest{}, time.Second).Result()
		return err == nil && res.(domain.ActorHealthResponse).State == "stopped"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHeatManagerAutostartFollowsSurplus(t *testing.T) {

	f := newHeatManagerFixture(t, func(cfg *config.Config) {
		cfg.Manager.Autostart = true
	})
	f.source.Set(domain.PowerSnapshot{PVWatt: 4000, GridWatt: -2100, ChargePercent: 95})

	// 2100 W reaches the top step: A high and B low
	assert.Eventually(t, func() bool {
		a, b := f.deviceStatus("A"), f.deviceStatus("B")
		return a.On && a.Level == "high" && b.On && b.Level == "low"
	}, 2*time.Second, 20*time.Millisecond)

	status := f.request(t, domain.StatusRequest{}).(domain.StatusResponse)
	assert.NoError(t, status.GetResponseError())
	assert.True(t, status.Running)
	assert.Equal(t, domain.ModeMeasure, status.Mode)
	assert.Equal(t, 3, status.ActiveStep)
	assert.Contains(t, status.StatusLine, "[A high] [B  low]")
	assert.Len(t, status.Heaters, 2)
}

func TestHeatManagerCommandsWhileStopped(t *testing.T) {

	f := newHeatManagerFixture(t, nil)

	res := f.request(t, domain.SetHeaterEnabledRequest{Heater: "b", Enabled: false}).(domain.SetHeaterEnabledResponse)
	assert.NoError(t, res.GetResponseError())

	res = f.request(t, domain.SetHeaterEnabledRequest{Heater: "C", Enabled: false}).(domain.SetHeaterEnabledResponse)
	assert.ErrorIs(t, res.GetResponseError(), domain.ErrUnknownHeater)

	swap := f.request(t, domain.SwapHeatersRequest{HeaterA: "A", HeaterB: "B"}).(domain.SwapHeatersResponse)
	assert.NoError(t, swap.GetResponseError())
	assert.True(t, swap.Swapped)

	info := f.request(t, domain.InfoRequest{}).(domain.InfoResponse)
	assert.Contains(t, info.Info, "heater B: disabled")
	assert.Contains(t, info.Info, "swap: A <-> B")

	f.request(t, domain.ClearSwapRequest{})
	info = f.request(t, domain.InfoRequest{}).(domain.InfoResponse)
	assert.NotContains(t, info.Info, "swap:")

	f.request(t, domain.SetVerboseRequest{Verbose: true})
	status := f.request(t, domain.StatusRequest{}).(domain.StatusResponse)
	assert.True(t, status.Verbose)
	assert.False(t, status.Running)

	report := f.request(t, domain.EnergyReportRequest{}).(domain.EnergyReportResponse)
	assert.Equal(t, map[string]float64{"A": 0, "B": 0}, report.WattHours)
}

func TestHeatManagerStatusTelemetryError(t *testing.T) {

	f := newHeatManagerFixture(t, nil)
	f.source.SetError(errors.New("inverter unreachable"))

	status := f.request(t, domain.StatusRequest{}).(domain.StatusResponse)
	assert.ErrorContains(t, status.GetResponseError(), "inverter unreachable")
}

func TestHeatManagerPublishesTickEvents(t *testing.T) {

	f := newHeatManagerFixture(t, nil)
	f.source.Set(domain.PowerSnapshot{PVWatt: 1000, GridWatt: -100, ChargePercent: 95})

	got := make(chan domain.FloatSensorUpdateEvent, 64)
	sub := f.stream.Subscribe(func(evt any) {
		if e, ok := evt.(domain.FloatSensorUpdateEvent); ok && e.SensorId() == domain.SENSOR_ID_AVAILABLE_POWER {
			select {
			case got <- e:
			default:
			}
		}
	})
	defer f.stream.Unsubscribe(sub)

	f.request(t, domain.StartRequest{})

	select {
	case e := <-got:
		assert.Equal(t, 100.0, e.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("no available power event")
	}
}

func TestHeatManagerHeaters(t *testing.T) {

	f := newHeatManagerFixture(t, nil)
	f.source.SetError(errors.New("inverter unreachable"))
	f.devices["B"].Fail(errors.New("no route to host"))

	res := f.request(t, domain.HeatersRequest{}).(domain.HeatersResponse)
	require.NoError(t, res.GetResponseError())
	require.Len(t, res.Heaters, 2)
	assert.Equal(t, "A", res.Heaters[0].Name)
	assert.Equal(t, domain.ShortStatus{Kind: domain.ShortStatusOff}, res.Heaters[0].Status)
	assert.Equal(t, domain.ShortStatusError, res.Heaters[1].Status.Kind)
}
