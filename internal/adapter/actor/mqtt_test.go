package actor

import (
	"testing"
	"time"

	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/util"
	"github.com/berfenger/pvheat/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	es := &eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, es, logger) })
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, resp.Healthy)

	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_AVAILABLE_POWER,
		},
		Value:    1234.567,
		Decimals: 2,
	})
	es.Publish(domain.SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.HeaterEnabledSwitchId("A"),
		},
		Value: true,
	})
	es.Publish(domain.TextSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.HeaterStatusSensorId("A"),
		},
		Value: "high",
	})
	// not a sensor update, ignored
	es.Publish("noise")

	assert.Eventually(t, func() bool {
		res, err := context.RequestFuture(pid, DummyPublishedRequest{}, time.Second).Result()
		if err != nil {
			return false
		}
		return len(res.(DummyPublishedResponse).Messages) == 3
	}, 2*time.Second, 20*time.Millisecond)

	res, err := context.RequestFuture(pid, DummyPublishedRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"pvheat/sensor/available_power/state=1234.57",
		"pvheat/switch/heater_a_enabled/state=on",
		"pvheat/sensor/heater_a_status/state=high",
	}, res.(DummyPublishedResponse).Messages)

	context.Stop(pid)

	as.Shutdown()
}
