package actor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/berfenger/sems2mqtt/internal/core/domain"
	"github.com/berfenger/sems2mqtt/internal/util"
	"github.com/berfenger/sems2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func receivePublished(t *testing.T, published <-chan PublishedMessage) PublishedMessage {
	select {
	case msg := <-published:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
	return PublishedMessage{}
}

func TestMQTTActor(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	es := eventstream.EventStream{}
	published := make(chan PublishedMessage, 64)

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, &es, published, logger) })
	pid := context.Spawn(props)

	msg := domain.ActorHealthRequest{}
	result, err := context.RequestFuture(pid, msg, 2*time.Second).Result()
	require.NoError(err)
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(ok)
	assert.True(resp.Healthy)

	es.Publish(domain.StationStateUpdateEvent{
		StationId: "st-1",
		Values: map[string]any{
			domain.SENSOR_ID_SOLAR_POWER: 582.0,
			domain.SENSOR_ID_GRID_POWER:  nil,
		},
	})
	state := receivePublished(t, published)
	assert.Equal("sems2mqtt/station/st-1/state", state.Topic)
	assert.True(state.Retain)
	var values map[string]any
	require.NoError(json.Unmarshal([]byte(state.Payload), &values))
	assert.Equal(582.0, values[domain.SENSOR_ID_SOLAR_POWER])
	assert.Contains(values, domain.SENSOR_ID_GRID_POWER)
	assert.Nil(values[domain.SENSOR_ID_GRID_POWER])

	es.Publish(domain.StationAvailabilityUpdateEvent{StationId: "st-1", Available: false})
	av := receivePublished(t, published)
	assert.Equal("sems2mqtt/station/st-1/availability", av.Topic)
	assert.Equal("offline", av.Payload)

	// events without a topic are ignored
	es.Publish(domain.StationsDiscoveredEvent{Account: "test"})

	bridge := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	_, err = context.RequestFuture(pid, domain.PublishDiscoveryRequest{
		Sensors: domain.BridgeSensors(bridge),
		Buttons: domain.BridgeButtons(bridge),
	}, 2*time.Second).Result()
	require.NoError(err)
	assert.Equal("homeassistant/binary_sensor/"+bridge.Id+"/bridge/config", receivePublished(t, published).Topic)
	assert.Equal("homeassistant/button/"+bridge.Id+"/refresh/config", receivePublished(t, published).Topic)

	res, err := context.RequestFuture(pid, domain.PublishSensorUpdateRequest{
		Event: domain.BridgeStateUpdateEvent{Value: true},
	}, 2*time.Second).Result()
	require.NoError(err)
	assert.IsType(domain.PublishSensorUpdateResponse{}, res)
	bridgeState := receivePublished(t, published)
	assert.Equal("sems2mqtt/bridge/state", bridgeState.Topic)
	assert.Equal("online", bridgeState.Payload)

	res, err = context.RequestFuture(pid, domain.PublishMessageRequest{
		Topic:   "sems2mqtt/custom",
		Payload: "hello",
	}, 2*time.Second).Result()
	require.NoError(err)
	assert.IsType(domain.PublishMessageResponse{}, res)
	assert.Equal(PublishedMessage{Topic: "sems2mqtt/custom", Payload: "hello"}, receivePublished(t, published))

	context.Stop(pid)

	time.Sleep(100 * time.Millisecond)

	as.Shutdown()
}
