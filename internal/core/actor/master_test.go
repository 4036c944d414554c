package actor

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	adactor "github.com/berfenger/sems2mqtt/internal/adapter/actor"
	"github.com/berfenger/sems2mqtt/internal/core/domain"
	"github.com/berfenger/sems2mqtt/internal/core/service"
	"github.com/berfenger/sems2mqtt/internal/util"
	"github.com/berfenger/sems2mqtt/internal/util/actorutil"
	"github.com/berfenger/sems2mqtt/pkg/sems"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// waitForTopic drains published until a message on topic shows up.
func waitForTopic(t *testing.T, published <-chan adactor.PublishedMessage, topic string) adactor.PublishedMessage {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-published:
			if msg.Topic == topic {
				return msg
			}
		case <-timeout:
			t.Fatalf("nothing published on %s", topic)
			return adactor.PublishedMessage{}
		}
	}
}

func TestMasterActor(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	portal := sems.NewTestPortal(cfg.Accounts[0].Email, cfg.Accounts[0].Password)
	defer portal.Close()
	portal.AddStation(sems.NewTestStation("st-1"))
	cfg.Portal.BaseURL = portal.BaseURL()

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	store := service.NewResultStore()
	published := make(chan adactor.PublishedMessage, 1024)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, store, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, published, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(err)

	msg := waitForTopic(t, published, "sems2mqtt/station/st-1/state")
	var values map[string]any
	require.NoError(json.Unmarshal([]byte(msg.Payload), &values))
	assert.Equal(582.0, values[domain.SENSOR_ID_SOLAR_POWER])
	assert.True(msg.Retain)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(ok)
	assert.True(healthResp.Healthy, "healthy is true")

	// refresh from the API runs a second cycle
	res, err = context.RequestFuture(pid, domain.PollNowRequest{}, 5*time.Second).Result()
	require.NoError(err)
	pollResp, ok := res.(domain.PollNowResponse)
	assert.True(ok)
	assert.True(pollResp.Started)
	waitForTopic(t, published, "sems2mqtt/station/st-1/state")

	stored, ok := store.Get("test")
	assert.True(ok)
	assert.NoError(stored.Err)
	assert.GreaterOrEqual(portal.Requests(sems.PowerflowEndpoint), 2)

	context.Stop(pid)
	as.Shutdown()
}

func TestMasterActorUnhealthyAccount(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryEnable = false
	portal := sems.NewTestPortal(cfg.Accounts[0].Email, "another password")
	defer portal.Close()
	cfg.Portal.BaseURL = portal.BaseURL()

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	store := service.NewResultStore()
	published := make(chan adactor.PublishedMessage, 1024)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, store, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, published, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(err)

	require.Eventually(func() bool {
		_, ok := store.Get("test")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(ok)
	assert.False(healthResp.Healthy)
	assert.True(strings.Contains(healthResp.State, "poller_test"))

	context.Stop(pid)
	as.Shutdown()
}
