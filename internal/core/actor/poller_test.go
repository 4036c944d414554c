package actor

import (
	"sync"
	"testing"
	"time"

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

type eventRecorder struct {
	mu     sync.Mutex
	events []any
}

func (r *eventRecorder) record(ev any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) discovered() []domain.StationsDiscoveredEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []domain.StationsDiscoveredEvent
	for _, ev := range r.events {
		if d, ok := ev.(domain.StationsDiscoveredEvent); ok {
			found = append(found, d)
		}
	}
	return found
}

func (r *eventRecorder) availability(stationId string) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []bool
	for _, ev := range r.events {
		if av, ok := ev.(domain.StationAvailabilityUpdateEvent); ok && av.StationId == stationId {
			found = append(found, av.Available)
		}
	}
	return found
}

func spawnPoller(t *testing.T, portal *sems.TestPortal, password string) (*actor.RootContext, *actor.PID, *service.ResultStore, *eventRecorder, func()) {
	return spawnPollerWithStore(t, portal, password, service.NewResultStore())
}

func spawnPollerWithStore(t *testing.T, portal *sems.TestPortal, password string, store *service.ResultStore) (*actor.RootContext, *actor.PID, *service.ResultStore, *eventRecorder, func()) {
	cfg := util.LoadTestConfig()
	cfg.Portal.BaseURL = portal.BaseURL()
	account := cfg.Accounts[0]
	account.Password = password

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)

	es := &eventstream.EventStream{}
	recorder := &eventRecorder{}
	sub := es.Subscribe(recorder.record)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&cfg, account, store, es, logger)
	})
	pid, err := as.Root.SpawnNamed(props, PollerActorId(account))
	require.NoError(t, err)

	return as.Root, pid, store, recorder, func() {
		es.Unsubscribe(sub)
		as.Root.Stop(pid)
		as.Shutdown()
	}
}

// lastResult is nil until the first cycle is done.
func lastResult(root *actor.RootContext, pid *actor.PID) *domain.PollResult {
	res, err := root.RequestFuture(pid, domain.GetPollResultRequest{}, 2*time.Second).Result()
	if err != nil {
		return nil
	}
	resp, ok := res.(domain.GetPollResultResponse)
	if !ok {
		return nil
	}
	return resp.Result
}

func TestPollerActorFirstCycle(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	portal.AddStation(sems.NewTestStation("st-1"))
	portal.AddStation(sems.NewTestStation("st-2"))

	root, pid, store, recorder, stop := spawnPoller(t, portal, "secret")
	defer stop()

	require.Eventually(func() bool {
		return lastResult(root, pid) != nil
	}, 5*time.Second, 50*time.Millisecond)

	res := lastResult(root, pid)
	require.NotNil(res)
	assert.NoError(res.Err)
	assert.Equal("test", res.Account)
	assert.Len(res.Readings(), 2)

	stored, ok := store.Get("test")
	assert.True(ok)
	assert.Equal(res.CycleId, stored.CycleId)

	discovered := recorder.discovered()
	require.Len(discovered, 1)
	assert.Equal("test", discovered[0].Account)
	assert.Len(discovered[0].Stations, 2)
	assert.Equal([]bool{true}, recorder.availability("st-1"))

	health, err := root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(err)
	assert.True(health.(domain.ActorHealthResponse).Healthy)
	assert.Equal("idle", health.(domain.ActorHealthResponse).State)

	// same stations again, no new discovery
	resp, err := root.RequestFuture(pid, domain.PollNowRequest{}, 2*time.Second).Result()
	require.NoError(err)
	assert.True(resp.(domain.PollNowResponse).Started)
	require.Eventually(func() bool {
		return len(recorder.availability("st-1")) == 2
	}, 5*time.Second, 50*time.Millisecond)
	assert.Len(recorder.discovered(), 1)
}

func TestPollerActorRefreshWhilePolling(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	station := sems.NewTestStation("st-1")
	station.Delay = 300 * time.Millisecond
	portal.AddStation(station)

	root, pid, _, _, stop := spawnPoller(t, portal, "secret")
	defer stop()

	// the first cycle starts right away and is slowed down by the station
	time.Sleep(100 * time.Millisecond)
	resp, err := root.RequestFuture(pid, domain.PollNowRequest{}, 2*time.Second).Result()
	require.NoError(err)
	assert.False(resp.(domain.PollNowResponse).Started)

	health, err := root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(err)
	assert.Equal("polling", health.(domain.ActorHealthResponse).State)

	require.Eventually(func() bool {
		return lastResult(root, pid) != nil
	}, 10*time.Second, 50*time.Millisecond)
	res := lastResult(root, pid)
	require.NotNil(res)
	assert.NoError(res.Err)
}

func TestPollerActorInvalidCredentials(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	portal.AddStation(sems.NewTestStation("st-1"))

	root, pid, _, recorder, stop := spawnPoller(t, portal, "wrong")
	defer stop()

	require.Eventually(func() bool {
		return lastResult(root, pid) != nil
	}, 5*time.Second, 50*time.Millisecond)

	res := lastResult(root, pid)
	require.NotNil(res)
	assert.True(sems.IsAuthentication(res.Err))
	assert.Empty(res.Stations)
	assert.Empty(recorder.discovered())

	health, err := root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(err)
	assert.False(health.(domain.ActorHealthResponse).Healthy)
}

func TestPollerActorFailingAfterRestartMarksKnownStations(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	portal.AddStation(sems.NewTestStation("st-1"))

	// left behind by a previous poller of the same account
	store := service.NewResultStore()
	reading := domain.NewReading(domain.Station{ID: "st-1", Name: "Home"}, time.Now())
	store.Put(domain.PollResult{
		CycleId:  "c-0",
		Account:  "test",
		Stations: map[string]domain.StationResult{"st-1": {Station: reading.Station, Reading: reading}},
	})

	root, pid, _, recorder, stop := spawnPollerWithStore(t, portal, "wrong", store)
	defer stop()

	require.Eventually(func() bool {
		return lastResult(root, pid) != nil
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(func() bool {
		return len(recorder.availability("st-1")) > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal([]bool{false}, recorder.availability("st-1"))
	assert.Empty(recorder.discovered())

	stored, ok := store.Get("test")
	require.True(ok)
	assert.True(sems.IsAuthentication(stored.Err))
}

func TestPollerActorStopCancelsCycleInFlight(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	station := sems.NewTestStation("st-1")
	station.Delay = 3 * time.Second
	portal.AddStation(station)

	root, pid, store, _, stop := spawnPoller(t, portal, "secret")
	defer stop()

	require.Eventually(func() bool {
		return portal.Requests(sems.PlantDetailEndpoint) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(root.StopFuture(pid).Wait())

	require.Eventually(func() bool {
		return portal.Cancelled() > 0
	}, 2*time.Second, 20*time.Millisecond)

	// the cancelled cycle never lands in the store
	time.Sleep(200 * time.Millisecond)
	_, ok := store.Get("test")
	assert.False(ok)
}
