package actor

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/berfenger/sems2mqtt/internal/config"
	"github.com/berfenger/sems2mqtt/internal/core/domain"
	"github.com/berfenger/sems2mqtt/internal/core/events"
	"github.com/berfenger/sems2mqtt/internal/core/service"
	"github.com/berfenger/sems2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// HADiscoveryActor publishes the Home Assistant discovery config of the
// bridge and of every station the pollers find.
type HADiscoveryActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	mqttActor      *actor.PID
	store          *service.ResultStore
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	bridge         domain.Device
	// discovered stations by id
	published map[string]domain.DiscoveredStation

	logger *zap.Logger
}

type stationsDiscovered struct {
	event domain.StationsDiscoveredEvent
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, store *service.ResultStore, eventStream *eventstream.EventStream, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		mqttActor:   mqttActor,
		store:       store,
		eventStream: eventStream,
		bridge:      domain.BridgeDevice(config.MQTT.BaseTopic),
		published:   make(map[string]domain.DiscoveredStation),
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		self := ctx.Self()
		root := ctx.ActorSystem().Root
		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			if ev, ok := value.(domain.StationsDiscoveredEvent); ok {
				root.Send(self, stationsDiscovered{event: ev})
			}
		})

		// Check MQTT actor healthy
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 10*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}

		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors: domain.BridgeSensors(state.bridge),
			Buttons: domain.BridgeButtons(state.bridge),
		})

		// stations found before a restart still need discovery
		for _, res := range state.store.All() {
			if res.Err == nil {
				state.publishStations(ctx, events.DiscoveredStations(&res, nil))
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case stationsDiscovered:
		state.logger.Debug("hadiscovery@default StationsDiscoveredEvent", zap.String("account", msg.event.Account), zap.Int("stations", len(msg.event.Stations)))
		state.publishStations(ctx, msg.event.Stations)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   "idle",
		})
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("hadiscovery@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// publishStations sends the discovery config of every station whose
// description changed since it was last published.
func (state *HADiscoveryActor) publishStations(ctx actor.Context, stations []domain.DiscoveredStation) {
	var sensors []domain.GenericSensor
	for _, st := range stations {
		if prev, ok := state.published[st.Station.ID]; ok && prev.Equal(st) {
			continue
		}
		state.published[st.Station.ID] = st

		stationDevice := domain.StationDevice(st.Station, state.bridge)
		stationSensors := domain.StationSensors(stationDevice, st.Station.ID, st.BatteryUnits, st.Currency)
		for i := range stationSensors {
			if i > 0 {
				stationSensors[i].Device = domain.IdDevice(stationDevice)
			}
			sensors = append(sensors, stationSensors[i])
		}
	}
	if len(sensors) == 0 {
		return
	}
	state.logger.Info("hadiscovery: publishing stations", zap.Strings("stations", state.publishedIds()))
	ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors: sensors,
	})
}

func (state *HADiscoveryActor) publishedIds() []string {
	ids := make([]string, 0, len(state.published))
	for id := range state.published {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (state *HADiscoveryActor) stop() {
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
}
