package actor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/berfenger/sems2mqtt/internal/config"
	"github.com/berfenger/sems2mqtt/internal/core/domain"
	"github.com/berfenger/sems2mqtt/internal/core/events"
	"github.com/berfenger/sems2mqtt/internal/core/service"
	"github.com/berfenger/sems2mqtt/internal/metrics"
	. "github.com/berfenger/sems2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// PollerActor runs the poll cycles of one account on a timer.
type PollerActor struct {
	ActorWithStates
	scheduler   *scheduler.TimerScheduler
	stash       *Stash
	config      *config.Config
	account     config.AccountConfig
	store       *service.ResultStore
	eventStream *eventstream.EventStream
	fetcher     *service.Fetcher
	closer      interface{ Close() }

	cancelTick  scheduler.CancelFunc
	cancelCycle context.CancelFunc
	last        *domain.PollResult
	known       []string
	discovered  []domain.DiscoveredStation

	logger *zap.Logger
}

type pollTick struct {
}

type pollCycleResult struct {
	Result domain.PollResult
}

func NewPollerActor(config *config.Config, account config.AccountConfig, store *service.ResultStore, eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	logger = ActorLogger(PollerActorId(account), logger)
	fetcher, sessions := service.NewAccountFetcher(config, account, logger)
	act := &PollerActor{
		config:      config,
		account:     account,
		store:       store,
		eventStream: eventStream,
		fetcher:     fetcher,
		closer:      sessions,
		stash:       &Stash{},
		logger:      logger,
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(PollerStartingState{
		actor: act,
	})
	return act
}

func PollerActorId(account config.AccountConfig) string {
	return fmt.Sprintf("%s_%s", domain.ACTOR_ID_POLLER, account.Label())
}

func (state *PollerActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type PollerStartingState struct {
	ActorState
	actor *PollerActor
}

func (state PollerStartingState) Name() string {
	return "starting"
}

func (state PollerStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("poller@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.seedFromStore()

		// first cycle runs right away
		ctx.Send(ctx.Self(), pollTick{})
		state.actor.Become(PollerIdleState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("poller@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type PollerIdleState struct {
	ActorState
	actor *PollerActor
}

func (state PollerIdleState) Name() string {
	return "idle"
}

func (state PollerIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case pollTick:
		state.actor.logger.Debug("poller@idle tick")
		state.actor.scheduleTick(ctx)
		state.actor.startCycle(ctx)
	case domain.PollNowRequest:
		state.actor.logger.Info("poller@idle refresh requested")
		state.actor.startCycle(ctx)
		ForRequest(msg).Respond(ctx, domain.PollNowResponse{Started: true})
	case domain.GetPollResultRequest:
		state.actor.respondResult(ctx, msg)
	case domain.ActorHealthRequest:
		state.actor.respondHealth(ctx, msg)
	case *actor.Stopping:
		state.actor.stop()
	case *actor.Restarting:
		state.actor.stop()
	default:
		state.actor.logger.Debug("poller@idle: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Polling state, stacked over idle while a cycle runs

type PollerPollingState struct {
	ActorState
	actor *PollerActor
}

func (state PollerPollingState) Name() string {
	return "polling"
}

func (state PollerPollingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case pollTick:
		state.actor.logger.Warn("poller@polling tick skipped, previous cycle still running")
		metrics.ObservePollCycle(state.actor.account.Label(), metrics.ResultSkipped, 0)
		state.actor.scheduleTick(ctx)
	case domain.PollNowRequest:
		state.actor.logger.Debug("poller@polling refresh skipped")
		ForRequest(msg).Respond(ctx, domain.PollNowResponse{Started: false})
	case pollCycleResult:
		state.actor.cancelCycle = nil
		state.actor.handleResult(msg.Result)
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case domain.GetPollResultRequest:
		state.actor.respondResult(ctx, msg)
	case domain.ActorHealthRequest:
		state.actor.respondHealth(ctx, msg)
	case *actor.Stopping:
		state.actor.stop()
	case *actor.Restarting:
		state.actor.stop()
	default:
		state.actor.logger.Debug("poller@polling: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) scheduleTick(ctx actor.Context) {
	if state.config.Poll.Interval <= 0 {
		return
	}
	state.cancelTick = state.scheduler.RequestOnce(state.config.Poll.Interval, ctx.Self(), pollTick{})
}

func (state *PollerActor) startCycle(ctx actor.Context) {
	cycleCtx, cancel := context.WithCancel(context.Background())
	state.cancelCycle = cancel
	fetcher := state.fetcher
	label := state.account.Label()

	task := NewBackgroundTaskNoError(ctx, func() *pollCycleResult {
		defer cancel()
		return &pollCycleResult{Result: fetcher.Poll(cycleCtx)}
	}).Recover(func(err error) pollCycleResult {
		cancel()
		now := time.Now()
		return pollCycleResult{Result: domain.PollResult{
			Account:    label,
			StartedAt:  now,
			FinishedAt: now,
			Stations:   map[string]domain.StationResult{},
			Err:        fmt.Errorf("poll cycle: %w", err),
		}}
	})
	if state.config.Poll.CycleBudget > 0 {
		// the fetcher enforces the budget itself
		task = task.WithTimeout(state.config.Poll.CycleBudget + 30*time.Second)
	}
	task.PipeToAsync(ctx.Self())
	state.BecomeStacked(PollerPollingState{
		actor: state,
	})
}

func (state *PollerActor) handleResult(res domain.PollResult) {
	label := state.account.Label()
	res.Account = label
	state.last = &res
	state.store.Put(res)

	result := metrics.ResultFor(res.Err)
	metrics.ObservePollCycle(label, result, res.FinishedAt.Sub(res.StartedAt))
	if res.Err != nil {
		state.logger.Error("poller: cycle failed", zap.String("cycle", res.CycleId), zap.Error(res.Err))
	} else {
		ok := len(res.Readings())
		metrics.SetPollStations(label, ok, len(res.Stations)-ok)
		state.logger.Info("poller: cycle done", zap.String("cycle", res.CycleId),
			zap.Int("stations", len(res.Stations)), zap.Int("failed", len(res.Stations)-ok),
			zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)))
	}

	for _, ev := range events.PollResultToUpdateEvents(&res, state.known) {
		state.eventStream.Publish(ev)
	}
	if res.Err != nil {
		return
	}

	state.known = stationIds(&res)

	discovered := events.DiscoveredStations(&res, state.discovered)
	if events.StationsChanged(state.discovered, discovered) {
		state.discovered = discovered
		state.eventStream.Publish(domain.StationsDiscoveredEvent{
			Account:  label,
			Stations: discovered,
		})
	}
}

// seedFromStore picks up the stations a previous incarnation already
// announced, so a failing first cycle still marks them unavailable.
func (state *PollerActor) seedFromStore() {
	prev, ok := state.store.Get(state.account.Label())
	if !ok {
		return
	}
	state.known = stationIds(&prev)
	state.discovered = events.DiscoveredStations(&prev, nil)
	state.logger.Debug("poller: seeded from last result", zap.String("cycle", prev.CycleId), zap.Int("stations", len(state.known)))
}

func stationIds(res *domain.PollResult) []string {
	ids := make([]string, 0, len(res.Stations))
	for id := range res.Stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (state *PollerActor) respondResult(ctx actor.Context, msg domain.GetPollResultRequest) {
	var res *domain.PollResult
	if state.last != nil {
		r := *state.last
		res = &r
	}
	ForRequest(msg).Respond(ctx, domain.GetPollResultResponse{Result: res})
}

func (state *PollerActor) respondHealth(ctx actor.Context, msg domain.ActorHealthRequest) {
	state.logger.Debug("poller: ActorHealthRequest", zap.String("state", state.StateName()))
	ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
		Id:      PollerActorId(state.account),
		Healthy: state.last == nil || state.last.Err == nil,
		State:   state.StateName(),
	})
}

func (state *PollerActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
	if state.cancelCycle != nil {
		state.logger.Debug("poller: cancelling cycle in flight")
		state.cancelCycle()
		state.cancelCycle = nil
	}
	state.closer.Close()
}
