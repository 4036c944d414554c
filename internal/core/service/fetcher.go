package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/berfenger/sems2mqtt/internal/core/domain"
	"github.com/berfenger/sems2mqtt/internal/core/port"
	"github.com/berfenger/sems2mqtt/internal/metrics"
	"github.com/berfenger/sems2mqtt/pkg/sems"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

var horizonRanges = map[domain.Horizon]sems.ChartRange{
	domain.HORIZON_TODAY:      sems.ChartRangeDay,
	domain.HORIZON_THIS_MONTH: sems.ChartRangeMonth,
	domain.HORIZON_THIS_YEAR:  sems.ChartRangeYear,
	domain.HORIZON_ALL_TIME:   sems.ChartRangeAllTime,
}

type FetcherConfig struct {
	MaxConcurrentStations int
	CycleBudget           time.Duration
}

// Fetcher reads the telemetry of every station of one account.
type Fetcher struct {
	client   port.PortalClient
	sessions port.SessionProvider
	config   FetcherConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewFetcher(client port.PortalClient, sessions port.SessionProvider, config FetcherConfig, logger *zap.Logger) *Fetcher {
	if config.MaxConcurrentStations <= 0 {
		config.MaxConcurrentStations = 1
	}
	return &Fetcher{
		client:   client,
		sessions: sessions,
		config:   config,
		logger:   logger.With(zap.String("account", sessions.Account())),
		now:      time.Now,
	}
}

func (f *Fetcher) WithClock(now func() time.Time) *Fetcher {
	f.now = now
	return f
}

// ListStations returns the stations registered to the session's account.
func (f *Fetcher) ListStations(ctx context.Context, sess sems.Session) ([]domain.Station, error) {
	data, err := retryTransient(ctx, func() (any, error) {
		return f.client.StationIDs(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return parseStations(data)
}

// parseStations accepts every shape the portal uses for the station list: a
// bare id, a list of ids or objects, a single object or an object keyed by id.
func parseStations(data any) ([]domain.Station, error) {
	var stations []domain.Station
	switch d := data.(type) {
	case nil:
	case string:
		if d != "" {
			stations = append(stations, domain.Station{ID: d})
		}
	case []any:
		for _, item := range d {
			if st, ok := stationFromItem("", item); ok {
				stations = append(stations, st)
			}
		}
	case map[string]any:
		obj := sems.Object(d)
		if obj.Has("id") {
			if st, ok := stationFromItem("", d); ok {
				stations = append(stations, st)
			}
			break
		}
		for id, item := range obj {
			if st, ok := stationFromItem(id, item); ok {
				stations = append(stations, st)
			}
		}
		sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })
	default:
		return nil, &sems.Error{Op: "list stations", Kind: sems.ErrSchema, Err: fmt.Errorf("data is %T", data)}
	}
	return stations, nil
}

func stationFromItem(id string, item any) (domain.Station, bool) {
	if s, ok := item.(string); ok {
		if id != "" {
			// keyed by id, value is the name
			return domain.Station{ID: id, Name: s}, true
		}
		return domain.Station{ID: s}, s != ""
	}
	obj := sems.AsObject(item)
	if id == "" {
		for _, key := range []string{"id", "powerstation_id", "PowerStationId"} {
			if v, err := obj.String(key); err == nil && v != "" {
				id = v
				break
			}
		}
	}
	if id == "" {
		return domain.Station{}, false
	}
	st := domain.Station{ID: id}
	for _, key := range []string{"name", "stationname"} {
		if v, err := obj.String(key); err == nil && v != "" {
			st.Name = v
			break
		}
	}
	return st, true
}

// FetchReading reads one station. Only a plant detail failure fails the
// station, powerflow and energy failures degrade their fields.
func (f *Fetcher) FetchReading(ctx context.Context, sess sems.Session, station domain.Station) (*domain.Reading, error) {
	reading, _, err := f.fetchReading(ctx, sess, station)
	return reading, err
}

func (f *Fetcher) fetchReading(ctx context.Context, sess sems.Session, station domain.Station) (*domain.Reading, bool, error) {
	logger := f.logger.With(zap.String("station", station.ID))
	authRejected := false

	detail, err := retryTransient(ctx, func() (sems.Object, error) {
		return f.client.PlantDetail(ctx, sess, station.ID)
	})
	if err != nil {
		return nil, sems.IsAuthentication(err), fmt.Errorf("plant detail: %w", err)
	}

	payload := StationPayload{
		Detail:    detail,
		Energy:    make(map[domain.Horizon]sems.Object, len(domain.Horizons)),
		EnergyErr: make(map[domain.Horizon]error),
	}

	payload.Powerflow, payload.PowerflowErr = retryTransient(ctx, func() (sems.Object, error) {
		return f.client.Powerflow(ctx, sess, station.ID)
	})
	if payload.PowerflowErr != nil {
		authRejected = authRejected || sems.IsAuthentication(payload.PowerflowErr)
		logger.Warn("powerflow unavailable", zap.Error(payload.PowerflowErr))
	}

	date := plantDate(detail, f.now())
	for _, h := range domain.Horizons {
		chart, err := retryTransient(ctx, func() (sems.Object, error) {
			return f.client.EnergyChart(ctx, sess, station.ID, date, horizonRanges[h])
		})
		if err != nil {
			authRejected = authRejected || sems.IsAuthentication(err)
			payload.EnergyErr[h] = err
			logger.Warn("energy chart unavailable", zap.String("horizon", string(h)), zap.Error(err))
			continue
		}
		if model := chart.Object("modelData"); model != nil {
			payload.Energy[h] = model
		}
	}

	reading := MapReading(station, payload, f.now())
	if len(reading.FieldErrors) > 0 {
		ids := make([]string, 0, len(reading.FieldErrors))
		for id := range reading.FieldErrors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		logger.Debug("fields unavailable", zap.Strings("sensors", ids))
		metrics.AddFieldErrors(ids)
	}
	return reading, authRejected, nil
}

// Poll runs one cycle: one session, one station list, then every station
// concurrently. Station failures stay in their StationResult.
func (f *Fetcher) Poll(ctx context.Context) domain.PollResult {
	result := domain.PollResult{
		CycleId:   uuid.NewString(),
		Account:   f.sessions.Account(),
		StartedAt: f.now(),
		Stations:  make(map[string]domain.StationResult),
	}
	logger := f.logger.With(zap.String("cycle", result.CycleId))

	if f.config.CycleBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.CycleBudget)
		defer cancel()
	}

	finish := func() domain.PollResult {
		result.FinishedAt = f.now()
		return result
	}

	logger.Debug("poll cycle", zap.String("state", "awaiting_session"))
	sess, err := f.sessions.EnsureSession(ctx)
	if err != nil {
		logger.Warn("poll cycle failed", zap.String("state", "failed"), zap.Error(err))
		result.Err = fmt.Errorf("session: %w", err)
		return finish()
	}

	logger.Debug("poll cycle", zap.String("state", "fetching_list"))
	stations, err := f.ListStations(ctx, sess)
	if sems.IsAuthentication(err) {
		// token revoked server side
		logger.Info("session rejected, logging in again")
		f.sessions.Invalidate()
		sess, err = f.sessions.EnsureSession(ctx)
		if err == nil {
			stations, err = f.ListStations(ctx, sess)
		}
	}
	if err != nil {
		logger.Warn("poll cycle failed", zap.String("state", "failed"), zap.Error(err))
		result.Err = fmt.Errorf("list stations: %w", err)
		return finish()
	}

	logger.Debug("poll cycle", zap.String("state", "fetching_reading"), zap.Int("stations", len(stations)))
	var (
		mu           sync.Mutex
		authRejected bool
	)
	p := pool.New().WithMaxGoroutines(f.config.MaxConcurrentStations)
	for _, station := range stations {
		p.Go(func() {
			reading, rejected, err := f.fetchReading(ctx, sess, station)
			metrics.IncStationFetch(metrics.ResultFor(err))
			res := domain.StationResult{Station: station, Reading: reading, Err: err}
			if reading != nil {
				res.Station = reading.Station
			}
			if err != nil {
				logger.Warn("station failed", zap.String("station", station.ID), zap.Error(err))
			}
			mu.Lock()
			defer mu.Unlock()
			authRejected = authRejected || rejected
			result.Stations[station.ID] = res
		})
	}
	p.Wait()

	if authRejected {
		// the next cycle logs in again
		f.sessions.Invalidate()
	}
	logger.Debug("poll cycle", zap.String("state", "mapped"))
	return finish()
}

// retryTransient calls fn again once when it fails with a transient error.
func retryTransient[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err != nil && sems.IsTransient(err) && ctx.Err() == nil {
		v, err = fn()
	}
	return v, err
}
