package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/berfenger/sems2mqtt/internal/core/domain"
	"github.com/berfenger/sems2mqtt/pkg/sems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFetcher(portal *sems.TestPortal, password string, cfg FetcherConfig) (*Fetcher, *sems.SessionManager) {
	logger := zap.NewNop()
	client := sems.NewClient(5*time.Second, logger)
	sessions := sems.NewSessionManager(client, sems.Credential{Email: portal.Email, Password: password},
		sems.SessionConfig{BaseURL: portal.BaseURL(), RefreshMargin: time.Minute}, logger)
	return NewFetcher(client, sessions, cfg, logger), sessions
}

func TestPollIsolatesStationFailures(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	broken := sems.NewTestStation("st-2")
	broken.FailDetail = http.StatusInternalServerError
	portal.AddStation(sems.NewTestStation("st-1")).AddStation(broken)

	fetcher, _ := newTestFetcher(portal, "secret", FetcherConfig{MaxConcurrentStations: 2, CycleBudget: time.Minute})
	result := fetcher.Poll(context.Background())

	require.NoError(result.Err)
	require.Len(result.Stations, 2)
	assert.NotEmpty(result.CycleId)

	ok := result.Stations["st-1"]
	assert.True(ok.Ok())
	assert.Equal("Station st-1", ok.Station.Name, "station enriched from detail")
	assert.Equal(domain.Available(582), ok.Reading.Power.Solar)

	failed := result.Stations["st-2"]
	assert.False(failed.Ok())
	assert.ErrorIs(failed.Err, sems.ErrTransient)
	assert.Len(result.Readings(), 1)

	// one retry for the failing detail call
	assert.Equal(3, portal.Requests(sems.PlantDetailEndpoint))
}

func TestPollReloginAfterTokenExpiry(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	portal.AddStation(sems.NewTestStation("st-1"))

	fetcher, sessions := newTestFetcher(portal, "secret", FetcherConfig{MaxConcurrentStations: 1})

	first := fetcher.Poll(context.Background())
	require.NoError(first.Err)

	portal.ExpireTokens()
	second := fetcher.Poll(context.Background())
	require.NoError(second.Err, "expired token is transparent")
	assert.True(second.Stations["st-1"].Ok())
	assert.Equal(2, sessions.Logins())
	assert.Equal(3, portal.Requests(sems.StationsEndpoint), "list retried once")
	assert.NotEqual(first.CycleId, second.CycleId)
}

func TestPollReusesSession(t *testing.T) {

	assert := assert.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	portal.AddStation(sems.NewTestStation("st-1"))

	fetcher, sessions := newTestFetcher(portal, "secret", FetcherConfig{MaxConcurrentStations: 1})
	for i := 0; i < 3; i++ {
		assert.NoError(fetcher.Poll(context.Background()).Err)
	}
	assert.Equal(1, sessions.Logins())
}

func TestPollLoginRejected(t *testing.T) {

	assert := assert.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	portal.AddStation(sems.NewTestStation("st-1"))

	fetcher, sessions := newTestFetcher(portal, "wrong", FetcherConfig{MaxConcurrentStations: 1})
	result := fetcher.Poll(context.Background())

	assert.ErrorIs(result.Err, sems.ErrAuthentication)
	assert.Empty(result.Stations)
	assert.Nil(sessions.Current())
	assert.Equal(0, portal.Requests(sems.StationsEndpoint))
}

func TestPollQueriesChartsWithPlantDate(t *testing.T) {

	assert := assert.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	portal.AddStation(sems.NewTestStation("st-1"))

	fetcher, _ := newTestFetcher(portal, "secret", FetcherConfig{MaxConcurrentStations: 1})
	fetcher.WithClock(func() time.Time { return time.Date(2025, 12, 8, 22, 0, 0, 0, time.UTC) })
	result := fetcher.Poll(context.Background())

	assert.NoError(result.Err)
	assert.Equal([]string{"2025-12-09", "2025-12-09", "2025-12-09", "2025-12-09"}, portal.ChartDates())
}

func TestPollPowerflowFailureDegradesFields(t *testing.T) {

	assert := assert.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	st := sems.NewTestStation("st-1")
	st.FailPowerflow = http.StatusBadGateway
	portal.AddStation(st)

	fetcher, _ := newTestFetcher(portal, "secret", FetcherConfig{MaxConcurrentStations: 1})
	res := fetcher.Poll(context.Background()).Stations["st-1"]

	assert.True(res.Ok(), "station still reported")
	assert.False(res.Reading.Power.Solar.Valid)
	assert.True(res.Reading.Energy.Get(domain.HORIZON_TODAY, domain.ENERGY_GENERATED).Valid)
	assert.Equal(2, portal.Requests(sems.PowerflowEndpoint))
}

func TestPollCycleBudget(t *testing.T) {

	assert := assert.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	slow := sems.NewTestStation("st-slow")
	slow.Delay = 3 * time.Second
	portal.AddStation(sems.NewTestStation("st-1")).AddStation(slow)

	fetcher, _ := newTestFetcher(portal, "secret", FetcherConfig{MaxConcurrentStations: 2, CycleBudget: 500 * time.Millisecond})
	start := time.Now()
	result := fetcher.Poll(context.Background())

	assert.Less(time.Since(start), 3*time.Second)
	assert.NoError(result.Err)
	assert.True(result.Stations["st-1"].Ok())
	assert.ErrorIs(result.Stations["st-slow"].Err, sems.ErrTransient)
}

func TestParseStations(t *testing.T) {

	tests := []struct {
		name string
		data any
		ids  []string
	}{
		{"single id", "st-1", []string{"st-1"}},
		{"empty string", "", nil},
		{"nil", nil, nil},
		{"list of ids", []any{"st-1", "st-2"}, []string{"st-1", "st-2"}},
		{"list of objects", []any{map[string]any{"id": "st-1"}, map[string]any{"powerstation_id": "st-2"}, map[string]any{"foo": 1}}, []string{"st-1", "st-2"}},
		{"single object", map[string]any{"id": "st-1", "name": "Home"}, []string{"st-1"}},
		{"keyed by id", map[string]any{"st-2": map[string]any{"name": "B"}, "st-1": map[string]any{"name": "A"}}, []string{"st-1", "st-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stations, err := parseStations(tt.data)
			assert.NoError(t, err)
			var ids []string
			for _, s := range stations {
				ids = append(ids, s.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}

	_, err := parseStations(42.0)
	assert.ErrorIs(t, err, sems.ErrSchema)

	stations, _ := parseStations(map[string]any{"st-2": map[string]any{"name": "B"}, "st-1": map[string]any{"name": "A"}})
	assert.Equal(t, "A", stations[0].Name)
}

func TestListStationsShapeFromPortal(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	portal := sems.NewTestPortal("owner@example.com", "secret")
	defer portal.Close()
	portal.SetStationsData("st-9")

	fetcher, sessions := newTestFetcher(portal, "secret", FetcherConfig{})
	sess, err := sessions.EnsureSession(context.Background())
	require.NoError(err)
	stations, err := fetcher.ListStations(context.Background(), sess)
	require.NoError(err)
	assert.Equal([]domain.Station{{ID: "st-9"}}, stations)
}
