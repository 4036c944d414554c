package events

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/berfenger/sems2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReading(id string, units int) *domain.Reading {
	r := domain.NewReading(domain.Station{ID: id, Name: "Station " + id}, time.Now())
	r.Power.Solar = domain.Available(582.04)
	r.Power.Grid = domain.Unavailable()
	for i := 0; i < units; i++ {
		r.Battery.Units = append(r.Battery.Units, domain.BatteryUnit{Index: i, SoC: domain.Available(87), Serial: fmt.Sprintf("SN-%d", i), Status: "1"})
	}
	return r
}

func TestReadingToUpdateEvents(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	events := ReadingToUpdateEvents("st-1", testReading("st-1", 1))
	require.Len(events, 2)

	state, ok := events[0].(domain.StationStateUpdateEvent)
	require.True(ok)
	assert.Equal("st-1", state.StationId)
	assert.Equal(582.0, state.Values[domain.SENSOR_ID_SOLAR_POWER])
	assert.Nil(state.Values[domain.SENSOR_ID_GRID_POWER], "unavailable is null")
	assert.Contains(state.Values, domain.BatteryUnitSensorId(0))
	assert.Equal(map[string]any{"serial_number": "SN-0", "status": "1"},
		state.Values[domain.AttributesKey(domain.BatteryUnitSensorId(0))])

	av, ok := events[1].(domain.StationAvailabilityUpdateEvent)
	require.True(ok)
	assert.True(av.Available)
}

func TestPollResultToUpdateEvents(t *testing.T) {

	assert := assert.New(t)

	res := &domain.PollResult{
		Stations: map[string]domain.StationResult{
			"st-2": {Station: domain.Station{ID: "st-2"}, Err: errors.New("boom")},
			"st-1": {Station: domain.Station{ID: "st-1"}, Reading: testReading("st-1", 0)},
		},
	}
	events := PollResultToUpdateEvents(res, []string{"st-1", "st-2", "st-3"})

	assert.Len(events, 4)
	assert.IsType(domain.StationStateUpdateEvent{}, events[0])
	assert.Equal(StationUnavailableEvent("st-2"), events[2])
	assert.Equal(StationUnavailableEvent("st-3"), events[3], "vanished station goes offline")
}

func TestPollResultAccountFailure(t *testing.T) {

	assert := assert.New(t)

	res := &domain.PollResult{Err: errors.New("login"), Stations: map[string]domain.StationResult{}}
	events := PollResultToUpdateEvents(res, []string{"st-1", "st-2"})

	assert.Equal([]any{StationUnavailableEvent("st-1"), StationUnavailableEvent("st-2")}, events)
}

func TestDiscoveredStations(t *testing.T) {

	assert := assert.New(t)

	res := &domain.PollResult{
		Stations: map[string]domain.StationResult{
			"st-2": {Station: domain.Station{ID: "st-2"}, Reading: testReading("st-2", 2)},
			"st-1": {Station: domain.Station{ID: "st-1"}, Reading: testReading("st-1", 1)},
			"st-3": {Station: domain.Station{ID: "st-3"}, Err: errors.New("boom")},
		},
	}
	stations := DiscoveredStations(res, nil)
	assert.Len(stations, 2)
	assert.Equal("st-1", stations[0].Station.ID)
	assert.Equal(2, stations[1].BatteryUnits)
	assert.Equal(domain.DEFAULT_CURRENCY, stations[1].Currency)

	assert.False(StationsChanged(stations, DiscoveredStations(res, nil)))
	res.Stations["st-2"].Reading.Battery.Units = nil
	assert.True(StationsChanged(stations, DiscoveredStations(res, nil)), "battery units changed")
	assert.True(StationsChanged(nil, stations))
}

func TestDiscoveredStationsKeepsFailed(t *testing.T) {

	assert := assert.New(t)

	first := &domain.PollResult{
		Stations: map[string]domain.StationResult{
			"st-1": {Station: domain.Station{ID: "st-1"}, Reading: testReading("st-1", 1)},
		},
	}
	prev := DiscoveredStations(first, nil)

	second := &domain.PollResult{
		Stations: map[string]domain.StationResult{
			"st-1": {Station: domain.Station{ID: "st-1"}, Err: errors.New("boom")},
		},
	}
	next := DiscoveredStations(second, prev)
	assert.Equal(prev, next)
	assert.False(StationsChanged(prev, next), "a failing station does not trigger discovery")
}
