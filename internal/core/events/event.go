package events

import (
	"sort"

	. "github.com/berfenger/sems2mqtt/internal/core/domain"
)

func ReadingToUpdateEvents(stationId string, r *Reading) []any {
	var events []any

	// all station values on one state topic
	events = append(events, StationStateUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: stationId,
		},
		StationId: stationId,
		Values:    SensorValues(r),
	})
	events = append(events, StationAvailabilityUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: stationId,
		},
		StationId: stationId,
		Available: true,
	})

	return events
}

func StationUnavailableEvent(stationId string) StationAvailabilityUpdateEvent {
	return StationAvailabilityUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: stationId,
		},
		StationId: stationId,
		Available: false,
	}
}

// PollResultToUpdateEvents converts a cycle outcome to MQTT events. Stations
// in known that the cycle did not read are marked unavailable, so an account
// failure takes all of them offline.
func PollResultToUpdateEvents(res *PollResult, known []string) []any {
	var events []any

	seen := make(map[string]bool)
	for _, id := range sortedStationIds(res) {
		seen[id] = true
		st := res.Stations[id]
		if st.Ok() {
			events = append(events, ReadingToUpdateEvents(id, st.Reading)...)
		} else {
			events = append(events, StationUnavailableEvent(id))
		}
	}
	for _, id := range known {
		if !seen[id] {
			seen[id] = true
			events = append(events, StationUnavailableEvent(id))
		}
	}

	return events
}

// DiscoveredStations lists the stations of a cycle with what discovery needs
// to build their entities. A failed station keeps its description from prev,
// stations never read successfully are left out.
func DiscoveredStations(res *PollResult, prev []DiscoveredStation) []DiscoveredStation {
	previous := make(map[string]DiscoveredStation)
	for _, st := range prev {
		previous[st.Station.ID] = st
	}
	var stations []DiscoveredStation
	for _, id := range sortedStationIds(res) {
		st := res.Stations[id]
		if !st.Ok() {
			if p, ok := previous[id]; ok {
				stations = append(stations, p)
			}
			continue
		}
		stations = append(stations, DiscoveredStation{
			Station:      st.Reading.Station,
			BatteryUnits: len(st.Reading.Battery.Units),
			Currency:     st.Reading.System.Currency,
		})
	}
	return stations
}

// StationsChanged reports whether next differs from prev in stations or in
// how they are described.
func StationsChanged(prev []DiscoveredStation, next []DiscoveredStation) bool {
	if len(prev) != len(next) {
		return true
	}
	for i := range prev {
		if !prev[i].Equal(next[i]) {
			return true
		}
	}
	return false
}

func sortedStationIds(res *PollResult) []string {
	ids := make([]string, 0, len(res.Stations))
	for id := range res.Stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
