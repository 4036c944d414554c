package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

// StationStateUpdateEvent carries every sensor value of a station, nil for unavailable.
type StationStateUpdateEvent struct {
	SensorUpdateEventMixIn
	StationId string
	Values    map[string]any
}

type StationAvailabilityUpdateEvent struct {
	SensorUpdateEventMixIn
	StationId string
	Available bool
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// DiscoveredStation is what discovery needs to describe a station device.
type DiscoveredStation struct {
	Station      Station
	BatteryUnits int
	Currency     string
}

func (s DiscoveredStation) Equal(other DiscoveredStation) bool {
	return s.Station.ID == other.Station.ID &&
		s.Station.Name == other.Station.Name &&
		s.Station.Model == other.Station.Model &&
		s.BatteryUnits == other.BatteryUnits &&
		s.Currency == other.Currency
}

type StationsDiscoveredEvent struct {
	Account  string
	Stations []DiscoveredStation
}
