package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Value is a numeric reading that may be unavailable. Zero is a valid value.
type Value struct {
	Value float64
	Valid bool
}

func Available(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{Value: v, Valid: true}
}

func Unavailable() Value {
	return Value{}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Value)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Available(f)
	return nil
}

type StationStatus string

const (
	STATION_STATUS_ONLINE  StationStatus = "online"
	STATION_STATUS_OFFLINE StationStatus = "offline"
	STATION_STATUS_ERROR   StationStatus = "error"
	STATION_STATUS_WAITING StationStatus = "waiting"
	STATION_STATUS_UNKNOWN StationStatus = "unknown"
)

var StationStatuses = []StationStatus{
	STATION_STATUS_ONLINE,
	STATION_STATUS_OFFLINE,
	STATION_STATUS_ERROR,
	STATION_STATUS_WAITING,
	STATION_STATUS_UNKNOWN,
}

func StationStatusFromCode(code int) StationStatus {
	switch code {
	case -1:
		return STATION_STATUS_ERROR
	case 0:
		return STATION_STATUS_OFFLINE
	case 1:
		return STATION_STATUS_ONLINE
	case 2:
		return STATION_STATUS_WAITING
	}
	return STATION_STATUS_UNKNOWN
}

// Horizon is the reporting window of a cumulative energy value.
type Horizon string

const (
	HORIZON_TODAY      Horizon = "today"
	HORIZON_THIS_MONTH Horizon = "this_month"
	HORIZON_THIS_YEAR  Horizon = "this_year"
	HORIZON_ALL_TIME   Horizon = "all_time"
)

var Horizons = []Horizon{HORIZON_TODAY, HORIZON_THIS_MONTH, HORIZON_THIS_YEAR, HORIZON_ALL_TIME}

type EnergyKind string

const (
	ENERGY_GENERATED         EnergyKind = "generated"
	ENERGY_GRID_IMPORT       EnergyKind = "grid_import"
	ENERGY_GRID_EXPORT       EnergyKind = "grid_export"
	ENERGY_SELF_USE          EnergyKind = "self_use"
	ENERGY_CONSUMPTION       EnergyKind = "consumption"
	ENERGY_BATTERY_CHARGE    EnergyKind = "battery_charge"
	ENERGY_BATTERY_DISCHARGE EnergyKind = "battery_discharge"
)

var EnergyKinds = []EnergyKind{
	ENERGY_GENERATED,
	ENERGY_GRID_IMPORT,
	ENERGY_GRID_EXPORT,
	ENERGY_SELF_USE,
	ENERGY_CONSUMPTION,
	ENERGY_BATTERY_CHARGE,
	ENERGY_BATTERY_DISCHARGE,
}

type Station struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CapacityKW Value  `json:"capacity_kw"`
	Address    string `json:"address,omitempty"`
	Model      string `json:"model,omitempty"`
}

// PowerReading holds instantaneous power in W. Battery is positive when
// charging, grid is positive when importing.
type PowerReading struct {
	Solar   Value `json:"solar"`
	Battery Value `json:"battery"`
	Load    Value `json:"load"`
	Grid    Value `json:"grid"`
}

// EnergyReading holds cumulative energy in kWh.
type EnergyReading map[Horizon]map[EnergyKind]Value

func NewEnergyReading() EnergyReading {
	e := make(EnergyReading, len(Horizons))
	for _, h := range Horizons {
		e[h] = make(map[EnergyKind]Value, len(EnergyKinds))
		for _, k := range EnergyKinds {
			e[h][k] = Unavailable()
		}
	}
	return e
}

func (e EnergyReading) Get(h Horizon, k EnergyKind) Value {
	if e == nil || e[h] == nil {
		return Unavailable()
	}
	return e[h][k]
}

func (e EnergyReading) Set(h Horizon, k EnergyKind, v Value) {
	if e[h] == nil {
		e[h] = make(map[EnergyKind]Value)
	}
	e[h][k] = v
}

type BatteryUnit struct {
	Index  int    `json:"index"`
	Serial string `json:"serial"`
	Status string `json:"status"`
	SoC    Value  `json:"soc"`
}

type BatteryState struct {
	SoC         Value         `json:"soc"`
	CapacityKWh Value         `json:"capacity_kwh"`
	Units       []BatteryUnit `json:"units"`
}

type SystemState struct {
	Status      StationStatus `json:"status"`
	LastUpdate  *time.Time    `json:"last_update"`
	DailyIncome Value         `json:"daily_income"`
	TotalIncome Value         `json:"total_income"`
	Currency    string        `json:"currency"`
	CapacityKW  Value         `json:"capacity_kw"`
}

// Reading is the full telemetry of one station at one poll. Readings are
// rebuilt every poll and never merged.
type Reading struct {
	Station   Station       `json:"station"`
	FetchedAt time.Time     `json:"fetched_at"`
	Power     PowerReading  `json:"power"`
	Energy    EnergyReading `json:"energy"`
	Battery   BatteryState  `json:"battery"`
	System    SystemState   `json:"system"`
	// field errors by sensor id
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

func NewReading(station Station, fetchedAt time.Time) *Reading {
	return &Reading{
		Station:   station,
		FetchedAt: fetchedAt,
		Energy:    NewEnergyReading(),
		System: SystemState{
			Status:   STATION_STATUS_UNKNOWN,
			Currency: DEFAULT_CURRENCY,
		},
	}
}

func (r *Reading) AddFieldError(sensorId string, err error) {
	if r.FieldErrors == nil {
		r.FieldErrors = make(map[string]string)
	}
	r.FieldErrors[sensorId] = err.Error()
}

const DEFAULT_CURRENCY = "AUD"

type StationResult struct {
	Station Station
	Reading *Reading
	Err     error
}

func (r StationResult) Ok() bool {
	return r.Err == nil && r.Reading != nil
}

// PollResult is the outcome of one poll cycle of one account. Err is set
// for account level failures, in which case Stations is empty.
type PollResult struct {
	CycleId    string
	Account    string
	StartedAt  time.Time
	FinishedAt time.Time
	Stations   map[string]StationResult
	Err        error
}

func (r PollResult) Readings() map[string]*Reading {
	readings := make(map[string]*Reading)
	for id, res := range r.Stations {
		if res.Ok() {
			readings[id] = res.Reading
		}
	}
	return readings
}
