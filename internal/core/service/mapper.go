package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/berfenger/sems2mqtt/internal/core/domain"
	"github.com/berfenger/sems2mqtt/pkg/sems"
)

const localDateLayout = "2006-01-02 15:04:05"

// StationPayload is the raw vendor data of one station for one poll. Nil
// sections failed or were not returned; their error, if any, is kept.
type StationPayload struct {
	Detail       sems.Object
	Powerflow    sems.Object
	PowerflowErr error
	Energy       map[domain.Horizon]sems.Object
	EnergyErr    map[domain.Horizon]error
}

type powerField struct {
	sensorId string
	keys     []string
	// vendor sign convention is opposite to the reading's
	negate bool
	set    func(p *domain.PowerReading, v domain.Value)
}

var powerFields = []powerField{
	{
		sensorId: domain.SENSOR_ID_SOLAR_POWER,
		keys:     []string{"pv"},
		set:      func(p *domain.PowerReading, v domain.Value) { p.Solar = v },
	},
	{
		sensorId: domain.SENSOR_ID_BATTERY_POWER,
		// "bettery" is how the portal spells it
		keys:   []string{"bettery", "battery"},
		negate: true,
		set:    func(p *domain.PowerReading, v domain.Value) { p.Battery = v },
	},
	{
		sensorId: domain.SENSOR_ID_LOAD_POWER,
		keys:     []string{"load"},
		set:      func(p *domain.PowerReading, v domain.Value) { p.Load = v },
	},
	{
		sensorId: domain.SENSOR_ID_GRID_POWER,
		keys:     []string{"grid"},
		set:      func(p *domain.PowerReading, v domain.Value) { p.Grid = v },
	},
}

// modelData keys, all documented in kWh
var energyKeys = map[domain.EnergyKind]string{
	domain.ENERGY_GENERATED:         "sum",
	domain.ENERGY_GRID_IMPORT:       "buy",
	domain.ENERGY_GRID_EXPORT:       "sell",
	domain.ENERGY_SELF_USE:          "selfUseOfPv",
	domain.ENERGY_CONSUMPTION:       "consumptionOfLoad",
	domain.ENERGY_BATTERY_CHARGE:    "charge",
	domain.ENERGY_BATTERY_DISCHARGE: "disCharge",
}

// MapReading converts the vendor payload of a station into a Reading. It never
// fails: fields that cannot be read are left unavailable and recorded in
// Reading.FieldErrors.
func MapReading(station domain.Station, payload StationPayload, fetchedAt time.Time) *domain.Reading {
	info := payload.Detail.Object("info")
	kpi := payload.Detail.Object("kpi")

	station = enrichStation(station, info)
	r := domain.NewReading(station, fetchedAt)

	mapSystem(r, info, kpi)
	mapPower(r, payload)
	mapEnergy(r, payload)
	mapBattery(r, payload.Detail, info)

	return r
}

// enrichStation fills name, capacity and model from the plant detail.
func enrichStation(station domain.Station, info sems.Object) domain.Station {
	if name, err := info.String("stationname"); err == nil && name != "" {
		station.Name = name
	}
	if address, err := info.String("address"); err == nil {
		station.Address = address
	}
	if model, err := info.String("powerstation_type"); err == nil {
		station.Model = model
	}
	if capacity, err := info.Float("capacity"); err == nil {
		station.CapacityKW = domain.Available(capacity)
	}
	return station
}

func mapSystem(r *domain.Reading, info sems.Object, kpi sems.Object) {
	if code, err := info.Float("status"); err == nil {
		r.System.Status = domain.StationStatusFromCode(int(code))
	} else {
		r.System.Status = domain.STATION_STATUS_UNKNOWN
		r.AddFieldError(domain.SENSOR_ID_STATUS, err)
	}

	if ts, err := parseLocalDate(info); err == nil {
		r.System.LastUpdate = &ts
	} else {
		r.AddFieldError(domain.SENSOR_ID_LAST_UPDATE, err)
	}

	r.System.CapacityKW = r.Station.CapacityKW
	if !r.System.CapacityKW.Valid {
		_, err := info.Float("capacity")
		r.AddFieldError(domain.SENSOR_ID_SOLAR_CAPACITY, err)
	}

	r.System.DailyIncome = floatField(r, kpi, "day_income", domain.SENSOR_ID_DAILY_INCOME)
	r.System.TotalIncome = floatField(r, kpi, "total_income", domain.SENSOR_ID_TOTAL_INCOME)
	if currency, err := kpi.String("currency"); err == nil && currency != "" {
		r.System.Currency = currency
	}
}

// parseLocalDate reads the plant local time. time_span is the negated UTC
// offset in hours (-10 for UTC+10).
func parseLocalDate(info sems.Object) (time.Time, error) {
	localDate, err := info.String("local_date")
	if err != nil {
		return time.Time{}, err
	}
	offset := 0.0
	if span, err := info.Float("time_span"); err == nil {
		offset = -span
	}
	zone := time.FixedZone(fmt.Sprintf("UTC%+g", offset), int(offset*3600))
	ts, err := time.ParseInLocation(localDateLayout, strings.TrimSpace(localDate), zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: local_date: %v", sems.ErrSchema, err)
	}
	return ts, nil
}

// plantDate returns the plant's local date (YYYY-MM-DD), used to query the
// energy charts. Falls back to now.
func plantDate(detail sems.Object, now time.Time) string {
	localDate, err := detail.Object("info").String("local_date")
	if err == nil {
		if date, _, _ := strings.Cut(strings.TrimSpace(localDate), " "); len(date) == len("2006-01-02") {
			return date
		}
	}
	return now.Format("2006-01-02")
}

func powerflowSection(payload StationPayload) sems.Object {
	if pf := payload.Powerflow.Object("powerflow"); len(pf) > 0 {
		return pf
	}
	return payload.Detail.Object("powerflow")
}

func mapPower(r *domain.Reading, payload StationPayload) {
	if r.System.Status == domain.STATION_STATUS_OFFLINE {
		for _, f := range powerFields {
			f.set(&r.Power, domain.Unavailable())
		}
		return
	}

	pf := powerflowSection(payload)
	for _, f := range powerFields {
		if pf == nil {
			err := payload.PowerflowErr
			if err == nil {
				err = fmt.Errorf("%w: powerflow missing", sems.ErrSchema)
			}
			r.AddFieldError(f.sensorId, err)
			f.set(&r.Power, domain.Unavailable())
			continue
		}
		v, err := powerValue(pf, f.keys)
		if err != nil {
			r.AddFieldError(f.sensorId, err)
			f.set(&r.Power, domain.Unavailable())
			continue
		}
		if f.negate && v != 0 {
			v = -v
		}
		f.set(&r.Power, domain.Available(v))
	}
}

func powerValue(pf sems.Object, keys []string) (float64, error) {
	var err error
	for _, key := range keys {
		var (
			v    float64
			unit string
		)
		v, unit, err = pf.Quantity(key, domain.UNIT_WATT)
		if err != nil {
			continue
		}
		return normalizePower(v, unit)
	}
	return 0, err
}

func mapEnergy(r *domain.Reading, payload StationPayload) {
	for _, h := range domain.Horizons {
		model := payload.Energy[h]
		for _, kind := range domain.EnergyKinds {
			sensorId := domain.EnergySensorId(kind, h)
			key, ok := energyKeys[kind]
			if !ok {
				r.AddFieldError(sensorId, fmt.Errorf("%w: no modelData key for %s", sems.ErrSchema, kind))
				continue
			}
			if model == nil {
				err := payload.EnergyErr[h]
				if err == nil {
					err = fmt.Errorf("%w: modelData missing", sems.ErrSchema)
				}
				r.AddFieldError(sensorId, err)
				continue
			}
			v, unit, err := model.Quantity(key, domain.UNIT_KILOWATT_HOUR)
			if err == nil {
				v, err = normalizeEnergy(v, unit)
			}
			if err != nil {
				r.AddFieldError(sensorId, err)
				continue
			}
			r.Energy.Set(h, kind, domain.Available(v))
		}
	}

	// the all-time chart does not include the current day
	for _, kind := range domain.EnergyKinds {
		allTime := r.Energy.Get(domain.HORIZON_ALL_TIME, kind)
		today := r.Energy.Get(domain.HORIZON_TODAY, kind)
		if allTime.Valid && today.Valid {
			r.Energy.Set(domain.HORIZON_ALL_TIME, kind, domain.Available(allTime.Value+today.Value))
		}
	}
}

func mapBattery(r *domain.Reading, detail sems.Object, info sems.Object) {
	r.Battery.CapacityKWh = floatField(r, info, "battery_capacity", domain.SENSOR_ID_BATTERY_CAPACITY)

	for i, entry := range detail.List("soc") {
		unit := domain.BatteryUnit{Index: i}
		obj := sems.AsObject(entry)
		if obj == nil {
			r.AddFieldError(domain.BatteryUnitSensorId(i), fmt.Errorf("%w: soc entry is %T", sems.ErrSchema, entry))
			r.Battery.Units = append(r.Battery.Units, unit)
			continue
		}
		unit.Serial, _ = obj.String("sn")
		if unit.Serial == "" {
			unit.Serial = fmt.Sprintf("Battery %d", i+1)
		}
		unit.Status, _ = obj.String("status")
		// "power" holds the state of charge in percent
		unit.SoC = floatField(r, obj, "power", domain.BatteryUnitSensorId(i))
		r.Battery.Units = append(r.Battery.Units, unit)
	}

	if len(r.Battery.Units) > 0 {
		r.Battery.SoC = r.Battery.Units[0].SoC
	} else {
		r.Battery.SoC = domain.Unavailable()
	}
}

func floatField(r *domain.Reading, o sems.Object, key string, sensorId string) domain.Value {
	v, err := o.Float(key)
	if err != nil {
		r.AddFieldError(sensorId, err)
		return domain.Unavailable()
	}
	return domain.Available(v)
}

func normalizePower(v float64, unit string) (float64, error) {
	switch unit {
	case "W", "w":
		return v, nil
	case "kW", "KW", "kw":
		return v * 1000, nil
	case "MW":
		return v * 1000 * 1000, nil
	}
	return 0, fmt.Errorf("%w: unknown power unit %q", sems.ErrSchema, unit)
}

func normalizeEnergy(v float64, unit string) (float64, error) {
	switch unit {
	case "Wh", "wh":
		return v / 1000, nil
	case "kWh", "KWh", "kwh":
		return v, nil
	case "MWh":
		return v * 1000, nil
	}
	return 0, fmt.Errorf("%w: unknown energy unit %q", sems.ErrSchema, unit)
}
