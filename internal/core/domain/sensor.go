package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE     = "bridge"
	SENSOR_ID_SOLAR_POWER      = "solar_power"
	SENSOR_ID_BATTERY_POWER    = "battery_power"
	SENSOR_ID_LOAD_POWER       = "load_power"
	SENSOR_ID_GRID_POWER       = "grid_power"
	SENSOR_ID_BATTERY_SOC      = "battery_soc"
	SENSOR_ID_BATTERY_CAPACITY = "battery_capacity"
	SENSOR_ID_STATUS           = "status"
	SENSOR_ID_LAST_UPDATE      = "last_update"
	SENSOR_ID_DAILY_INCOME     = "daily_income"
	SENSOR_ID_TOTAL_INCOME     = "total_income"
	SENSOR_ID_SOLAR_CAPACITY   = "solar_capacity"
	BUTTON_ID_REFRESH          = "refresh"
	STATE_CLASS_MEASUREMENT    = "measurement"
	STATE_CLASS_TOTAL          = "total"
	STATE_CLASS_TOTAL_INC      = "total_increasing"
	DEVICE_CLASS_BATTERY       = "battery"
	DEVICE_CLASS_ENERGY        = "energy"
	DEVICE_CLASS_ENERGY_STORED = "energy_storage"
	DEVICE_CLASS_POWER         = "power"
	DEVICE_CLASS_MONETARY      = "monetary"
	DEVICE_CLASS_TIMESTAMP     = "timestamp"
	DEVICE_CLASS_ENUM          = "enum"
	DEVICE_CLASS_CONNECTIVITY  = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC    = "diagnostic"
	SENSOR_TYPE_SENSOR         = "sensor"
	SENSOR_TYPE_BINARY         = "binary_sensor"
	UNIT_WATT                  = "W"
	UNIT_KILOWATT              = "kW"
	UNIT_KILOWATT_HOUR         = "kWh"
	UNIT_PERCENT               = "%"
)

func EnergySensorId(kind EnergyKind, horizon Horizon) string {
	return fmt.Sprintf("%s_%s", kind, horizon)
}

func BatteryUnitSensorId(index int) string {
	return fmt.Sprintf("battery_unit_%d", index+1)
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("sems_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "SEMS2MQTT",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("SEMS2MQTT %s", md5HashShort(baseTopic)),
	}
}

func StationDevice(station Station, bridge Device) Device {
	name := station.Name
	if name == "" {
		name = station.Address
	}
	if name == "" {
		name = fmt.Sprintf("Station %s", station.ID)
	}
	model := station.Model
	if model == "" {
		model = "Solar Inverter System"
	}
	return Device{
		Id:           fmt.Sprintf("sems_station_%s", md5HashShort(station.ID)),
		Name:         name,
		Model:        model,
		Manufacturer: "SEMS Portal",
		ViaDevice:    bridge.Id,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridge Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridge,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Bridge state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridge.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

func BridgeButtons(bridge Device) []GenericButton {
	return []GenericButton{{
		Device:   bridge,
		Id:       BUTTON_ID_REFRESH,
		Name:     "Refresh now",
		UniqueId: uniqueId(bridge.Id, BUTTON_ID_REFRESH),
		Icon:     "mdi:refresh",
	}}
}

// sensorDef binds a sensor to the reading field it publishes.
type sensorDef struct {
	GenericSensor
	decimals   int
	value      func(r *Reading) any
	attributes func(r *Reading) map[string]any
}

func stationSensorDefs(units int, currency string) []sensorDef {
	var defs []sensorDef

	power := func(id, name, icon string, get func(r *Reading) Value) sensorDef {
		return sensorDef{
			GenericSensor: GenericSensor{
				Id:                id,
				Name:              name,
				UnitOfMeasurement: UNIT_WATT,
				DeviceClass:       DEVICE_CLASS_POWER,
				StateClass:        STATE_CLASS_MEASUREMENT,
				Icon:              icon,
			},
			decimals: 1,
			value:    func(r *Reading) any { return get(r) },
		}
	}
	defs = append(defs,
		power(SENSOR_ID_SOLAR_POWER, "Solar power", "mdi:solar-power", func(r *Reading) Value { return r.Power.Solar }),
		power(SENSOR_ID_BATTERY_POWER, "Battery power", "mdi:battery-charging", func(r *Reading) Value { return r.Power.Battery }),
		power(SENSOR_ID_LOAD_POWER, "Load power", "mdi:home-lightning-bolt", func(r *Reading) Value { return r.Power.Load }),
		power(SENSOR_ID_GRID_POWER, "Grid power", "mdi:transmission-tower", func(r *Reading) Value { return r.Power.Grid }),
	)

	for _, h := range Horizons {
		for _, k := range EnergyKinds {
			horizon, kind := h, k
			defs = append(defs, sensorDef{
				GenericSensor: GenericSensor{
					Id:                EnergySensorId(kind, horizon),
					Name:              fmt.Sprintf("%s %s", energyKindNames[kind], horizonNames[horizon]),
					UnitOfMeasurement: UNIT_KILOWATT_HOUR,
					DeviceClass:       DEVICE_CLASS_ENERGY,
					StateClass:        STATE_CLASS_TOTAL_INC,
				},
				decimals: 3,
				value:    func(r *Reading) any { return r.Energy.Get(horizon, kind) },
			})
		}
	}

	defs = append(defs, sensorDef{
		GenericSensor: GenericSensor{
			Id:                SENSOR_ID_BATTERY_SOC,
			Name:              "Battery state of charge",
			UnitOfMeasurement: UNIT_PERCENT,
			DeviceClass:       DEVICE_CLASS_BATTERY,
			StateClass:        STATE_CLASS_MEASUREMENT,
		},
		decimals: 1,
		value:    func(r *Reading) any { return r.Battery.SoC },
	}, sensorDef{
		GenericSensor: GenericSensor{
			Id:                SENSOR_ID_BATTERY_CAPACITY,
			Name:              "Battery capacity",
			UnitOfMeasurement: UNIT_KILOWATT_HOUR,
			DeviceClass:       DEVICE_CLASS_ENERGY_STORED,
			StateClass:        STATE_CLASS_MEASUREMENT,
			EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		},
		decimals: 2,
		value:    func(r *Reading) any { return r.Battery.CapacityKWh },
	})

	for i := 0; i < units; i++ {
		index := i
		defs = append(defs, sensorDef{
			GenericSensor: GenericSensor{
				Id:                BatteryUnitSensorId(index),
				Name:              fmt.Sprintf("Battery %d", index+1),
				UnitOfMeasurement: UNIT_PERCENT,
				DeviceClass:       DEVICE_CLASS_BATTERY,
				StateClass:        STATE_CLASS_MEASUREMENT,
			},
			decimals: 1,
			value: func(r *Reading) any {
				if index < len(r.Battery.Units) {
					return r.Battery.Units[index].SoC
				}
				return Unavailable()
			},
			attributes: func(r *Reading) map[string]any {
				if index >= len(r.Battery.Units) {
					return nil
				}
				unit := r.Battery.Units[index]
				return map[string]any{
					"serial_number": unit.Serial,
					"status":        unit.Status,
				}
			},
		})
	}

	statusOptions := make([]string, 0, len(StationStatuses))
	for _, s := range StationStatuses {
		statusOptions = append(statusOptions, string(s))
	}
	defs = append(defs, sensorDef{
		GenericSensor: GenericSensor{
			Id:          SENSOR_ID_STATUS,
			Name:        "Status",
			DeviceClass: DEVICE_CLASS_ENUM,
			Options:     statusOptions,
			Icon:        "mdi:solar-power-variant",
		},
		value: func(r *Reading) any { return string(r.System.Status) },
	}, sensorDef{
		GenericSensor: GenericSensor{
			Id:             SENSOR_ID_LAST_UPDATE,
			Name:           "Last update",
			DeviceClass:    DEVICE_CLASS_TIMESTAMP,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		},
		value: func(r *Reading) any {
			if r.System.LastUpdate == nil {
				return nil
			}
			return r.System.LastUpdate.Format(time.RFC3339)
		},
	}, sensorDef{
		GenericSensor: GenericSensor{
			Id:                SENSOR_ID_DAILY_INCOME,
			Name:              "Daily income",
			UnitOfMeasurement: currency,
			DeviceClass:       DEVICE_CLASS_MONETARY,
			StateClass:        STATE_CLASS_TOTAL,
			Icon:              "mdi:cash",
		},
		decimals: 2,
		value:    func(r *Reading) any { return r.System.DailyIncome },
	}, sensorDef{
		GenericSensor: GenericSensor{
			Id:                SENSOR_ID_TOTAL_INCOME,
			Name:              "Total income",
			UnitOfMeasurement: currency,
			DeviceClass:       DEVICE_CLASS_MONETARY,
			StateClass:        STATE_CLASS_TOTAL,
			Icon:              "mdi:cash-multiple",
		},
		decimals: 2,
		value:    func(r *Reading) any { return r.System.TotalIncome },
	}, sensorDef{
		GenericSensor: GenericSensor{
			Id:                SENSOR_ID_SOLAR_CAPACITY,
			Name:              "Installed solar capacity",
			UnitOfMeasurement: UNIT_KILOWATT,
			DeviceClass:       DEVICE_CLASS_POWER,
			EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		},
		decimals: 2,
		value:    func(r *Reading) any { return r.System.CapacityKW },
	})

	return defs
}

var energyKindNames = map[EnergyKind]string{
	ENERGY_GENERATED:         "Solar generation",
	ENERGY_GRID_IMPORT:       "Grid import",
	ENERGY_GRID_EXPORT:       "Grid export",
	ENERGY_SELF_USE:          "Self use",
	ENERGY_CONSUMPTION:       "Consumption",
	ENERGY_BATTERY_CHARGE:    "Battery charge",
	ENERGY_BATTERY_DISCHARGE: "Battery discharge",
}

var horizonNames = map[Horizon]string{
	HORIZON_TODAY:      "today",
	HORIZON_THIS_MONTH: "this month",
	HORIZON_THIS_YEAR:  "this year",
	HORIZON_ALL_TIME:   "all time",
}

// StationSensors lists the discovery entities of a station. Values are
// published together on the station state topic, each sensor extracts its
// own key with a value template.
func StationSensors(stationDevice Device, stationId string, batteryUnits int, currency string) []GenericSensor {
	if currency == "" {
		currency = DEFAULT_CURRENCY
	}
	defs := stationSensorDefs(batteryUnits, currency)
	sensors := make([]GenericSensor, 0, len(defs))
	for _, def := range defs {
		sensor := def.GenericSensor
		sensor.Device = stationDevice
		sensor.SensorType = SENSOR_TYPE_SENSOR
		sensor.StationId = stationId
		sensor.UniqueId = uniqueId(stationDevice.Id, sensor.Id)
		sensor.ValueTemplate = fmt.Sprintf("{{ value_json.%s }}", sensor.Id)
		if def.attributes != nil {
			sensor.AttributesTemplate = fmt.Sprintf("{{ value_json.%s | tojson }}", AttributesKey(sensor.Id))
		}
		sensors = append(sensors, sensor)
	}
	return sensors
}

// SensorValues flattens a reading into sensor id -> value. Unavailable
// values map to nil.
func SensorValues(r *Reading) map[string]any {
	defs := stationSensorDefs(len(r.Battery.Units), r.System.Currency)
	values := make(map[string]any, len(defs))
	for _, def := range defs {
		switch v := def.value(r).(type) {
		case Value:
			if v.Valid {
				values[def.Id] = round(v.Value, def.decimals)
			} else {
				values[def.Id] = nil
			}
		default:
			values[def.Id] = v
		}
		if def.attributes != nil {
			if attrs := def.attributes(r); attrs != nil {
				values[AttributesKey(def.Id)] = attrs
			}
		}
	}
	return values
}

// AttributesKey is where the extra attributes of a sensor live in the
// station state document.
func AttributesKey(sensorId string) string {
	return sensorId + "_attributes"
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
