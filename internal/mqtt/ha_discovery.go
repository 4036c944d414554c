package mqtt

import (
	"github.com/berfenger/sems2mqtt/internal/core/domain"
)

type HADiscoveryConfig struct {
	Device             HADiscoveryDevice         `json:"device"`
	StateTopic         string                    `json:"state_topic,omitempty"`
	CommandTopic       string                    `json:"command_topic,omitempty"`
	ValueTemplate      string                    `json:"value_template,omitempty"`
	StateClass         string                    `json:"state_class,omitempty"`
	DeviceClass        string                    `json:"device_class,omitempty"`
	UnitOfMeasurement  string                    `json:"unit_of_measurement,omitempty"`
	AvTopic            string                    `json:"availability_topic,omitempty"`
	Availability       []HADiscoveryAvailability `json:"availability,omitempty"`
	AvMode             string                    `json:"availability_mode,omitempty"`
	EntityCategory     string                    `json:"entity_category,omitempty"`
	Name               string                    `json:"name"`
	UniqueId           string                    `json:"unique_id"`
	Platform           string                    `json:"platform"`
	EnabledByDefault   *bool                     `json:"enabled_by_default,omitempty"`
	PayloadOn          string                    `json:"payload_on,omitempty"`
	PayloadOff         string                    `json:"payload_off,omitempty"`
	PayloadPress       string                    `json:"payload_press,omitempty"`
	Options            []string                  `json:"options,omitempty"`
	Icon               string                    `json:"icon,omitempty"`
	AttributesTopic    string                    `json:"json_attributes_topic,omitempty"`
	AttributesTemplate string                    `json:"json_attributes_template,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

type HADiscoveryAvailability struct {
	Topic string `json:"topic"`
}

func HADiscoverySensorTopic(client *MQTTClient, sensor domain.GenericSensor) string {
	return client.DiscoveryTopic(sensor.SensorType, sensor.Device.Id, sensor.Id)
}

func HADiscoveryButtonTopic(client *MQTTClient, button domain.GenericButton) string {
	return client.DiscoveryTopic("button", button.Device.Id, button.Id)
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	disConfig := HADiscoveryConfig{
		Device:            device(sensor.Device),
		StateClass:        sensor.StateClass,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.UnitOfMeasurement,
		EntityCategory:    sensor.EntityCategory,
		Name:              sensor.Name,
		UniqueId:          sensor.UniqueId,
		Icon:              sensor.Icon,
		EnabledByDefault:  sensor.EnabledByDefault,
		Options:           sensor.Options,
		Platform:          "mqtt",
	}
	switch {
	case sensor.Id == domain.SENSOR_ID_BRIDGE_STATE:
		disConfig.StateTopic = client.BridgeStateTopic()
		disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
		disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
	case sensor.StationId != "":
		disConfig.StateTopic = client.StationStateTopic(sensor.StationId)
		disConfig.ValueTemplate = sensor.ValueTemplate
		if sensor.AttributesTemplate != "" {
			disConfig.AttributesTopic = disConfig.StateTopic
			disConfig.AttributesTemplate = sensor.AttributesTemplate
		}
		// both the bridge and the station must be online
		disConfig.Availability = []HADiscoveryAvailability{
			{Topic: client.BridgeStateTopic()},
			{Topic: client.StationAvailabilityTopic(sensor.StationId)},
		}
		disConfig.AvMode = "all"
	default:
		disConfig.AvTopic = client.BridgeStateTopic()
	}
	return disConfig
}

func GenericButtonToHADiscoveryMessage(client *MQTTClient, button domain.GenericButton) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device:       device(button.Device),
		CommandTopic: client.ButtonCommandTopic(button.Id),
		AvTopic:      client.BridgeStateTopic(),
		Name:         button.Name,
		UniqueId:     button.UniqueId,
		Icon:         button.Icon,
		Platform:     "mqtt",
		PayloadPress: MQTT_PAYLOAD_PRESS,
	}
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
