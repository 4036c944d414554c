package util

import (
	"time"

	"github.com/berfenger/sems2mqtt/internal/config"

	"go.uber.org/zap"
)

// LoadTestConfig returns a config pointing at a local broker. Portal
// settings are filled in by tests that run a fake portal.
func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Accounts: []config.AccountConfig{{
			Name:     "test",
			Email:    "owner@example.com",
			Password: "secret",
		}},
		Portal: config.PortalConfig{
			RequestTimeout: 5 * time.Second,
			SessionMaxAge:  6 * time.Hour,
			RefreshMargin:  time.Minute,
		},
		Poll: config.PollConfig{
			Interval:              time.Minute,
			CycleBudget:           30 * time.Second,
			MaxConcurrentStations: 2,
		},
		MQTT: config.MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "sems2mqtt",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
		Port: 8080,
	}
}
