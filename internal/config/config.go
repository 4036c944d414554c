package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Accounts []AccountConfig `mapstructure:"accounts"`
	Portal   PortalConfig    `mapstructure:"portal"`
	Poll     PollConfig      `mapstructure:"poll"`
	MQTT     MQTTConfig      `mapstructure:"mqtt"`
	LogFile  LogFileConfig   `mapstructure:"log_file"`
	Port     uint            `mapstructure:"port"`
	HttpLog  bool            `mapstructure:"http_log"`
}

// AccountConfig holds the SEMS portal credentials of one account.
type AccountConfig struct {
	Name     string
	Email    string
	Password string
}

type PortalConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SessionMaxAge  time.Duration `mapstructure:"session_max_age"`
	RefreshMargin  time.Duration `mapstructure:"refresh_margin"`
}

type PollConfig struct {
	Interval              time.Duration
	CycleBudget           time.Duration `mapstructure:"cycle_budget"`
	MaxConcurrentStations int           `mapstructure:"max_concurrent_stations"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type LogFileConfig struct {
	Path         string
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// Label names an account in logs and metrics.
func (a AccountConfig) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Email
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

func CheckAccounts(accounts []AccountConfig) error {
	if len(accounts) == 0 {
		return errors.New("at least one account is required")
	}
	seen := make(map[string]bool)
	for i, a := range accounts {
		if a.Email == "" || a.Password == "" {
			return fmt.Errorf("account %d: email and password are required", i)
		}
		key := strings.ToLower(a.Email)
		if seen[key] {
			return fmt.Errorf("account %d: duplicated email", i)
		}
		seen[key] = true
	}
	return nil
}
