package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/sems2mqtt/internal/adapter/actor"
	"github.com/berfenger/sems2mqtt/internal/config"
	"github.com/berfenger/sems2mqtt/internal/core/actor"
	"github.com/berfenger/sems2mqtt/internal/core/service"
	"github.com/berfenger/sems2mqtt/internal/metrics"
	"github.com/berfenger/sems2mqtt/internal/server"
	"github.com/berfenger/sems2mqtt/internal/util/actorutil"
	"github.com/berfenger/sems2mqtt/pkg/sems"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	logger, err := buildLogger(cfg)
	if err != nil {
		slog.Error("logger", "error", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting sems2mqtt", zap.String("version", versioninfo.Short()), zap.Int("accounts", len(cfg.Accounts)))

	metrics.Init()

	// startup check, a failing account keeps polling
	checkAccounts(cfg, logger)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	store := service.NewResultStore()

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, store, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Error("spawn master", zap.Error(err))
		return
	}

	server := server.NewServer(*cfg, ctx, pid, store, logger)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => SEMS2MQTT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SEMS2MQTT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("sems2mqtt")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// single account from env
	if len(cfg.Accounts) == 0 && viper.GetString("account.email") != "" {
		cfg.Accounts = []config.AccountConfig{{
			Name:     viper.GetString("account.name"),
			Email:    viper.GetString("account.email"),
			Password: viper.GetString("account.password"),
		}}
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if err := config.CheckAccounts(cfg.Accounts); err != nil {
		return nil, err
	}

	// check bounds
	if cfg.Poll.Interval < 30*time.Second {
		return nil, errors.New("config param poll.interval should be >= 30s")
	}
	if cfg.Poll.CycleBudget <= 0 {
		return nil, errors.New("config param poll.cycle_budget should be > 0")
	}
	if cfg.Poll.MaxConcurrentStations < 1 {
		return nil, errors.New("config param poll.max_concurrent_stations should be >= 1")
	}
	if cfg.Portal.RequestTimeout <= 0 {
		return nil, errors.New("config param portal.request_timeout should be > 0")
	}
	if cfg.Portal.SessionMaxAge > 0 && cfg.Portal.RefreshMargin >= cfg.Portal.SessionMaxAge {
		return nil, errors.New("config param portal.refresh_margin must be < portal.session_max_age")
	}

	return &cfg, nil
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	if cfg.LogFile.Path == "" {
		return logger, nil
	}

	// tee to a rotated log file
	rotated, err := rotatelogs.New(
		cfg.LogFile.Path+".%Y%m%d%H",
		rotatelogs.WithLinkName(cfg.LogFile.Path),
		rotatelogs.WithMaxAge(cfg.LogFile.MaxAge),
		rotatelogs.WithRotationTime(cfg.LogFile.RotationTime),
	)
	if err != nil {
		return nil, fmt.Errorf("log file %s: %w", filepath.Base(cfg.LogFile.Path), err)
	}
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(rotated),
		zapCfg.Level,
	)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

// checkAccounts logs in with every account once and lists its stations.
func checkAccounts(cfg *config.Config, logger *zap.Logger) {
	for _, account := range cfg.Accounts {
		fetcher, sessions := service.NewAccountFetcher(cfg, account, logger)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Poll.CycleBudget)
		result := service.Configure(ctx, sessions, fetcher)
		cancel()
		sessions.Close()

		if result.Status == service.CONFIG_STATUS_OK {
			logger.Info("account ok", zap.String("account", account.Label()), zap.Int("stations", len(result.Stations)))
		} else {
			logger.Error("account check failed", zap.String("account", account.Label()),
				zap.String("status", string(result.Status)), zap.Error(result.Err))
		}
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "sems2mqtt")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("portal.base_url", sems.DefaultBaseURL)
	viper.SetDefault("portal.request_timeout", 20*time.Second)
	viper.SetDefault("portal.session_max_age", 6*time.Hour)
	viper.SetDefault("portal.refresh_margin", time.Minute)
	viper.SetDefault("poll.interval", 5*time.Minute)
	viper.SetDefault("poll.cycle_budget", 2*time.Minute)
	viper.SetDefault("poll.max_concurrent_stations", 4)
	viper.SetDefault("log_file.path", "")
	viper.SetDefault("log_file.max_age", 7*24*time.Hour)
	viper.SetDefault("log_file.rotation_time", 24*time.Hour)
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	accounts := make([]config.AccountConfig, len(cfg.Accounts))
	for i, account := range cfg.Accounts {
		account.Password = "*redacted*"
		accounts[i] = account
	}
	cfg.Accounts = accounts
	slog.Info("Using", "config", cfg)
}
