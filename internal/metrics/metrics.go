package metrics

import (
	"sync"
	"time"

	"github.com/berfenger/sems2mqtt/pkg/sems"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "sems2mqtt_"

	ResultSuccess   = "success"
	ResultError     = "error"
	ResultAuthError = "auth_error"
	ResultTransient = "transient"
	ResultSkipped   = "skipped"
)

var (
	registerOnce sync.Once

	pollCycles        *prometheus.CounterVec
	pollCycleDuration *prometheus.HistogramVec
	pollStations      *prometheus.GaugeVec
	logins            *prometheus.CounterVec
	stationFetches    *prometheus.CounterVec
	fieldErrors       *prometheus.CounterVec
	mqttPublishErrors prometheus.Counter
)

// Init registers the metrics with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		pollCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_cycles_total",
				Help: "Poll cycles by account and result",
			},
			[]string{"account", "result"},
		)
		pollCycleDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_cycle_duration_seconds",
				Help:    "Poll cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		pollStations = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "poll_stations",
				Help: "Stations returned by the last cycle, by result",
			},
			[]string{"account", "result"},
		)
		logins = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "logins_total",
				Help: "Portal logins by result",
			},
			[]string{"result"},
		)
		stationFetches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "station_fetches_total",
				Help: "Station reading fetches by result",
			},
			[]string{"result"},
		)
		fieldErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "field_errors_total",
				Help: "Reading fields left unavailable, by sensor",
			},
			[]string{"sensor"},
		)
		mqttPublishErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "mqtt_publish_errors_total",
				Help: "Failed MQTT publishes",
			},
		)

		prometheus.MustRegister(
			pollCycles,
			pollCycleDuration,
			pollStations,
			logins,
			stationFetches,
			fieldErrors,
			mqttPublishErrors,
		)
	})
}

func ObservePollCycle(account string, result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if pollCycles != nil {
		pollCycles.WithLabelValues(account, result).Inc()
	}
	if pollCycleDuration != nil && result != ResultSkipped {
		pollCycleDuration.WithLabelValues(result).Observe(duration.Seconds())
	}
}

func SetPollStations(account string, ok int, failed int) {
	if pollStations == nil {
		return
	}
	pollStations.WithLabelValues(account, ResultSuccess).Set(float64(ok))
	pollStations.WithLabelValues(account, ResultError).Set(float64(failed))
}

func IncLogin(result string) {
	if logins != nil {
		logins.WithLabelValues(result).Inc()
	}
}

func IncStationFetch(result string) {
	if stationFetches != nil {
		stationFetches.WithLabelValues(result).Inc()
	}
}

func AddFieldErrors(sensorIds []string) {
	if fieldErrors == nil {
		return
	}
	for _, id := range sensorIds {
		fieldErrors.WithLabelValues(id).Inc()
	}
}

func IncMQTTPublishError() {
	if mqttPublishErrors != nil {
		mqttPublishErrors.Inc()
	}
}

// ResultFor labels an operation outcome by error class.
func ResultFor(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case sems.IsAuthentication(err):
		return ResultAuthError
	case sems.IsTransient(err):
		return ResultTransient
	}
	return ResultError
}
