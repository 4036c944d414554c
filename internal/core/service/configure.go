package service

import (
	"context"

	"github.com/berfenger/sems2mqtt/internal/core/domain"
	"github.com/berfenger/sems2mqtt/internal/core/port"
	"github.com/berfenger/sems2mqtt/pkg/sems"
)

type ConfigStatus string

const (
	CONFIG_STATUS_OK                  ConfigStatus = "ok"
	CONFIG_STATUS_INVALID_CREDENTIALS ConfigStatus = "invalid_credentials"
	CONFIG_STATUS_NO_STATIONS_FOUND   ConfigStatus = "no_stations_found"
	CONFIG_STATUS_CANNOT_CONNECT      ConfigStatus = "cannot_connect"
)

type ConfigResult struct {
	Status   ConfigStatus     `json:"status"`
	Stations []domain.Station `json:"stations,omitempty"`
	Err      error            `json:"-"`
}

// Configure validates an account: it logs in and lists the stations.
func Configure(ctx context.Context, sessions port.SessionProvider, fetcher *Fetcher) ConfigResult {
	sess, err := sessions.EnsureSession(ctx)
	if err != nil {
		return configFailure(err)
	}
	stations, err := fetcher.ListStations(ctx, sess)
	if sems.IsAuthentication(err) {
		sessions.Invalidate()
		sess, err = sessions.EnsureSession(ctx)
		if err == nil {
			stations, err = fetcher.ListStations(ctx, sess)
		}
	}
	if err != nil {
		return configFailure(err)
	}
	if len(stations) == 0 {
		return ConfigResult{Status: CONFIG_STATUS_NO_STATIONS_FOUND, Err: sems.ErrNoStations}
	}
	return ConfigResult{Status: CONFIG_STATUS_OK, Stations: stations}
}

func configFailure(err error) ConfigResult {
	if sems.IsAuthentication(err) {
		return ConfigResult{Status: CONFIG_STATUS_INVALID_CREDENTIALS, Err: err}
	}
	return ConfigResult{Status: CONFIG_STATUS_CANNOT_CONNECT, Err: err}
}
