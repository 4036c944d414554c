package service

import (
	"github.com/berfenger/sems2mqtt/internal/config"
	"github.com/berfenger/sems2mqtt/internal/metrics"
	"github.com/berfenger/sems2mqtt/pkg/sems"
	"go.uber.org/zap"
)

// NewAccountFetcher wires the portal client, the session manager and the
// fetcher of one account. The caller owns the session manager and must
// Close it.
func NewAccountFetcher(cfg *config.Config, account config.AccountConfig, logger *zap.Logger) (*Fetcher, *sems.SessionManager) {
	client := sems.NewClient(cfg.Portal.RequestTimeout, logger)
	sessions := sems.NewSessionManager(client, sems.Credential{
		Email:    account.Email,
		Password: account.Password,
	}, sems.SessionConfig{
		BaseURL:       cfg.Portal.BaseURL,
		MaxAge:        cfg.Portal.SessionMaxAge,
		RefreshMargin: cfg.Portal.RefreshMargin,
		OnLogin: func(err error) {
			metrics.IncLogin(metrics.ResultFor(err))
		},
	}, logger)
	fetcher := NewFetcher(client, sessions, FetcherConfig{
		MaxConcurrentStations: cfg.Poll.MaxConcurrentStations,
		CycleBudget:           cfg.Poll.CycleBudget,
	}, logger)
	return fetcher, sessions
}
