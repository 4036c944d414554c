package port

import (
	"context"

	"github.com/berfenger/sems2mqtt/pkg/sems"
)

// PortalClient is the stateless part of the vendor API used to read telemetry.
type PortalClient interface {
	StationIDs(ctx context.Context, sess sems.Session) (any, error)
	PlantDetail(ctx context.Context, sess sems.Session, stationId string) (sems.Object, error)
	Powerflow(ctx context.Context, sess sems.Session, stationId string) (sems.Object, error)
	EnergyChart(ctx context.Context, sess sems.Session, stationId string, date string, r sems.ChartRange) (sems.Object, error)
}

// SessionProvider hands out the session of one account.
type SessionProvider interface {
	EnsureSession(ctx context.Context) (sems.Session, error)
	Invalidate()
	Account() string
}

var _ PortalClient = (*sems.Client)(nil)
var _ SessionProvider = (*sems.SessionManager)(nil)
