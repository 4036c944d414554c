package server

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/berfenger/sems2mqtt/internal/config"
	"github.com/berfenger/sems2mqtt/internal/core/domain"
	"github.com/berfenger/sems2mqtt/internal/core/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const configureTimeout = 45 * time.Second

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/readings", s.ReadingsHandler)
	api.GET("/readings/:station", s.StationReadingHandler)
	api.POST("/configure", s.ConfigureHandler)
	api.POST("/refresh", s.RefreshHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

type stationReadingDTO struct {
	StationId string          `json:"station_id"`
	Error     string          `json:"error,omitempty"`
	Reading   *domain.Reading `json:"reading,omitempty"`
}

type accountReadingsDTO struct {
	Account    string              `json:"account"`
	CycleId    string              `json:"cycle_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Error      string              `json:"error,omitempty"`
	Stations   []stationReadingDTO `json:"stations"`
}

func accountReadings(res domain.PollResult) accountReadingsDTO {
	dto := accountReadingsDTO{
		Account:    res.Account,
		CycleId:    res.CycleId,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Stations:   []stationReadingDTO{},
	}
	if res.Err != nil {
		dto.Error = res.Err.Error()
	}
	for _, id := range sortedIds(res.Stations) {
		dto.Stations = append(dto.Stations, stationReading(id, res.Stations[id]))
	}
	return dto
}

func stationReading(id string, st domain.StationResult) stationReadingDTO {
	dto := stationReadingDTO{StationId: id, Reading: st.Reading}
	if st.Err != nil {
		dto.Error = st.Err.Error()
	}
	return dto
}

func sortedIds(stations map[string]domain.StationResult) []string {
	ids := make([]string, 0, len(stations))
	for id := range stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReadingsHandler returns the last cycle of every account.
func (s *Server) ReadingsHandler(c echo.Context) error {
	all := s.store.All()
	dtos := make([]accountReadingsDTO, 0, len(all))
	for _, res := range all {
		dtos = append(dtos, accountReadings(res))
	}
	return c.JSON(http.StatusOK, dtos)
}

func (s *Server) StationReadingHandler(c echo.Context) error {
	id := c.Param("station")
	for _, res := range s.store.All() {
		if st, ok := res.Stations[id]; ok {
			return c.JSON(http.StatusOK, stationReading(id, st))
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "station not found")
}

type configureRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ConfigureHandler checks a set of credentials against the portal: it logs
// in and lists the stations of the account.
func (s *Server) ConfigureHandler(c echo.Context) error {
	var req configureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	account := config.AccountConfig{Email: req.Email, Password: req.Password}
	fetcher, sessions := service.NewAccountFetcher(&s.config, account, s.logger)
	defer sessions.Close()

	ctx, cancel := context.WithTimeout(c.Request().Context(), configureTimeout)
	defer cancel()
	result := service.Configure(ctx, sessions, fetcher)
	if result.Err != nil {
		s.logger.Info("configure failed", zap.String("account", account.Label()), zap.String("status", string(result.Status)), zap.Error(result.Err))
	} else {
		s.logger.Info("configure ok", zap.String("account", account.Label()), zap.Int("stations", len(result.Stations)))
	}
	return c.JSON(http.StatusOK, result)
}

type refreshResponse struct {
	Started bool `json:"started"`
}

func (s *Server) RefreshHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.PollNowRequest{}, 5*time.Second).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "refresh not available")
	}
	response, ok := res.(domain.PollNowResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError)
	}
	return c.JSON(http.StatusAccepted, refreshResponse{Started: response.Started})
}
