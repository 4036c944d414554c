package sems

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://au.semsportal.com/api/"

	LoginEndpoint        = "v2/common/crosslogin"
	StationsEndpoint     = "PowerStation/GetPowerStationIdByOwner"
	PlantDetailEndpoint  = "v3/PowerStation/GetPlantDetailByPowerstationId"
	PowerflowEndpoint    = "v2/PowerStation/GetPowerflow"
	ChartByPlantEndpoint = "v2/Charts/GetChartByPlant"

	// energy statistics chart (buy, sell, charge, discharge...)
	energyChartIndex = "7"
)

// ChartRange selects the horizon of the energy statistics chart.
type ChartRange string

const (
	ChartRangeAllTime ChartRange = "1"
	ChartRangeDay     ChartRange = "2"
	ChartRangeMonth   ChartRange = "3"
	ChartRangeYear    ChartRange = "4"
)

// vendor codes for expired or revoked tokens
var authErrorCodes = map[string]bool{
	"100001": true,
	"100002": true,
}

type TokenData struct {
	UID       string `json:"uid"`
	Timestamp int64  `json:"timestamp"`
	Token     string `json:"token"`
	Client    string `json:"client"`
	Version   string `json:"version"`
	Language  string `json:"language"`
}

var emptyToken = TokenData{Client: "web", Language: "en"}

// Encode returns the header form of the token: base64 of its compact JSON.
func (t TokenData) Encode() string {
	b, _ := json.Marshal(t)
	return base64.StdEncoding.EncodeToString(b)
}

type LoginResult struct {
	Token TokenData
	API   string
}

type envelope struct {
	HasError bool   `json:"hasError"`
	Code     any    `json:"code"`
	Msg      string `json:"msg"`
	Data     any    `json:"data"`
	API      string `json:"api"`
}

func (e envelope) code() string {
	switch c := e.Code.(type) {
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%.0f", c)
	default:
		return fmt.Sprint(c)
	}
}

// Client is a stateless transport to the SEMS portal. Session state lives in
// SessionManager.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	return NewClientWithHTTP(&http.Client{Timeout: timeout}, logger)
}

func NewClientWithHTTP(httpClient *http.Client, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger.With(zap.String("component", "sems")),
	}
}

func (c *Client) Login(ctx context.Context, baseURL string, cred Credential) (*LoginResult, error) {
	body := map[string]any{
		"account":             cred.Email,
		"pwd":                 cred.Password,
		"agreement_agreement": 0,
		"is_local":            false,
	}
	env, err := c.post(ctx, "login", baseURL, LoginEndpoint, emptyToken.Encode(), body)
	if err != nil {
		var semsErr *Error
		if errors.As(err, &semsErr) && semsErr.Kind == ErrTransient && env != nil {
			// the portal answered but refused the login
			return nil, newError("login", ErrAuthentication, errors.New(env.Msg))
		}
		return nil, err
	}

	data := AsObject(env.Data)
	if data == nil {
		return nil, newError("login", ErrSchema, errors.New("missing data"))
	}
	token, err := data.String("token")
	if err != nil || token == "" {
		return nil, newError("login", ErrSchema, errors.New("missing token"))
	}
	td := TokenData{
		Token:    token,
		Client:   "web",
		Language: "en",
	}
	td.UID, _ = data.String("uid")
	if ts, err := data.Float("timestamp"); err == nil {
		td.Timestamp = int64(ts)
	}
	if s, err := data.String("client"); err == nil && s != "" {
		td.Client = s
	}
	td.Version, _ = data.String("version")
	if s, err := data.String("language"); err == nil && s != "" {
		td.Language = s
	}

	return &LoginResult{Token: td, API: env.API}, nil
}

// StationIDs returns the raw data of the station list call. Its shape varies
// (string, list or object), see service.ListStations.
func (c *Client) StationIDs(ctx context.Context, sess Session) (any, error) {
	env, err := c.post(ctx, "list stations", sess.BaseURL, StationsEndpoint, sess.Header(), map[string]any{})
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) PlantDetail(ctx context.Context, sess Session, stationId string) (Object, error) {
	return c.stationObject(ctx, "plant detail", sess, PlantDetailEndpoint, map[string]any{
		"PowerStationId":  stationId,
		"powerstation_id": stationId,
	})
}

func (c *Client) Powerflow(ctx context.Context, sess Session, stationId string) (Object, error) {
	return c.stationObject(ctx, "powerflow", sess, PowerflowEndpoint, map[string]any{
		"PowerStationId":  stationId,
		"powerstation_id": stationId,
	})
}

// EnergyChart returns the energy statistics chart for the horizon containing date (YYYY-MM-DD).
func (c *Client) EnergyChart(ctx context.Context, sess Session, stationId string, date string, r ChartRange) (Object, error) {
	return c.stationObject(ctx, "energy chart", sess, ChartByPlantEndpoint, map[string]any{
		"Id":           stationId,
		"Date":         date,
		"Range":        string(r),
		"ChartIndexId": energyChartIndex,
		"IsDetailFull": false,
	})
}

func (c *Client) stationObject(ctx context.Context, op string, sess Session, endpoint string, body any) (Object, error) {
	env, err := c.post(ctx, op, sess.BaseURL, endpoint, sess.Header(), body)
	if err != nil {
		return nil, err
	}
	data := AsObject(env.Data)
	if data == nil {
		return nil, newError(op, ErrSchema, fmt.Errorf("data is %T", env.Data))
	}
	return data, nil
}

// post returns the decoded envelope whenever the portal answered, even with an error.
func (c *Client) post(ctx context.Context, op string, baseURL string, endpoint string, token string, body any) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newError(op, ErrSchema, err)
	}
	url := strings.TrimRight(baseURL, "/") + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, newError(op, ErrSchema, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("token", token)
	req.Header.Set("neutral", "4")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	c.logger.Debug("sems request", zap.String("op", op), zap.String("endpoint", endpoint))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(op, ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, newError(op, ErrAuthentication, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, newError(op, ErrTransient, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, newError(op, ErrSchema, fmt.Errorf("status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(op, ErrTransient, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, newError(op, ErrTransient, fmt.Errorf("decode response: %w", err))
	}
	if env.HasError {
		if authErrorCodes[env.code()] {
			return &env, newError(op, ErrAuthentication, fmt.Errorf("code %s: %s", env.code(), env.Msg))
		}
		c.logger.Warn("sems api error", zap.String("op", op), zap.String("code", env.code()), zap.String("msg", env.Msg))
		return &env, newError(op, ErrTransient, fmt.Errorf("code %s: %s", env.code(), env.Msg))
	}
	return &env, nil
}
