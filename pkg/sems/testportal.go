package sems

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// TestStation is a power station served by TestPortal. Zero Fail* fields mean
// the call succeeds.
type TestStation struct {
	ID        string
	Detail    map[string]any
	Powerflow map[string]any
	Energy    map[ChartRange]map[string]any

	FailDetail    int
	FailPowerflow int
	FailEnergy    int
	Delay         time.Duration
}

// TestPortal is an in-process fake of the SEMS portal for tests.
type TestPortal struct {
	*httptest.Server

	Email    string
	Password string
	// Region, when set, makes login redirect to <server>/<Region>/api/.
	Region string

	mu            sync.Mutex
	stations      []*TestStation
	stationsData  any
	tokens        map[string]bool
	seq           int
	loginFailures int
	requests      []string
	cancelled     int
	chartDates    []string
}

func NewTestPortal(email string, password string) *TestPortal {
	p := &TestPortal{
		Email:    email,
		Password: password,
		tokens:   make(map[string]bool),
	}
	p.Server = httptest.NewServer(http.HandlerFunc(p.handle))
	return p
}

func (p *TestPortal) BaseURL() string {
	return p.URL + "/api/"
}

func (p *TestPortal) RegionURL() string {
	return p.URL + "/" + p.Region + "/api/"
}

func (p *TestPortal) AddStation(s *TestStation) *TestPortal {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stations = append(p.stations, s)
	return p
}

// SetStationsData overrides the data of the station list response.
func (p *TestPortal) SetStationsData(data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stationsData = data
}

// ExpireTokens revokes every token issued so far.
func (p *TestPortal) ExpireTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = make(map[string]bool)
}

// FailNextLogins makes the next n login calls answer 503.
func (p *TestPortal) FailNextLogins(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginFailures = n
}

// Requests counts the calls made to endpoint, on any region.
func (p *TestPortal) Requests(endpoint string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, path := range p.requests {
		if strings.HasSuffix(path, "/api/"+endpoint) {
			n++
		}
	}
	return n
}

// Cancelled counts the delayed calls the client gave up on.
func (p *TestPortal) Cancelled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

func (p *TestPortal) Paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

func (p *TestPortal) ChartDates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.chartDates...)
}

func (p *TestPortal) handle(w http.ResponseWriter, r *http.Request) {
	idx := strings.Index(r.URL.Path, "/api/")
	if idx < 0 {
		http.NotFound(w, r)
		return
	}
	endpoint := r.URL.Path[idx+len("/api/"):]
	body := Object{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	p.mu.Lock()
	p.requests = append(p.requests, r.URL.Path)
	station := p.station(body)
	p.mu.Unlock()

	if station != nil && station.Delay > 0 {
		select {
		case <-time.After(station.Delay):
		case <-r.Context().Done():
			p.mu.Lock()
			p.cancelled++
			p.mu.Unlock()
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if endpoint == LoginEndpoint {
		p.login(w, body)
		return
	}
	if !p.authorized(r.Header.Get("token")) {
		writeEnvelope(w, http.StatusOK, envelope{HasError: true, Code: 100002, Msg: "The authorization has expired, please log in again."})
		return
	}

	switch endpoint {
	case StationsEndpoint:
		writeEnvelope(w, http.StatusOK, envelope{Code: 0, Msg: "success", Data: p.stationList()})
	case PlantDetailEndpoint, PowerflowEndpoint, ChartByPlantEndpoint:
		if station == nil {
			writeEnvelope(w, http.StatusOK, envelope{HasError: true, Code: "R000", Msg: "power station not found"})
			return
		}
		p.stationCall(w, endpoint, station, body)
	default:
		http.NotFound(w, r)
	}
}

func (p *TestPortal) login(w http.ResponseWriter, body Object) {
	if p.loginFailures > 0 {
		p.loginFailures--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	account, _ := body.String("account")
	pwd, _ := body.String("pwd")
	if account != p.Email || pwd != p.Password {
		writeEnvelope(w, http.StatusOK, envelope{HasError: true, Code: 100005, Msg: "Email or password error."})
		return
	}
	p.seq++
	token := fmt.Sprintf("token-%d", p.seq)
	p.tokens[token] = true
	api := p.BaseURL()
	if p.Region != "" {
		api = p.RegionURL()
	}
	writeEnvelope(w, http.StatusOK, envelope{
		Msg: "Successful",
		Data: map[string]any{
			"uid":       "test-uid",
			"timestamp": 1733700000000,
			"token":     token,
			"client":    "web",
			"version":   "",
			"language":  "en",
		},
		API: api,
	})
}

func (p *TestPortal) authorized(header string) bool {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	var td TokenData
	if err := json.Unmarshal(raw, &td); err != nil {
		return false
	}
	return p.tokens[td.Token]
}

func (p *TestPortal) station(body Object) *TestStation {
	id, err := body.String("PowerStationId")
	if err != nil {
		id, _ = body.String("Id")
	}
	for _, s := range p.stations {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (p *TestPortal) stationList() any {
	if p.stationsData != nil {
		return p.stationsData
	}
	list := make([]any, 0, len(p.stations))
	for _, s := range p.stations {
		list = append(list, map[string]any{"id": s.ID})
	}
	return list
}

func (p *TestPortal) stationCall(w http.ResponseWriter, endpoint string, s *TestStation, body Object) {
	switch endpoint {
	case PlantDetailEndpoint:
		if s.FailDetail != 0 {
			w.WriteHeader(s.FailDetail)
			return
		}
		writeEnvelope(w, http.StatusOK, envelope{Msg: "success", Data: s.Detail})
	case PowerflowEndpoint:
		if s.FailPowerflow != 0 {
			w.WriteHeader(s.FailPowerflow)
			return
		}
		writeEnvelope(w, http.StatusOK, envelope{Msg: "success", Data: s.Powerflow})
	case ChartByPlantEndpoint:
		if s.FailEnergy != 0 {
			w.WriteHeader(s.FailEnergy)
			return
		}
		date, _ := body.String("Date")
		p.chartDates = append(p.chartDates, date)
		r, _ := body.String("Range")
		data := map[string]any{"lines": []any{}}
		if model, ok := s.Energy[ChartRange(r)]; ok {
			data["modelData"] = model
		}
		writeEnvelope(w, http.StatusOK, envelope{Msg: "success", Data: data})
	}
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// NewTestStation returns a station with a complete, online payload set:
// one battery unit, powerflow strings with units and energy for every range.
func NewTestStation(id string) *TestStation {
	return &TestStation{
		ID: id,
		Detail: map[string]any{
			"info": map[string]any{
				"powerstation_id":   id,
				"stationname":       "Station " + id,
				"address":           "1 Sunny Street",
				"capacity":          6.6,
				"battery_capacity":  9.8,
				"powerstation_type": "Residential",
				"status":            1,
				"local_date":        "2025-12-09 17:46:59",
				"time_span":         -10,
			},
			"kpi": map[string]any{
				"day_income":   3.52,
				"total_income": 1204.7,
				"currency":     "AUD",
			},
			"soc": []any{
				map[string]any{"power": 87, "sn": "LGES20240000000001", "status": 1},
			},
		},
		Powerflow: map[string]any{
			"powerflow": map[string]any{
				"pv":      "582.0W",
				"bettery": "-1252.0W",
				"load":    "1834.0W",
				"grid":    "0W",
			},
		},
		Energy: map[ChartRange]map[string]any{
			ChartRangeDay: {
				"sum": 12.5, "buy": 3.2, "sell": 4.1, "selfUseOfPv": 8.4,
				"charge": 5.0, "disCharge": 4.2, "consumptionOfLoad": 10.7,
			},
			ChartRangeMonth: {
				"sum": 210.0, "buy": 60.5, "sell": 70.25, "selfUseOfPv": 139.75,
				"charge": 80.0, "disCharge": 75.5, "consumptionOfLoad": 195.0,
			},
			ChartRangeYear: {
				"sum": 3100.0, "buy": 900.0, "sell": 1200.0, "selfUseOfPv": 1900.0,
				"charge": 1100.0, "disCharge": 1050.0, "consumptionOfLoad": 2800.0,
			},
			ChartRangeAllTime: {
				"sum": 5000.0, "buy": 1500.0, "sell": 2000.0, "selfUseOfPv": 3000.0,
				"charge": 1800.0, "disCharge": 1700.0, "consumptionOfLoad": 4500.0,
			},
		},
	}
}
