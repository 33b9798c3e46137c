package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/x10-bridge/internal/bridges/x10"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/config"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/logging"
)

// fakeBridge implements BridgeStatus for testing.
type fakeBridge struct {
	health      x10.HealthMessage
	stats       x10.BridgeStats
	descriptors []x10.DiscoveryDescriptor
	states      []x10.UnitState
}

func (f *fakeBridge) Health() x10.HealthMessage              { return f.health }
func (f *fakeBridge) Stats() x10.BridgeStats                 { return f.stats }
func (f *fakeBridge) Descriptors() []x10.DiscoveryDescriptor { return f.descriptors }
func (f *fakeBridge) LastStates() []x10.UnitState            { return f.states }

// fakeUnits implements UnitStore for testing.
type fakeUnits struct {
	units []x10.UnitActivity
	err   error
}

func (f *fakeUnits) Units(context.Context) ([]x10.UnitActivity, error) { return f.units, f.err }
func (f *fakeUnits) UnitCount(context.Context) (int, error)            { return len(f.units), f.err }

// fakeChecker implements HealthChecker for testing.
type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(context.Context) error { return f.err }

// fakeDB implements DBStats for testing.
type fakeDB struct{}

func (fakeDB) Stats() sql.DBStats { return sql.DBStats{OpenConnections: 1, Idle: 1} }

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		health: x10.HealthMessage{Bridge: "x10mqtt", Status: x10.HealthHealthy, MQTTConnected: true, MonitorPID: 42},
		stats:  x10.BridgeStats{CommandsExecuted: 5},
		descriptors: []x10.DiscoveryDescriptor{{
			Topic:        "homeassistant/switch/x10mqtt/x10_a1/config",
			Name:         "X10 Module A1",
			StateTopic:   "x10/stat/a1",
			CommandTopic: "x10/cmd/a1",
			UniqueID:     "x10mqtt_x10_a1",
		}},
		states: []x10.UnitState{
			{HouseCode: "A1", State: "ON"},
			{HouseCode: "B2", State: "OFF"},
		},
	}
}

func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Bridge == nil {
		deps.Bridge = newFakeBridge()
	}
	deps.Version = "test"
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func doGet(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Deps{Bridge: newFakeBridge()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without bridge should fail")
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		status     x10.HealthStatus
		wantStatus int
	}{
		{"healthy", x10.HealthHealthy, http.StatusOK},
		{"degraded", x10.HealthDegraded, http.StatusServiceUnavailable},
		{"starting", x10.HealthStarting, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := newFakeBridge()
			bridge.health.Status = tt.status
			srv := testServer(t, Deps{Bridge: bridge})

			rec := doGet(t, srv, "/api/v1/health")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var msg x10.HealthMessage
			decode(t, rec, &msg)
			if msg.Status != tt.status {
				t.Errorf("body status = %q, want %q", msg.Status, tt.status)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("X-Request-ID header not set")
			}
		})
	}
}

func TestHandleHealth_DependencyChecks(t *testing.T) {
	tests := []struct {
		name       string
		bridge     x10.HealthStatus
		checks     map[string]HealthChecker
		wantCode   int
		wantStatus x10.HealthStatus
		wantReason string
	}{
		{
			name:       "all checks pass",
			bridge:     x10.HealthHealthy,
			checks:     map[string]HealthChecker{"database": fakeChecker{}, "influxdb": fakeChecker{}},
			wantCode:   http.StatusOK,
			wantStatus: x10.HealthHealthy,
		},
		{
			name:       "influx sink down",
			bridge:     x10.HealthHealthy,
			checks:     map[string]HealthChecker{"database": fakeChecker{}, "influxdb": fakeChecker{err: errors.New("ping failed")}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: x10.HealthDegraded,
			wantReason: "influxdb check failed",
		},
		{
			name:       "starting keeps its reason",
			bridge:     x10.HealthStarting,
			checks:     map[string]HealthChecker{"database": fakeChecker{err: errors.New("locked")}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: x10.HealthStarting,
			wantReason: "waiting for heyu monitor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := newFakeBridge()
			bridge.health.Status = tt.bridge
			if tt.bridge == x10.HealthStarting {
				bridge.health.Reason = "waiting for heyu monitor"
			}
			srv := testServer(t, Deps{Bridge: bridge, Checks: tt.checks})

			rec := doGet(t, srv, "/api/v1/health")
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp HealthResponse
			decode(t, rec, &resp)
			if resp.Status != tt.wantStatus || resp.Reason != tt.wantReason {
				t.Errorf("body = %q (%q), want %q (%q)", resp.Status, resp.Reason, tt.wantStatus, tt.wantReason)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Fatalf("checks = %v, want %d entries", resp.Checks, len(tt.checks))
			}
			for name, c := range tt.checks {
				want := "ok"
				if err := c.HealthCheck(context.Background()); err != nil {
					want = err.Error()
				}
				if resp.Checks[name] != want {
					t.Errorf("checks[%s] = %q, want %q", name, resp.Checks[name], want)
				}
			}
		})
	}
}

func TestHandleMetrics_UnitsRecorded(t *testing.T) {
	units := &fakeUnits{units: []x10.UnitActivity{{HouseCode: "A1"}, {HouseCode: "B2"}}}
	srv := testServer(t, Deps{Units: units})

	var m SystemMetrics
	decode(t, doGet(t, srv, "/api/v1/metrics"), &m)
	if m.UnitsRecorded == nil || *m.UnitsRecorded != 2 {
		t.Errorf("UnitsRecorded = %v, want 2", m.UnitsRecorded)
	}

	units.err = errors.New("db closed")
	m = SystemMetrics{}
	decode(t, doGet(t, srv, "/api/v1/metrics"), &m)
	if m.UnitsRecorded != nil {
		t.Errorf("UnitsRecorded = %d on store error, want omitted", *m.UnitsRecorded)
	}
}

func TestHandleMetrics(t *testing.T) {
	srv := testServer(t, Deps{DB: fakeDB{}})

	rec := doGet(t, srv, "/api/v1/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var m SystemMetrics
	decode(t, rec, &m)
	if m.Bridge.CommandsExecuted != 5 {
		t.Errorf("Bridge.CommandsExecuted = %d, want 5", m.Bridge.CommandsExecuted)
	}
	if !m.MQTT.Connected || m.MonitorPID != 42 {
		t.Errorf("MQTT/MonitorPID = %v/%d", m.MQTT.Connected, m.MonitorPID)
	}
	if m.Database == nil || m.Database.OpenConnections != 1 {
		t.Errorf("Database = %+v, want pool stats", m.Database)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("Runtime.Goroutines = 0")
	}
}

func TestHandleMetrics_NoDatabase(t *testing.T) {
	srv := testServer(t, Deps{})
	var m SystemMetrics
	decode(t, doGet(t, srv, "/api/v1/metrics"), &m)
	if m.Database != nil {
		t.Errorf("Database = %+v, want omitted", m.Database)
	}
}

func TestHandleDiscovery(t *testing.T) {
	srv := testServer(t, Deps{})

	var body struct {
		Count       int              `json:"count"`
		Descriptors []map[string]any `json:"descriptors"`
	}
	decode(t, doGet(t, srv, "/api/v1/discovery"), &body)

	if body.Count != 1 || len(body.Descriptors) != 1 {
		t.Fatalf("count = %d, descriptors = %d", body.Count, len(body.Descriptors))
	}
	d := body.Descriptors[0]
	if d["topic"] != "homeassistant/switch/x10mqtt/x10_a1/config" {
		t.Errorf("topic = %v", d["topic"])
	}
	if d["unique_id"] != "x10mqtt_x10_a1" {
		t.Errorf("unique_id = %v", d["unique_id"])
	}
}

func TestHandleListUnits(t *testing.T) {
	seen := time.Unix(1700000000, 0).UTC()
	units := &fakeUnits{units: []x10.UnitActivity{
		{HouseCode: "C3", LastSeen: seen, EventCount: 2, LastSource: "bus", LastState: "ON"},
		{HouseCode: "A1", LastSeen: seen, EventCount: 7, LastSource: "command", LastState: "OFF"},
	}}

	tests := []struct {
		name      string
		units     UnitStore
		wantCodes []string
	}{
		{"live only", nil, []string{"A1", "B2"}},
		{"with recorder", units, []string{"C3", "A1", "B2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, Deps{Units: tt.units})

			var body struct {
				Count int            `json:"count"`
				Units []UnitResponse `json:"units"`
			}
			decode(t, doGet(t, srv, "/api/v1/units"), &body)

			if body.Count != len(tt.wantCodes) {
				t.Fatalf("count = %d, want %d", body.Count, len(tt.wantCodes))
			}
			for i, want := range tt.wantCodes {
				if body.Units[i].HouseCode != want {
					t.Errorf("units[%d] = %s, want %s", i, body.Units[i].HouseCode, want)
				}
			}
		})
	}
}

func TestHandleListUnits_LiveStateWins(t *testing.T) {
	units := &fakeUnits{units: []x10.UnitActivity{{HouseCode: "A1", LastState: "OFF"}}}
	srv := testServer(t, Deps{Units: units})

	var u UnitResponse
	decode(t, doGet(t, srv, "/api/v1/units/a1"), &u)
	if u.State != "ON" {
		t.Errorf("State = %q, want live ON", u.State)
	}
	if u.Activity == nil {
		t.Error("Activity missing")
	}
}

func TestHandleListUnits_StoreError(t *testing.T) {
	srv := testServer(t, Deps{Units: &fakeUnits{err: errors.New("disk gone")}})

	rec := doGet(t, srv, "/api/v1/units")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHandleGetUnit(t *testing.T) {
	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/api/v1/units/A1", http.StatusOK},
		{"/api/v1/units/b2", http.StatusOK},
		{"/api/v1/units/P16", http.StatusNotFound},
		{"/api/v1/units/Z1", http.StatusBadRequest},
		{"/api/v1/units/A", http.StatusBadRequest},
	}

	srv := testServer(t, Deps{})
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := doGet(t, srv, tt.path)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	srv := testServer(t, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want abc123", got)
	}
}

func TestStartClose(t *testing.T) {
	srv := testServer(t, Deps{Config: config.APIConfig{Enabled: true, Host: "127.0.0.1", Port: 0}})

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/health", srv.Addr()))
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCloseNotStarted(t *testing.T) {
	srv := testServer(t, Deps{})
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
	if srv.Addr() != "" {
		t.Errorf("Addr() before Start = %q", srv.Addr())
	}
}
