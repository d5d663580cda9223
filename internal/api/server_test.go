package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/echonet-heatercooler/internal/accessory"
	"github.com/nerrad567/echonet-heatercooler/internal/heatercooler"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/config"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/logging"
	"github.com/nerrad567/echonet-heatercooler/internal/platform"
)

const testApplianceID = "0b1e5a44-2b0c-5f0e-9d8a-6f3e0c7d1a22"

// fakeAppliance records setter calls and applies them to its state.
type fakeAppliance struct {
	mu        sync.Mutex
	name      string
	state     heatercooler.State
	calls     []string
	refreshed chan struct{}
}

func newFakeAppliance(name string) *fakeAppliance {
	return &fakeAppliance{
		name: name,
		state: heatercooler.State{
			TargetMode:         heatercooler.ModeHeat,
			CurrentMode:        heatercooler.CurrentHeating,
			CurrentTemperature: 19,
		},
		refreshed: make(chan struct{}, 1),
	}
}

func (f *fakeAppliance) Name() string { return f.name }

func (f *fakeAppliance) Snapshot() heatercooler.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAppliance) OnChange(func(heatercooler.Update)) {}

func (f *fakeAppliance) Refresh(context.Context) {
	f.refreshed <- struct{}{}
}

func (f *fakeAppliance) record(call string, apply func(*heatercooler.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	apply(&f.state)
}

func (f *fakeAppliance) SetPower(on bool) {
	f.record("power", func(s *heatercooler.State) { s.Power = on })
}

func (f *fakeAppliance) SetTargetMode(m heatercooler.TargetMode) {
	f.record("mode", func(s *heatercooler.State) { s.TargetMode = m; s.CurrentMode = m.Current() })
}

func (f *fakeAppliance) SetHeatingSetpoint(c int) {
	f.record("heating", func(s *heatercooler.State) { s.HeatingSetpoint = &c })
}

func (f *fakeAppliance) SetCoolingSetpoint(c int) {
	f.record("cooling", func(s *heatercooler.State) { s.CoolingSetpoint = &c })
}

func (f *fakeAppliance) SetSwing(on bool) {
	f.record("swing", func(s *heatercooler.State) { s.Swing = on })
}

func (f *fakeAppliance) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakePlatform struct {
	entries []platform.Entry
	health  platform.Health
}

func (p *fakePlatform) Appliances() []platform.Entry { return p.entries }

func (p *fakePlatform) Appliance(id string) (platform.Entry, bool) {
	for _, e := range p.entries {
		if e.Record.ID == id {
			return e, true
		}
	}
	return platform.Entry{}, false
}

func (p *fakePlatform) Health() platform.Health { return p.health }

type fakeHistory struct {
	entries []accessory.HistoryEntry
	err     error
	limit   int
}

func (h *fakeHistory) History(_ context.Context, _ string, limit int) ([]accessory.HistoryEntry, error) {
	h.limit = limit
	return h.entries, h.err
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func testServer(t *testing.T, history HistoryReader, checks map[string]HealthChecker) (*Server, *fakeAppliance) {
	t.Helper()

	app := newFakeAppliance("Living room")
	plat := &fakePlatform{
		entries: []platform.Entry{{
			Record: accessory.Record{
				ID:          testApplianceID,
				Name:        "Living room",
				Address:     "192.168.1.40",
				ProductCode: "RAS-X40",
				LastSeen:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			},
			Appliance: app,
		}},
		health: platform.Health{Status: platform.StatusRunning, Appliances: 1},
	}

	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1"},
		Logger:   logging.Default(),
		Platform: plat,
		History:  history,
		Checks:   checks,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, app
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v (body %q)", err, rec.Body.String())
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Platform: &fakePlatform{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without platform should fail")
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, nil, map[string]HealthChecker{
		"database": checkFunc(func(context.Context) error { return nil }),
	})

	rec := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	decode(t, rec, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Platform.Status != platform.StatusRunning {
		t.Errorf("platform status = %q, want running", resp.Platform.Status)
	}
	if resp.Components["database"] != "ok" {
		t.Errorf("database = %q, want ok", resp.Components["database"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestHealth_Degraded(t *testing.T) {
	srv, _ := testServer(t, nil, map[string]HealthChecker{
		"mqtt": checkFunc(func(context.Context) error { return errors.New("not connected") }),
	})

	rec := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	decode(t, rec, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Components["mqtt"] != "not connected" {
		t.Errorf("mqtt = %q", resp.Components["mqtt"])
	}
}

func TestListAppliances(t *testing.T) {
	srv, _ := testServer(t, nil, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/appliances", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Appliances []applianceResponse `json:"appliances"`
		Count      int                 `json:"count"`
	}
	decode(t, rec, &resp)
	if resp.Count != 1 || len(resp.Appliances) != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	got := resp.Appliances[0]
	if got.ID != testApplianceID || got.Address != "192.168.1.40" || got.ProductCode != "RAS-X40" {
		t.Errorf("appliance = %+v", got)
	}
	if got.CurrentMode != "inactive" {
		t.Errorf("current_mode = %q, want inactive while powered off", got.CurrentMode)
	}
	if got.CurrentTemperature == nil || *got.CurrentTemperature != 19 {
		t.Errorf("current_temperature = %v, want 19", got.CurrentTemperature)
	}
}

func TestGetAppliance_NotFound(t *testing.T) {
	srv, _ := testServer(t, nil, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/appliances/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp ErrorResponse
	decode(t, rec, &resp)
	if resp.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeNotFound)
	}
}

func TestUpdateAppliance(t *testing.T) {
	srv, app := testServer(t, nil, nil)

	rec := do(t, srv, http.MethodPatch, "/api/v1/appliances/"+testApplianceID,
		`{"power": true, "mode": "cool", "cooling_threshold": 24.4}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	var resp applianceResponse
	decode(t, rec, &resp)
	if !resp.Power || resp.TargetMode != "cool" || resp.CurrentMode != "cooling" {
		t.Errorf("state = %+v", resp.StateView)
	}
	if resp.CoolingThreshold != 24 {
		t.Errorf("cooling_threshold = %d, want 24", resp.CoolingThreshold)
	}

	calls := app.callLog()
	want := []string{"power", "mode", "cooling"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestUpdateAppliance_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed", `{"power":`, ErrCodeBadRequest},
		{"unknown field", `{"fan": "high"}`, ErrCodeBadRequest},
		{"empty", `{}`, ErrCodeBadRequest},
		{"bad mode", `{"mode": "dry"}`, ErrCodeValidation},
		{"threshold too high", `{"heating_threshold": 31}`, ErrCodeValidation},
		{"swing unsupported", `{"swing": true}`, ErrCodeValidation},
		{"partly invalid", `{"power": true, "cooling_threshold": 5}`, ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, app := testServer(t, nil, nil)

			rec := do(t, srv, http.MethodPatch, "/api/v1/appliances/"+testApplianceID, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp ErrorResponse
			decode(t, rec, &resp)
			if resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
			if calls := app.callLog(); len(calls) != 0 {
				t.Errorf("setters called on rejected change: %v", calls)
			}
		})
	}
}

func TestRefreshAppliance(t *testing.T) {
	srv, app := testServer(t, nil, nil)

	rec := do(t, srv, http.MethodPost, "/api/v1/appliances/"+testApplianceID+"/refresh", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	select {
	case <-app.refreshed:
	case <-time.After(time.Second):
		t.Fatal("refresh was not started")
	}
}

func TestApplianceHistory(t *testing.T) {
	temp := 21
	hist := &fakeHistory{entries: []accessory.HistoryEntry{{
		RecordedAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Power:              true,
		TargetMode:         "heat",
		CurrentMode:        "heating",
		CurrentTemperature: &temp,
		Source:             "notify",
	}}}
	srv, _ := testServer(t, hist, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/appliances/"+testApplianceID+"/history?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		History []accessory.HistoryEntry `json:"history"`
		Count   int                      `json:"count"`
	}
	decode(t, rec, &resp)
	if resp.Count != 1 || resp.History[0].Source != "notify" {
		t.Errorf("history = %+v", resp)
	}
	if hist.limit != 5 {
		t.Errorf("limit = %d, want 5", hist.limit)
	}
}

func TestApplianceHistory_Errors(t *testing.T) {
	srv, _ := testServer(t, &fakeHistory{}, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/appliances/"+testApplianceID+"/history?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/appliances/missing/history", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown appliance: status = %d, want 404", rec.Code)
	}

	srv, _ = testServer(t, nil, nil)
	rec = do(t, srv, http.MethodGet, "/api/v1/appliances/"+testApplianceID+"/history", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("history disabled: status = %d, want 503", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := testServer(t, nil, nil)

	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestStartClose(t *testing.T) {
	srv, _ := testServer(t, nil, nil)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
