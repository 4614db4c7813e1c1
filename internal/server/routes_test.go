package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/pvheat/internal/config"
	"github.com/berfenger/pvheat/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMaster answers heat manager requests with canned responses.
type fakeMaster struct {
	mu       sync.Mutex
	running  bool
	verbose  bool
	received []string
	silent   bool
}

func (m *fakeMaster) Receive(ctx actor.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.silent {
		return
	}
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: true})
	case domain.StartRequest:
		changed := !m.running
		m.running = true
		ctx.Respond(domain.StartResponse{Changed: changed})
	case domain.StopRequest:
		changed := m.running
		m.running = false
		ctx.Respond(domain.StopResponse{Changed: changed})
	case domain.SetVerboseRequest:
		m.verbose = msg.Verbose
		ctx.Respond(domain.SetVerboseResponse{})
	case domain.SetHeaterEnabledRequest:
		m.received = append(m.received, fmt.Sprintf("enabled %s=%t", msg.Heater, msg.Enabled))
		var err error
		if msg.Heater != "A" && msg.Heater != "B" {
			err = fmt.Errorf("%w: %q", domain.ErrUnknownHeater, msg.Heater)
		}
		ctx.Respond(domain.SetHeaterEnabledResponse{ActorResponseMixIn: domain.ResponseWithError(err)})
	case domain.SwapHeatersRequest:
		ctx.Respond(domain.SwapHeatersResponse{Swapped: true, Message: fmt.Sprintf("heaters %s and %s are swapped", msg.HeaterA, msg.HeaterB)})
	case domain.ClearSwapRequest:
		m.received = append(m.received, "clear")
		ctx.Respond(domain.ClearSwapResponse{})
	case domain.InfoRequest:
		ctx.Respond(domain.InfoResponse{Info: "step 1: A low (750 W)"})
	case domain.StatusRequest:
		ctx.Respond(domain.StatusResponse{
			StatusLine: "01.06.24 12:00  (2.8k) ...",
			Running:    m.running,
			Verbose:    m.verbose,
			Mode:       domain.ModeMeasure,
			ActiveStep: 1,
			Heaters: []domain.HeaterState{
				{Name: "A", Enabled: true, Status: domain.ShortStatusOnLevel("low")},
				{Name: "B", Enabled: false, Status: domain.ShortStatus{Kind: domain.ShortStatusDisabled}},
			},
		})
	case domain.HeatersRequest:
		ctx.Respond(domain.HeatersResponse{Heaters: []domain.HeaterState{
			{Name: "A", Enabled: true, Status: domain.ShortStatusOnLevel("low"), WattHours: 120.5, Loads: map[string]float64{"low": 750}},
		}})
	}
}

func (m *fakeMaster) Received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

func testHandler(t *testing.T) (http.Handler, *fakeMaster) {
	t.Helper()
	system := actor.NewActorSystem()
	t.Cleanup(system.Shutdown)
	master := &fakeMaster{}
	pid := system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return master }))

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "pvheat_available_watt"}))

	s := newServer(config.Config{}, system.Root, pid, reg)
	s.requestTimeout = 200 * time.Millisecond
	return s.RegisterRoutes(), master
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	h, _ := testHandler(t)
	rec := do(h, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())
}

func TestCommandAPI(t *testing.T) {
	h, master := testHandler(t)

	tests := []struct {
		query string
		code  int
		body  string
	}{
		{"", http.StatusOK, "do=help"},
		{"?do=nonsense", http.StatusOK, "do=switch"},
		{"?do=start", http.StatusOK, "Manager is starting ..."},
		{"?do=start", http.StatusOK, "Manager is already running."},
		{"?do=verbose", http.StatusOK, "verbose = true"},
		{"?do=status", http.StatusOK, "(2.8k)"},
		{"?do=info", http.StatusOK, "step 1: A low"},
		{"?do=disable&heater=B", http.StatusOK, "Heater B is disabled."},
		{"?do=enable", http.StatusBadRequest, "Parameter &heater=... is missing."},
		{"?do=enable&heater=C", http.StatusBadRequest, "unknown heater"},
		{"?do=switch&heater=A", http.StatusBadRequest, "two parameters"},
		{"?do=switch&heater=A&heater=B", http.StatusOK, "heaters A and B are swapped"},
		{"?do=clear", http.StatusOK, "withdrawn"},
		{"?do=stop", http.StatusOK, "Manager is stopping"},
		{"?do=stop", http.StatusOK, "Manager is already stopped."},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(h, http.MethodGet, "/"+tt.query, "")
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
	assert.Equal(t, []string{"enabled B=false", "enabled C=true", "clear"}, master.Received())
}

func TestStatusJSON(t *testing.T) {
	h, _ := testHandler(t)

	rec := do(h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "measure", status["mode"])
	assert.Equal(t, 1.0, status["active_step"])
	assert.Equal(t, map[string]any{"A": "low", "B": "dis"}, status["heaters"])
}

func TestHeatersJSON(t *testing.T) {
	h, _ := testHandler(t)

	rec := do(h, http.MethodGet, "/heaters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"name":"A","enabled":true,"status":"low","watt_hours":120.5,"loads":{"low":750}}]`, rec.Body.String())
}

func TestRESTCommands(t *testing.T) {
	h, master := testHandler(t)

	rec := do(h, http.MethodPost, "/manager/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"changed":true}`, rec.Body.String())

	rec = do(h, http.MethodPut, "/manager/verbose?enabled=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPut, "/manager/verbose?enabled=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, "/heaters/A/disable", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"heater":"A","enabled":false}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/heaters/Z/enable", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/steps/swap", `{"heaters":["A"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/steps/swap", `{"heaters":["A","B"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"swapped":true,"message":"heaters A and B are swapped"}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/steps/clear", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(h, http.MethodPost, "/manager/stop", "")
	assert.JSONEq(t, `{"changed":true}`, rec.Body.String())

	assert.Equal(t, []string{"enabled A=false", "enabled Z=true", "clear"}, master.Received())
}

func TestActorTimeout(t *testing.T) {
	h, master := testHandler(t)
	master.mu.Lock()
	master.silent = true
	master.mu.Unlock()

	rec := do(h, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(h, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics(t *testing.T) {
	h, _ := testHandler(t)

	rec := do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pvheat_available_watt 0")
}
