package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/loykin/devloop/internal/metrics"
	"github.com/loykin/devloop/internal/pipeline"
	"github.com/loykin/devloop/internal/restart"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeController struct {
	status   pipeline.Status
	restarts int
	err      error
}

func (f *fakeController) Status() pipeline.Status { return f.status }

func (f *fakeController) Restart() error {
	if f.err != nil {
		return f.err
	}
	f.restarts++
	return nil
}

func setupRouter(t *testing.T, base string, ctrl Controller, withMetrics bool) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(ctrl, base, withMetrics).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func runningSession() *fakeController {
	return &fakeController{status: pipeline.Status{
		URL: "http://localhost:5173/",
		Children: []pipeline.ProcInfo{
			{Name: "web-dev", PID: 100},
			{Name: "electron-build-main", PID: 101},
		},
		Supervised: []pipeline.ProcInfo{{Name: "electron", PID: 200}},
		Restarts:   3,
	}}
}

func TestStatus(t *testing.T) {
	h := setupRouter(t, "/api", runningSession(), false)
	rec := doReq(t, h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st pipeline.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.URL != "http://localhost:5173/" || st.Restarts != 3 || len(st.Children) != 2 || len(st.Supervised) != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestProcessLookup(t *testing.T) {
	h := setupRouter(t, "", runningSession(), false)

	rec := doReq(t, h, http.MethodGet, "/processes/electron")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var p processResp
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.PID != 200 || !p.Supervised {
		t.Fatalf("unexpected process: %+v", p)
	}

	rec = doReq(t, h, http.MethodGet, "/processes/web-dev")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"pid":100`) {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}

	if rec = doReq(t, h, http.MethodGet, "/processes/ghost"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec = doReq(t, h, http.MethodGet, "/processes/bad*name"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRestart(t *testing.T) {
	ctrl := runningSession()
	h := setupRouter(t, "/api", ctrl, false)
	rec := doReq(t, h, http.MethodPost, "/api/restart")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ctrl.restarts != 1 {
		t.Fatalf("expected one restart, got %d", ctrl.restarts)
	}
}

func TestRestartBeforeURLDiscovery(t *testing.T) {
	h := setupRouter(t, "/api", &fakeController{err: restart.ErrLiveReloadURLUnknown}, false)
	rec := doReq(t, h, http.MethodPost, "/api/restart")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestRestartMethodNotAllowedOnGet(t *testing.T) {
	h := setupRouter(t, "/api", runningSession(), false)
	rec := doReq(t, h, http.MethodGet, "/api/restart")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}
	metrics.IncRestart()

	h := setupRouter(t, "/api", runningSession(), true)
	rec := doReq(t, h, http.MethodGet, "/api/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "devloop_restarts_total") {
		t.Fatalf("metrics output missing restarts_total")
	}

	h = setupRouter(t, "/api", runningSession(), false)
	if rec := doReq(t, h, http.MethodGet, "/api/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics must be absent when disabled, got %d", rec.Code)
	}
}

func TestNewServerServesAndReportsListenErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv, err := NewServer("127.0.0.1:0", "/api", runningSession(), false)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer func() { _ = srv.Close() }()

	resp, err := http.Get("http://" + srv.Addr + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}

	if _, err := NewServer(srv.Addr, "", runningSession(), false); err == nil {
		t.Fatal("expected error for address in use")
	}
}
