package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pnl_monitor/internal/core"
)

type stubHealth struct {
	healthy bool
	status  map[string]string
}

func (s *stubHealth) Register(component string, check func() error) {}
func (s *stubHealth) GetStatus() map[string]string                  { return s.status }
func (s *stubHealth) IsHealthy() bool                               { return s.healthy }

type nopLogger struct{}

func (l *nopLogger) Debug(msg string, fields ...interface{})               {}
func (l *nopLogger) Info(msg string, fields ...interface{})                {}
func (l *nopLogger) Warn(msg string, fields ...interface{})                {}
func (l *nopLogger) Error(msg string, fields ...interface{})               {}
func (l *nopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *nopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *nopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func TestHealthEndpointHealthy(t *testing.T) {
	s := NewServer(0, &stubHealth{healthy: true, status: map[string]string{"poller": "Healthy"}}, &nopLogger{})

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Healthy    bool              `json:"healthy"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Healthy || body.Components["poller"] != "Healthy" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	s := NewServer(0, &stubHealth{healthy: false, status: map[string]string{"engine": "Unhealthy: stale"}}, &nopLogger{})

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHealthEndpointWithoutMonitor(t *testing.T) {
	s := NewServer(0, nil, &nopLogger{})

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
