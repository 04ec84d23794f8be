package venue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pnl_monitor/internal/core"
	apperrors "pnl_monitor/pkg/errors"
)

type nopLogger struct{}

func (l *nopLogger) Debug(msg string, fields ...interface{})               {}
func (l *nopLogger) Info(msg string, fields ...interface{})                {}
func (l *nopLogger) Warn(msg string, fields ...interface{})                {}
func (l *nopLogger) Error(msg string, fields ...interface{})               {}
func (l *nopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *nopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *nopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

// ledgerStub serves the three ledger endpoints with canned data and counts
// hits per path.
type ledgerStub struct {
	t              *testing.T
	fillsBody      string
	instrumentHits atomic.Int64
	marketHits     atomic.Int64
	lastMinTS      atomic.Int64
	lastAuth       atomic.Value
	lastRequestID  atomic.Value
}

func (s *ledgerStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lastAuth.Store(r.Header.Get("Authorization"))
		s.lastRequestID.Store(r.URL.Query().Get("requestId"))
		switch {
		case r.URL.Path == "/ledger/fills":
			var ts int64
			fmt.Sscanf(r.URL.Query().Get("minTimestamp"), "%d", &ts)
			s.lastMinTS.Store(ts)
			fmt.Fprint(w, s.fillsBody)
		case strings.HasPrefix(r.URL.Path, "/ledger/instruments/"):
			s.instrumentHits.Add(1)
			fmt.Fprint(w, `{"instrument":[{"id":101,"alias":"CLQ5"}]}`)
		case r.URL.Path == "/ledger/markets":
			s.marketHits.Add(1)
			fmt.Fprint(w, `{"markets":[{"id":1,"name":"NYMEX"},{"id":2,"name":"CME"}]}`)
		default:
			s.t.Errorf("unexpected request path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestClient(baseURL string) *Client {
	return NewClient(baseURL, 5*time.Second, NewStaticTokenProvider("test-key"),
		"pnl-monitor", "desk", &nopLogger{}, WithRateLimit(1000, 1000))
}

func TestFetchFillsMapsLedgerFills(t *testing.T) {
	ts := time.Date(2025, 9, 2, 14, 30, 0, 0, time.UTC)
	stub := &ledgerStub{t: t, fillsBody: fmt.Sprintf(
		`{"fills":[{"id":1,"timestamp":%d,"instrumentId":101,"marketId":1,"side":1,"qty":"4","px":"111.75","user":"trader1","orderId":"ord-1"}]}`,
		ts.UnixNano())}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := newTestClient(srv.URL)
	since := ts.Add(-time.Hour)
	fills, err := client.FetchFills(context.Background(), since)
	if err != nil {
		t.Fatalf("FetchFills failed: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}

	f := fills[0]
	if !f.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", f.Timestamp, ts)
	}
	if f.Exchange != "NYMEX" || f.Contract != "CLQ5" {
		t.Errorf("instrument = %s/%s, want NYMEX/CLQ5", f.Exchange, f.Contract)
	}
	if f.Side != core.SideBuy || f.Quantity.String() != "4" || f.Price.String() != "111.75" {
		t.Errorf("unexpected trade fields: %+v", f)
	}
	if f.User != "trader1" || f.OrderID != "ord-1" {
		t.Errorf("unexpected attribution fields: %+v", f)
	}

	if got := stub.lastMinTS.Load(); got != since.UnixNano() {
		t.Errorf("minTimestamp = %d, want %d", got, since.UnixNano())
	}
	if got := stub.lastAuth.Load().(string); got != "Bearer test-key" {
		t.Errorf("Authorization = %q", got)
	}
	if got := stub.lastRequestID.Load().(string); !strings.HasPrefix(got, "pnl-monitor-desk--") {
		t.Errorf("requestId = %q, want pnl-monitor-desk-- prefix", got)
	}
}

func TestFetchFillsCachesMetadataLookups(t *testing.T) {
	ts := time.Now().UTC().Truncate(time.Second)
	stub := &ledgerStub{t: t, fillsBody: fmt.Sprintf(
		`{"fills":[`+
			`{"id":1,"timestamp":%d,"instrumentId":101,"marketId":1,"side":1,"qty":"2","px":"100","user":"u","orderId":"a"},`+
			`{"id":2,"timestamp":%d,"instrumentId":101,"marketId":2,"side":2,"qty":"1","px":"101","user":"u","orderId":"b"}]}`,
		ts.UnixNano(), ts.UnixNano())}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := newTestClient(srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := client.FetchFills(context.Background(), time.Time{}); err != nil {
			t.Fatalf("FetchFills failed: %v", err)
		}
	}

	if got := stub.instrumentHits.Load(); got != 1 {
		t.Errorf("instrument lookups = %d, want 1", got)
	}
	if got := stub.marketHits.Load(); got != 1 {
		t.Errorf("market lookups = %d, want 1", got)
	}
}

func TestFetchFillsDropsMalformedFill(t *testing.T) {
	ts := time.Now().UTC()
	stub := &ledgerStub{t: t, fillsBody: fmt.Sprintf(
		`{"fills":[`+
			`{"id":1,"timestamp":%d,"instrumentId":101,"marketId":1,"side":9,"qty":"2","px":"100","user":"u","orderId":"a"},`+
			`{"id":2,"timestamp":%d,"instrumentId":101,"marketId":1,"side":2,"qty":"not-a-number","px":"100","user":"u","orderId":"b"},`+
			`{"id":3,"timestamp":%d,"instrumentId":101,"marketId":1,"side":1,"qty":"3","px":"99.5","user":"u","orderId":"c"}]}`,
		ts.UnixNano(), ts.UnixNano(), ts.UnixNano())}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := newTestClient(srv.URL)
	fills, err := client.FetchFills(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("FetchFills failed: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected only the well-formed fill, got %d", len(fills))
	}
	if fills[0].OrderID != "c" {
		t.Errorf("kept fill = %+v, want order c", fills[0])
	}
}

func TestFetchFillsClassifiesAuthFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.FetchFills(context.Background(), time.Time{})
	if !errors.Is(err, apperrors.ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected no retries on 401, got %d calls", got)
	}
}

func TestFetchFillsClassifiesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.FetchFills(context.Background(), time.Time{})
	if !errors.Is(err, apperrors.ErrVenueUnavailable) {
		t.Fatalf("expected venue unavailable, got %v", err)
	}
	if !apperrors.IsTransient(err) {
		t.Errorf("server errors must classify as transient")
	}
}

func TestFetchFillsClassifiesNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := newTestClient(srv.URL)
	_, err := client.FetchFills(context.Background(), time.Time{})
	if !errors.Is(err, apperrors.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestFetchFillsOmitsBoundaryForZeroSince(t *testing.T) {
	stub := &ledgerStub{t: t, fillsBody: `{"fills":[]}`}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := newTestClient(srv.URL)
	fills, err := client.FetchFills(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("FetchFills failed: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("expected empty batch, got %d", len(fills))
	}
	if got := stub.lastMinTS.Load(); got != 0 {
		t.Errorf("minTimestamp = %d, want 0 for unset boundary", got)
	}
}
