package integration

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pnl_monitor/internal/engine"
	"pnl_monitor/internal/filllog"
	"pnl_monitor/internal/pnllog"
	"pnl_monitor/internal/poller"
	"pnl_monitor/internal/state"
	"pnl_monitor/internal/venue"
	"pnl_monitor/pkg/logging"
	"pnl_monitor/pkg/retry"
)

// ledgerServer is a stub venue: it returns every recorded fill on each
// request, which exercises the poller's replay absorption the same way a
// real at-or-after timestamp query does.
type ledgerServer struct {
	mu    sync.Mutex
	fills []string
}

func (s *ledgerServer) addFill(id int64, ts time.Time, sideCode int, qty, px, orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, fmt.Sprintf(
		`{"id":%d,"timestamp":%d,"instrumentId":101,"marketId":1,"side":%d,"qty":"%s","px":"%s","user":"trader1","orderId":"%s"}`,
		id, ts.UnixNano(), sideCode, qty, px, orderID))
}

func (s *ledgerServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/ledger/fills":
			s.mu.Lock()
			body := `{"fills":[` + strings.Join(s.fills, ",") + `]}`
			s.mu.Unlock()
			fmt.Fprint(w, body)
		case strings.HasPrefix(r.URL.Path, "/ledger/instruments/"):
			fmt.Fprint(w, `{"instrument":[{"id":101,"alias":"CLQ5"}]}`)
		case r.URL.Path == "/ledger/markets":
			fmt.Fprint(w, `{"markets":[{"id":1,"name":"NYMEX"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

type pipeline struct {
	fillLogPath string
	statePath   string
	outputPath  string

	writer *filllog.Writer
	store  *state.FileStore
	output *pnllog.Writer
	poller *poller.Poller
	engine *engine.Engine
}

// startPipeline wires a poller and an engine over shared files, the way
// the two daemons run in production.
func startPipeline(t *testing.T, dir, baseURL string) *pipeline {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	p := &pipeline{
		fillLogPath: filepath.Join(dir, "fills.csv"),
		statePath:   filepath.Join(dir, "engine_state.json"),
		outputPath:  filepath.Join(dir, "realized_pnl.csv"),
	}

	p.writer, err = filllog.NewWriter(p.fillLogPath)
	require.NoError(t, err)

	source := venue.NewClient(baseURL, 5*time.Second,
		venue.NewStaticTokenProvider("test-key"), "pnl-monitor", "desk", logger,
		venue.WithRateLimit(1000, 1000))
	p.poller = poller.New(poller.Config{
		Backoff: retry.Policy{
			MaxAttempts:       2,
			InitialBackoff:    10 * time.Millisecond,
			BackoffMultiplier: 2,
			MaxBackoff:        50 * time.Millisecond,
		},
		DedupWindow:            1000,
		MaxConsecutiveFailures: 5,
	}, source, p.writer, nil, nil, logger)
	require.NoError(t, p.poller.Start(context.Background()))

	p.store, err = state.Open(p.statePath, logger)
	require.NoError(t, err)
	p.output, err = pnllog.NewWriter(p.outputPath)
	require.NoError(t, err)

	p.engine = engine.New(engine.Config{
		PointValue:   decimal.NewFromInt(1000),
		DedupWindow:  1000,
		MaxBatchRows: 5000,
	}, filllog.NewReader(p.fillLogPath, logger), p.output, p.store, logger)
	require.NoError(t, p.engine.Start(context.Background()))

	return p
}

func (p *pipeline) stop(t *testing.T) {
	t.Helper()
	require.NoError(t, p.writer.Close())
	require.NoError(t, p.output.Close())
	require.NoError(t, p.store.Close())
}

func readCSVRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestPipelineEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ledger := &ledgerServer{}
	srv := httptest.NewServer(ledger.handler())
	defer srv.Close()

	base := time.Date(2025, 9, 2, 14, 0, 0, 0, time.UTC)
	ledger.addFill(1, base, 1, "10", "111.50", "ord-1")
	ledger.addFill(2, base.Add(30*time.Minute), 2, "4", "111.75", "ord-2")
	ledger.addFill(3, base.Add(time.Hour), 2, "10", "112.00", "ord-3")

	dir := t.TempDir()
	p := startPipeline(t, dir, srv.URL)
	ctx := context.Background()

	require.NoError(t, p.poller.Tick(ctx))
	require.NoError(t, p.engine.Tick(ctx))

	// Open 10 long, close 4 (+1000), close remaining 6 and flip short 4
	// (+3000): two P&L records, net position -4.
	st := p.engine.State()
	assert.Equal(t, int64(3), st.LastProcessedOffset)
	assert.Equal(t, "-4", st.PositionStack.NetPosition().String())
	require.Equal(t, 1, st.PositionStack.Depth())
	assert.Equal(t, "112", st.PositionStack[0].Price.String())

	pnlRows := readCSVRows(t, p.outputPath)
	require.Len(t, pnlRows, 3) // header + 2 records
	assert.Equal(t, "1000", pnlRows[1][3])
	assert.Equal(t, "3000", pnlRows[2][3])

	// The venue replays everything plus one new fill; only the new fill
	// reaches the log and the stack.
	ledger.addFill(4, base.Add(2*time.Hour), 1, "4", "111.00", "ord-4")
	require.NoError(t, p.poller.Tick(ctx))
	require.NoError(t, p.engine.Tick(ctx))

	logRows := readCSVRows(t, p.fillLogPath)
	require.Len(t, logRows, 5) // header + 4 fills

	// Buying 4 at 111.00 closes the short lot opened at 112.00: +4000.
	st = p.engine.State()
	assert.Equal(t, "0", st.PositionStack.NetPosition().String())
	pnlRows = readCSVRows(t, p.outputPath)
	require.Len(t, pnlRows, 4)
	assert.Equal(t, "4000", pnlRows[3][3])

	p.stop(t)
}

func TestPipelineSurvivesRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ledger := &ledgerServer{}
	srv := httptest.NewServer(ledger.handler())
	defer srv.Close()

	base := time.Date(2025, 9, 2, 14, 0, 0, 0, time.UTC)
	ledger.addFill(1, base, 1, "10", "111.50", "ord-1")
	ledger.addFill(2, base.Add(30*time.Minute), 2, "4", "111.75", "ord-2")

	dir := t.TempDir()
	ctx := context.Background()

	p := startPipeline(t, dir, srv.URL)
	require.NoError(t, p.poller.Tick(ctx))
	require.NoError(t, p.engine.Tick(ctx))
	firstState := p.engine.State()
	p.stop(t)

	// Both processes restart against the same files while the venue
	// still returns the full history plus one new fill.
	ledger.addFill(3, base.Add(time.Hour), 2, "6", "112.00", "ord-3")

	restarted := startPipeline(t, dir, srv.URL)
	st := restarted.engine.State()
	assert.Equal(t, firstState.LastProcessedOffset, st.LastProcessedOffset)
	assert.Equal(t, firstState.PositionStack.NetPosition().String(), st.PositionStack.NetPosition().String())

	require.NoError(t, restarted.poller.Tick(ctx))
	require.NoError(t, restarted.engine.Tick(ctx))

	// Replayed fills were absorbed: 3 fills total in the log, and the
	// output gained exactly one record for the new fill.
	logRows := readCSVRows(t, restarted.fillLogPath)
	require.Len(t, logRows, 4) // header + 3 fills

	pnlRows := readCSVRows(t, restarted.outputPath)
	require.Len(t, pnlRows, 3) // header + 2 records
	assert.Equal(t, "1000", pnlRows[1][3])
	// Closing the remaining 6 long at 112.00 realizes +3000.
	assert.Equal(t, "3000", pnlRows[2][3])

	st = restarted.engine.State()
	assert.Equal(t, "0", st.PositionStack.NetPosition().String())
	assert.Equal(t, 0, st.PositionStack.Depth())

	restarted.stop(t)
}
