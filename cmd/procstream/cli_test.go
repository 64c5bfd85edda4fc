package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"procstream/internal/config"
	"procstream/internal/logging"
	"procstream/internal/stream"
)

const (
	partialPlan = `{"processes":[{"process_id":1,"name":"下料","steps":[]}]}`
	fullPlan    = `{"task":"齿轮轴","processes":[{"process_id":1,"name":"下料","steps":[{"step_id":1,"device":"锯床","action":"切断"}]},{"process_id":2,"name":"粗车","steps":[{"step_id":1,"device":"车床","action":"车外圆"}]}]}`
)

// decompositionServer serves the stream and JSON endpoints. chunks are sent
// as chunk events followed by a complete event carrying completion.
func decompositionServer(t *testing.T, chunks []string, completion string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	fetches := &atomic.Int32{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/decompose/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []stream.Event{{Type: stream.EventStatus, Data: "并行分解 2 个工序"}}
		for _, c := range chunks {
			events = append(events, stream.Event{Type: stream.EventChunk, Data: c})
		}
		events = append(events, stream.Event{Type: stream.EventComplete, Data: completion})
		for _, ev := range events {
			if err := stream.Encode(w, ev); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		}
	})
	mux.HandleFunc("/api/decompose/json", func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(fullPlan))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, fetches
}

func setupCLI(t *testing.T, serverURL string) string {
	t.Helper()
	logger = zap.NewNop()
	logging.SetBase(logger)

	dir := t.TempDir()
	cfg = config.DefaultConfig()
	cfg.Server.BaseURL = serverURL
	cfg.Store.DatabasePath = filepath.Join(dir, "history.db")
	timeout = 30 * time.Second
	runOpts = runOptions{}
	recordPath, follow, offline, replayTask = "", false, false, ""
	t.Cleanup(func() { cfg = nil })
	return dir
}

func testCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func TestDecompose_CompletePlanIsKept(t *testing.T) {
	srv, fetches := decompositionServer(t, []string{fullPlan}, "分解完成")
	dir := setupCLI(t, srv.URL)
	runOpts.table = true
	recordPath = filepath.Join(dir, "capture.sse")

	cmd, out := testCmd()
	require.NoError(t, runDecompose(cmd, []string{"齿轮轴"}))

	assert.Zero(t, fetches.Load())
	assert.Contains(t, out.String(), "» 并行分解 2 个工序")
	assert.Contains(t, out.String(), "2/2 工序已分解")
	assert.Contains(t, out.String(), "decision=use_as_is")

	capture, err := os.ReadFile(recordPath)
	require.NoError(t, err)
	assert.Contains(t, string(capture), "event: complete")

	// The saved outcome shows up in the history.
	cmd, out = testCmd()
	require.NoError(t, runHistory(cmd, nil))
	assert.Contains(t, out.String(), "齿轮轴")
	assert.Contains(t, out.String(), "use_as_is")
}

func TestDecompose_PartialPlanIsRefetched(t *testing.T) {
	srv, fetches := decompositionServer(t, []string{partialPlan}, "分解完成")
	setupCLI(t, srv.URL)
	runOpts.exportFormat = "json"
	runOpts.exportOut = "-"

	cmd, out := testCmd()
	require.NoError(t, runDecompose(cmd, []string{"齿轮轴"}))

	assert.Equal(t, int32(1), fetches.Load())
	assert.Contains(t, out.String(), "source=refetch decision=refetch")
	assert.Contains(t, out.String(), `"exportTime"`)
	assert.Contains(t, out.String(), "车外圆")
}

func TestDecompose_CachedPartialIsKept(t *testing.T) {
	srv, fetches := decompositionServer(t, []string{partialPlan}, "分解完成（缓存结果）")
	setupCLI(t, srv.URL)
	runOpts.noStore = true

	cmd, out := testCmd()
	require.NoError(t, runDecompose(cmd, []string{"齿轮轴"}))

	assert.Zero(t, fetches.Load())
	assert.Contains(t, out.String(), "cached=true")
}

func TestDecompose_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	setupCLI(t, srv.URL)

	cmd, _ := testCmd()
	err := runDecompose(cmd, []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection failed")
	assert.Contains(t, err.Error(), "500")
}

func TestReplay_Offline(t *testing.T) {
	dir := setupCLI(t, "http://127.0.0.1:1")
	offline = true

	path := filepath.Join(dir, "齿轮轴.sse")
	var buf bytes.Buffer
	require.NoError(t, stream.Encode(&buf, stream.Event{Type: stream.EventChunk, Data: fullPlan}))
	require.NoError(t, stream.Encode(&buf, stream.Event{Type: stream.EventComplete, Data: "done"}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	cmd, out := testCmd()
	require.NoError(t, runReplay(cmd, []string{path}))
	assert.Contains(t, out.String(), "source=scan")

	// Task defaults to the capture's base name.
	cmd, out = testCmd()
	exportFormat, exportOut = "csv", "-"
	require.NoError(t, runExport(cmd, []string{"齿轮轴"}))
	assert.True(t, strings.HasPrefix(out.String(), "\ufeff工序ID"))
}

func TestReplay_OfflinePartialFails(t *testing.T) {
	dir := setupCLI(t, "http://127.0.0.1:1")
	offline = true

	path := filepath.Join(dir, "partial.sse")
	var buf bytes.Buffer
	require.NoError(t, stream.Encode(&buf, stream.Event{Type: stream.EventChunk, Data: partialPlan}))
	require.NoError(t, stream.Encode(&buf, stream.Event{Type: stream.EventComplete, Data: "done"}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	cmd, _ := testCmd()
	err := runReplay(cmd, []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data retrieval failed")
}

func TestFetch_WritesExportFile(t *testing.T) {
	srv, fetches := decompositionServer(t, nil, "")
	dir := setupCLI(t, srv.URL)
	runOpts.exportFormat = "html"
	runOpts.exportOut = filepath.Join(dir, "out", "plan.html")

	cmd, out := testCmd()
	require.NoError(t, runFetch(cmd, []string{"齿轮轴"}))
	assert.Equal(t, int32(1), fetches.Load())
	assert.Contains(t, out.String(), "exported to")

	data, err := os.ReadFile(runOpts.exportOut)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<table")
}

func TestExport_Missing(t *testing.T) {
	setupCLI(t, "http://127.0.0.1:1")
	exportFormat, exportOut = "csv", "-"

	cmd, _ := testCmd()
	err := runExport(cmd, []string{"nothing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no saved decomposition")
}

func TestHistory_Empty(t *testing.T) {
	setupCLI(t, "http://127.0.0.1:1")
	historyLimit = 10

	cmd, out := testCmd()
	require.NoError(t, runHistory(cmd, nil))
	assert.Contains(t, out.String(), "No saved decompositions.")
}

func TestExportFileName(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "工序分解_a_b_c_20250301", exportFileName("a/b c", now))
	assert.Equal(t, "工序分解_plan_20250301", exportFileName("  ", now))
}

func TestHistoryDiff(t *testing.T) {
	srv, _ := decompositionServer(t, []string{fullPlan}, "分解完成")
	setupCLI(t, srv.URL)
	diffContext = 1

	cmd, _ := testCmd()
	err := runHistoryDiff(cmd, []string{"齿轮轴"})
	require.Error(t, err, "nothing to compare yet")

	for i := 0; i < 2; i++ {
		cmd, _ = testCmd()
		require.NoError(t, runDecompose(cmd, []string{"齿轮轴"}))
	}

	cmd, out := testCmd()
	require.NoError(t, runHistoryDiff(cmd, []string{"齿轮轴"}))
	assert.Equal(t, "no differences\n", out.String())
}
