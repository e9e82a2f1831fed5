// Gateway Tests - HTTP proxy with payload capture
//
// These tests start a mock upstream LLM server, put the gateway in front of
// it and verify that:
//  1. Clients receive the upstream response byte for byte
//  2. With debug logging enabled, request and response captures appear on disk
//     by the time the client has read the whole response
//  3. With debug logging disabled, nothing is written
package gateway_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/capture-gateway/internal/capture"
	"github.com/compresr/capture-gateway/internal/config"
	"github.com/compresr/capture-gateway/internal/gateway"
	"github.com/compresr/capture-gateway/internal/monitoring"
)

var sseEvents = []string{
	"event: message_start\ndata: {\"type\":\"message_start\"}\n\n",
	"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"Hello\"}}\n\n",
	"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
}

const requestBody = `{"model":"claude-3-sonnet","stream":true,"messages":[{"role":"user","content":"Hi"}]}`

// newStreamingUpstream mimics a provider that streams SSE events.
func newStreamingUpstream(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Upstream-Path", r.URL.Path)
		w.WriteHeader(status)
		for _, ev := range sseEvents {
			_, _ = io.WriteString(w, ev)
			w.(http.Flusher).Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(upstream string, debug config.DebugLoggingConfig) *config.Config {
	return &config.Config{
		Server:       config.ServerConfig{Port: 18080, ReadTimeout: 10 * time.Second},
		Upstream:     config.UpstreamConfig{BaseURL: upstream},
		DebugLogging: debug,
		Monitoring:   config.MonitoringConfig{LogLevel: "error", LogOutput: "stderr"},
	}
}

func newGateway(t *testing.T, cfg *config.Config, mc *monitoring.MetricsCollector) *httptest.Server {
	t.Helper()
	writer := capture.NewWriter(
		capture.WithLogger(zerolog.Nop()),
		capture.WithMetrics(mc),
		capture.WithDataDir(func() (string, error) { return "", fmt.Errorf("no data dir in tests") }),
	)
	gw := gateway.New(cfg,
		gateway.WithLogger(monitoring.New(monitoring.LoggerConfig{Level: "error", Output: "stderr"})),
		gateway.WithMetrics(mc),
		gateway.WithCaptureWriter(writer),
	)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, requestID string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(requestBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", "test-api-key")
	if requestID != "" {
		req.Header.Set(gateway.HeaderRequestID, requestID)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func findCapture(t *testing.T, dir, requestID, category string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*_"+requestID+"_"+category+".json"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected one %s capture", category)
	return matches[0]
}

// =============================================================================
// TESTS
// =============================================================================

func TestGateway_StreamsAndCaptures(t *testing.T) {
	dir := t.TempDir()
	upstream := newStreamingUpstream(t, http.StatusOK)
	mc := monitoring.NewMetricsCollector()
	gw := newGateway(t, testConfig(upstream.URL, config.DebugLoggingConfig{Enabled: true, OutputDir: dir}), mc)

	resp, body := post(t, gw.URL+"/v1/messages", "req-1")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-1", resp.Header.Get(gateway.HeaderRequestID))
	assert.Equal(t, "/v1/messages", resp.Header.Get("X-Upstream-Path"))
	assert.Equal(t, strings.Join(sseEvents, ""), body)

	respDoc := readJSON(t, findCapture(t, dir, "req-1", capture.CategoryResponse))
	assert.Equal(t, capture.KindUpstreamResponse, respDoc["kind"])
	assert.Equal(t, "req-1", respDoc["trace_id"])
	assert.Equal(t, body, respDoc["response_text"])
	meta, ok := respDoc["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(http.StatusOK), meta["status"])
	assert.Equal(t, "claude-3-sonnet", meta["model"])
	assert.Equal(t, true, meta["stream"])
	assert.Equal(t, upstream.URL+"/v1/messages", meta["upstream_url"])

	reqDoc := readJSON(t, findCapture(t, dir, "req-1", capture.CategoryRequest))
	assert.Equal(t, capture.KindUpstreamRequest, reqDoc["kind"])
	reqBody, ok := reqDoc["request_body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "claude-3-sonnet", reqBody["model"])

	assert.Equal(t, int64(2), mc.Stats()["captures"])
}

func TestGateway_DisabledCaptureWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "captures")
	upstream := newStreamingUpstream(t, http.StatusOK)
	mc := monitoring.NewMetricsCollector()
	gw := newGateway(t, testConfig(upstream.URL, config.DebugLoggingConfig{Enabled: false, OutputDir: dir}), mc)

	resp, body := post(t, gw.URL+"/v1/messages", "req-2")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, strings.Join(sseEvents, ""), body)
	assert.NoDirExists(t, dir)
	assert.Equal(t, int64(0), mc.Stats()["captures"])
}

func TestGateway_GeneratesRequestID(t *testing.T) {
	dir := t.TempDir()
	upstream := newStreamingUpstream(t, http.StatusOK)
	gw := newGateway(t, testConfig(upstream.URL, config.DebugLoggingConfig{Enabled: true, OutputDir: dir}), monitoring.NewMetricsCollector())

	resp, _ := post(t, gw.URL+"/v1/messages", "")

	requestID := resp.Header.Get(gateway.HeaderRequestID)
	require.NotEmpty(t, requestID)
	findCapture(t, dir, requestID, capture.CategoryResponse)
	findCapture(t, dir, requestID, capture.CategoryRequest)
}

func TestGateway_UnsafeRequestIDIsReplaced(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
	}{
		{"path traversal", "/../../escaped"},
		{"embedded separator", "a/b"},
		{"too long", strings.Repeat("x", 129)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, "captures")
			upstream := newStreamingUpstream(t, http.StatusOK)
			gw := newGateway(t, testConfig(upstream.URL, config.DebugLoggingConfig{Enabled: true, OutputDir: dir}), monitoring.NewMetricsCollector())

			resp, _ := post(t, gw.URL+"/v1/messages", tt.requestID)

			requestID := resp.Header.Get(gateway.HeaderRequestID)
			assert.NotEqual(t, tt.requestID, requestID)
			_, err := uuid.Parse(requestID)
			assert.NoError(t, err)

			entries, err := os.ReadDir(root)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "captures", entries[0].Name())
			findCapture(t, dir, requestID, capture.CategoryRequest)
			findCapture(t, dir, requestID, capture.CategoryResponse)
		})
	}
}

func TestGateway_UpstreamErrorStatusIsForwardedAndCaptured(t *testing.T) {
	dir := t.TempDir()
	upstream := newStreamingUpstream(t, http.StatusTooManyRequests)
	gw := newGateway(t, testConfig(upstream.URL, config.DebugLoggingConfig{Enabled: true, OutputDir: dir}), monitoring.NewMetricsCollector())

	resp, body := post(t, gw.URL+"/v1/messages", "req-3")

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	respDoc := readJSON(t, findCapture(t, dir, "req-3", capture.CategoryResponse))
	assert.Equal(t, body, respDoc["response_text"])
	assert.Equal(t, float64(http.StatusTooManyRequests), respDoc["meta"].(map[string]any)["status"])
}

func TestGateway_UnwritableCaptureDirDoesNotAffectResponse(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))
	upstream := newStreamingUpstream(t, http.StatusOK)
	mc := monitoring.NewMetricsCollector()
	gw := newGateway(t, testConfig(upstream.URL, config.DebugLoggingConfig{Enabled: true, OutputDir: filepath.Join(blocker, "sub")}), mc)

	resp, body := post(t, gw.URL+"/v1/messages", "req-4")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, strings.Join(sseEvents, ""), body)
	assert.Equal(t, int64(2), mc.Stats()["capture_failures"])
}

func TestGateway_UpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()
	gw := newGateway(t, testConfig(addr, config.DebugLoggingConfig{}), monitoring.NewMetricsCollector())

	resp, body := post(t, gw.URL+"/v1/messages", "req-5")

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "upstream request failed")
}

func TestGateway_QueryStringIsForwarded(t *testing.T) {
	var gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	gw := newGateway(t, testConfig(upstream.URL+"/", config.DebugLoggingConfig{}), monitoring.NewMetricsCollector())

	resp, _ := post(t, gw.URL+"/v1beta/models/gemini:streamGenerateContent?alt=sse", "req-6")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alt=sse", gotQuery)
}

func TestGateway_HealthAndStats(t *testing.T) {
	upstream := newStreamingUpstream(t, http.StatusOK)
	mc := monitoring.NewMetricsCollector()
	gw := newGateway(t, testConfig(upstream.URL, config.DebugLoggingConfig{}), mc)

	resp, err := http.Get(gw.URL + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])

	post(t, gw.URL+"/v1/messages", "req-7")

	resp, err = http.Get(gw.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	// health + proxied request
	assert.Equal(t, int64(2), stats["requests"])
	assert.Equal(t, int64(0), stats["captures"])
}
