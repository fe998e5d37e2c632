package app

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/transcript-mcp/pkg/config"
	"github.com/ajitpratap0/transcript-mcp/pkg/logging"
	"github.com/ajitpratap0/transcript-mcp/pkg/server"
	"github.com/ajitpratap0/transcript-mcp/pkg/transcript"
	"github.com/ajitpratap0/transcript-mcp/pkg/transport"
	"github.com/ajitpratap0/transcript-mcp/pkg/transport/streamable"
)

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`

func newTestApp(t *testing.T, opts ...config.Option) *App {
	t.Helper()
	noTranscript := transcript.FetcherFunc(func(context.Context, transcript.Request) []transcript.Segment {
		return nil
	})
	return newTestAppWithFetcher(t, noTranscript, opts...)
}

func newTestAppWithFetcher(t *testing.T, f transcript.Fetcher, opts ...config.Option) *App {
	t.Helper()
	cfg, err := config.Build(opts...)
	require.NoError(t, err)

	a, err := New(cfg,
		WithLogger(logging.Nop()),
		WithFetcher(f),
		WithVersion("1.2.3"),
		WithProbe(transport.NewProbe(func() (transport.Factory, error) {
			return streamable.Factory{}, nil
		})),
	)
	require.NoError(t, err)
	return a
}

type running struct {
	base   string
	cancel context.CancelFunc
	done   chan error
}

func serve(t *testing.T, a *App) *running {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{base: "http://" + ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- a.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
		}
	})
	return r
}

func (r *running) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func post(t *testing.T, url, sessionID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(server.SessionIDHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func scrape(t *testing.T, a *App) string {
	t.Helper()
	rec := httptest.NewRecorder()
	a.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestServeAndGracefulShutdown(t *testing.T) {
	a := newTestApp(t)
	r := serve(t, a)

	resp := post(t, r.base+server.Endpoint, "", initializeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(server.SessionIDHeader)
	require.NotEmpty(t, id)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"version":"1.2.3"`)

	resp = post(t, r.base+server.Endpoint, id, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"transcript_yt","arguments":{"videoUrl":"https://youtu.be/abcdefghijk"}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stream, err := http.Get(r.base + server.Endpoint)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	require.Eventually(t, func() bool { return a.Registry().Count() == 2 }, 2*time.Second, 5*time.Millisecond)

	metrics := scrape(t, a)
	assert.Contains(t, metrics, `transcript_mcp_sessions_created_total{transport="request-response"} 1`)
	assert.Contains(t, metrics, `transcript_mcp_sessions_created_total{transport="stream"} 1`)
	assert.Contains(t, metrics, `transcript_mcp_tool_calls_total{status="error",tool="transcript_yt"} 1`)
	assert.Contains(t, metrics, `transcript_mcp_http_requests_total{route="mcp",status="200"} 2`)

	require.NoError(t, r.stop(t))

	// The open stream ends once its session is closed.
	_, err = io.ReadAll(stream.Body)
	assert.NoError(t, err)
	assert.Zero(t, a.Registry().Count())
	assert.Contains(t, scrape(t, a), `transcript_mcp_sessions_removed_total{reason="shutdown",transport="stream"} 1`)
}

func TestShutdownRefusesStreamsWhileDraining(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	// Ignores ctx so the dispatch outlives the start of shutdown.
	stuck := transcript.FetcherFunc(func(context.Context, transcript.Request) []transcript.Segment {
		close(entered)
		<-release
		return nil
	})
	a := newTestAppWithFetcher(t, stuck)
	r := serve(t, a)

	stream, err := http.Get(r.base + server.Endpoint)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	id := stream.Header.Get(server.SessionIDHeader)
	require.NotEmpty(t, id)

	resp := post(t, r.base+server.Endpoint, id, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"transcript_yt","arguments":{"videoUrl":"https://youtu.be/abcdefghijk"}}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-entered

	start := time.Now()
	r.cancel()

	var status int
	require.Eventually(t, func() bool {
		resp, err := http.Get(r.base + server.Endpoint)
		if err != nil {
			return false
		}
		resp.Body.Close()
		status = resp.StatusCode
		return status == http.StatusServiceUnavailable
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	close(release)
	require.NoError(t, r.stop(t))
	assert.True(t, time.Since(start) < config.DefaultShutdownTimeout, "shutdown waited for the timeout")
	assert.Zero(t, a.Registry().Count())
}

func TestSweeperRemovesOldSessions(t *testing.T) {
	a := newTestApp(t,
		config.WithSweepInterval(10*time.Millisecond),
		config.WithMaxSessionAge(30*time.Millisecond),
	)
	r := serve(t, a)

	resp := post(t, r.base+server.Endpoint, "", initializeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(server.SessionIDHeader)

	require.Eventually(t, func() bool { return a.Registry().Count() == 0 }, 2*time.Second, 5*time.Millisecond)

	resp = post(t, r.base+server.Endpoint, id, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	a := newTestApp(t, config.WithMetricsAddr(addr))
	serve(t, a)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeReportsMetricsListenFailure(t *testing.T) {
	a := newTestApp(t, config.WithMetricsAddr("no-port-here"))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Serve(context.Background(), ln) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metrics server")
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not fail")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", logging.String("k", "v"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"shown"`)

	_, err = NewLogger(config.LogConfig{Level: "info", Format: "xml"}, &buf)
	assert.Error(t, err)
	_, err = NewLogger(config.LogConfig{Level: "loud", Format: "text"}, &buf)
	assert.Error(t, err)
}
