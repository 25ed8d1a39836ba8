package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jamesprial/storegate/config"
	"github.com/jamesprial/storegate/internal/pipeline"
	"github.com/jamesprial/storegate/internal/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger for testing
type mockLogger struct {
	logs []logEntry
	mu   sync.Mutex
}

type logEntry struct {
	level   string
	message string
	fields  map[string]any
}

func (m *mockLogger) record(level, msg string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, logEntry{level, msg, fields})
}

func (m *mockLogger) Debug(msg string, fields map[string]any) { m.record("debug", msg, fields) }
func (m *mockLogger) Info(msg string, fields map[string]any)  { m.record("info", msg, fields) }
func (m *mockLogger) Warn(msg string, fields map[string]any)  { m.record("warn", msg, fields) }
func (m *mockLogger) Error(msg string, fields map[string]any) { m.record("error", msg, fields) }

func (m *mockLogger) hasMessage(level, msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.level == level && l.message == msg {
			return true
		}
	}
	return false
}

// seenRequest is what a test backend observed.
type seenRequest struct {
	Method        string
	Path          string
	EscapedPath   string
	RawQuery      string
	Host          string
	Body          string
	Authorization string
	ForwardedFor  []string
	RequestID     string
}

func recordingBackend(t *testing.T, status int, body string) (*httptest.Server, <-chan seenRequest) {
	t.Helper()
	seen := make(chan seenRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen <- seenRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			EscapedPath:   r.URL.EscapedPath(),
			RawQuery:      r.URL.RawQuery,
			Host:          r.Host,
			Body:          string(b),
			Authorization: r.Header.Get("Authorization"),
			ForwardedFor:  r.Header.Values("X-Forwarded-For"),
			RequestID:     r.Header.Get(pipeline.RequestIDHeader),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func routeTo(t *testing.T, name, prefix, rawURL string) config.RouteConfig {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return config.RouteConfig{Name: name, Prefix: prefix, TargetHost: host, TargetPort: port}
}

func newGateway(t *testing.T, upstream config.UpstreamConfig, logger *mockLogger, routes ...config.RouteConfig) *httptest.Server {
	t.Helper()
	table, err := routing.NewTable(routes)
	require.NoError(t, err)

	fwd := NewForwarder(NewTransport(upstream), logger, WithRequestTimeout(upstream.RequestTimeout))
	p := pipeline.New(table, []pipeline.Stage{pipeline.NewRouterStage(table), fwd})

	gw := httptest.NewServer(p)
	t.Cleanup(gw.Close)
	return gw
}

func receive(t *testing.T, seen <-chan seenRequest) seenRequest {
	t.Helper()
	select {
	case s := <-seen:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("backend was not called")
		return seenRequest{}
	}
}

func TestForwarder_CartItemEndToEnd(t *testing.T) {
	backend, seen := recordingBackend(t, http.StatusCreated, `{"id":"item-1"}`)
	gw := newGateway(t, config.UpstreamConfig{}, &mockLogger{}, routeTo(t, "cart", "/api/cart", backend.URL))

	req, err := http.NewRequest(http.MethodPost, gw.URL+"/api/cart/42/items", strings.NewReader(`{"productId":"p1","quantity":2}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer abc")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	got := receive(t, seen)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/42/items", got.Path)
	assert.Equal(t, `{"productId":"p1","quantity":2}`, got.Body)
	assert.Equal(t, "Bearer abc", got.Authorization)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Backend"))
	assert.Equal(t, `{"id":"item-1"}`, string(body))
}

func TestForwarder_PathRewrite(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		rewrite  string
		wantPath string
	}{
		{name: "id under prefix", path: "/api/users/42", wantPath: "/42"},
		{name: "bare prefix", path: "/api/users", wantPath: "/"},
		{name: "trailing slash", path: "/api/users/", wantPath: "/"},
		{name: "rewrite prefix", path: "/api/users/42", rewrite: "/v1", wantPath: "/v1/42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, seen := recordingBackend(t, http.StatusOK, "{}")
			route := routeTo(t, "users", "/api/users", backend.URL)
			route.RewritePrefix = tt.rewrite
			gw := newGateway(t, config.UpstreamConfig{}, &mockLogger{}, route)

			resp, err := http.Get(gw.URL + tt.path)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.wantPath, receive(t, seen).Path)
		})
	}
}

func TestForwarder_EscapedPathPreserved(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		rewrite     string
		wantEscaped string
		wantPath    string
	}{
		{name: "encoded slash", path: "/api/products/a%2Fb", wantEscaped: "/a%2Fb", wantPath: "/a/b"},
		{name: "encoded slash and semicolon", path: "/api/products/a%2Fb%3Bc", wantEscaped: "/a%2Fb%3Bc", wantPath: "/a/b;c"},
		{name: "encoded space", path: "/api/products/red%20shoe", wantEscaped: "/red%20shoe", wantPath: "/red shoe"},
		{name: "with rewrite prefix", path: "/api/products/a%2Fb", rewrite: "/v1", wantEscaped: "/v1/a%2Fb", wantPath: "/v1/a/b"},
		{name: "encoded prefix", path: "/api/%70roducts/7", wantEscaped: "/7", wantPath: "/7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, seen := recordingBackend(t, http.StatusOK, "{}")
			route := routeTo(t, "products", "/api/products", backend.URL)
			route.RewritePrefix = tt.rewrite
			gw := newGateway(t, config.UpstreamConfig{}, &mockLogger{}, route)

			resp, err := http.Get(gw.URL + tt.path)
			require.NoError(t, err)
			resp.Body.Close()

			got := receive(t, seen)
			assert.Equal(t, tt.wantEscaped, got.EscapedPath)
			assert.Equal(t, tt.wantPath, got.Path)
		})
	}
}

func TestForwarder_QueryHostAndForwardedHeaders(t *testing.T) {
	backend, seen := recordingBackend(t, http.StatusOK, "[]")
	gw := newGateway(t, config.UpstreamConfig{}, &mockLogger{}, routeTo(t, "products", "/api/products", backend.URL))

	req, err := http.NewRequest(http.MethodGet, gw.URL+"/api/products/search?q=shoe&page=2", nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set(pipeline.RequestIDHeader, "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	got := receive(t, seen)
	backendURL, _ := url.Parse(backend.URL)
	assert.Equal(t, "/search", got.Path)
	assert.Equal(t, "q=shoe&page=2", got.RawQuery)
	assert.Equal(t, backendURL.Host, got.Host)
	assert.Equal(t, []string{"203.0.113.7"}, got.ForwardedFor)
	assert.Equal(t, "req-123", got.RequestID)
}

func TestForwarder_NoForwardedHeadersAdded(t *testing.T) {
	backend, seen := recordingBackend(t, http.StatusOK, "{}")
	gw := newGateway(t, config.UpstreamConfig{}, &mockLogger{}, routeTo(t, "orders", "/api/orders", backend.URL))

	resp, err := http.Get(gw.URL + "/api/orders")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, receive(t, seen).ForwardedFor)
}

func TestForwarder_BackendErrorStatusRelayed(t *testing.T) {
	backend, _ := recordingBackend(t, http.StatusConflict, `{"error":"out of stock"}`)
	gw := newGateway(t, config.UpstreamConfig{}, &mockLogger{}, routeTo(t, "inventory", "/api/inventory", backend.URL))

	resp, err := http.Get(gw.URL + "/api/inventory/p1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, `{"error":"out of stock"}`, string(body))
}

func closedPortURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr
}

func decodeError(t *testing.T, r io.Reader) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(r).Decode(&body))
	return body.Error
}

func TestForwarder_UnreachableBackend(t *testing.T) {
	logger := &mockLogger{}
	upstream := config.UpstreamConfig{DialTimeout: 500 * time.Millisecond}
	gw := newGateway(t, upstream, logger, routeTo(t, "orders", "/api/orders", closedPortURL(t)))

	start := time.Now()
	resp, err := http.Post(gw.URL+"/api/orders", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "Bad Gateway: upstream service unavailable", decodeError(t, resp.Body))
	assert.True(t, logger.hasMessage("warn", "Upstream request failed"))
}

func TestForwarder_ResponseHeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer backend.Close()
	defer close(release)

	upstream := config.UpstreamConfig{ResponseHeaderTimeout: 100 * time.Millisecond}
	gw := newGateway(t, upstream, &mockLogger{}, routeTo(t, "users", "/api/users", backend.URL))

	resp, err := http.Get(gw.URL + "/api/users/1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestForwarder_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer backend.Close()
	defer close(release)

	upstream := config.UpstreamConfig{RequestTimeout: 100 * time.Millisecond}
	gw := newGateway(t, upstream, &mockLogger{}, routeTo(t, "users", "/api/users", backend.URL))

	start := time.Now()
	resp, err := http.Get(gw.URL + "/api/users/1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestForwarder_StreamsWithoutBuffering(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "first\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = io.WriteString(w, "second\n")
	}))
	defer backend.Close()

	gw := newGateway(t, config.UpstreamConfig{}, &mockLogger{}, routeTo(t, "orders", "/api/orders", backend.URL))

	resp, err := http.Get(gw.URL + "/api/orders/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	lineCh := make(chan string, 1)
	go func() {
		line, _ := reader.ReadString('\n')
		lineCh <- line
	}()

	select {
	case line := <-lineCh:
		assert.Equal(t, "first\n", line)
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("first chunk was buffered by the gateway")
	}

	close(release)
	rest, _ := io.ReadAll(reader)
	assert.Equal(t, "second\n", string(rest))
}

func TestForwarder_ClientCancelPropagates(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
		close(cancelled)
	}))
	defer backend.Close()

	logger := &mockLogger{}
	gw := newGateway(t, config.UpstreamConfig{}, logger, routeTo(t, "orders", "/api/orders", backend.URL))

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gw.URL+"/api/orders/slow", nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if resp != nil {
			resp.Body.Close()
		}
		errCh <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("backend was not called")
	}
	cancel()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("backend request was not cancelled")
	}
	assert.Error(t, <-errCh)
}

func TestForwarder_ProcessWithoutRoute(t *testing.T) {
	fwd := NewForwarder(http.DefaultTransport, nil)
	assert.Equal(t, "proxy", fwd.Name())

	rc := pipeline.NewRequestContext(httptest.NewRequest(http.MethodGet, "/api/x", nil), "")
	res := fwd.Process(httptest.NewRecorder(), rc)

	require.NotNil(t, res.Err())
	assert.Equal(t, pipeline.KindInternal, res.Err().Kind)
}

func TestForwarder_BodyLimitError(t *testing.T) {
	fwd := NewForwarder(http.DefaultTransport, &mockLogger{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/cart", nil)

	fwd.handleError(rec, req, &http.MaxBytesError{Limit: 10})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "Payload Too Large", decodeError(t, rec.Body))
}

func TestForwarder_CancelledErrorLoggedAtDebug(t *testing.T) {
	logger := &mockLogger{}
	fwd := NewForwarder(http.DefaultTransport, logger)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)

	fwd.handleError(rec, req, context.Canceled)

	assert.Equal(t, pipeline.StatusClientClosedRequest, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.True(t, logger.hasMessage("debug", "Client cancelled request"))
	assert.False(t, logger.hasMessage("warn", "Upstream request failed"))
}

func TestNewTransport(t *testing.T) {
	tr := NewTransport(config.UpstreamConfig{
		ResponseHeaderTimeout: 3 * time.Second,
		MaxIdleConnsPerHost:   4,
	})
	assert.Equal(t, 3*time.Second, tr.ResponseHeaderTimeout)
	assert.Equal(t, 4, tr.MaxIdleConnsPerHost)
	assert.Nil(t, tr.Proxy)

	defaults := NewTransport(config.UpstreamConfig{})
	assert.Equal(t, config.DefaultMaxIdleConnsPerHost, defaults.MaxIdleConnsPerHost)
}
