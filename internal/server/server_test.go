package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/amoylab/unla-edge/internal/auth"
	"github.com/amoylab/unla-edge/internal/auth/storage"
	"github.com/amoylab/unla-edge/internal/breaker"
	"github.com/amoylab/unla-edge/internal/common/config"
	"github.com/amoylab/unla-edge/internal/common/errorx"
	"github.com/amoylab/unla-edge/internal/transport"
	"github.com/amoylab/unla-edge/pkg/mcp"
	"github.com/amoylab/unla-edge/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "admin-token"

func newTestServer(t *testing.T, cfg config.ServerConfig) (*Server, *transport.Transport) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	edge := &config.EdgeConfig{Server: cfg}
	edge.ApplyDefaults()

	gate := auth.NewGate(
		storage.NewMemoryStore([]config.StaticToken{{ID: "admin", Token: testToken}}),
		nil, edge.Auth.ExemptPaths)
	m := metrics.New(config.MetricsConfig{Namespace: "edge"})
	tr := transport.New(zap.NewNop(), transport.Options{
		Config:  edge.Transport,
		Gate:    gate,
		Metrics: m,
		Dispatcher: transport.DispatcherFunc(func(context.Context, transport.SessionInfo, *mcp.JSONRPCRequest) (any, error) {
			return struct{}{}, nil
		}),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go tr.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-tr.Done()
	})

	s := New(zap.NewNop(), edge.Server, Deps{
		Transport: tr,
		Gate:      gate,
		Metrics:   m,
		Breakers:  breaker.NewRegistry(breaker.Settings{}),
	})
	return s, tr
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{})
	s.breakers.Get("api.example.com")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status       string             `json:"status"`
		SessionCount int                `json:"sessionCount"`
		Uptime       string             `json:"uptime"`
		Breakers     []breaker.Snapshot `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Zero(t, body.SessionCount)
	assert.NotEmpty(t, body.Uptime)
	require.Len(t, body.Breakers, 1)
	assert.Equal(t, "closed", body.Breakers[0].State)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "edge_sessions_active")
}

func TestNotify(t *testing.T) {
	s, tr := newTestServer(t, config.ServerConfig{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	header := http.Header{"Authorization": {"Bearer " + testToken}}
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/mcp", header)
	require.NoError(t, err)
	defer conn.Close()
	_ = resp.Body.Close()
	require.Eventually(t, func() bool { return tr.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	post := func(token, body string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/notifications", strings.NewReader(body))
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	note := `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`
	assert.Equal(t, http.StatusUnauthorized, post("", note).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(testToken, `{"jsonrpc":"2.0","id":1,"method":"x"}`).StatusCode)

	resp = post(testToken, note)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Delivered int `json:"delivered"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out.Delivered)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, note, string(data))
}

func TestListen_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	s, _ := newTestServer(t, config.ServerConfig{Host: "127.0.0.1", Port: port})
	err = s.Listen()
	var fatal *errorx.FatalStartupError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(port), fatal.Addr)
}

func TestServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s, _ := newTestServer(t, config.ServerConfig{Host: "127.0.0.1", Port: port})
	require.NoError(t, s.Listen())

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
}
