package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amoylab/unla-edge/internal/auth"
	"github.com/amoylab/unla-edge/internal/auth/storage"
	"github.com/amoylab/unla-edge/internal/common/config"
	"github.com/amoylab/unla-edge/internal/ratelimit"
	"github.com/amoylab/unla-edge/pkg/mcp"
	"github.com/amoylab/unla-edge/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "s3cret-token"

type testFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int            `json:"code"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	} `json:"error"`
}

type fixture struct {
	tr     *Transport
	base   string
	cancel context.CancelFunc
}

func testConfig() config.TransportConfig {
	return config.TransportConfig{
		MaxMessageSize:     1 << 20,
		MaxPendingRequests: 50,
		RequestTimeout:     5 * time.Second,
		StaleSweepInterval: 20 * time.Millisecond,
		HeartbeatInterval:  time.Minute,
		HeartbeatTimeout:   2 * time.Minute,
		WriteTimeout:       time.Second,
		SendQueueSize:      64,
		HandshakeTimeout:   time.Second,
	}
}

func newFixture(t *testing.T, cfg config.TransportConfig, d Dispatcher, mutate ...func(*Options)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore([]config.StaticToken{{ID: "tok-1", Name: "test", Token: testToken}})
	opts := Options{
		Config:     cfg,
		Gate:       auth.NewGate(store, nil, []string{"/public"}),
		Dispatcher: d,
	}
	for _, m := range mutate {
		m(&opts)
	}
	tr := New(zap.NewNop(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	go tr.Run(ctx)

	r := gin.New()
	r.GET("/mcp", tr.Handle)
	r.GET("/public", tr.Handle)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		cancel()
		<-tr.Done()
		srv.Close()
	})
	return &fixture{tr: tr, base: srv.URL, cancel: cancel}
}

func (f *fixture) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(f.base, "http") + path
}

func (f *fixture) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(path), h)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *fixture) waitSessions(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.tr.SessionCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func request(id any, method string) string {
	raw, _ := json.Marshal(id)
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"method":%q}`, raw, method)
}

func readFrame(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f testFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func readFrames(t *testing.T, conn *websocket.Conn, n int) map[string]testFrame {
	t.Helper()
	out := make(map[string]testFrame, n)
	for i := 0; i < n; i++ {
		f := readFrame(t, conn)
		out[string(f.ID)] = f
	}
	return out
}

func assertSilent(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	var netErr net.Error
	require.Truef(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected frame %s (err %v)", data, err)
}

var echo = DispatcherFunc(func(_ context.Context, _ SessionInfo, req *mcp.JSONRPCRequest) (any, error) {
	return map[string]string{"method": req.Method}, nil
})

// gatedDispatcher holds "slow" requests until release is closed
type gatedDispatcher struct {
	release chan struct{}
	started chan string
}

func newGatedDispatcher() *gatedDispatcher {
	return &gatedDispatcher{release: make(chan struct{}), started: make(chan string, 16)}
}

func (d *gatedDispatcher) Dispatch(ctx context.Context, info SessionInfo, req *mcp.JSONRPCRequest) (any, error) {
	switch req.Method {
	case "slow":
		d.started <- req.ID.String()
		<-d.release
		return "late", nil
	case "boom":
		panic("kaboom")
	}
	return echo(ctx, info, req)
}

func TestHandshake_Rejected(t *testing.T) {
	f := newFixture(t, testConfig(), echo)

	tests := []struct {
		name   string
		header http.Header
	}{
		{name: "missing credential", header: http.Header{}},
		{name: "unknown credential", header: http.Header{"Authorization": {"Bearer nope"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL("/mcp"), tt.header)
			if conn != nil {
				_ = conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")
		})
	}
	assert.Equal(t, 0, f.tr.SessionCount())
}

func TestHandle_RequiresUpgrade(t *testing.T) {
	f := newFixture(t, testConfig(), echo)
	resp, err := http.Get(f.base + "/mcp")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandshake_SubprotocolCredential(t *testing.T) {
	f := newFixture(t, testConfig(), echo)
	dialer := websocket.Dialer{Subprotocols: []string{mcp.Subprotocol, "bearer." + testToken}}
	conn, resp, err := dialer.Dial(f.wsURL("/mcp"), nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()
	assert.Equal(t, mcp.Subprotocol, conn.Subprotocol())

	send(t, conn, request(1, "ping"))
	assert.JSONEq(t, `{"method":"ping"}`, string(readFrame(t, conn).Result))

	// browser clients may offer only the credential entry
	dialer = websocket.Dialer{Subprotocols: []string{"bearer." + testToken}}
	conn2, resp2, err := dialer.Dial(f.wsURL("/mcp"), nil)
	require.NoError(t, err)
	defer conn2.Close()
	defer resp2.Body.Close()
	assert.Equal(t, "bearer."+testToken, conn2.Subprotocol())

	send(t, conn2, request(2, "ping"))
	assert.JSONEq(t, `{"method":"ping"}`, string(readFrame(t, conn2).Result))
}

func TestRequestResponseCorrelation(t *testing.T) {
	f := newFixture(t, testConfig(), echo)
	conn := f.dial(t, "/mcp", testToken)

	send(t, conn, request(7, "tools/list"))
	send(t, conn, request("abc", "initialize"))

	frames := readFrames(t, conn, 2)
	require.Contains(t, frames, "7")
	require.Contains(t, frames, `"abc"`)
	assert.JSONEq(t, `{"method":"tools/list"}`, string(frames["7"].Result))
	assert.JSONEq(t, `{"method":"initialize"}`, string(frames[`"abc"`].Result))

	sessions, err := f.tr.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Authenticated)
	assert.Equal(t, "tok-1", sessions[0].CredentialID)
	assert.Equal(t, "active", sessions[0].State)
	assert.Zero(t, sessions[0].Pending)
}

func TestMalformedMessages(t *testing.T) {
	f := newFixture(t, testConfig(), echo)
	conn := f.dial(t, "/mcp", testToken)

	send(t, conn, `{not json`)
	fr := readFrame(t, conn)
	require.NotNil(t, fr.Error)
	assert.Equal(t, mcp.ErrorCodeParseError, fr.Error.Code)
	assert.Equal(t, "null", string(fr.ID))

	send(t, conn, `{"jsonrpc":"1.0","id":4,"method":"ping"}`)
	fr = readFrame(t, conn)
	require.NotNil(t, fr.Error)
	assert.Equal(t, mcp.ErrorCodeInvalidRequest, fr.Error.Code)
	assert.Equal(t, "4", string(fr.ID))
	assert.Equal(t, "ProtocolError", fr.Error.Data["type"])
}

func TestPeerResponseIgnored(t *testing.T) {
	f := newFixture(t, testConfig(), echo)
	conn := f.dial(t, "/mcp", testToken)

	send(t, conn, `{"jsonrpc":"2.0","id":9,"result":{}}`)
	send(t, conn, request(10, "ping"))
	assert.Equal(t, "10", string(readFrame(t, conn).ID))
}

func TestOversizedMessageKeepsConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 128
	f := newFixture(t, cfg, echo)
	conn := f.dial(t, "/mcp", testToken)

	big := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":%q}}`, strings.Repeat("x", 512))
	send(t, conn, big)
	fr := readFrame(t, conn)
	require.NotNil(t, fr.Error)
	assert.Equal(t, mcp.ErrorCodeInvalidRequest, fr.Error.Code)
	assert.Equal(t, "null", string(fr.ID))

	send(t, conn, request(2, "ping"))
	fr = readFrame(t, conn)
	assert.Nil(t, fr.Error)
	assert.Equal(t, "2", string(fr.ID))
	assert.Equal(t, 1, f.tr.SessionCount())
}

func TestRequestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.RequestTimeout = 100 * time.Millisecond
	d := newGatedDispatcher()
	f := newFixture(t, cfg, d)
	conn := f.dial(t, "/mcp", testToken)

	send(t, conn, request("slow-1", "slow"))
	fr := readFrame(t, conn)
	require.NotNil(t, fr.Error)
	assert.Equal(t, mcp.ErrorCodeRequestTimeout, fr.Error.Code)
	assert.Equal(t, `"slow-1"`, string(fr.ID))

	// the late result must not produce a second response
	close(d.release)
	send(t, conn, request(2, "ping"))
	assert.Equal(t, "2", string(readFrame(t, conn).ID))
	assertSilent(t, conn, 150*time.Millisecond)
}

func TestBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPendingRequests = 2
	d := newGatedDispatcher()
	f := newFixture(t, cfg, d)
	conn := f.dial(t, "/mcp", testToken)

	send(t, conn, request(1, "slow"))
	send(t, conn, request(2, "slow"))
	send(t, conn, request(3, "slow"))

	fr := readFrame(t, conn)
	require.NotNil(t, fr.Error)
	assert.Equal(t, mcp.ErrorCodeBackpressure, fr.Error.Code)
	assert.Equal(t, "3", string(fr.ID))

	close(d.release)
	frames := readFrames(t, conn, 2)
	assert.Contains(t, frames, "1")
	assert.Contains(t, frames, "2")
}

func TestDuplicatePendingID(t *testing.T) {
	d := newGatedDispatcher()
	f := newFixture(t, testConfig(), d)
	conn := f.dial(t, "/mcp", testToken)

	send(t, conn, request(1, "slow"))
	<-d.started
	send(t, conn, request(1, "slow"))

	fr := readFrame(t, conn)
	require.NotNil(t, fr.Error)
	assert.Equal(t, mcp.ErrorCodeInvalidRequest, fr.Error.Code)

	close(d.release)
	fr = readFrame(t, conn)
	assert.Nil(t, fr.Error)
	assert.JSONEq(t, `"late"`, string(fr.Result))
	assertSilent(t, conn, 100*time.Millisecond)
}

func TestDispatcherPanic(t *testing.T) {
	f := newFixture(t, testConfig(), newGatedDispatcher())
	conn := f.dial(t, "/mcp", testToken)

	send(t, conn, request(1, "boom"))
	fr := readFrame(t, conn)
	require.NotNil(t, fr.Error)
	assert.Equal(t, mcp.ErrorCodeInternalError, fr.Error.Code)

	send(t, conn, request(2, "ping"))
	assert.Equal(t, "2", string(readFrame(t, conn).ID))
}

func TestSessionRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.SessionRateLimit = config.WindowRateConfig{MaxMessages: 2, Window: 300 * time.Millisecond}
	f := newFixture(t, cfg, echo)
	conn := f.dial(t, "/mcp", testToken)

	for i := 1; i <= 3; i++ {
		send(t, conn, request(i, "ping"))
	}
	frames := readFrames(t, conn, 3)
	require.NotNil(t, frames["3"].Error)
	assert.Equal(t, mcp.ErrorCodeRateLimitExceeded, frames["3"].Error.Code)
	assert.Nil(t, frames["1"].Error)
	assert.Nil(t, frames["2"].Error)

	time.Sleep(350 * time.Millisecond)
	send(t, conn, request(4, "ping"))
	assert.Nil(t, readFrame(t, conn).Error)
}

func TestGlobalRateLimit(t *testing.T) {
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), 2, 300*time.Millisecond)
	f := newFixture(t, testConfig(), echo, func(o *Options) { o.Limiter = limiter })
	conn := f.dial(t, "/mcp", testToken)

	for i := 1; i <= 3; i++ {
		send(t, conn, request(i, "ping"))
	}
	frames := readFrames(t, conn, 3)
	require.NotNil(t, frames["3"].Error)
	assert.Equal(t, mcp.ErrorCodeRateLimitExceeded, frames["3"].Error.Code)
	assert.Equal(t, "RateLimitExceeded", frames["3"].Error.Data["type"])

	time.Sleep(350 * time.Millisecond)
	send(t, conn, request(4, "ping"))
	assert.Nil(t, readFrame(t, conn).Error)
}

func TestSessionClose_DropsInflightResult(t *testing.T) {
	d := newGatedDispatcher()
	m := metrics.New(config.MetricsConfig{Namespace: "edge_test"})
	f := newFixture(t, testConfig(), d, func(o *Options) { o.Metrics = m })
	conn := f.dial(t, "/mcp", testToken)
	other := f.dial(t, "/mcp", testToken)
	f.waitSessions(t, 2)

	send(t, conn, request(1, "slow"))
	<-d.started
	require.NoError(t, conn.Close())
	f.waitSessions(t, 1)

	close(d.release)
	require.Eventually(t, func() bool {
		return counterValue(t, m, "edge_test_dropped_results_total", "session_closed") == 1
	}, 2*time.Second, 5*time.Millisecond)

	// the result for the closed session must not leak to the survivor
	assertSilent(t, other, 150*time.Millisecond)
	assert.Equal(t, 0.0, counterValue(t, m, "edge_test_dropped_results_total", "superseded"))

	send(t, other, request(1, "ping"))
	frame := readFrame(t, other)
	assert.JSONEq(t, `1`, string(frame.ID))
	assert.JSONEq(t, `{"method":"ping"}`, string(frame.Result))
}

func counterValue(t *testing.T, m *metrics.Metrics, name, label string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestHeartbeat_ReapsIdleSession(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 80 * time.Millisecond
	f := newFixture(t, cfg, echo)
	conn := f.dial(t, "/mcp", testToken)

	// the client never reads, so pings go unanswered
	f.waitSessions(t, 1)
	f.waitSessions(t, 0)

	conn.SetPingHandler(func(string) error { return nil })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestHeartbeat_KeepsResponsiveSession(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 80 * time.Millisecond
	f := newFixture(t, cfg, echo)
	conn := f.dial(t, "/mcp", testToken)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, f.tr.SessionCount())
}

func TestBroadcast_OnlyAuthenticatedSessions(t *testing.T) {
	f := newFixture(t, testConfig(), echo)
	authed := f.dial(t, "/mcp", testToken)
	anon := f.dial(t, "/public", "")
	f.waitSessions(t, 2)

	n, err := mcp.NewNotification(mcp.NotificationToolListChanged, nil)
	require.NoError(t, err)
	delivered, err := f.tr.Broadcast(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	fr := readFrame(t, authed)
	assert.Equal(t, mcp.NotificationToolListChanged, fr.Method)
	assertSilent(t, anon, 150*time.Millisecond)
}

type notifyingDispatcher struct {
	DispatcherFunc
	got chan string
}

func (d *notifyingDispatcher) HandleNotification(_ context.Context, _ SessionInfo, n *mcp.JSONRPCNotification) {
	d.got <- n.Method
}

func TestNotificationHandler(t *testing.T) {
	d := &notifyingDispatcher{DispatcherFunc: echo, got: make(chan string, 1)}
	f := newFixture(t, testConfig(), d)
	conn := f.dial(t, "/mcp", testToken)

	send(t, conn, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	select {
	case m := <-d.got:
		assert.Equal(t, mcp.NotificationInitialized, m)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
	assertSilent(t, conn, 100*time.Millisecond)
}

func TestShutdownClosesSessions(t *testing.T) {
	f := newFixture(t, testConfig(), echo)
	conn := f.dial(t, "/mcp", testToken)
	f.waitSessions(t, 1)

	f.cancel()
	<-f.tr.Done()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, f.tr.SessionCount())

	_, err = f.tr.Broadcast(context.Background(), mcp.JSONRPCNotification{JSONRPC: "2.0", Method: "x"})
	assert.ErrorIs(t, err, ErrClosed)

	resp, err := http.Get(f.base + "/mcp")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "rejected", StateRejected.String())
	assert.Equal(t, "unknown", State(42).String())
}

// Drives the loop handlers directly: a session whose queue is full is closed
// and never blocks delivery to the others.
func TestSlowConsumerClosed(t *testing.T) {
	cfg := testConfig()
	cfg.SendQueueSize = 1
	tr := New(zap.NewNop(), Options{Config: cfg, Dispatcher: echo})

	newSession := func(id string) *Session {
		s := &Session{
			ID:            id,
			Authenticated: true,
			CreatedAt:     time.Now(),
			pending:       make(map[string]*pendingRequest),
			out:           make(chan outbound, cfg.SendQueueSize),
			logger:        zap.NewNop(),
		}
		tr.register(s)
		return s
	}
	slow := newSession("slow")
	fast := newSession("fast")
	require.Equal(t, 2, tr.SessionCount())

	assert.Equal(t, 2, tr.broadcast([]byte(`{"jsonrpc":"2.0","method":"a"}`)))
	<-fast.out

	// slow never drained its queue
	assert.Equal(t, 1, tr.broadcast([]byte(`{"jsonrpc":"2.0","method":"b"}`)))
	assert.Equal(t, StateClosed, slow.State)
	assert.Equal(t, websocket.ClosePolicyViolation, slow.closeCode)
	assert.Equal(t, reasonSlowConsumer, slow.closeReason)
	assert.Equal(t, StateActive, fast.State)
	assert.Equal(t, 1, tr.SessionCount())

	// closing twice is a no-op
	tr.closeSession(slow, websocket.CloseNormalClosure, reasonClientClosed)
	assert.Equal(t, reasonSlowConsumer, slow.closeReason)
	assert.Equal(t, 1, tr.SessionCount())
}

// Registrations still buffered when the loop stops must be closed like any
// other session, otherwise their writer would wait forever.
func TestShutdown_ClosesBufferedRegistration(t *testing.T) {
	for i := 0; i < 20; i++ {
		tr := New(zap.NewNop(), Options{Config: testConfig(), Dispatcher: echo})
		s := &Session{
			ID:            fmt.Sprintf("buffered-%d", i),
			Authenticated: true,
			CreatedAt:     time.Now(),
			pending:       make(map[string]*pendingRequest),
			out:           make(chan outbound, 1),
			logger:        zap.NewNop(),
		}
		accepted := make(chan struct{})
		called := make(chan struct{})
		tr.events <- evRegister{session: s, accepted: accepted}
		tr.events <- evCall{fn: func() {}, done: called}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		tr.Run(ctx)

		select {
		case <-accepted:
		default:
			t.Fatalf("registration %d was never taken over", i)
		}
		select {
		case <-called:
		default:
			t.Fatalf("call %d was never released", i)
		}
		_, open := <-s.out
		assert.False(t, open)
		assert.Equal(t, StateClosed, s.State)
		assert.Equal(t, websocket.CloseGoingAway, s.closeCode)
		assert.Equal(t, reasonShutdown, s.closeReason)
		assert.Equal(t, 0, tr.SessionCount())
	}
}

func TestRegisterSession_RefusedAfterShutdown(t *testing.T) {
	tr := New(zap.NewNop(), Options{Config: testConfig(), Dispatcher: echo})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr.Run(ctx)

	s := &Session{
		ID:      "late",
		pending: make(map[string]*pendingRequest),
		out:     make(chan outbound, 1),
		logger:  zap.NewNop(),
	}
	assert.False(t, tr.registerSession(s))
	assert.Equal(t, 0, tr.SessionCount())
}
