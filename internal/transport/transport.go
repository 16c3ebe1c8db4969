package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/amoylab/unla-edge/internal/auth"
	"github.com/amoylab/unla-edge/internal/common/cnst"
	"github.com/amoylab/unla-edge/internal/common/config"
	"github.com/amoylab/unla-edge/internal/ratelimit"
	"github.com/amoylab/unla-edge/pkg/mcp"
	"github.com/amoylab/unla-edge/pkg/metrics"
	"github.com/amoylab/unla-edge/pkg/trace"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClosed is returned once the event loop has stopped
var ErrClosed = errors.New("transport closed")

// Authenticator performs the connection handshake
type Authenticator interface {
	ExtractCredential(r *http.Request) string
	CredentialSubprotocol(r *http.Request) string
	Authenticate(ctx context.Context, a auth.Attempt) auth.Decision
}

type Options struct {
	Config     config.TransportConfig
	Gate       Authenticator
	Dispatcher Dispatcher
	// Limiter is the global per-caller limiter; nil disables it
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	// Now defaults to time.Now
	Now func() time.Time
}

// Transport owns every session of the process. All session state lives on
// a single event-loop goroutine started by Run.
type Transport struct {
	logger     *zap.Logger
	cfg        config.TransportConfig
	gate       Authenticator
	dispatcher Dispatcher
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
	tracer     *trace.Builder
	now        func() time.Time
	upgrader   websocket.Upgrader

	events  chan any
	done    chan struct{}
	running atomic.Bool

	// loop-owned
	sessions map[string]*Session
	seq      uint64

	sessionCount atomic.Int64
}

func New(logger *zap.Logger, opts Options) *Transport {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	t := &Transport{
		logger:     logger.Named("transport"),
		cfg:        opts.Config,
		gate:       opts.Gate,
		dispatcher: opts.Dispatcher,
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		tracer:     trace.Tracer(cnst.TraceTransport),
		now:        now,
		events:     make(chan any, 1024),
		done:       make(chan struct{}),
		sessions:   make(map[string]*Session),
	}
	// the subprotocol is chosen per request by selectSubprotocol
	t.upgrader = websocket.Upgrader{
		HandshakeTimeout: opts.Config.HandshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	return t
}

// Run drives the event loop until ctx is done, then closes every session
// with CloseGoingAway. It must be called exactly once.
func (t *Transport) Run(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		panic("transport: Run called twice")
	}
	defer close(t.done)

	heartbeat := time.NewTicker(t.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	stale := time.NewTicker(t.cfg.StaleSweepInterval)
	defer stale.Stop()

	t.logger.Info("transport event loop started",
		zap.Duration("heartbeat_interval", t.cfg.HeartbeatInterval),
		zap.Duration("request_timeout", t.cfg.RequestTimeout))

	for {
		select {
		case <-ctx.Done():
			t.shutdown()
			return
		case ev := <-t.events:
			t.handle(ev)
		case <-heartbeat.C:
			t.heartbeatSweep()
		case <-stale.C:
			t.staleSweep()
		}
	}
}

// Done is closed after the event loop exits
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// SessionCount is safe to call from any goroutine
func (t *Transport) SessionCount() int {
	return int(t.sessionCount.Load())
}

// Handle runs the handshake and upgrades the connection. A rejected
// handshake is answered with 401 and never upgraded.
func (t *Transport) Handle(c *gin.Context) {
	r := c.Request
	logger := t.logger.With(zap.String("remote_addr", r.RemoteAddr))
	state := StateConnecting

	if !websocket.IsWebSocketUpgrade(r) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": "websocket upgrade required",
		})
		return
	}
	select {
	case <-t.done:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "unavailable",
			"message": "server is shutting down",
		})
		return
	default:
	}

	state = StateHandshake
	credential := t.gate.ExtractCredential(r)
	decision := t.gate.Authenticate(r.Context(), auth.Attempt{
		Credential: credential,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})
	if !decision.Allowed {
		state = StateRejected
		t.metrics.Handshake("rejected")
		logger.Info("handshake rejected",
			zap.String("state", state.String()),
			zap.String("reason", decision.Reason))
		auth.Reject(c, decision.Reason)
		return
	}
	state = StateAuthenticated
	if decision.Bypass {
		t.metrics.Handshake("bypass")
	} else {
		t.metrics.Handshake("accepted")
	}

	var header http.Header
	if proto := t.selectSubprotocol(r); proto != "" {
		header = http.Header{"Sec-Websocket-Protocol": {proto}}
	}
	conn, err := t.upgrader.Upgrade(c.Writer, r, header)
	if err != nil {
		// the upgrader has already replied
		logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	now := t.now()
	s := &Session{
		ID:               uuid.NewString(),
		Authenticated:    !decision.Bypass,
		CredentialID:     decision.CredentialID,
		RemoteAddr:       r.RemoteAddr,
		CreatedAt:        now,
		LastActivity:     now,
		LastHeartbeatAck: now,
		State:            state,
		pending:          make(map[string]*pendingRequest),
		callerKey:        auth.CallerKey(r.RemoteAddr, credential),
		conn:             conn,
		out:              make(chan outbound, t.cfg.SendQueueSize),
	}
	s.logger = logger.With(zap.String("session_id", s.ID))

	if !t.registerSession(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	go t.writeLoop(s)
	go t.readLoop(s)
}

// registerSession hands s to the event loop and reports whether the loop
// took ownership. A registration still buffered when the loop stops is
// picked up by shutdown; anything posted after that is refused here.
func (t *Transport) registerSession(s *Session) bool {
	accepted := make(chan struct{})
	if err := t.post(evRegister{session: s, accepted: accepted}); err != nil {
		return false
	}
	select {
	case <-accepted:
		return true
	case <-t.done:
		// done is closed after the final drain, so accepted is settled
		select {
		case <-accepted:
			return true
		default:
			return false
		}
	}
}

// selectSubprotocol prefers "mcp" and falls back to the entry that carried
// the credential, since browsers fail the handshake when none of the offered
// protocols is selected.
func (t *Transport) selectSubprotocol(r *http.Request) string {
	for _, proto := range websocket.Subprotocols(r) {
		if proto == mcp.Subprotocol {
			return proto
		}
	}
	return t.gate.CredentialSubprotocol(r)
}

// Broadcast delivers n to every active, authenticated session and returns
// how many sessions accepted it. A full queue on one session never blocks
// the others.
func (t *Transport) Broadcast(ctx context.Context, n mcp.JSONRPCNotification) (int, error) {
	frame, err := json.Marshal(n)
	if err != nil {
		return 0, err
	}
	reply := make(chan int, 1)
	if err := t.send(ctx, evBroadcast{frame: frame, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case delivered := <-reply:
		return delivered, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.done:
		return 0, ErrClosed
	}
}

// Sessions returns a snapshot of all registered sessions
func (t *Transport) Sessions(ctx context.Context) ([]SessionSnapshot, error) {
	var out []SessionSnapshot
	err := t.call(ctx, func() {
		out = make([]SessionSnapshot, 0, len(t.sessions))
		for _, s := range t.sessions {
			out = append(out, s.snapshot())
		}
	})
	return out, err
}

// call runs fn on the event loop and waits for it
func (t *Transport) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := t.send(ctx, evCall{fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrClosed
	}
}

func (t *Transport) send(ctx context.Context, ev any) error {
	select {
	case t.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrClosed
	}
}

// post is used by connection and dispatch goroutines
func (t *Transport) post(ev any) error {
	select {
	case t.events <- ev:
		return nil
	case <-t.done:
		return ErrClosed
	}
}

// Stats is the lock-free summary served by the health endpoint
type Stats struct {
	Sessions int `json:"sessionCount"`
}

func (t *Transport) Stats() Stats {
	return Stats{Sessions: t.SessionCount()}
}
