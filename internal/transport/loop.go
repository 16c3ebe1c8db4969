package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/amoylab/unla-edge/internal/common/cnst"
	"github.com/amoylab/unla-edge/internal/common/errorx"
	"github.com/amoylab/unla-edge/pkg/mcp"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Close reasons, also used as metric labels
const (
	reasonClientClosed     = "client closed"
	reasonReadFailed       = "read failed"
	reasonWriteFailed      = "write failed"
	reasonSlowConsumer     = "slow consumer"
	reasonHeartbeatTimeout = "heartbeat timeout"
	reasonShutdown         = "server shutdown"
)

type (
	// evRegister is acknowledged by closing accepted once the loop owns the
	// session
	evRegister struct {
		session  *Session
		accepted chan struct{}
	}
	// evInbound carries a frame that passed the size and global rate checks
	evInbound struct {
		id       string
		msg      *mcp.Message
		err      error
		peekedID mcp.RequestID
	}
	// evReject answers a frame refused by the reader without touching state
	evReject struct {
		id    string
		reqID mcp.RequestID
		err   error
	}
	evActivity struct {
		id   string
		pong bool
	}
	evDisconnect struct {
		id     string
		reason string
		err    error
	}
	evResult struct {
		id     string
		key    string
		seq    uint64
		result any
		err    error
	}
	evBroadcast struct {
		frame []byte
		reply chan int
	}
	evCall struct {
		fn   func()
		done chan struct{}
	}
)

func (t *Transport) handle(ev any) {
	switch e := ev.(type) {
	case evRegister:
		t.register(e.session)
		if e.accepted != nil {
			close(e.accepted)
		}
	case evInbound:
		t.inbound(e)
	case evReject:
		if s := t.sessions[e.id]; s != nil {
			t.reply(s, errorx.ErrorResponse(e.reqID, e.err))
		}
	case evActivity:
		if s := t.sessions[e.id]; s != nil {
			now := t.now()
			s.LastActivity = now
			if e.pong {
				s.LastHeartbeatAck = now
			}
		}
	case evDisconnect:
		if s := t.sessions[e.id]; s != nil {
			if e.err != nil {
				s.logger.Debug("connection ended", zap.Error(e.err))
			}
			t.closeSession(s, websocket.CloseNormalClosure, e.reason)
		}
	case evResult:
		t.complete(e)
	case evBroadcast:
		e.reply <- t.broadcast(e.frame)
	case evCall:
		e.fn()
		close(e.done)
	default:
		t.logger.Error("unknown event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

func (t *Transport) register(s *Session) {
	s.State = StateActive
	s.windowStart = s.CreatedAt
	t.sessions[s.ID] = s
	t.sessionCount.Add(1)
	t.metrics.SessionOpened()
	s.logger.Info("session opened",
		zap.Bool("authenticated", s.Authenticated),
		zap.String("credential_id", s.CredentialID))
}

func (t *Transport) inbound(e evInbound) {
	s := t.sessions[e.id]
	if s == nil || s.State != StateActive {
		return
	}
	now := t.now()

	if lim := t.cfg.SessionRateLimit; lim.MaxMessages > 0 {
		if now.Sub(s.windowStart) >= lim.Window {
			s.windowStart = now
			s.messageCount = 0
		}
		s.messageCount++
		if s.messageCount > lim.MaxMessages {
			t.metrics.RateLimited("session")
			retry := lim.Window - now.Sub(s.windowStart)
			t.reply(s, errorx.ErrorResponse(e.peekedID, &errorx.RateLimitExceeded{
				Limit:      lim.MaxMessages,
				RetryAfter: retry,
			}))
			return
		}
	}
	s.LastActivity = now

	if e.err != nil {
		t.metrics.Message("in", "invalid")
		s.logger.Debug("rejecting malformed message", zap.Error(e.err))
		t.reply(s, errorx.ErrorResponse(e.peekedID, &errorx.ProtocolError{
			Reason: e.err.Error(),
			Parse:  errors.Is(e.err, mcp.ErrParse),
			Err:    e.err,
		}))
		return
	}

	t.metrics.Message("in", e.msg.Kind.String())
	switch e.msg.Kind {
	case mcp.KindRequest:
		t.accept(s, e.msg.Request)
	case mcp.KindNotification:
		if h, ok := t.dispatcher.(NotificationHandler); ok {
			info := s.Info()
			n := e.msg.Notification
			go h.HandleNotification(context.Background(), info, n)
		}
	default:
		// the edge never issues requests, so peer responses have nothing to match
		s.logger.Debug("ignoring peer response",
			zap.String("kind", e.msg.Kind.String()),
			zap.String("id", e.msg.Response.ID.String()))
	}
}

func (t *Transport) accept(s *Session, req *mcp.JSONRPCRequest) {
	key := req.ID.String()
	if _, dup := s.pending[key]; dup {
		t.reply(s, errorx.ErrorResponse(req.ID, &errorx.ProtocolError{
			Reason: fmt.Sprintf("request id %s is already pending", key),
		}))
		return
	}
	if limit := t.cfg.MaxPendingRequests; len(s.pending) >= limit {
		t.metrics.BackpressureRejected()
		t.reply(s, errorx.ErrorResponse(req.ID, &errorx.BackpressureError{
			Pending: len(s.pending),
			Max:     limit,
		}))
		return
	}

	t.seq++
	s.pending[key] = &pendingRequest{request: req, submittedAt: t.now(), seq: t.seq}
	t.metrics.PendingAdd(1)
	go t.dispatch(s.Info(), key, t.seq, req)
}

func (t *Transport) dispatch(info SessionInfo, key string, seq uint64, req *mcp.JSONRPCRequest) {
	start := t.now()
	t.metrics.McpReqStart(req.Method)

	scope := t.tracer.Start(context.Background(), cnst.SpanMCPMethodPrefix+req.Method,
		trace.WithSpanKind(trace.SpanKindServer)).
		WithAttrs(
			attribute.String(cnst.AttrMCPSessionID, info.ID),
			attribute.String(cnst.AttrMCPRequestID, key),
			attribute.String(cnst.AttrClientAddr, info.RemoteAddr),
		)

	result, err := t.safeDispatch(scope.Ctx, info, req)
	outcome := "ok"
	if err != nil {
		outcome = string(errorx.Category(err))
		scope.WithAttrs(attribute.Int(cnst.AttrMCPErrorCode, errorx.ToJSONRPC(err).Code)).Fail(err)
	}
	scope.End()
	t.metrics.McpReqDone(req.Method, outcome, start)

	_ = t.post(evResult{id: info.ID, key: key, seq: seq, result: result, err: err})
}

func (t *Transport) safeDispatch(ctx context.Context, info SessionInfo, req *mcp.JSONRPCRequest) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("dispatcher panicked",
				zap.String("method", req.Method),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()
	return t.dispatcher.Dispatch(ctx, info, req)
}

func (t *Transport) complete(e evResult) {
	s := t.sessions[e.id]
	if s == nil {
		t.metrics.ResultDropped("session_closed")
		t.logger.Debug("dropping result for closed session",
			zap.String("session_id", e.id), zap.String("id", e.key))
		return
	}
	p, ok := s.pending[e.key]
	if !ok || p.seq != e.seq {
		t.metrics.ResultDropped("superseded")
		s.logger.Debug("dropping late result", zap.String("id", e.key))
		return
	}
	delete(s.pending, e.key)
	t.metrics.PendingAdd(-1)

	if e.err != nil {
		t.reply(s, errorx.ErrorResponse(p.request.ID, e.err))
		return
	}
	t.reply(s, mcp.NewResponse(p.request.ID, e.result))
}

func (t *Transport) reply(s *Session, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode frame", zap.Error(err))
		data, _ = json.Marshal(errorx.ErrorResponse(nil, fmt.Errorf("encode response: %w", err)))
	}
	if t.enqueue(s, outbound{kind: frameText, data: data}) {
		t.metrics.Message("out", "frame")
	}
}

// enqueue never blocks the loop: a full queue closes the session
func (t *Transport) enqueue(s *Session, f outbound) bool {
	if s.State != StateActive {
		return false
	}
	select {
	case s.out <- f:
		return true
	default:
		s.logger.Warn("send queue full, closing session", zap.Int("queue_size", cap(s.out)))
		t.closeSession(s, websocket.ClosePolicyViolation, reasonSlowConsumer)
		return false
	}
}

func (t *Transport) broadcast(frame []byte) int {
	delivered := 0
	for _, s := range t.sessions {
		if !s.Authenticated {
			continue
		}
		if t.enqueue(s, outbound{kind: frameText, data: frame}) {
			delivered++
		}
	}
	t.metrics.Broadcast()
	t.logger.Debug("broadcast delivered", zap.Int("sessions", delivered))
	return delivered
}

// closeSession is idempotent. Pending entries are discarded and the writer
// sends the close frame once it drains the queue.
func (t *Transport) closeSession(s *Session, code int, reason string) {
	if s.State >= StateClosing {
		return
	}
	s.State = StateClosing
	if n := len(s.pending); n > 0 {
		t.metrics.PendingAdd(-n)
	}
	s.pending = nil
	delete(t.sessions, s.ID)
	t.sessionCount.Add(-1)
	s.closeCode, s.closeReason = code, reason
	close(s.out)
	s.State = StateClosed

	t.metrics.SessionClosed(reason)
	s.logger.Info("session closed",
		zap.String("reason", reason),
		zap.Duration("age", t.now().Sub(s.CreatedAt)))
}

func (t *Transport) heartbeatSweep() {
	now := t.now()
	for _, s := range t.sessions {
		if idle := now.Sub(s.LastActivity); idle > t.cfg.HeartbeatTimeout {
			s.logger.Info("reaping idle session", zap.Duration("idle", idle))
			t.closeSession(s, websocket.CloseGoingAway, reasonHeartbeatTimeout)
			continue
		}
		t.enqueue(s, outbound{kind: framePing})
	}
}

func (t *Transport) staleSweep() {
	now := t.now()
	for _, s := range t.sessions {
		for key, p := range s.pending {
			if s.State != StateActive {
				break
			}
			if now.Sub(p.submittedAt) <= t.cfg.RequestTimeout {
				continue
			}
			delete(s.pending, key)
			t.metrics.PendingAdd(-1)
			t.metrics.RequestTimedOut()
			s.logger.Warn("request timed out",
				zap.String("id", key),
				zap.String("method", p.request.Method))
			t.reply(s, errorx.ErrorResponse(p.request.ID, &errorx.RequestTimeout{After: t.cfg.RequestTimeout}))
		}
	}
}

// shutdown first takes over every session whose registration is still
// buffered, so no accepted connection is left without a close frame.
func (t *Transport) shutdown() {
	for drained := false; !drained; {
		select {
		case ev := <-t.events:
			switch ev.(type) {
			case evRegister, evCall, evBroadcast:
				t.handle(ev)
			}
		default:
			drained = true
		}
	}
	for _, s := range t.sessions {
		t.closeSession(s, websocket.CloseGoingAway, reasonShutdown)
	}
	t.logger.Info("transport event loop stopped")
}
