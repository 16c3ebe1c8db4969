package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/amoylab/unla-edge/internal/common/errorx"
	"github.com/amoylab/unla-edge/pkg/mcp"

	"github.com/gorilla/websocket"
)

// readLoop owns the read side of the connection. It enforces the size and
// global rate limits and hands everything else to the event loop.
func (t *Transport) readLoop(s *Session) {
	conn, id := s.conn, s.ID
	maxSize := t.cfg.MaxMessageSize

	conn.SetPongHandler(func(string) error {
		_ = t.post(evActivity{id: id, pong: true})
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		_ = t.post(evActivity{id: id})
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(t.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})

	for {
		_, r, err := conn.NextReader()
		if err != nil {
			_ = t.post(evDisconnect{id: id, reason: readCloseReason(err), err: err})
			return
		}
		data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
		if err != nil {
			_ = t.post(evDisconnect{id: id, reason: reasonReadFailed, err: err})
			return
		}
		if int64(len(data)) > maxSize {
			if _, err := io.Copy(io.Discard, r); err != nil {
				_ = t.post(evDisconnect{id: id, reason: reasonReadFailed, err: err})
				return
			}
			t.metrics.Message("in", "oversized")
			_ = t.post(evReject{id: id, err: &errorx.ProtocolError{
				Reason: fmt.Sprintf("message exceeds %d bytes", maxSize),
			}})
			continue
		}

		if d := t.limiter.Check(context.Background(), s.callerKey); !d.Allowed {
			t.metrics.RateLimited("global")
			_ = t.post(evReject{id: id, reqID: mcp.PeekID(data), err: &errorx.RateLimitExceeded{
				Limit:      d.Limit,
				RetryAfter: d.RetryAfter,
			}})
			continue
		}

		msg, perr := mcp.ParseMessage(data)
		ev := evInbound{id: id, msg: msg, err: perr}
		if perr != nil || msg.Kind == mcp.KindRequest {
			ev.peekedID = mcp.PeekID(data)
		}
		if err := t.post(ev); err != nil {
			return
		}
	}
}

// writeLoop owns the write side. It exits when the loop closes s.out and
// then sends the close frame.
func (t *Transport) writeLoop(s *Session) {
	conn := s.conn
	defer conn.Close()

	for f := range s.out {
		deadline := time.Now().Add(t.cfg.WriteTimeout)
		var err error
		switch f.kind {
		case framePing:
			err = conn.WriteControl(websocket.PingMessage, nil, deadline)
		default:
			_ = conn.SetWriteDeadline(deadline)
			err = conn.WriteMessage(websocket.TextMessage, f.data)
		}
		if err != nil {
			_ = t.post(evDisconnect{id: s.ID, reason: reasonWriteFailed, err: err})
			return
		}
	}

	msg := websocket.FormatCloseMessage(s.closeCode, s.closeReason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.cfg.WriteTimeout))
}

func readCloseReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return reasonClientClosed
	}
	return reasonReadFailed
}
