package transport

import (
	"time"

	"github.com/amoylab/unla-edge/pkg/mcp"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the lifecycle position of a connection
type State int32

const (
	StateConnecting State = iota
	StateHandshake
	StateAuthenticated
	StateRejected
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshake:
		return "handshake"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionInfo is the read-only view handed to dispatchers
type SessionInfo struct {
	ID            string
	Authenticated bool
	CredentialID  string
	RemoteAddr    string
	CreatedAt     time.Time
}

// SessionSnapshot is a copy of a session taken on the event loop
type SessionSnapshot struct {
	SessionInfo
	State            string
	Pending          int
	LastActivity     time.Time
	LastHeartbeatAck time.Time
}

type pendingRequest struct {
	request     *mcp.JSONRPCRequest
	submittedAt time.Time
	seq         uint64
}

type frameKind int

const (
	frameText frameKind = iota
	framePing
)

type outbound struct {
	kind frameKind
	data []byte
}

// Session is one live connection. Every field is owned by the event loop;
// the reader and writer goroutines only touch conn and out.
type Session struct {
	ID               string
	Authenticated    bool
	CredentialID     string
	RemoteAddr       string
	CreatedAt        time.Time
	LastActivity     time.Time
	LastHeartbeatAck time.Time
	State            State

	pending      map[string]*pendingRequest
	messageCount int
	windowStart  time.Time
	callerKey    string

	conn        *websocket.Conn
	out         chan outbound
	closeCode   int
	closeReason string
	logger      *zap.Logger
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:            s.ID,
		Authenticated: s.Authenticated,
		CredentialID:  s.CredentialID,
		RemoteAddr:    s.RemoteAddr,
		CreatedAt:     s.CreatedAt,
	}
}

func (s *Session) snapshot() SessionSnapshot {
	return SessionSnapshot{
		SessionInfo:      s.Info(),
		State:            s.State.String(),
		Pending:          len(s.pending),
		LastActivity:     s.LastActivity,
		LastHeartbeatAck: s.LastHeartbeatAck,
	}
}
