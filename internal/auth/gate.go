package auth

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/amoylab/unla-edge/internal/auth/storage"
	"github.com/amoylab/unla-edge/internal/common/config"

	"go.uber.org/zap"
)

// Reasons reported in decisions and audit events
const (
	ReasonExempt           = "exempt path"
	ReasonOK               = "credential accepted"
	ReasonMissing          = "missing credential"
	ReasonUnknown          = "unknown credential"
	ReasonExpired          = "credential expired"
	ReasonRevoked          = "credential revoked"
	ReasonStoreUnavailable = "credential store unavailable"
)

// Attempt is one presented credential for a request path
type Attempt struct {
	Credential string
	Path       string
	RemoteAddr string
}

// Decision is the outcome of an attempt
type Decision struct {
	Allowed      bool
	Bypass       bool
	CredentialID string
	Reason       string
	// Fingerprint identifies the presented credential without revealing it
	Fingerprint string
}

// Gate decides whether an attempt may proceed. It never touches transport
// state and can be used for both the socket handshake and plain HTTP.
type Gate struct {
	logger *zap.Logger
	store  storage.Store
	audit  AuditSink
	exempt map[string]struct{}
	now    func() time.Time

	header            string
	subprotocolPrefix string
}

type Option func(*Gate)

// WithClock replaces the time source used for expiry checks and audit events
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithCredentialSource overrides where ExtractCredential looks
func WithCredentialSource(header, subprotocolPrefix string) Option {
	return func(g *Gate) {
		g.header = header
		g.subprotocolPrefix = subprotocolPrefix
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

func NewGate(store storage.Store, audit AuditSink, exemptPaths []string, opts ...Option) *Gate {
	g := &Gate{
		logger:            zap.NewNop(),
		store:             store,
		audit:             audit,
		exempt:            make(map[string]struct{}, len(exemptPaths)),
		now:               time.Now,
		header:            config.DefaultAuthHeader,
		subprotocolPrefix: config.DefaultSubprotocolPrefix,
	}
	for _, p := range exemptPaths {
		g.exempt[p] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.audit == nil {
		g.audit = NopAuditSink{}
	}
	return g
}

// NewGateFromConfig builds the credential store and the audit sink
func NewGateFromConfig(ctx context.Context, logger *zap.Logger, cfg config.AuthConfig) (*Gate, error) {
	logger = logger.Named("auth")
	store, err := storage.NewStore(ctx, logger, cfg.Store)
	if err != nil {
		return nil, err
	}
	return NewGate(store, NewZapAuditSink(logger), cfg.ExemptPaths,
		WithLogger(logger),
		WithCredentialSource(cfg.Header, cfg.SubprotocolPrefix),
	), nil
}

// IsExempt reports whether path bypasses credential checks
func (g *Gate) IsExempt(path string) bool {
	_, ok := g.exempt[path]
	return ok
}

// Authenticate evaluates an attempt and emits exactly one audit event for it
func (g *Gate) Authenticate(ctx context.Context, a Attempt) Decision {
	d := g.decide(ctx, a)
	g.audit.Record(AuditEvent{
		Time:           g.now(),
		Outcome:        outcomeOf(d),
		Reason:         d.Reason,
		Path:           a.Path,
		RemoteAddr:     a.RemoteAddr,
		CredentialHash: d.Fingerprint,
		CredentialID:   d.CredentialID,
	})
	return d
}

func (g *Gate) decide(ctx context.Context, a Attempt) Decision {
	fp := storage.Fingerprint(a.Credential)
	if g.IsExempt(a.Path) {
		return Decision{Allowed: true, Bypass: true, Reason: ReasonExempt, Fingerprint: fp}
	}
	if a.Credential == "" {
		return Decision{Reason: ReasonMissing}
	}

	cred, err := g.store.Lookup(ctx, a.Credential)
	if err == nil {
		err = cred.Check(g.now())
	}
	switch {
	case err == nil:
		return Decision{Allowed: true, CredentialID: cred.ID, Reason: ReasonOK, Fingerprint: fp}
	case errors.Is(err, storage.ErrCredentialNotFound):
		return Decision{Reason: ReasonUnknown, Fingerprint: fp}
	case errors.Is(err, storage.ErrCredentialExpired):
		return Decision{Reason: ReasonExpired, Fingerprint: fp, CredentialID: credID(cred)}
	case errors.Is(err, storage.ErrCredentialRevoked):
		return Decision{Reason: ReasonRevoked, Fingerprint: fp, CredentialID: credID(cred)}
	default:
		g.logger.Error("credential lookup failed", zap.Error(err))
		return Decision{Reason: ReasonStoreUnavailable, Fingerprint: fp}
	}
}

func credID(c *storage.Credential) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func outcomeOf(d Decision) string {
	switch {
	case d.Bypass:
		return OutcomeBypass
	case d.Allowed:
		return OutcomeAllowed
	default:
		return OutcomeDenied
	}
}

// CallerKey is the limiter key for a caller: network address plus the
// credential fingerprint.
func CallerKey(remoteAddr, credential string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	fp := storage.Fingerprint(credential)
	if fp == "" {
		fp = "anonymous"
	}
	return host + "|" + fp
}
