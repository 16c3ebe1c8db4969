package auth

import (
	"time"

	"go.uber.org/zap"
)

const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeBypass  = "bypass"
)

// AuditEvent describes one authentication decision. CredentialHash is a
// BLAKE2b fingerprint; the raw credential is never part of an event.
type AuditEvent struct {
	Time           time.Time
	Outcome        string
	Reason         string
	Path           string
	RemoteAddr     string
	CredentialHash string
	CredentialID   string
}

// AuditSink receives every decision made by a Gate
type AuditSink interface {
	Record(AuditEvent)
}

type NopAuditSink struct{}

func (NopAuditSink) Record(AuditEvent) {}

// ZapAuditSink writes audit events to the "auth.audit" logger
type ZapAuditSink struct {
	logger *zap.Logger
}

func NewZapAuditSink(logger *zap.Logger) *ZapAuditSink {
	return &ZapAuditSink{logger: logger.Named("audit")}
}

func (s *ZapAuditSink) Record(e AuditEvent) {
	fields := []zap.Field{
		zap.String("outcome", e.Outcome),
		zap.String("reason", e.Reason),
		zap.String("path", e.Path),
		zap.String("remote_addr", e.RemoteAddr),
		zap.String("credential_hash", e.CredentialHash),
		zap.Time("at", e.Time),
	}
	if e.CredentialID != "" {
		fields = append(fields, zap.String("credential_id", e.CredentialID))
	}

	switch e.Outcome {
	case OutcomeDenied:
		s.logger.Warn("authentication denied", fields...)
	case OutcomeBypass:
		s.logger.Debug("authentication bypassed", fields...)
	default:
		s.logger.Info("authentication allowed", fields...)
	}
}
