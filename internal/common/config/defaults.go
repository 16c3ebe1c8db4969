package config

import (
	"time"

	"github.com/amoylab/unla-edge/internal/common/cnst"
)

const (
	DefaultPort               = 5235
	DefaultPath               = "/mcp"
	DefaultHealthPath         = "/health"
	DefaultMetricsPath        = "/metrics"
	DefaultNotifyPath         = "/notifications"
	DefaultMaxMessageSize     = 1 << 20
	DefaultMaxPendingRequests = 50
	DefaultRequestTimeout     = 30 * time.Second
	DefaultStaleSweepInterval = 10 * time.Second
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultHeartbeatTimeout   = 60 * time.Second
	DefaultWriteTimeout       = 10 * time.Second
	DefaultSendQueueSize      = 64
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultMaxRequests        = 100
	DefaultWindow             = time.Second
	DefaultSweepInterval      = time.Minute
	DefaultFailureThreshold   = 5
	DefaultSuccessThreshold   = 2
	DefaultRecoveryTimeout    = 60 * time.Second
	DefaultDownstreamTimeout  = 30 * time.Second
	DefaultAuthHeader         = "Authorization"
	DefaultSubprotocolPrefix  = "bearer."
)

// ApplyDefaults fills every unset field with its default value
func (c *EdgeConfig) ApplyDefaults() {
	s := &c.Server
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.Path == "" {
		s.Path = DefaultPath
	}
	if s.HealthPath == "" {
		s.HealthPath = DefaultHealthPath
	}
	if s.MetricsPath == "" {
		s.MetricsPath = DefaultMetricsPath
	}
	if s.NotifyPath == "" {
		s.NotifyPath = DefaultNotifyPath
	}

	t := &c.Transport
	if t.MaxMessageSize <= 0 {
		t.MaxMessageSize = DefaultMaxMessageSize
	}
	if t.MaxPendingRequests <= 0 {
		t.MaxPendingRequests = DefaultMaxPendingRequests
	}
	if t.RequestTimeout <= 0 {
		t.RequestTimeout = DefaultRequestTimeout
	}
	if t.StaleSweepInterval <= 0 {
		t.StaleSweepInterval = DefaultStaleSweepInterval
	}
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if t.HeartbeatTimeout <= 0 {
		t.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = DefaultWriteTimeout
	}
	if t.SendQueueSize <= 0 {
		t.SendQueueSize = DefaultSendQueueSize
	}
	if t.HandshakeTimeout <= 0 {
		t.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if t.SessionRateLimit.MaxMessages > 0 && t.SessionRateLimit.Window <= 0 {
		t.SessionRateLimit.Window = DefaultWindow
	}

	r := &c.RateLimit
	if r.MaxRequests <= 0 {
		r.MaxRequests = DefaultMaxRequests
	}
	if r.Window <= 0 {
		r.Window = DefaultWindow
	}
	if r.SweepInterval <= 0 {
		r.SweepInterval = DefaultSweepInterval
	}
	if r.Store.Type == "" {
		r.Store.Type = cnst.StoreTypeMemory
	}

	b := &c.Breaker
	if b.FailureThreshold <= 0 {
		b.FailureThreshold = DefaultFailureThreshold
	}
	if b.SuccessThreshold <= 0 {
		b.SuccessThreshold = DefaultSuccessThreshold
	}
	if b.RecoveryTimeout <= 0 {
		b.RecoveryTimeout = DefaultRecoveryTimeout
	}

	a := &c.Auth
	if a.Header == "" {
		a.Header = DefaultAuthHeader
	}
	if a.SubprotocolPrefix == "" {
		a.SubprotocolPrefix = DefaultSubprotocolPrefix
	}
	if a.ExemptPaths == nil {
		a.ExemptPaths = []string{s.HealthPath, s.MetricsPath}
	}
	if a.Store.Type == "" {
		a.Store.Type = cnst.StoreTypeMemory
	}

	if c.Notifier.Type == "" {
		c.Notifier.Type = cnst.StoreTypeNone
	}

	if c.Downstream.Timeout <= 0 {
		c.Downstream.Timeout = DefaultDownstreamTimeout
	}
	if c.Downstream.RatePerSecond > 0 && c.Downstream.Burst <= 0 {
		c.Downstream.Burst = 1
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "mcp_edge"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = cnst.AppName
	}
}
