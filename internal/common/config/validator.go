package config

import (
	"fmt"
	"strings"

	"github.com/amoylab/unla-edge/internal/common/cnst"
)

// ValidationError collects every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid configuration:")
	for _, p := range e.Problems {
		sb.WriteString("\n--> ")
		sb.WriteString(p)
	}
	return sb.String()
}

// Validate checks a configuration after defaults were applied
func (c *EdgeConfig) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}
	for name, p := range map[string]string{
		"server.path":         c.Server.Path,
		"server.health_path":  c.Server.HealthPath,
		"server.metrics_path": c.Server.MetricsPath,
		"server.notify_path":  c.Server.NotifyPath,
	} {
		if !strings.HasPrefix(p, "/") {
			add("%s %q must start with '/'", name, p)
		}
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}

	if c.Transport.HeartbeatTimeout < c.Transport.HeartbeatInterval {
		add("transport.heartbeat_timeout (%s) must not be shorter than heartbeat_interval (%s)",
			c.Transport.HeartbeatTimeout, c.Transport.HeartbeatInterval)
	}

	switch c.RateLimit.Store.Type {
	case cnst.StoreTypeMemory:
	case cnst.StoreTypeRedis:
		if len(c.RateLimit.Store.Redis.Addrs()) == 0 {
			add("rate_limit.store.redis.addr is required")
		}
	default:
		add("unsupported rate_limit.store.type %q", c.RateLimit.Store.Type)
	}

	store := c.Auth.Store
	switch store.Type {
	case cnst.StoreTypeMemory:
		for i, tok := range store.Tokens {
			if tok.ID == "" {
				add("auth.store.tokens[%d].id is required", i)
			}
			if tok.Token == "" && tok.Digest == "" {
				add("auth.store.tokens[%d] needs token or digest", i)
			}
		}
	case cnst.StoreTypeRedis:
		if len(store.Redis.Addrs()) == 0 {
			add("auth.store.redis.addr is required")
		}
	case cnst.StoreTypeJWT:
		if len(store.JWT.SecretKey) < 32 {
			add("auth.store.jwt.secret_key must be at least 32 characters")
		}
	case cnst.StoreTypeDB:
		switch store.Database.Type {
		case "sqlite", "postgres", "mysql":
		default:
			add("unsupported auth.store.database.type %q", store.Database.Type)
		}
	default:
		add("unsupported auth.store.type %q", store.Type)
	}

	switch c.Notifier.Type {
	case cnst.StoreTypeNone:
	case cnst.StoreTypeRedis:
		if len(c.Notifier.Redis.Addrs()) == 0 || c.Notifier.Redis.Topic == "" {
			add("notifier.redis requires addr and topic")
		}
	default:
		add("unsupported notifier.type %q", c.Notifier.Type)
	}

	names := make(map[string]bool)
	for i, tool := range c.Downstream.Tools {
		if tool.Name == "" {
			add("downstream.tools[%d].name is required", i)
			continue
		}
		if names[tool.Name] {
			add("duplicate tool name %q", tool.Name)
		}
		names[tool.Name] = true
		if tool.Endpoint == "" {
			add("tool %q has no endpoint", tool.Name)
		}
		for _, arg := range tool.Args {
			switch strings.ToLower(arg.Position) {
			case "", "query", "header", "path", "body":
			default:
				add("tool %q arg %q has unsupported position %q", tool.Name, arg.Name, arg.Position)
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
