package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *EdgeConfig {
	cfg := &EdgeConfig{}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Path = "mcp"
	cfg.Server.TLS.CertFile = "cert.pem"
	cfg.Transport.HeartbeatTimeout = time.Second
	cfg.RateLimit.Store.Type = "etcd"
	cfg.Auth.Store.Tokens = []StaticToken{{Name: "no id"}}
	cfg.Downstream.Tools = []ToolConfig{
		{Name: "a", Endpoint: "http://x"},
		{Name: "a", Endpoint: "http://y", Args: []ArgConfig{{Name: "q", Position: "cookie"}}},
	}

	err := cfg.Validate()
	require.Error(t, err)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	msg := vErr.Error()
	assert.Contains(t, msg, `server.path "mcp"`)
	assert.Contains(t, msg, "cert_file and key_file")
	assert.Contains(t, msg, "heartbeat_timeout")
	assert.Contains(t, msg, `rate_limit.store.type "etcd"`)
	assert.Contains(t, msg, "tokens[0].id is required")
	assert.Contains(t, msg, "tokens[0] needs token or digest")
	assert.Contains(t, msg, `duplicate tool name "a"`)
	assert.Contains(t, msg, `unsupported position "cookie"`)
}

func TestValidate_Stores(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Store.Type = "jwt"
	cfg.Auth.Store.JWT.SecretKey = "short"
	assert.ErrorContains(t, cfg.Validate(), "secret_key")

	cfg = validConfig()
	cfg.Auth.Store.Type = "db"
	cfg.Auth.Store.Database.Type = "oracle"
	assert.ErrorContains(t, cfg.Validate(), `database.type "oracle"`)

	cfg = validConfig()
	cfg.Notifier.Type = "redis"
	assert.ErrorContains(t, cfg.Validate(), "notifier.redis requires addr and topic")

	cfg = validConfig()
	cfg.RateLimit.Store.Type = "redis"
	cfg.RateLimit.Store.Redis.Addr = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}
