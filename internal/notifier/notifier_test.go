package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amoylab/unla-edge/internal/common/config"
	"github.com/amoylab/unla-edge/pkg/mcp"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu  sync.Mutex
	got []mcp.JSONRPCNotification
}

func (s *recordingSink) Broadcast(_ context.Context, n mcp.JSONRPCNotification) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return 1, nil
}

func (s *recordingSink) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.got))
	for _, n := range s.got {
		out = append(out, n.Method)
	}
	return out
}

func TestRedisNotifier_FanIn(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	n := NewRedisNotifier(zap.NewNop(), client, "edge:notifications")
	defer n.Close()

	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, sink) }()

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("edge:*")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mr.Publish("edge:notifications", `{"jsonrpc":"2.0","id":1,"method":"not/a/notification"}`)
	mr.Publish("edge:notifications", `garbage`)
	note, err := mcp.NewNotification(mcp.NotificationToolListChanged, nil)
	require.NoError(t, err)
	require.NoError(t, n.Publish(context.Background(), note))

	require.Eventually(t, func() bool {
		return len(sink.methods()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{mcp.NotificationToolListChanged}, sink.methods())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNewFromConfig(t *testing.T) {
	n, err := NewFromConfig(context.Background(), zap.NewNop(), config.NotifierConfig{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, n)

	_, err = NewFromConfig(context.Background(), zap.NewNop(), config.NotifierConfig{Type: "kafka"})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	n, err = NewFromConfig(context.Background(), zap.NewNop(), config.NotifierConfig{
		Type:  "redis",
		Redis: config.RedisConfig{Addr: mr.Addr(), Topic: "t"},
	})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.NoError(t, n.Close())
}

func TestDecode(t *testing.T) {
	n, err := Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info"}}`))
	require.NoError(t, err)
	assert.Equal(t, mcp.NotificationMessage, n.Method)
	assert.JSONEq(t, `{"level":"info"}`, string(n.Params))

	_, err = Decode([]byte(`{"jsonrpc":"2.0","id":3,"method":"x"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`{`))
	assert.Error(t, err)
}
