package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/amoylab/unla-edge/internal/common/cnst"
	"github.com/amoylab/unla-edge/internal/common/config"
	"github.com/amoylab/unla-edge/internal/common/redisx"
	"github.com/amoylab/unla-edge/pkg/mcp"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Broadcaster delivers a notification to the live sessions
type Broadcaster interface {
	Broadcast(ctx context.Context, n mcp.JSONRPCNotification) (int, error)
}

// RedisNotifier fans notifications published on a Redis channel in to the
// local sessions
type RedisNotifier struct {
	logger *zap.Logger
	client redis.UniversalClient
	topic  string
}

func NewRedisNotifier(logger *zap.Logger, client redis.UniversalClient, topic string) *RedisNotifier {
	return &RedisNotifier{
		logger: logger.Named("notifier.redis"),
		client: client,
		topic:  topic,
	}
}

// NewFromConfig returns nil when the notifier type is none
func NewFromConfig(ctx context.Context, logger *zap.Logger, cfg config.NotifierConfig) (*RedisNotifier, error) {
	switch cfg.Type {
	case cnst.StoreTypeNone, "":
		return nil, nil
	case cnst.StoreTypeRedis:
		client, err := redisx.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisNotifier(logger, client, cfg.Redis.Topic), nil
	default:
		return nil, fmt.Errorf("unsupported notifier type: %s", cfg.Type)
	}
}

// Publish sends n to every process subscribed to the topic
func (r *RedisNotifier) Publish(ctx context.Context, n mcp.JSONRPCNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Run subscribes to the topic and broadcasts every valid notification until
// ctx is done. Malformed payloads are logged and skipped.
func (r *RedisNotifier) Run(ctx context.Context, sink Broadcaster) error {
	pubsub := r.client.Subscribe(ctx, r.topic)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.topic, err)
	}
	r.logger.Info("listening for notifications", zap.String("topic", r.topic))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, sink, msg.Payload)
		}
	}
}

func (r *RedisNotifier) deliver(ctx context.Context, sink Broadcaster, payload string) {
	n, err := Decode([]byte(payload))
	if err != nil {
		r.logger.Warn("dropping malformed notification", zap.Error(err))
		return
	}
	delivered, err := sink.Broadcast(ctx, n)
	if err != nil {
		r.logger.Warn("broadcast failed", zap.String("method", n.Method), zap.Error(err))
		return
	}
	r.logger.Debug("notification delivered",
		zap.String("method", n.Method),
		zap.Int("sessions", delivered))
}

func (r *RedisNotifier) Close() error {
	return r.client.Close()
}

// Decode validates a JSON-RPC notification payload
func Decode(data []byte) (mcp.JSONRPCNotification, error) {
	msg, err := mcp.ParseMessage(data)
	if err != nil {
		return mcp.JSONRPCNotification{}, err
	}
	if msg.Kind != mcp.KindNotification {
		return mcp.JSONRPCNotification{}, errors.New("payload is not a notification")
	}
	return *msg.Notification, nil
}
