package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is a Bus over Redis pub/sub channels.
type Redis struct {
	client *redis.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
}

// DialRedis connects to the Redis server described by url, for example
// redis://localhost:6379/0.
func DialRedis(ctx context.Context, url string, logger *slog.Logger) (*Redis, error) {
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	logger.Info("connected to redis", "addr", opts.Addr)
	return &Redis{client: client, logger: logger}, nil
}

// Publish implements Bus.
func (r *Redis) Publish(ctx context.Context, topic string, data []byte) error {
	return r.client.Publish(ctx, topic, data).Err()
}

// Subscribe implements Bus. It returns once the server has confirmed the
// subscription.
func (r *Redis) Subscribe(ctx context.Context, topic string, h Handler) error {
	ps := r.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	r.mu.Lock()
	r.subs = append(r.subs, ps)
	r.mu.Unlock()

	ch := ps.Channel()
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
				h(msgCtx, []byte(msg.Payload))
				cancel()
			case <-ctx.Done():
				ps.Close()
				return
			}
		}
	}()
	return nil
}

// Close ends every subscription and closes the client.
func (r *Redis) Close(context.Context) error {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			r.logger.Debug("close redis subscription", "error", err)
		}
	}
	return r.client.Close()
}
