// Package bus is the publish/subscribe channel instances use to exchange
// schema declarations and CRUD events. Delivery is at-most-once and
// unordered across publishers; subscribers of a topic receive every
// message published on it while they are subscribed, including their own.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Handler receives the payload of one message. It runs on a goroutine
// owned by the bus and must not block for long.
type Handler func(ctx context.Context, data []byte)

// Bus publishes and subscribes raw payloads by topic.
type Bus interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string, h Handler) error
	Close(ctx context.Context) error
}

// Config selects and configures a Bus implementation.
type Config struct {
	// Type is "nats", "redis" or "memory".
	Type string
	URL  string
	Name string
}

// handlerTimeout bounds the context passed to each Handler call.
const handlerTimeout = 30 * time.Second

// Open connects the bus described by cfg.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case "nats":
		return DialNATS(ctx, cfg.URL, cfg.Name, logger)
	case "redis":
		return DialRedis(ctx, cfg.URL, logger)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported bus type %q (supported: nats, redis, memory)", cfg.Type)
	}
}
