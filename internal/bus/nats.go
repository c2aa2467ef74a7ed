package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS is a Bus over core NATS subjects.
type NATS struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// DialNATS connects to the NATS server at url. name identifies the
// connection on the server.
func DialNATS(ctx context.Context, url, name string, logger *slog.Logger) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.PingInterval(20 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats async error", "subject", subject, "error", err)
		}),
	}
	if name != "" {
		opts = append(opts, nats.Name(name))
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(url, opts...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("connect to nats at %s: %w", url, r.err)
		}
		logger.Info("connected to nats", "url", r.conn.ConnectedUrlRedacted())
		return &NATS{conn: r.conn, logger: logger}, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("connect to nats at %s: %w", url, ctx.Err())
	}
}

// Publish implements Bus.
func (n *NATS) Publish(_ context.Context, topic string, data []byte) error {
	if n.conn.IsClosed() {
		return ErrClosed
	}
	return n.conn.Publish(topic, data)
}

// Subscribe implements Bus. The subscription ends when ctx is done or the
// bus is closed.
func (n *NATS) Subscribe(ctx context.Context, topic string, h Handler) error {
	sub, err := n.conn.Subscribe(topic, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
		defer cancel()
		h(msgCtx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	context.AfterFunc(ctx, func() { sub.Unsubscribe() })
	return nil
}

// Close drains the subscriptions and closes the connection.
func (n *NATS) Close(context.Context) error {
	if n.conn.IsClosed() {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
