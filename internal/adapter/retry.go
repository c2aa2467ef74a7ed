package adapter

import (
	"context"
	"time"

	"github.com/faucetdb/schemad/internal/dberr"
)

// RetryConfig bounds the initial connection attempts. Delay doubles after
// every failed attempt up to MaxDelay.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 10
	}
	if c.Delay <= 0 {
		c.Delay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxDelay < c.Delay {
		c.MaxDelay = c.Delay
	}
	return c
}

// EnsureConnected blocks until the backend is connected and answers a
// ping. After the retry budget is spent it fails with FailedPrecondition,
// which callers treat as fatal.
func (a *Adapter) EnsureConnected(ctx context.Context) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.connected {
		return nil
	}

	delay := a.retry.Delay
	var lastErr error
	for attempt := 1; attempt <= a.retry.Attempts; attempt++ {
		a.metrics.ConnectAttempt()
		lastErr = a.backend.Connect(ctx)
		if lastErr == nil {
			lastErr = a.backend.Ping(ctx)
			if lastErr == nil {
				a.connected = true
				a.logger.Info("database connected", "backend", a.backend.Name(), "attempts", attempt)
				return nil
			}
			a.backend.Close(ctx)
		}

		a.logger.Warn("database connection failed",
			"backend", a.backend.Name(), "attempt", attempt, "max_attempts", a.retry.Attempts, "error", lastErr)
		if attempt == a.retry.Attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return dberr.Wrap(dberr.KindFailedPrecondition, ctx.Err(), "gave up connecting to the database")
		case <-timer.C:
		}
		delay *= 2
		if delay > a.retry.MaxDelay {
			delay = a.retry.MaxDelay
		}
	}
	return &dberr.Error{
		Kind:    dberr.KindFailedPrecondition,
		Message: "database unreachable after retries",
		Err:     lastErr,
	}
}
