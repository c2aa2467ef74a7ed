package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/faucetdb/schemad/internal/service"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. Uses a sliding window algorithm.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitByModule limits requests per calling module. It must run after
// Authenticate; requests without a module share one bucket.
func RateLimitByModule(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "module:" + service.ModuleFrom(r.Context()), nil
		}),
	)
}
