package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/faucetdb/schemad/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"

	// ModuleHeader names the calling module when trusted headers are enabled.
	ModuleHeader = "X-Module-Name"
)

// Principal represents the module making the request.
type Principal struct {
	Module string
	Method string // "token" or "header"
}

// Authenticate returns an HTTP middleware that identifies the calling
// module. It supports two methods:
//
//  1. Module token via the Authorization: Bearer header
//  2. The X-Module-Name header, only when trustHeader is set
//
// On success the module is attached to the request context (see
// service.ModuleFrom) together with a Principal. On failure, a 401 JSON
// error response is returned.
func Authenticate(authSvc *service.AuthService, trustHeader bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *Principal

			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token := strings.TrimPrefix(authHeader, "Bearer ")
				module, err := authSvc.ValidateModuleToken(token)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "Invalid module token")
					return
				}
				principal = &Principal{Module: module, Method: "token"}
			}

			if principal == nil && trustHeader {
				if module := strings.TrimSpace(r.Header.Get(ModuleHeader)); module != "" {
					principal = &Principal{Module: module, Method: "header"}
				}
			}

			if principal == nil {
				msg := "Authentication required. Provide a Bearer module token."
				if trustHeader {
					msg = "Authentication required. Provide a Bearer module token or X-Module-Name header."
				}
				writeAuthError(w, http.StatusUnauthorized, msg)
				return
			}

			annotateModule(r.Context(), principal.Module)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			ctx = service.WithModule(ctx, principal.Module)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid import cycle with handler package
	w.Write([]byte(`{"error":{"code":` + httpStatusString(status) + `,"message":"` + message + `"}}`))
}

func httpStatusString(code int) string {
	switch code {
	case 401:
		return "401"
	case 403:
		return "403"
	default:
		return "500"
	}
}
