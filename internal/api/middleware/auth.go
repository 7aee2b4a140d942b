package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/weichain/gsol-minter/internal/principal"
)

// PrincipalHeader carries the authenticated caller identity. The gateway in
// front of the minter authenticates the caller and forwards the principal.
const PrincipalHeader = "X-Minter-Principal"

type contextKey string

const callerKey contextKey = "caller"

// Caller returns the authenticated principal of the request.
func Caller(r *http.Request) (principal.Principal, bool) {
	p, ok := r.Context().Value(callerKey).(principal.Principal)
	return p, ok
}

// Authenticate rejects requests without a valid, non-anonymous caller
// principal and stores the identity in the request context.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		text := r.Header.Get(PrincipalHeader)
		if text == "" {
			http.Error(w, "missing caller principal", http.StatusUnauthorized)
			return
		}

		caller, err := principal.FromText(text)
		if err != nil {
			slog.Warn("rejected request with invalid principal", "principal", text, "error", err)
			http.Error(w, "invalid caller principal", http.StatusUnauthorized)
			return
		}
		if caller.IsAnonymous() {
			http.Error(w, "anonymous principal is not allowed", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireController rejects callers outside the controller allowlist.
func RequireController(controllers []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(controllers))
	for _, c := range controllers {
		allowed[c] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := Caller(r)
			if !ok {
				http.Error(w, "missing caller principal", http.StatusUnauthorized)
				return
			}
			if _, isController := allowed[caller.Text()]; !isController {
				slog.Warn("rejected non-controller debug request", "principal", caller.Text())
				http.Error(w, "only a controller can call this method", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
