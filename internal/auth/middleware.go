package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Middleware resolves a bearer token into a Caller on the request context.
// Requests without a token pass through anonymously; mutating operations
// reject anonymous callers further down. A malformed or expired token is
// rejected here with 401.
func Middleware(issuer *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				deny(w, http.StatusUnauthorized, "invalid_authorization", "expected a bearer token")
				return
			}

			caller, err := issuer.Verify(raw)
			if err != nil {
				deny(w, http.StatusUnauthorized, "invalid_token", err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// RequireRole rejects callers that are missing or hold a different role.
func RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := FromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "unauthenticated", "a bearer token is required")
				return
			}
			if caller.Role != role {
				deny(w, http.StatusForbidden, "forbidden", "caller role not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, code, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "details": details})
}
