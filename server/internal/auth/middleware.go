package auth

import (
	"encoding/json"
	"net/http"
)

// Middleware returns HTTP middleware enforcing the same API-key rule as
// APIKeyInterceptor. Requests whose path is listed in public, and CORS
// preflight requests, are never checked.
func Middleware(mode, header, key string, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}
	return func(next http.Handler) http.Handler {
		if !enabled(mode, key) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if !matches(r.Header.Get(header), key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "unauthorized",
					"message": "invalid api key",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
