package orchestrator

import (
	"encoding/json"
	"net/http"
)

// internalAuthMiddleware enforces the shared-secret header on the
// worker's two internal callbacks (§6.3: "a shared secret header is
// sufficient"). Grounded on the gateway's AuthMiddleware, trimmed to a
// single static secret comparison since there is exactly one caller
// (the worker node), not a population of per-tenant API keys.
func internalAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get("X-Callback-Secret") != secret {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "Unauthorized", "message": "invalid or missing callback secret",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
