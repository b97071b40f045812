package orchestrator

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter wires the orchestrator's full HTTP surface behind the
// teacher's middleware chain (CORS, security headers, request id,
// recoverer, request logger, body size limit), with the two internal
// callback routes additionally gated by internalAuthMiddleware.
func NewRouter(h *Handlers, callbackSecret string, maxBodyBytes int64, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(corsMiddleware)
	r.Use(securityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(log))
	r.Use(mwMaxBodySize(maxBodyBytes))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/projects/{company_id}/decks", func(r chi.Router) {
			r.Post("/", h.CreateDeck)
		})
		r.Route("/decks", func(r chi.Router) {
			r.Get("/", h.ListDecks)
			r.Get("/cache-sample", h.CacheSample)
			r.Get("/{id}", h.GetDeck)
			r.Get("/{id}/results", h.GetDeckResults)
		})
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", h.DispatchBatch)
			r.Get("/{batch_id}", h.GetBatchProgress)
		})
		r.Route("/prompts/{stage}", func(r chi.Router) {
			r.Get("/", h.GetPrompt)
			r.Put("/", h.SetPrompt)
			r.Post("/reset", h.ResetPrompt)
		})
		r.Get("/sectors", h.ListSectors)
		r.Get("/templates", h.ListTemplates)

		r.Route("/internal", func(r chi.Router) {
			r.Use(internalAuthMiddleware(callbackSecret))
			r.Post("/update-deck-results", h.UpdateDeckResults)
			r.Post("/cache-visual-analysis", h.CacheVisualAnalysis)
		})
	})

	return r
}

// corsMiddleware permits the browser-facing admin UI to call the
// orchestrator from a different origin. Grounded on the gateway's
// CORSMiddleware, trimmed to the allow-all-origins form since this
// service has no per-tenant origin allowlist.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID, X-Callback-Secret")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func mwRequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
