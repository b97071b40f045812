package worker

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter wires the worker's HTTP surface. Grounded on the gateway
// router's middleware chain, trimmed to what a single-caller (the
// orchestrator) internal service needs — no CORS or auth middleware,
// since the worker is never reached directly by a browser.
func NewRouter(h *Handlers, maxBodyBytes int64, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(log))
	r.Use(mwMaxBodySize(maxBodyBytes))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Route("/models", func(r chi.Router) {
			r.Get("/", h.ListModels)
			r.Post("/{name}", h.PullModel)
			r.Delete("/{name}", h.DeleteModel)
		})
		r.Post("/process-pdf", h.ProcessPDF)
		r.Post("/run-visual-analysis-batch", h.RunVisualAnalysisBatch)
	})

	return r
}

func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
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
