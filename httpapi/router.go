package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type RouterOptions struct {
	Authenticator Authenticator
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
	// Idempotency enables Idempotency-Key handling on POST routes when set.
	Idempotency    IdempotencyStore
	IdempotencyTTL time.Duration
}

const defaultIdempotencyTTL = 24 * time.Hour

func NewRouter(handler *Handler, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(logger.With("component", "http")))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ok", nil) })
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ready", nil) })
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(opts.Authenticator))
			if opts.Idempotency != nil {
				ttl := opts.IdempotencyTTL
				if ttl <= 0 {
					ttl = defaultIdempotencyTTL
				}
				r.Use(idempotencyMiddleware(opts.Idempotency, ttl, logger.With("component", "idempotency")))
			}
			r.Post("/disputes", handler.createDispute)
			r.Get("/disputes/{dispute_id}", handler.getDispute)
			r.Post("/disputes/{dispute_id}/evidence", handler.submitEvidence)
			r.Post("/disputes/{dispute_id}/votes", handler.castVote)
			r.Get("/disputes/{dispute_id}/votes/{voter}", handler.getVote)
			r.Get("/disputes/{dispute_id}/tally", handler.tally)
			r.Post("/disputes/{dispute_id}/resolve", handler.resolve)
			r.Post("/disputes/{dispute_id}/execute", handler.execute)
			r.Get("/guilds/{guild_id}/members/{address}/weight", handler.voteWeight)
		})
	})
	return r
}
