package httpapi

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"guildcourt/auth"
	"guildcourt/cache"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 255
)

// IdempotencyStore records POST responses by key so a retried request
// replays the first answer instead of repeating the operation.
// cache.Memory and cache.Redis satisfy it.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Load(ctx context.Context, key string) (cache.Response, bool, error)
	Save(ctx context.Context, key string, resp cache.Response, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type bodyRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (b *bodyRecorder) WriteHeader(code int) {
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	b.buf.Write(p)
	return b.ResponseWriter.Write(p)
}

// idempotencyMiddleware applies to POST requests carrying an Idempotency-Key.
// Keys are scoped to the authenticated caller and the request path. Server
// errors release the key so the client may retry.
func idempotencyMiddleware(store IdempotencyStore, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			requestID := requestIDFromContext(ctx)
			if len(key) > maxIdempotencyKey {
				writeError(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key too long", requestID)
				return
			}
			caller, _ := auth.CallerFrom(ctx)
			scoped := caller + "|" + r.URL.Path + "|" + key

			reserved, err := store.Reserve(ctx, scoped, ttl)
			if err != nil {
				logger.ErrorContext(ctx, "idempotency reserve failed", "error", err, "request_id", requestID)
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", requestID)
				return
			}
			if !reserved {
				replay(w, r, store, scoped, logger)
				return
			}

			rec := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The request context may already be cancelled once the handler
			// returns; the record must still be written.
			storeCtx := context.WithoutCancel(ctx)
			if rec.status >= http.StatusInternalServerError {
				if err := store.Release(storeCtx, scoped); err != nil {
					logger.WarnContext(ctx, "idempotency release failed", "error", err, "request_id", requestID)
				}
				return
			}
			resp := cache.Response{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.buf.Bytes(),
			}
			if err := store.Save(storeCtx, scoped, resp, ttl); err != nil {
				logger.WarnContext(ctx, "idempotency save failed", "error", err, "request_id", requestID)
			}
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, store IdempotencyStore, key string, logger *slog.Logger) {
	ctx := r.Context()
	requestID := requestIDFromContext(ctx)
	cached, found, err := store.Load(ctx, key)
	if err != nil {
		logger.ErrorContext(ctx, "idempotency load failed", "error", err, "request_id", requestID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", requestID)
		return
	}
	if !found || !cached.Done {
		writeError(w, http.StatusConflict, "request_in_progress", "a request with this idempotency key is still running", requestID)
		return
	}
	if cached.ContentType != "" {
		w.Header().Set("Content-Type", cached.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
}
