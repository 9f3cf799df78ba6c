package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildcourt/cache"
	"guildcourt/dispute"
)

const createBody = `{"reference_id":1,"defendant":"GOWNER","reason":"reward withheld","evidence_url":"https://evidence.example"}`

func (f *apiFixture) withIdempotency(disputes Disputes, store IdempotencyStore) {
	f.router = NewRouter(NewHandler(disputes), RouterOptions{
		Authenticator:  f.tokens,
		Idempotency:    store,
		IdempotencyTTL: time.Hour,
	})
}

func (f *apiFixture) request(t *testing.T, method, path, caller, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	token, err := f.tokens.IssueToken(caller)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func (f *apiFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestIdempotentCreateReplaysFirstResponse(t *testing.T) {
	f := newAPIFixture(t)
	f.withIdempotency(f.svc, cache.NewMemory())

	req := f.request(t, http.MethodPost, "/api/v1/disputes", "GHUNTER", createBody)
	req.Header.Set(idempotencyHeader, "create-1")
	first := f.serve(req)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	req = f.request(t, http.MethodPost, "/api/v1/disputes", "GHUNTER", createBody)
	req.Header.Set(idempotencyHeader, "create-1")
	replayed := f.serve(req)
	require.Equal(t, http.StatusCreated, replayed.Code)
	require.Equal(t, "true", replayed.Header().Get(replayedHeader))
	require.Equal(t, "application/json", replayed.Header().Get("Content-Type"))
	require.Equal(t, first.Body.String(), replayed.Body.String())

	// Without the key the operation runs again and hits the reference lock.
	rr := f.do(t, http.MethodPost, "/api/v1/disputes", "GHUNTER", createBody)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestIdempotentVoteIsCastOnce(t *testing.T) {
	f := newAPIFixture(t)
	f.withIdempotency(f.svc, cache.NewMemory())

	rr := f.do(t, http.MethodPost, "/api/v1/disputes", "GHUNTER", createBody)
	require.Equal(t, http.StatusCreated, rr.Code)

	for i := 0; i < 3; i++ {
		req := f.request(t, http.MethodPost, "/api/v1/disputes/1/votes", "GADMIN", `{"decision":"favor_plaintiff"}`)
		req.Header.Set(idempotencyHeader, "vote-1")
		rr = f.serve(req)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		if i > 0 {
			require.Equal(t, "true", rr.Header().Get(replayedHeader))
		}
	}

	d, err := f.svc.Get(context.Background(), 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, d.VoteCount)
	require.EqualValues(t, 5, d.VotesForPlaintiff)

	// Keys are scoped per caller.
	req := f.request(t, http.MethodPost, "/api/v1/disputes/1/votes", "GMEMBER", `{"decision":"split"}`)
	req.Header.Set(idempotencyHeader, "vote-1")
	rr = f.serve(req)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Empty(t, rr.Header().Get(replayedHeader))
}

func TestIdempotencyKeyInProgress(t *testing.T) {
	f := newAPIFixture(t)
	store := cache.NewMemory()
	f.withIdempotency(f.svc, store)

	ok, err := store.Reserve(context.Background(), "GHUNTER|/api/v1/disputes|busy", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	req := f.request(t, http.MethodPost, "/api/v1/disputes", "GHUNTER", createBody)
	req.Header.Set(idempotencyHeader, "busy")
	rr := f.serve(req)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "request_in_progress", errorCode(t, rr))

	req = f.request(t, http.MethodPost, "/api/v1/disputes", "GHUNTER", createBody)
	req.Header.Set(idempotencyHeader, strings.Repeat("k", maxIdempotencyKey+1))
	rr = f.serve(req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_idempotency_key", errorCode(t, rr))
}

type failingDisputes struct {
	Disputes
	calls int
}

func (d *failingDisputes) Create(context.Context, dispute.CreateParams) (uint64, error) {
	d.calls++
	return 0, errors.New("store unavailable")
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	f := newAPIFixture(t)
	failing := &failingDisputes{Disputes: f.svc}
	f.withIdempotency(failing, cache.NewMemory())

	for i := 0; i < 2; i++ {
		req := f.request(t, http.MethodPost, "/api/v1/disputes", "GHUNTER", createBody)
		req.Header.Set(idempotencyHeader, "retry-me")
		rr := f.serve(req)
		require.Equal(t, http.StatusInternalServerError, rr.Code)
		require.Empty(t, rr.Header().Get(replayedHeader))
	}
	require.Equal(t, 2, failing.calls)
}
