package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// idempotencyStore is the contract both implementations are checked against.
type idempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Load(ctx context.Context, key string) (Response, bool, error)
	Save(ctx context.Context, key string, resp Response, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

func exerciseStore(t *testing.T, s idempotencyStore, key string) {
	t.Helper()
	ctx := context.Background()

	ok, err := s.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second reservation must fail")

	resp, found, err := s.Load(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, resp.Done)

	require.NoError(t, s.Save(ctx, key, Response{Status: 201, ContentType: "application/json", Body: []byte(`{"ok":true}`)}, time.Minute))
	resp, found, err = s.Load(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, resp.Done)
	require.Equal(t, 201, resp.Status)
	require.JSONEq(t, `{"ok":true}`, string(resp.Body))

	require.NoError(t, s.Release(ctx, key))
	_, found, err = s.Load(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory(), "caller|/api/v1/disputes|k1")
}

func TestMemory_Expiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := m.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(time.Minute)
	_, found, err := m.Load(ctx, "k")
	require.NoError(t, err)
	require.False(t, found, "entry should expire at its deadline")

	ok, err = m.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedis(t *testing.T) {
	url := os.Getenv("GUILDCOURT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("GUILDCOURT_TEST_REDIS_URL not set")
	}
	client, err := Connect(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()

	key := "test-" + time.Now().Format("150405.000000000")
	exerciseStore(t, NewRedis(client, "guildcourt-test"), key)
}
