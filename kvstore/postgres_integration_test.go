package kvstore_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildcourt/kvstore"
	"guildcourt/test/infra"
)

// TestPostgres_Integration runs the store contract against a real PostgreSQL
// from DATABASE_URL, a testcontainer, or a local server.
func TestPostgres_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	h, err := infra.NewHarness(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer h.Close(context.Background())

	store := kvstore.NewPostgres(h.Pool())

	t.Run("commit and scan", func(t *testing.T) {
		require.NoError(t, h.Reset(ctx))
		require.NoError(t, kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
			for _, k := range []string{"dispute/2", "dispute/1", "vote/1"} {
				if err := tx.Set(ctx, k, []byte(k)); err != nil {
					return err
				}
			}
			return nil
		}))

		require.NoError(t, kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
			entries, err := tx.Scan(ctx, "dispute/")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			require.Equal(t, "dispute/1", entries[0].Key)

			ok, err := tx.Has(ctx, "vote/1")
			require.NoError(t, err)
			require.True(t, ok)

			_, err = tx.Get(ctx, "missing")
			require.ErrorIs(t, err, kvstore.ErrNotFound)
			return nil
		}))
	})

	t.Run("rollback", func(t *testing.T) {
		require.NoError(t, h.Reset(ctx))
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Set(ctx, "ghost", []byte("x")))
		require.NoError(t, tx.Rollback(ctx))

		require.NoError(t, kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
			ok, err := tx.Has(ctx, "ghost")
			require.NoError(t, err)
			require.False(t, ok)
			return nil
		}))
	})

	t.Run("serialized counters", func(t *testing.T) {
		require.NoError(t, h.Reset(ctx))

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
					_, err := kvstore.NextSequence(ctx, tx, "counter")
					return err
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		var got uint64
		require.NoError(t, kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
			return kvstore.GetJSON(ctx, tx, "counter", &got)
		}))
		require.Equal(t, uint64(workers), got)
	})
}
