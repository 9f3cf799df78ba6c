package kvstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_CommitPublishesWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Set(ctx, "a/1", []byte("one")))
	require.NoError(t, tx.Set(ctx, "a/2", []byte("two")))
	require.NoError(t, tx.Set(ctx, "b/1", []byte("other")))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	got, err := tx.Get(ctx, "a/1")
	require.NoError(t, err)
	require.Equal(t, "one", string(got))

	entries, err := tx.Scan(ctx, "a/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a/1", entries[0].Key)
	require.Equal(t, "a/2", entries[1].Key)
}

func TestMemory_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, Update(ctx, store, func(tx Txn) error {
		return tx.Set(ctx, "keep", []byte("v"))
	}))

	boom := errors.New("boom")
	err := Update(ctx, store, func(tx Txn) error {
		if err := tx.Set(ctx, "discard", []byte("v")); err != nil {
			return err
		}
		if err := tx.Delete(ctx, "keep"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	ok, err := tx.Has(ctx, "keep")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = tx.Get(ctx, "discard")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ReadYourWritesAndDeletes(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	require.NoError(t, tx.Set(ctx, "k", []byte("v1")))
	require.NoError(t, tx.Set(ctx, "k", []byte("v2")))
	got, err := tx.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v2", string(got))

	require.NoError(t, tx.Delete(ctx, "k"))
	ok, err := tx.Has(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	entries, err := tx.Scan(ctx, "")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMemory_FinishedTxnRejectsUse(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	require.ErrorIs(t, tx.Set(ctx, "k", nil), ErrTxDone)
	require.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
}

func TestNextSequence_StartsAtOne(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	var ids []uint64
	for i := 0; i < 3; i++ {
		require.NoError(t, Update(ctx, store, func(tx Txn) error {
			id, err := NextSequence(ctx, tx, "counter")
			ids = append(ids, id)
			return err
		}))
	}
	require.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestJSONHelpers_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	type record struct {
		Name  string
		Count int
	}

	require.NoError(t, Update(ctx, store, func(tx Txn) error {
		return PutJSON(ctx, tx, "r", record{Name: "x", Count: 2})
	}))

	var got record
	require.NoError(t, Update(ctx, store, func(tx Txn) error {
		return GetJSON(ctx, tx, "r", &got)
	}))
	require.Equal(t, record{Name: "x", Count: 2}, got)
	require.Equal(t, "00000000000000000042", ID(42))
}
