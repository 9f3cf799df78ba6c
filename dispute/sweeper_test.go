package dispute

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildcourt/kvstore"
	"guildcourt/milestone"
)

type countingObserver struct{ n int }

func (o *countingObserver) SweepResolved() { o.n++ }

func TestSweeper_RunOnceClosesDueDisputes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	withQuorum := f.open(t, f.fundedBounty(t, 100))
	f.vote(t, withQuorum, admin, FavorPlaintiff)
	f.vote(t, withQuorum, member, FavorPlaintiff)
	withoutQuorum := f.open(t, f.fundedBounty(t, 60))

	obs := &countingObserver{}
	sweeper := NewSweeper(f.svc, nil).WithObserver(obs)

	n, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	f.pastDeadline()
	n, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, obs.n)

	d, err := f.svc.Get(ctx, withQuorum)
	require.NoError(t, err)
	require.Equal(t, StatusResolved, d.Status)
	d, err = f.svc.Get(ctx, withoutQuorum)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, d.Status)

	n, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSweeper_SkipsUnsettleableDisputes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pid, ids := f.project(t, 100)
	stuck := f.open(t, ids[0])
	f.vote(t, stuck, admin, FavorPlaintiff)
	f.vote(t, stuck, member, FavorPlaintiff)

	repo := milestone.NewRepository()
	require.NoError(t, kvstore.Update(ctx, f.store, func(tx kvstore.Txn) error {
		p, err := repo.GetProject(ctx, tx, pid)
		if err != nil {
			return err
		}
		p.ReleasedAmount = p.TotalAmount
		return repo.PutProject(ctx, tx, p)
	}))

	// Skip bounty id 1 so it does not collide with milestone 1.
	require.NoError(t, kvstore.Update(ctx, f.store, func(tx kvstore.Txn) error {
		_, err := kvstore.NextSequence(ctx, tx, "bounty/counter")
		return err
	}))
	healthy := f.open(t, f.fundedBounty(t, 100))

	f.pastDeadline()
	n, err := NewSweeper(f.svc, nil).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	d, err := f.svc.Get(ctx, stuck)
	require.NoError(t, err)
	require.Equal(t, StatusVoting, d.Status)
	d, err = f.svc.Get(ctx, healthy)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, d.Status)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(f.svc, nil).Run(ctx, 10*time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
