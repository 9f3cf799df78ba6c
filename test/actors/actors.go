// Package actors drives the dispute engine from concurrent goroutines. Each
// actor loops until stop closes, treating domain rejections as expected
// contention and returning any other failure.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"guildcourt/bounty"
	"guildcourt/dispute"
	"guildcourt/escrow"
	"guildcourt/outbox"
)

// Clock is a shared fake clock that a Ticker actor pushes forward, so voting
// windows close during a short run.
type Clock struct {
	ns atomic.Int64
}

func NewClock(start time.Time) *Clock {
	c := &Clock{}
	c.ns.Store(start.UnixNano())
	return c
}

func (c *Clock) Now() time.Time {
	return time.Unix(0, c.ns.Load()).UTC()
}

func (c *Clock) Advance(d time.Duration) {
	c.ns.Add(int64(d))
}

// Env is the shared world the actors act on.
type Env struct {
	Disputes *dispute.Service
	Bounties *bounty.Service
	Escrow   *escrow.Service
	Sweeper  *dispute.Sweeper
	Relay    *outbox.Relay
	Clock    *Clock

	Token      string
	Owner      string
	Plaintiffs []string
	Voters     []string
	References []uint64

	// Transient reports failures an actor should ride out, such as a
	// connection killed underneath it.
	Transient func(error) bool
}

func (e *Env) tolerate(err error) bool {
	if err == nil || dispute.Rejected(err) {
		return true
	}
	return e.Transient != nil && e.Transient(err)
}

func pick[T any](xs []T) T {
	return xs[rand.Intn(len(xs))]
}

func pause(min, jitter int) {
	time.Sleep(time.Duration(min+rand.Intn(jitter)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// Creator races other creators to open disputes on the shared references.
// At most one may hold each reference at a time.
func Creator(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, err := env.Disputes.Create(ctx, dispute.CreateParams{
			ReferenceID: pick(env.References),
			Plaintiff:   pick(env.Plaintiffs),
			Defendant:   env.Owner,
			Reason:      "work delivered, reward withheld",
			EvidenceURL: "https://evidence.example/initial",
		})
		if !env.tolerate(err) {
			return fmt.Errorf("creator: %w", err)
		}
		pause(5, 15)
	}
}

// Voter casts ballots on whichever disputes are still open.
func Voter(ctx context.Context, env *Env, voter string, stop <-chan struct{}) error {
	decisions := []dispute.Decision{dispute.FavorPlaintiff, dispute.FavorDefendant, dispute.Split}
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		for _, ref := range env.References {
			id, ok, err := env.Disputes.ActiveDisputeFor(ctx, dispute.ReferenceBounty, ref)
			if !env.tolerate(err) {
				return fmt.Errorf("voter lookup: %w", err)
			}
			if !ok {
				continue
			}
			if err := env.Disputes.CastVote(ctx, id, voter, pick(decisions)); !env.tolerate(err) {
				return fmt.Errorf("voter %s: %w", voter, err)
			}
		}
		pause(10, 20)
	}
}

// EvidenceWriter has both parties of open disputes re-submit evidence.
func EvidenceWriter(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for n := 0; ; n++ {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		id, ok, err := env.Disputes.ActiveDisputeFor(ctx, dispute.ReferenceBounty, pick(env.References))
		if !env.tolerate(err) {
			return fmt.Errorf("evidence lookup: %w", err)
		}
		if ok {
			d, err := env.Disputes.Get(ctx, id)
			if !env.tolerate(err) {
				return fmt.Errorf("evidence get: %w", err)
			}
			if err == nil {
				party := d.Plaintiff
				if n%2 == 1 {
					party = d.Defendant
				}
				url := fmt.Sprintf("https://evidence.example/%d/%d", id, n)
				if err := env.Disputes.SubmitEvidence(ctx, id, party, url); !env.tolerate(err) {
					return fmt.Errorf("evidence %d: %w", id, err)
				}
			}
		}
		pause(10, 30)
	}
}

// Funder tops drained bounties back up so new disputes can be opened on
// them, minting to the owner when the owner runs dry.
func Funder(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		id := pick(env.References)
		b, err := env.Bounties.Get(ctx, id)
		if err != nil {
			if env.tolerate(err) {
				continue
			}
			return fmt.Errorf("funder get: %w", err)
		}
		if missing := b.RewardAmount - b.FundedAmount; missing > 0 {
			if err := env.Escrow.Mint(ctx, env.Token, env.Owner, missing); !env.tolerate(err) {
				return fmt.Errorf("funder mint: %w", err)
			}
			err := env.Bounties.Fund(ctx, id, env.Owner, missing)
			switch {
			case err == nil, errors.Is(err, bounty.ErrOverfunded), errors.Is(err, bounty.ErrNotFundable):
			case env.tolerate(err):
			default:
				return fmt.Errorf("funder fund %d: %w", id, err)
			}
		}
		pause(20, 40)
	}
}

// Ticker advances the shared clock by step on every beat.
func Ticker(ctx context.Context, env *Env, step time.Duration, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		env.Clock.Advance(step)
		pause(5, 5)
	}
}

// Resolver runs sweeper passes, closing disputes whose window has ended.
func Resolver(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if _, err := env.Sweeper.RunOnce(ctx); err != nil && !env.tolerate(err) {
			return fmt.Errorf("resolver: %w", err)
		}
		pause(15, 15)
	}
}

// Executor retries payouts for resolved disputes. Resolve already pays out,
// so every attempt must be refused as already executed or not resolved.
func Executor(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		id, ok, err := env.Disputes.ActiveDisputeFor(ctx, dispute.ReferenceBounty, pick(env.References))
		if !env.tolerate(err) {
			return fmt.Errorf("executor lookup: %w", err)
		}
		if ok {
			if _, err := env.Disputes.ExecuteResolution(ctx, id); err == nil {
				return fmt.Errorf("executor: dispute %d paid out twice", id)
			} else if !env.tolerate(err) {
				return fmt.Errorf("executor %d: %w", id, err)
			}
		}
		pause(20, 20)
	}
}

// OutboxWorker drains the event outbox.
func OutboxWorker(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if _, err := env.Relay.Drain(ctx); err != nil && !env.tolerate(err) {
			return fmt.Errorf("outbox worker: %w", err)
		}
		pause(20, 30)
	}
}
