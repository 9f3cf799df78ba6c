package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"

	"guildcourt/bounty"
	"guildcourt/dispute"
	"guildcourt/escrow"
	"guildcourt/guild"
	"guildcourt/kvstore"
	"guildcourt/milestone"
	"guildcourt/outbox"
	"guildcourt/test/actors"
	"guildcourt/test/chaos"
	"guildcourt/test/infra"
	"guildcourt/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 5*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of concurrent creators")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flPostgres    = flag.Bool("pg", false, "run against Postgres (container or local server) instead of memory")
	flChaos       = flag.Bool("chaos", true, "terminate random Postgres backends while running")
)

const token = "XLM"

func seedRNG(seed int64) { rand.Seed(seed) }

func TestDisputeEngineConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in -short mode")
	}
	seed := *flSeed
	seedRNG(seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	store, harness := openStore(t, ctx)
	if harness != nil {
		defer harness.Close(context.Background())
	}

	env := mustSeed(t, ctx, store)
	useChaos := harness != nil && *flChaos
	if useChaos {
		env.Transient = connectionLost
	}

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Creator(ctx2, env, stop) })
	}
	for _, voter := range env.Voters {
		g.Go(func() error { return actors.Voter(ctx2, env, voter, stop) })
	}
	g.Go(func() error { return actors.EvidenceWriter(ctx2, env, stop) })
	g.Go(func() error { return actors.Funder(ctx2, env, stop) })
	g.Go(func() error { return actors.Ticker(ctx2, env, dispute.VotingPeriod/50, stop) })
	g.Go(func() error { return actors.Resolver(ctx2, env, stop) })
	g.Go(func() error { return actors.Executor(ctx2, env, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, env, stop) })

	killed := make(chan int, 1)
	if useChaos {
		go func() {
			killed <- chaos.BackendKiller{Pool: harness.Pool()}.Run(ctx2, stop)
		}()
	} else {
		killed <- 0
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx2.Done():
			break loop
		case <-ticker.C:
			checkOracles(t, ctx2, store, env, seed)
		}
	}

	close(stop)
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v (seed=%d)", err, seed)
		}
	}
	t.Logf("backends killed: %d", <-killed)

	// Close every remaining dispute and check the settled world.
	env.Clock.Advance(dispute.VotingPeriod + time.Minute)
	if _, err := env.Sweeper.RunOnce(ctx); err != nil {
		t.Fatalf("final sweep: %v", err)
	}
	checkOracles(t, ctx, store, env, seed)

	snap, err := oracles.Take(ctx, store)
	if err != nil {
		t.Fatalf("final snapshot: %v", err)
	}
	if len(snap.Locks) != 0 {
		t.Fatalf("locks left after final sweep: %v (seed=%d)", snap.Locks, seed)
	}
	if len(snap.Disputes) == 0 {
		t.Fatalf("no disputes were created (seed=%d)", seed)
	}
	t.Logf("disputes: %d, published events: %d", len(snap.Disputes), published.Load())
}

func openStore(t *testing.T, ctx context.Context) (kvstore.Store, *infra.Harness) {
	t.Helper()
	dsn := *flDSN
	if dsn == "" {
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
	}
	if dsn == "" && !*flPostgres {
		return kvstore.NewMemory(), nil
	}
	h, err := infra.NewHarness(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres harness: %v", err)
	}
	return kvstore.NewPostgres(h.Pool()), h
}

var published atomic.Int64

type countingPublisher struct{}

func (countingPublisher) Publish(context.Context, outbox.Message) error {
	published.Add(1)
	return nil
}

func mustSeed(t *testing.T, ctx context.Context, store kvstore.Store) *actors.Env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := actors.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	guilds := guild.NewService(store, nil).WithClock(clock.Now)
	guildID, err := guilds.Create(ctx, "Stress Guild", "", "GOWNER")
	if err != nil {
		t.Fatalf("seed guild: %v", err)
	}
	voters := []string{"GADMIN1", "GADMIN2", "GMEMBER1", "GMEMBER2", "GMEMBER3", "GCONTRIB1"}
	roles := []guild.Role{guild.RoleAdmin, guild.RoleAdmin, guild.RoleMember, guild.RoleMember, guild.RoleMember, guild.RoleContributor}
	for i, v := range voters {
		if err := guilds.AddMember(ctx, guildID, v, roles[i], "GOWNER"); err != nil {
			t.Fatalf("seed member %s: %v", v, err)
		}
	}

	esc := escrow.NewService(store, nil)
	members := guild.NewRepository()
	bounties := bounty.NewService(store, esc.Ledger(), members, nil).WithClock(clock.Now)

	refs := make([]uint64, 0, 3)
	for i := 0; i < 3; i++ {
		if err := esc.Mint(ctx, token, "GOWNER", 1000); err != nil {
			t.Fatalf("seed mint: %v", err)
		}
		id, err := bounties.Create(ctx, bounty.CreateParams{
			GuildID:      guildID,
			Creator:      "GOWNER",
			Title:        fmt.Sprintf("Stress bounty %d", i),
			Token:        token,
			RewardAmount: 1000,
			ExpiresAt:    clock.Now().Add(10 * 365 * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("seed bounty: %v", err)
		}
		if err := bounties.Fund(ctx, id, "GOWNER", 1000); err != nil {
			t.Fatalf("seed fund: %v", err)
		}
		refs = append(refs, id)
	}

	svc, err := dispute.NewService(store, dispute.Collaborators{
		Guilds:     members,
		Bounties:   bounties.Repository(),
		Milestones: milestone.NewRepository(),
		Funds:      esc.Ledger(),
	})
	if err != nil {
		t.Fatalf("dispute service: %v", err)
	}
	svc.WithClock(clock.Now).WithLogger(logger)

	return &actors.Env{
		Disputes:   svc,
		Bounties:   bounties,
		Escrow:     esc,
		Sweeper:    dispute.NewSweeper(svc, logger),
		Relay:      outbox.NewRelay(store, countingPublisher{}, outbox.RelayOptions{Batch: 50, MaxAttempts: 3}, logger),
		Clock:      clock,
		Token:      token,
		Owner:      "GOWNER",
		Plaintiffs: []string{"GHUNTER1", "GHUNTER2"},
		Voters:     voters,
		References: refs,
	}
}

func checkOracles(t *testing.T, ctx context.Context, store kvstore.Store, env *actors.Env, seed int64) {
	t.Helper()
	name, detail, err := oracles.Run(ctx, store)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		if env.Transient != nil && env.Transient(err) {
			return
		}
		t.Fatalf("oracle error: %v", err)
	}
	if name != "" {
		dumpRecent(t, ctx, store)
		t.Fatalf("Oracle %s failed: %s (seed=%d)", name, detail, seed)
	}
}

// connectionLost matches the errors a transaction sees when its backend is
// terminated under it.
func connectionLost(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "57P01" || strings.HasPrefix(pgErr.Code, "08")
	}
	return pgconn.SafeToRetry(err) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		strings.Contains(err.Error(), "conn closed") ||
		strings.Contains(err.Error(), "unexpected EOF")
}

func dumpRecent(t *testing.T, ctx context.Context, store kvstore.Store) {
	t.Helper()
	snap, err := oracles.Take(ctx, store)
	if err != nil {
		t.Logf("dump error: %v", err)
		return
	}
	t.Logf("-- disputes (%d) --", len(snap.Disputes))
	from := max(0, len(snap.Disputes)-20)
	for _, d := range snap.Disputes[from:] {
		t.Logf("id=%d ref=%s/%d status=%s votes=%d p=%d d=%d s=%d executed=%v",
			d.ID, d.ReferenceType, d.ReferenceID, d.Status, d.VoteCount,
			d.VotesForPlaintiff, d.VotesForDefendant, d.VotesSplit, d.ResolutionExecuted)
	}
	t.Logf("-- locks (%d) --", len(snap.Locks))
	for _, l := range snap.Locks {
		t.Logf("%s -> %d", l.Key, l.DisputeID)
	}
	t.Logf("-- bounties --")
	for _, b := range snap.Bounties {
		t.Logf("id=%d status=%s funded=%d/%d", b.ID, b.Status, b.FundedAmount, b.RewardAmount)
	}
	for tok, book := range snap.Escrow {
		t.Logf("-- escrow %s supply=%d --", tok, book.Supply)
		for account, v := range book.Balances {
			t.Logf("%s=%d", account, v)
		}
	}
}
