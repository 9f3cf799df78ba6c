// Package oracles checks store-wide invariants of the dispute engine while
// actors are mutating it. Every oracle reads one consistent snapshot.
package oracles

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"guildcourt/bounty"
	"guildcourt/dispute"
	"guildcourt/escrow"
	"guildcourt/kvstore"
)

// Snapshot is everything the oracles look at, read in a single transaction.
type Snapshot struct {
	Disputes []dispute.Dispute
	Votes    map[uint64][]dispute.Vote
	Locks    []dispute.LockEntry
	Open     []dispute.OpenEntry
	Bounties []bounty.Bounty
	// Escrow holds, per token, the ledger balances and the minted supply.
	Escrow map[string]TokenBook
}

type TokenBook struct {
	Balances map[string]int64
	Supply   int64
}

type Oracle struct {
	Name  string
	Check func(s Snapshot) string
}

func All() []Oracle {
	return []Oracle{
		{Name: "O1_vote_totals_match_ballots", Check: voteTotals},
		{Name: "O2_lock_points_at_open_dispute", Check: locksOpen},
		{Name: "O3_open_dispute_holds_lock", Check: openHoldsLock},
		{Name: "O4_executed_implies_resolved", Check: executedResolved},
		{Name: "O5_escrow_conserved", Check: escrowConserved},
		{Name: "O6_bounty_escrow_matches_ledger", Check: bountyEscrow},
		{Name: "O7_open_index_matches_disputes", Check: openIndex},
	}
}

// Run takes a snapshot and returns the first failing oracle with a
// description of the offending record. An empty name means every oracle held.
func Run(ctx context.Context, store kvstore.Store) (string, string, error) {
	snap, err := Take(ctx, store)
	if err != nil {
		return "", "", err
	}
	for _, o := range All() {
		if detail := o.Check(snap); detail != "" {
			return o.Name, detail, nil
		}
	}
	return "", "", nil
}

func Take(ctx context.Context, store kvstore.Store) (Snapshot, error) {
	var (
		snap     = Snapshot{Votes: map[uint64][]dispute.Vote{}, Escrow: map[string]TokenBook{}}
		disputes = dispute.NewRepository()
		ledger   = escrow.NewLedger()
	)
	err := kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
		var err error
		if snap.Disputes, err = disputes.List(ctx, tx); err != nil {
			return err
		}
		for _, d := range snap.Disputes {
			votes, err := disputes.Votes(ctx, tx, d.ID)
			if err != nil {
				return err
			}
			snap.Votes[d.ID] = votes
		}
		if snap.Locks, err = disputes.Locks(ctx, tx); err != nil {
			return err
		}
		if snap.Open, err = disputes.Open(ctx, tx); err != nil {
			return err
		}
		if snap.Bounties, err = bounty.NewRepository().List(ctx, tx); err != nil {
			return err
		}
		for _, b := range snap.Bounties {
			if _, ok := snap.Escrow[b.Token]; ok {
				continue
			}
			balances, err := ledger.Balances(ctx, tx, b.Token)
			if err != nil {
				return err
			}
			supply, err := ledger.Supply(ctx, tx, b.Token)
			if err != nil {
				return err
			}
			snap.Escrow[b.Token] = TokenBook{Balances: balances, Supply: supply}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("oracles: snapshot: %w", err)
	}
	return snap, nil
}

func voteTotals(s Snapshot) string {
	for _, d := range s.Disputes {
		var plaintiff, defendant, split uint64
		votes := s.Votes[d.ID]
		for _, v := range votes {
			switch v.Decision {
			case dispute.FavorPlaintiff:
				plaintiff += uint64(v.Weight)
			case dispute.FavorDefendant:
				defendant += uint64(v.Weight)
			case dispute.Split:
				split += uint64(v.Weight)
			}
		}
		if plaintiff != d.VotesForPlaintiff || defendant != d.VotesForDefendant || split != d.VotesSplit {
			return fmt.Sprintf("dispute %d totals %d/%d/%d, ballots sum to %d/%d/%d",
				d.ID, d.VotesForPlaintiff, d.VotesForDefendant, d.VotesSplit, plaintiff, defendant, split)
		}
		if int(d.VoteCount) != len(votes) {
			return fmt.Sprintf("dispute %d vote_count %d, %d ballots", d.ID, d.VoteCount, len(votes))
		}
	}
	return ""
}

func locksOpen(s Snapshot) string {
	byID := index(s.Disputes)
	for _, l := range s.Locks {
		d, ok := byID[l.DisputeID]
		if !ok {
			return fmt.Sprintf("lock %s names missing dispute %d", l.Key, l.DisputeID)
		}
		if d.Status.Closed() {
			return fmt.Sprintf("lock %s held by %s dispute %d", l.Key, d.Status, d.ID)
		}
		if l.Key != lockName(d) {
			return fmt.Sprintf("lock %s held by dispute %d on %s", l.Key, d.ID, lockName(d))
		}
	}
	return ""
}

func openHoldsLock(s Snapshot) string {
	held := make(map[string]uint64, len(s.Locks))
	for _, l := range s.Locks {
		held[l.Key] = l.DisputeID
	}
	for _, d := range s.Disputes {
		if d.Status.Closed() {
			continue
		}
		if id, ok := held[lockName(d)]; !ok || id != d.ID {
			return fmt.Sprintf("open dispute %d does not hold %s", d.ID, lockName(d))
		}
	}
	return ""
}

func openIndex(s Snapshot) string {
	byID := index(s.Disputes)
	indexed := make(map[uint64]bool, len(s.Open))
	for _, e := range s.Open {
		d, ok := byID[e.DisputeID]
		switch {
		case !ok:
			return fmt.Sprintf("open index names missing dispute %d", e.DisputeID)
		case d.Status.Closed():
			return fmt.Sprintf("open index holds %s dispute %d", d.Status, d.ID)
		case !e.VotingDeadline.Equal(d.VotingDeadline):
			return fmt.Sprintf("open index deadline %s for dispute %d, record says %s", e.VotingDeadline, d.ID, d.VotingDeadline)
		}
		indexed[e.DisputeID] = true
	}
	for _, d := range s.Disputes {
		if !d.Status.Closed() && !indexed[d.ID] {
			return fmt.Sprintf("open dispute %d missing from the open index", d.ID)
		}
	}
	return ""
}

func executedResolved(s Snapshot) string {
	for _, d := range s.Disputes {
		if d.ResolutionExecuted && d.Status != dispute.StatusResolved {
			return fmt.Sprintf("dispute %d executed while %s", d.ID, d.Status)
		}
		if d.Status.Closed() != (d.ResolvedAt != nil) {
			return fmt.Sprintf("dispute %d status %s with resolved_at %v", d.ID, d.Status, d.ResolvedAt)
		}
	}
	return ""
}

func escrowConserved(s Snapshot) string {
	tokens := make([]string, 0, len(s.Escrow))
	for t := range s.Escrow {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	for _, t := range tokens {
		book := s.Escrow[t]
		var sum int64
		for account, v := range book.Balances {
			if v < 0 {
				return fmt.Sprintf("%s balance of %s is %d", t, account, v)
			}
			sum += v
		}
		if sum != book.Supply {
			return fmt.Sprintf("%s balances sum to %d, supply is %d", t, sum, book.Supply)
		}
	}
	return ""
}

func bountyEscrow(s Snapshot) string {
	for _, b := range s.Bounties {
		held := s.Escrow[b.Token].Balances[escrow.BountyAccount(b.ID)]
		if held != b.FundedAmount {
			return fmt.Sprintf("bounty %d funded %d, escrow holds %d", b.ID, b.FundedAmount, held)
		}
	}
	return ""
}

func index(ds []dispute.Dispute) map[uint64]dispute.Dispute {
	out := make(map[uint64]dispute.Dispute, len(ds))
	for _, d := range ds {
		out[d.ID] = d
	}
	return out
}

// lockName renders a dispute's reference the way lock keys spell it.
func lockName(d dispute.Dispute) string {
	return strings.Join([]string{string(d.ReferenceType), kvstore.ID(d.ReferenceID)}, "/")
}
