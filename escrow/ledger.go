package escrow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"guildcourt/kvstore"
)

var (
	ErrInvalidAmount     = errors.New("escrow: amount must be positive")
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	ErrSameAccount       = errors.New("escrow: source and destination are the same account")
	ErrInvalidToken      = errors.New("escrow: token must be non-empty and contain no '/'")
)

const (
	balancePrefix = "escrow/balance/"
	supplyPrefix  = "escrow/supply/"
)

// BountyAccount is the escrow account holding a bounty's locked funds.
func BountyAccount(bountyID uint64) string {
	return "bounty:" + strconv.FormatUint(bountyID, 10)
}

// TreasuryAccount is the account a project treasury pays milestones from.
func TreasuryAccount(treasuryID uint64) string {
	return "treasury:" + strconv.FormatUint(treasuryID, 10)
}

// Ledger moves token balances between accounts inside the caller's
// transaction. Accounts are either plain addresses or the escrow accounts
// returned by BountyAccount and TreasuryAccount.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// CheckToken rejects token names that cannot be a single balance key
// segment.
func CheckToken(token string) error {
	if token == "" || strings.Contains(token, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	return nil
}

// Mint credits new units to account and grows the token supply.
func (l *Ledger) Mint(ctx context.Context, tx kvstore.Txn, token, account string, amount int64) error {
	if err := CheckToken(token); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := l.add(ctx, tx, supplyKey(token), amount); err != nil {
		return err
	}
	return l.add(ctx, tx, balanceKey(token, account), amount)
}

// Transfer moves amount from one account to another. The source must hold at
// least amount.
func (l *Ledger) Transfer(ctx context.Context, tx kvstore.Txn, token, from, to string, amount int64) error {
	if err := CheckToken(token); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrSameAccount
	}
	have, err := l.Balance(ctx, tx, token, from)
	if err != nil {
		return err
	}
	if have < amount {
		return fmt.Errorf("%w: %s holds %d %s, needs %d", ErrInsufficientFunds, from, have, token, amount)
	}
	if err := l.set(ctx, tx, balanceKey(token, from), have-amount); err != nil {
		return err
	}
	return l.add(ctx, tx, balanceKey(token, to), amount)
}

// Deposit locks funds from a funder into the bounty's escrow account.
func (l *Ledger) Deposit(ctx context.Context, tx kvstore.Txn, token, from string, bountyID uint64, amount int64) error {
	return l.Transfer(ctx, tx, token, from, BountyAccount(bountyID), amount)
}

// Release pays out of the bounty's escrow account.
func (l *Ledger) Release(ctx context.Context, tx kvstore.Txn, token string, bountyID uint64, to string, amount int64) error {
	return l.Transfer(ctx, tx, token, BountyAccount(bountyID), to, amount)
}

// FundTreasury moves funds from an address into a project treasury.
func (l *Ledger) FundTreasury(ctx context.Context, tx kvstore.Txn, token, from string, treasuryID uint64, amount int64) error {
	return l.Transfer(ctx, tx, token, from, TreasuryAccount(treasuryID), amount)
}

// PayFromTreasury executes a milestone payment out of a project treasury.
func (l *Ledger) PayFromTreasury(ctx context.Context, tx kvstore.Txn, treasuryID uint64, token, to string, amount int64) error {
	return l.Transfer(ctx, tx, token, TreasuryAccount(treasuryID), to, amount)
}

// Balance returns the amount account holds; unknown accounts hold zero.
func (l *Ledger) Balance(ctx context.Context, tx kvstore.Txn, token, account string) (int64, error) {
	if err := CheckToken(token); err != nil {
		return 0, err
	}
	return l.get(ctx, tx, balanceKey(token, account))
}

// Supply returns the total amount ever minted for token.
func (l *Ledger) Supply(ctx context.Context, tx kvstore.Txn, token string) (int64, error) {
	if err := CheckToken(token); err != nil {
		return 0, err
	}
	return l.get(ctx, tx, supplyKey(token))
}

// Balances lists every non-zero balance of token keyed by account.
func (l *Ledger) Balances(ctx context.Context, tx kvstore.Txn, token string) (map[string]int64, error) {
	if err := CheckToken(token); err != nil {
		return nil, err
	}
	prefix := balancePrefix + token + "/"
	entries, err := tx.Scan(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("escrow: scan balances: %w", err)
	}
	out := make(map[string]int64, len(entries))
	for _, e := range entries {
		var v int64
		if err := e.Decode(&v); err != nil {
			return nil, fmt.Errorf("escrow: %w", err)
		}
		if v != 0 {
			out[e.Key[len(prefix):]] = v
		}
	}
	return out, nil
}

func (l *Ledger) get(ctx context.Context, tx kvstore.Txn, key string) (int64, error) {
	var v int64
	if err := kvstore.GetJSON(ctx, tx, key, &v); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("escrow: read %s: %w", key, err)
	}
	return v, nil
}

func (l *Ledger) set(ctx context.Context, tx kvstore.Txn, key string, v int64) error {
	if err := kvstore.PutJSON(ctx, tx, key, v); err != nil {
		return fmt.Errorf("escrow: write %s: %w", key, err)
	}
	return nil
}

func (l *Ledger) add(ctx context.Context, tx kvstore.Txn, key string, delta int64) error {
	cur, err := l.get(ctx, tx, key)
	if err != nil {
		return err
	}
	next := cur + delta
	if next < cur {
		return fmt.Errorf("escrow: balance overflow on %s", key)
	}
	return l.set(ctx, tx, key, next)
}

func balanceKey(token, account string) string {
	return balancePrefix + token + "/" + account
}

func supplyKey(token string) string {
	return supplyPrefix + token
}
