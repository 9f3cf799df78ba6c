package escrow

import (
	"context"

	"guildcourt/kvstore"
)

// Service wraps the ledger for callers that do not already hold a
// transaction, such as the CLI and test fixtures.
type Service struct {
	store  kvstore.Store
	ledger *Ledger
}

func NewService(store kvstore.Store, ledger *Ledger) *Service {
	if ledger == nil {
		ledger = NewLedger()
	}
	return &Service{store: store, ledger: ledger}
}

func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// Mint credits amount of token to account.
func (s *Service) Mint(ctx context.Context, token, account string, amount int64) error {
	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		return s.ledger.Mint(ctx, tx, token, account, amount)
	})
}

// FundTreasury moves funds from an address into a project treasury.
func (s *Service) FundTreasury(ctx context.Context, token, from string, treasuryID uint64, amount int64) error {
	return kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		return s.ledger.FundTreasury(ctx, tx, token, from, treasuryID, amount)
	})
}

// Balance returns the committed balance of account.
func (s *Service) Balance(ctx context.Context, token, account string) (int64, error) {
	var out int64
	err := kvstore.Update(ctx, s.store, func(tx kvstore.Txn) error {
		var err error
		out, err = s.ledger.Balance(ctx, tx, token, account)
		return err
	})
	return out, err
}
