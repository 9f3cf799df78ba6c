package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"guildcourt/kvstore"
)

const token = "XLM"

func TestLedger_DepositAndRelease(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	svc := NewService(store, nil)

	require.NoError(t, svc.Mint(ctx, token, "GOWNER", 150))
	require.NoError(t, kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
		if err := svc.Ledger().Deposit(ctx, tx, token, "GOWNER", 1, 100); err != nil {
			return err
		}
		return svc.Ledger().Release(ctx, tx, token, 1, "GCONTRIB", 60)
	}))

	owner, err := svc.Balance(ctx, token, "GOWNER")
	require.NoError(t, err)
	require.EqualValues(t, 50, owner)

	escrowed, err := svc.Balance(ctx, token, BountyAccount(1))
	require.NoError(t, err)
	require.EqualValues(t, 40, escrowed)

	contrib, err := svc.Balance(ctx, token, "GCONTRIB")
	require.NoError(t, err)
	require.EqualValues(t, 60, contrib)
}

func TestLedger_InsufficientFundsAbortsTransaction(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	svc := NewService(store, nil)

	require.NoError(t, svc.Mint(ctx, token, "GFUNDER", 30))
	require.NoError(t, svc.FundTreasury(ctx, token, "GFUNDER", 7, 30))

	err := kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
		if err := svc.Ledger().PayFromTreasury(ctx, tx, 7, token, "GA", 20); err != nil {
			return err
		}
		return svc.Ledger().PayFromTreasury(ctx, tx, 7, token, "GB", 20)
	})
	require.True(t, errors.Is(err, ErrInsufficientFunds), "got %v", err)

	treasury, err := svc.Balance(ctx, token, TreasuryAccount(7))
	require.NoError(t, err)
	require.EqualValues(t, 30, treasury, "first payment must roll back with the second")

	a, err := svc.Balance(ctx, token, "GA")
	require.NoError(t, err)
	require.Zero(t, a)
}

func TestLedger_RejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	ledger := NewLedger()

	err := kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
		return ledger.Transfer(ctx, tx, token, "GA", "GB", 0)
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	err = kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
		return ledger.Mint(ctx, tx, token, "GA", -5)
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	err = kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
		return ledger.Transfer(ctx, tx, token, "GA", "GA", 1)
	})
	require.ErrorIs(t, err, ErrSameAccount)
}

func TestLedger_BalancesConserveSupply(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	ledger := NewLedger()

	require.NoError(t, kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
		if err := ledger.Mint(ctx, tx, token, "GA", 70); err != nil {
			return err
		}
		if err := ledger.Mint(ctx, tx, token, "GB", 30); err != nil {
			return err
		}
		if err := ledger.Deposit(ctx, tx, token, "GA", 3, 70); err != nil {
			return err
		}
		return ledger.Release(ctx, tx, token, 3, "GC", 35)
	}))

	require.NoError(t, kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
		balances, err := ledger.Balances(ctx, tx, token)
		if err != nil {
			return err
		}
		require.Equal(t, map[string]int64{
			BountyAccount(3): 35,
			"GB":             30,
			"GC":             35,
		}, balances)

		supply, err := ledger.Supply(ctx, tx, token)
		require.NoError(t, err)
		require.EqualValues(t, 100, supply)
		return nil
	}))
}

func TestLedger_RejectsTokensThatSplitKeys(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	ledger := NewLedger()
	require.NoError(t, kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
		return ledger.Mint(ctx, tx, token, "GA", 10)
	}))

	for _, bad := range []string{"", "XLM/GA", "USD/"} {
		err := kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
			return ledger.Mint(ctx, tx, bad, "GB", 5)
		})
		require.ErrorIs(t, err, ErrInvalidToken, "%q", bad)

		err = kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
			_, err := ledger.Balances(ctx, tx, bad)
			return err
		})
		require.ErrorIs(t, err, ErrInvalidToken, "%q", bad)
	}
	require.ErrorIs(t, CheckToken("a/b"), ErrInvalidToken)
	require.NoError(t, CheckToken("USDC"))

	require.NoError(t, kvstore.Update(ctx, store, func(tx kvstore.Txn) error {
		balances, err := ledger.Balances(ctx, tx, token)
		require.Equal(t, map[string]int64{"GA": 10}, balances)
		return err
	}))
}
