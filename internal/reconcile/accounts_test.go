package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tincanhq/tincan/internal/common"
	"github.com/tincanhq/tincan/internal/model"
	"github.com/tincanhq/tincan/internal/plaid"
	"github.com/tincanhq/tincan/internal/service"
	"github.com/tincanhq/tincan/internal/testutil"
)

// inTx runs fn inside a committed transaction.
func inTx(t *testing.T, db *testutil.TestDB, fn func(tx service.Tx) error) {
	t.Helper()
	ctx := context.Background()

	tx, err := db.Storage.BeginTx(ctx)
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		t.Fatalf("transaction failed: %v", err)
	}
	require.NoError(t, tx.Commit())
}

func snapshot(itemExternalID string, accounts ...plaid.AccountSnapshot) *plaid.AccountsSnapshot {
	return &plaid.AccountsSnapshot{ExternalItemID: itemExternalID, Accounts: accounts}
}

func TestAccounts_CreatesFromEmpty(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	item := db.CreateItem(ctx, model.Item{ExternalID: "item-1", InstitutionName: "First Bank"})

	var result *AccountResult
	inTx(t, db, func(tx service.Tx) error {
		var err error
		result, err = Accounts(ctx, slog.Default(), tx, item,
			snapshot("item-1",
				plaid.AccountSnapshot{ExternalID: "acc-1", Name: "Checking", Type: "depository", Balance: 1200.50},
				plaid.AccountSnapshot{ExternalID: "acc-2", Name: "Visa", Type: "credit", Balance: 430.00},
			))
		return err
	})

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, int64(0), result.Deactivated)

	accounts, err := db.Storage.ListItemAccounts(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	for _, account := range accounts {
		assert.True(t, account.Active)
		assert.Equal(t, "First Bank", account.InstitutionName)
	}

	checking, err := db.Storage.GetItemAccount(ctx, item.ID, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, model.AccountTypeAssets, checking.Type)
	assert.Equal(t, model.AccountSubtypeCash, checking.Subtype)
	assert.InDelta(t, 1200.50, checking.Balance, 0.001)

	visa, err := db.Storage.GetItemAccount(ctx, item.ID, "acc-2")
	require.NoError(t, err)
	assert.Equal(t, model.AccountTypeLiabilities, visa.Type)
	assert.Equal(t, model.AccountSubtypeCreditCards, visa.Subtype)
}

func TestAccounts_UpdatesAndDeactivates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	item := db.CreateItem(ctx, model.Item{ExternalID: "item-1"})

	for _, id := range []string{"acc-1", "acc-2", "acc-3"} {
		db.CreateAccount(ctx, model.Account{
			ItemID:     &item.ID,
			ExternalID: testutil.StringPtr(id),
			Name:       "Old " + id,
			Type:       model.AccountTypeAssets,
			Subtype:    model.AccountSubtypeCash,
			Balance:    10,
			Active:     true,
		})
	}

	var result *AccountResult
	inTx(t, db, func(tx service.Tx) error {
		var err error
		result, err = Accounts(ctx, slog.Default(), tx, item,
			snapshot("item-1",
				plaid.AccountSnapshot{ExternalID: "acc-1", Name: "New acc-1", Type: "depository", Balance: 111},
				plaid.AccountSnapshot{ExternalID: "acc-2", Name: "New acc-2", Type: "depository", Balance: 222},
			))
		return err
	})

	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, int64(1), result.Deactivated)

	accounts, err := db.Storage.ListItemAccounts(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	for _, account := range accounts {
		switch *account.ExternalID {
		case "acc-1":
			assert.True(t, account.Active)
			assert.Equal(t, "New acc-1", account.Name)
			assert.InDelta(t, 111, account.Balance, 0.001)
		case "acc-2":
			assert.True(t, account.Active)
			assert.Equal(t, "New acc-2", account.Name)
			assert.InDelta(t, 222, account.Balance, 0.001)
		case "acc-3":
			assert.False(t, account.Active)
			assert.Equal(t, "Old acc-3", account.Name)
		}
	}
}

func TestAccounts_ReactivatesReturningAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	item := db.CreateItem(ctx, model.Item{ExternalID: "item-1"})

	db.CreateAccount(ctx, model.Account{
		ItemID:     &item.ID,
		ExternalID: testutil.StringPtr("acc-1"),
		Name:       "Checking",
		Active:     false,
	})

	inTx(t, db, func(tx service.Tx) error {
		_, err := Accounts(ctx, slog.Default(), tx, item,
			snapshot("item-1",
				plaid.AccountSnapshot{ExternalID: "acc-1", Name: "Checking", Type: "depository", Balance: 5}))
		return err
	})

	found, err := db.Storage.GetItemAccount(ctx, item.ID, "acc-1")
	require.NoError(t, err)
	assert.True(t, found.Active)
}

func TestAccounts_SkipsUnmappedType(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	item := db.CreateItem(ctx, model.Item{ExternalID: "item-1"})

	var result *AccountResult
	inTx(t, db, func(tx service.Tx) error {
		var err error
		result, err = Accounts(ctx, slog.Default(), tx, item,
			snapshot("item-1",
				plaid.AccountSnapshot{ExternalID: "acc-1", Name: "Checking", Type: "depository"},
				plaid.AccountSnapshot{ExternalID: "acc-weird", Name: "Mystery", Type: "brokerage"},
			))
		return err
	})

	// The unmapped account skips without aborting the rest.
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Skipped)

	missing, err := db.Storage.GetItemAccount(ctx, item.ID, "acc-weird")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAccounts_CrossItemCollisionNeverReparents(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	itemA := db.CreateItem(ctx, model.Item{ExternalID: "item-a", AccessToken: "tok-a"})
	itemB := db.CreateItem(ctx, model.Item{ExternalID: "item-b", AccessToken: "tok-b"})

	owned := db.CreateAccount(ctx, model.Account{
		ItemID:     &itemA.ID,
		ExternalID: testutil.StringPtr("acc-1"),
		Name:       "Original",
		Active:     true,
	})

	var result *AccountResult
	inTx(t, db, func(tx service.Tx) error {
		var err error
		result, err = Accounts(ctx, slog.Default(), tx, itemB,
			snapshot("item-b",
				plaid.AccountSnapshot{ExternalID: "acc-1", Name: "Imposter", Type: "depository"}))
		return err
	})

	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Skipped)

	// Still owned by item A, untouched.
	found, err := db.Storage.GetAccountByExternalID(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, found.ItemID)
	assert.Equal(t, itemA.ID, *found.ItemID)
	assert.Equal(t, "Original", found.Name)
	assert.Equal(t, owned.ID, found.ID)
}

func TestAccounts_SnapshotItemMismatchAborts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	item := db.CreateItem(ctx, model.Item{ExternalID: "item-1"})

	tx, err := db.Storage.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = Accounts(ctx, slog.Default(), tx, item,
		snapshot("item-other",
			plaid.AccountSnapshot{ExternalID: "acc-1", Name: "Checking", Type: "depository"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrDataConsistency))
}

func TestAccounts_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	item := db.CreateItem(ctx, model.Item{ExternalID: "item-1"})

	snap := snapshot("item-1",
		plaid.AccountSnapshot{ExternalID: "acc-1", Name: "Checking", Type: "depository", Balance: 50})

	for i := 0; i < 2; i++ {
		inTx(t, db, func(tx service.Tx) error {
			_, err := Accounts(ctx, slog.Default(), tx, item, snap)
			return err
		})
	}

	accounts, err := db.Storage.ListItemAccounts(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestCreateAccount_SameItemDuplicateResolvesToExistingRow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	item := db.CreateItem(ctx, model.Item{ExternalID: "item-1"})
	seeded := db.CreateAccount(ctx, model.Account{
		ItemID:     &item.ID,
		ExternalID: testutil.StringPtr("acc-1"),
		Name:       "Checking",
		Type:       model.AccountTypeAssets,
		Subtype:    model.AccountSubtypeCash,
		Active:     true,
	})

	inTx(t, db, func(tx service.Tx) error {
		resolved, err := createAccount(ctx, slog.Default(), tx, item,
			plaid.AccountSnapshot{ExternalID: "acc-1", Name: "Checking", Type: "depository", Balance: 50})
		require.NoError(t, err)
		require.NotNil(t, resolved)
		assert.Equal(t, seeded.ID, resolved.ID)
		return nil
	})

	accounts, err := db.Storage.ListItemAccounts(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}
