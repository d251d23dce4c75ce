package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tincanhq/tincan/internal/common"
	"github.com/tincanhq/tincan/internal/model"
)

func createLinkedAccount(t *testing.T, store *SQLiteStorage, itemID int64, externalID string) *model.Account {
	t.Helper()

	account, err := store.CreateAccount(context.Background(), &model.Account{
		ItemID:     &itemID,
		UserID:     1,
		ExternalID: &externalID,
		Name:       "Account " + externalID,
		Type:       model.AccountTypeAssets,
		Subtype:    model.AccountSubtypeCash,
		Balance:    100,
		Active:     true,
	})
	require.NoError(t, err)
	return account
}

func TestCreateAccount_DuplicateExternalID(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	item, err := store.CreateItem(ctx, testItem("item-1"))
	require.NoError(t, err)

	createLinkedAccount(t, store, item.ID, "acc-1")

	externalID := "acc-1"
	_, err = store.CreateAccount(ctx, &model.Account{
		ItemID:     &item.ID,
		UserID:     1,
		ExternalID: &externalID,
		Name:       "Duplicate",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrDuplicateEntry))
}

func TestCreateAccount_ManualWithoutExternalID(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	// Manual accounts have neither external ID nor item; several may exist.
	for range 2 {
		_, err := store.CreateAccount(ctx, &model.Account{
			UserID: 1,
			Name:   "Cash wallet",
			Active: true,
		})
		require.NoError(t, err)
	}
}

func TestGetItemAccount_ScopedToItem(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	itemA, err := store.CreateItem(ctx, testItem("item-a"))
	require.NoError(t, err)
	itemB, err := store.CreateItem(ctx, testItem("item-b"))
	require.NoError(t, err)

	created := createLinkedAccount(t, store, itemA.ID, "acc-1")

	found, err := store.GetItemAccount(ctx, itemA.ID, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	// Same external ID under the other item does not match.
	other, err := store.GetItemAccount(ctx, itemB.ID, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, other)

	// But the unscoped lookup finds it anywhere.
	anywhere, err := store.GetAccountByExternalID(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, anywhere)
	assert.Equal(t, created.ID, anywhere.ID)
}

func TestUpdateAccountSnapshot(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	item, err := store.CreateItem(ctx, testItem("item-1"))
	require.NoError(t, err)
	account := createLinkedAccount(t, store, item.ID, "acc-1")

	_, err = store.DeactivateMissingAccounts(ctx, item.ID, nil)
	require.NoError(t, err)

	require.NoError(t, store.UpdateAccountSnapshot(ctx, account.ID, "Renamed", 250.75, "First Bank"))

	found, err := store.GetAccountByExternalID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", found.Name)
	assert.InDelta(t, 250.75, found.Balance, 0.001)
	assert.Equal(t, "First Bank", found.InstitutionName)
	// A snapshot update reactivates the account.
	assert.True(t, found.Active)
	// Type and subtype are never touched on update.
	assert.Equal(t, model.AccountTypeAssets, found.Type)
	assert.Equal(t, model.AccountSubtypeCash, found.Subtype)
}

func TestDeactivateMissingAccounts(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	item, err := store.CreateItem(ctx, testItem("item-1"))
	require.NoError(t, err)

	createLinkedAccount(t, store, item.ID, "acc-1")
	createLinkedAccount(t, store, item.ID, "acc-2")
	createLinkedAccount(t, store, item.ID, "acc-3")

	// A manual account under the same user is never deactivated.
	_, err = store.CreateAccount(ctx, &model.Account{UserID: 1, Name: "Wallet", Active: true})
	require.NoError(t, err)

	deactivated, err := store.DeactivateMissingAccounts(ctx, item.ID, []string{"acc-1", "acc-3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deactivated)

	accounts, err := store.ListItemAccounts(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	for _, account := range accounts {
		if *account.ExternalID == "acc-2" {
			assert.False(t, account.Active)
		} else {
			assert.True(t, account.Active, "account %s", *account.ExternalID)
		}
	}
}

func TestDeactivateMissingAccounts_EmptySnapshot(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	item, err := store.CreateItem(ctx, testItem("item-1"))
	require.NoError(t, err)
	createLinkedAccount(t, store, item.ID, "acc-1")
	createLinkedAccount(t, store, item.ID, "acc-2")

	deactivated, err := store.DeactivateMissingAccounts(ctx, item.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deactivated)
}

func TestSetAccountsInstitutionName(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	item, err := store.CreateItem(ctx, testItem("item-1"))
	require.NoError(t, err)
	createLinkedAccount(t, store, item.ID, "acc-1")
	createLinkedAccount(t, store, item.ID, "acc-2")

	require.NoError(t, store.SetAccountsInstitutionName(ctx, item.ID, "First Bank"))

	accounts, err := store.ListItemAccounts(ctx, item.ID)
	require.NoError(t, err)
	for _, account := range accounts {
		assert.Equal(t, "First Bank", account.InstitutionName)
	}
}
