package reconcile

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tincanhq/tincan/internal/mapping"
	"github.com/tincanhq/tincan/internal/model"
	"github.com/tincanhq/tincan/internal/plaid"
	"github.com/tincanhq/tincan/internal/service"
	"github.com/tincanhq/tincan/internal/testutil"
)

type txnFixture struct {
	db         *testutil.TestDB
	item       *model.Item
	account    *model.Account
	categories *mapping.CategorySet
}

func setupTxnFixture(t *testing.T) *txnFixture {
	t.Helper()
	ctx := context.Background()

	db := testutil.SetupTestDB(t)
	item := db.CreateItem(ctx, model.Item{ExternalID: "item-1"})
	account := db.CreateAccount(ctx, model.Account{
		ItemID:     &item.ID,
		ExternalID: testutil.StringPtr("acc-1"),
		Name:       "Checking",
		Type:       model.AccountTypeAssets,
		Subtype:    model.AccountSubtypeCash,
		Active:     true,
	})

	return &txnFixture{
		db:         db,
		item:       item,
		account:    account,
		categories: db.CategorySet(ctx),
	}
}

func (f *txnFixture) apply(t *testing.T, delta *plaid.TransactionDelta) *TransactionResult {
	t.Helper()
	ctx := context.Background()

	var result *TransactionResult
	inTx(t, f.db, func(tx service.Tx) error {
		var err error
		result, err = Transactions(ctx, slog.Default(), tx, f.item, delta, f.categories)
		return err
	})
	return result
}

func delta() *plaid.TransactionDelta {
	return &plaid.TransactionDelta{Accounts: map[string]plaid.AccountSnapshot{}}
}

func record(id string, amount float64, category string) plaid.TransactionRecord {
	return plaid.TransactionRecord{
		ExternalID:        id,
		ExternalAccountID: "acc-1",
		Date:              time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		Description:       "MERCHANT " + id,
		Category:          category,
		Amount:            amount,
	}
}

func TestTransactions_AddedAppliesSignAndCategory(t *testing.T) {
	f := setupTxnFixture(t)
	ctx := context.Background()

	d := delta()
	d.Added = []plaid.TransactionRecord{
		record("txn-1", 42.50, "FOOD_AND_DRINK_GROCERIES"),
		record("txn-2", -100.00, "INCOME_WAGES"),
		record("txn-3", 9.99, "SOMETHING_UNKNOWN"),
	}

	result := f.apply(t, d)
	assert.Equal(t, 3, result.Added)
	assert.Equal(t, 0, result.AddedSkipped)

	txns, err := f.db.Storage.ListAccountTransactions(ctx, f.account.ID)
	require.NoError(t, err)
	require.Len(t, txns, 3)

	byExternal := make(map[string]model.Transaction)
	for _, txn := range txns {
		byExternal[*txn.ExternalID] = txn
	}

	// Cash subtype: the aggregator's outflow-positive sign flips.
	assert.InDelta(t, -42.50, byExternal["txn-1"].Amount, 0.001)
	assert.InDelta(t, 100.00, byExternal["txn-2"].Amount, 0.001)

	groceries := f.db.Subcategory("Food", "Groceries")
	assert.Equal(t, groceries.ID, byExternal["txn-1"].SubcategoryID)

	uncat := f.db.Category(model.UncategorizedName)
	assert.Equal(t, uncat.ID, byExternal["txn-3"].CategoryID)
}

func TestTransactions_DuplicateAddSkipsAndContinues(t *testing.T) {
	f := setupTxnFixture(t)
	ctx := context.Background()

	first := delta()
	first.Added = []plaid.TransactionRecord{record("txn-1", 10, "")}
	f.apply(t, first)

	// txn-1 again plus a new record: the duplicate skips, the rest land.
	second := delta()
	second.Added = []plaid.TransactionRecord{
		record("txn-1", 10, ""),
		record("txn-2", 20, ""),
	}
	result := f.apply(t, second)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.AddedSkipped)

	txns, err := f.db.Storage.ListAccountTransactions(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestTransactions_Idempotent(t *testing.T) {
	f := setupTxnFixture(t)
	ctx := context.Background()

	d := delta()
	d.Added = []plaid.TransactionRecord{
		record("txn-1", 10, "FOOD_AND_DRINK_GROCERIES"),
		record("txn-2", 20, ""),
	}
	d.Removed = []plaid.RemovedRecord{{ExternalID: "txn-gone", ExternalAccountID: "acc-1"}}

	f.apply(t, d)
	firstRun, err := f.db.Storage.ListAccountTransactions(ctx, f.account.ID)
	require.NoError(t, err)

	result := f.apply(t, d)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 2, result.AddedSkipped)

	secondRun, err := f.db.Storage.ListAccountTransactions(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, len(firstRun), len(secondRun))
}

func TestTransactions_ModifiedOverwritesMutableFields(t *testing.T) {
	f := setupTxnFixture(t)
	ctx := context.Background()

	first := delta()
	added := record("txn-1", 42.50, "FOOD_AND_DRINK_GROCERIES")
	added.Pending = true
	first.Added = []plaid.TransactionRecord{added}
	f.apply(t, first)

	second := delta()
	modified := record("txn-1", 45.00, "FOOD_AND_DRINK_RESTAURANT")
	modified.Description = "MERCHANT SETTLED"
	modified.Date = time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)
	second.Modified = []plaid.TransactionRecord{modified}

	result := f.apply(t, second)
	assert.Equal(t, 1, result.Modified)

	found, err := f.db.Storage.GetTransactionByExternalID(ctx, f.account.ID, "txn-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.InDelta(t, -45.00, found.Amount, 0.001)
	assert.Equal(t, "MERCHANT SETTLED", found.Description)
	assert.False(t, found.Pending)
	assert.Equal(t, 22, found.Date.Day())

	// Category re-derived from the modified record.
	restaurants := f.db.Subcategory("Food", "Restaurants")
	assert.Equal(t, restaurants.ID, found.SubcategoryID)
}

func TestTransactions_ModifiedUnknownSkips(t *testing.T) {
	f := setupTxnFixture(t)
	ctx := context.Background()

	d := delta()
	d.Modified = []plaid.TransactionRecord{record("txn-never-seen", 10, "")}

	result := f.apply(t, d)
	assert.Equal(t, 0, result.Modified)
	assert.Equal(t, 1, result.ModifiedSkipped)

	// Modifications never create.
	txns, err := f.db.Storage.ListAccountTransactions(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestTransactions_RemovedDeletesKnownSubset(t *testing.T) {
	f := setupTxnFixture(t)
	ctx := context.Background()

	first := delta()
	first.Added = []plaid.TransactionRecord{
		record("txn-1", 10, ""),
		record("txn-2", 20, ""),
	}
	f.apply(t, first)

	second := delta()
	second.Removed = []plaid.RemovedRecord{
		{ExternalID: "txn-1", ExternalAccountID: "acc-1"},
		{ExternalID: "txn-ghost", ExternalAccountID: "acc-1"},
	}

	result := f.apply(t, second)
	assert.Equal(t, 1, result.Removed)

	txns, err := f.db.Storage.ListAccountTransactions(ctx, f.account.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "txn-2", *txns[0].ExternalID)
}

func TestTransactions_AddThenRemoveInOneWindowNetsOut(t *testing.T) {
	f := setupTxnFixture(t)
	ctx := context.Background()

	d := delta()
	d.Added = []plaid.TransactionRecord{record("txn-flash", 10, "")}
	d.Removed = []plaid.RemovedRecord{{ExternalID: "txn-flash", ExternalAccountID: "acc-1"}}

	result := f.apply(t, d)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Removed)

	txns, err := f.db.Storage.ListAccountTransactions(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestTransactions_UnknownAccountSkipsRecord(t *testing.T) {
	f := setupTxnFixture(t)
	ctx := context.Background()

	d := delta()
	stray := record("txn-1", 10, "")
	stray.ExternalAccountID = "acc-unknown"
	d.Added = []plaid.TransactionRecord{stray, record("txn-2", 20, "")}

	result := f.apply(t, d)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.AddedSkipped)

	txns, err := f.db.Storage.ListAccountTransactions(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestTransactions_CreatesAccountFromChangeStream(t *testing.T) {
	f := setupTxnFixture(t)
	ctx := context.Background()

	d := delta()
	stray := record("txn-1", 25.00, "")
	stray.ExternalAccountID = "acc-new"
	d.Added = []plaid.TransactionRecord{stray}
	d.Accounts["acc-new"] = plaid.AccountSnapshot{
		ExternalID: "acc-new",
		Name:       "Savings",
		Type:       "depository",
		Balance:    500,
	}

	result := f.apply(t, d)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 0, result.AddedSkipped)

	account, err := f.db.Storage.GetItemAccount(ctx, f.item.ID, "acc-new")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "Savings", account.Name)
	assert.True(t, account.Active)

	txns, err := f.db.Storage.ListAccountTransactions(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	// New account is cash, so the sign flips.
	assert.InDelta(t, -25.00, txns[0].Amount, 0.001)
}

func TestTransactions_CreditCardSign(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	item := db.CreateItem(ctx, model.Item{ExternalID: "item-1"})
	card := db.CreateAccount(ctx, model.Account{
		ItemID:     &item.ID,
		ExternalID: testutil.StringPtr("acc-card"),
		Name:       "Visa",
		Type:       model.AccountTypeLiabilities,
		Subtype:    model.AccountSubtypeCreditCards,
		Active:     true,
	})

	d := delta()
	charge := record("txn-1", 31.00, "")
	charge.ExternalAccountID = "acc-card"
	d.Added = []plaid.TransactionRecord{charge}

	categories := db.CategorySet(ctx)
	inTx(t, db, func(tx service.Tx) error {
		_, err := Transactions(ctx, slog.Default(), tx, item, d, categories)
		return err
	})

	txns, err := db.Storage.ListAccountTransactions(ctx, card.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.InDelta(t, -31.00, txns[0].Amount, 0.001)
}
