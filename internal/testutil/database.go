// Package testutil provides shared helpers for tests that need a real
// migrated database.
package testutil

import (
	"context"
	"testing"

	"github.com/tincanhq/tincan/internal/mapping"
	"github.com/tincanhq/tincan/internal/model"
	"github.com/tincanhq/tincan/internal/service"
	"github.com/tincanhq/tincan/internal/storage"
)

// TestDB wraps an in-memory migrated database with lookup helpers for the
// seeded category set.
type TestDB struct {
	Storage       service.Storage
	t             *testing.T
	categories    map[string]model.Category
	subcategories map[string]model.Subcategory
}

// SetupTestDB creates a new in-memory database, runs all migrations, and
// registers cleanup. The seed migration provides the full category set
// including the Uncategorized pair.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	db := &TestDB{
		Storage:       store,
		t:             t,
		categories:    make(map[string]model.Category),
		subcategories: make(map[string]model.Subcategory),
	}
	db.loadCategories(ctx)
	return db
}

func (db *TestDB) loadCategories(ctx context.Context) {
	db.t.Helper()

	cats, err := db.Storage.GetCategories(ctx)
	if err != nil {
		db.t.Fatalf("failed to load categories: %v", err)
	}
	byID := make(map[int64]string, len(cats))
	for _, cat := range cats {
		db.categories[cat.Name] = cat
		byID[cat.ID] = cat.Name
	}

	subs, err := db.Storage.GetSubcategories(ctx)
	if err != nil {
		db.t.Fatalf("failed to load subcategories: %v", err)
	}
	for _, sub := range subs {
		db.subcategories[byID[sub.CategoryID]+"-"+sub.Name] = sub
	}
}

// Category returns the seeded category with the given name.
func (db *TestDB) Category(name string) model.Category {
	db.t.Helper()
	cat, ok := db.categories[name]
	if !ok {
		db.t.Fatalf("category %q not seeded", name)
	}
	return cat
}

// Subcategory returns the seeded subcategory under the given category.
func (db *TestDB) Subcategory(category, name string) model.Subcategory {
	db.t.Helper()
	sub, ok := db.subcategories[category+"-"+name]
	if !ok {
		db.t.Fatalf("subcategory %q/%q not seeded", category, name)
	}
	return sub
}

// CategorySet builds a mapping.CategorySet over the seeded categories.
func (db *TestDB) CategorySet(ctx context.Context) *mapping.CategorySet {
	db.t.Helper()

	cats, err := db.Storage.GetCategories(ctx)
	if err != nil {
		db.t.Fatalf("failed to load categories: %v", err)
	}
	subs, err := db.Storage.GetSubcategories(ctx)
	if err != nil {
		db.t.Fatalf("failed to load subcategories: %v", err)
	}
	set, err := mapping.NewCategorySet(cats, subs)
	if err != nil {
		db.t.Fatalf("failed to build category set: %v", err)
	}
	return set
}

// CreateItem stores an item with sensible defaults for fields the test does
// not care about.
func (db *TestDB) CreateItem(ctx context.Context, item model.Item) *model.Item {
	db.t.Helper()

	if item.UserID == 0 {
		item.UserID = 1
	}
	if item.AccessToken == "" {
		item.AccessToken = "access-test-token"
	}
	if item.ExternalID == "" {
		item.ExternalID = "item-test"
	}

	created, err := db.Storage.CreateItem(ctx, &item)
	if err != nil {
		db.t.Fatalf("failed to create test item: %v", err)
	}
	return created
}

// CreateAccount stores an account with sensible defaults.
func (db *TestDB) CreateAccount(ctx context.Context, account model.Account) *model.Account {
	db.t.Helper()

	if account.UserID == 0 {
		account.UserID = 1
	}
	if account.Name == "" {
		account.Name = "Test Account"
	}

	created, err := db.Storage.CreateAccount(ctx, &account)
	if err != nil {
		db.t.Fatalf("failed to create test account: %v", err)
	}
	return created
}

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns a pointer to the given int64.
func Int64Ptr(i int64) *int64 {
	return &i
}
