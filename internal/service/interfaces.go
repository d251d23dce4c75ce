// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/tincanhq/tincan/internal/model"
)

// Store is the operation set available both on the persistence layer and
// inside one of its transactions. Lookups by external identifier return
// (nil, nil) when no row matches.
type Store interface {
	// Item operations
	CreateItem(ctx context.Context, item *model.Item) (*model.Item, error)
	GetItemByExternalID(ctx context.Context, externalID string) (*model.Item, error)
	GetItemsByExternalIDs(ctx context.Context, externalIDs []string) ([]model.Item, error)
	ListItems(ctx context.Context) ([]model.Item, error)
	ListItemsForAccountSync(ctx context.Context, olderThan time.Time) ([]model.Item, error)
	ListItemsForTransactionSync(ctx context.Context, olderThan time.Time) ([]model.Item, error)
	UpdateItemDetails(ctx context.Context, item *model.Item) error
	UpdateItemCursor(ctx context.Context, itemID int64, cursor string) error
	MarkAccountsSynced(ctx context.Context, itemID int64, at time.Time) error
	MarkTransactionsSynced(ctx context.Context, itemID int64, at time.Time) error
	DeleteItem(ctx context.Context, itemID int64) error

	// Account operations
	CreateAccount(ctx context.Context, account *model.Account) (*model.Account, error)
	GetAccountByExternalID(ctx context.Context, externalID string) (*model.Account, error)
	GetItemAccount(ctx context.Context, itemID int64, externalID string) (*model.Account, error)
	ListItemAccounts(ctx context.Context, itemID int64) ([]model.Account, error)
	UpdateAccountSnapshot(ctx context.Context, accountID int64, name string, balance float64, institutionName string) error
	SetAccountsInstitutionName(ctx context.Context, itemID int64, institutionName string) error
	DeactivateMissingAccounts(ctx context.Context, itemID int64, presentExternalIDs []string) (int64, error)

	// Transaction operations
	CreateTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetTransactionByExternalID(ctx context.Context, accountID int64, externalID string) (*model.Transaction, error)
	UpdateTransaction(ctx context.Context, txn *model.Transaction) error
	DeleteTransactionsByExternalIDs(ctx context.Context, accountID int64, externalIDs []string) ([]string, error)
	ListAccountTransactions(ctx context.Context, accountID int64) ([]model.Transaction, error)

	// Category operations
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetSubcategories(ctx context.Context) ([]model.Subcategory, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	Store

	// ClaimItem takes a non-blocking timed lease on an item so concurrent
	// batch runs never reconcile the same item twice at once. It reports
	// false, without waiting, when another worker holds the lease.
	ClaimItem(ctx context.Context, itemID int64, ttl time.Duration) (bool, error)
	// ReleaseItem drops the lease. Unreleased leases expire on their own.
	ReleaseItem(ctx context.Context, itemID int64) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx represents a database transaction: one atomic unit of work.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}
