// Package engine orchestrates sync batches: candidate selection, exclusive
// per-item claiming, reconciliation inside one unit of work per item, and the
// rate-limit circuit breaker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tincanhq/tincan/internal/common"
	"github.com/tincanhq/tincan/internal/mapping"
	"github.com/tincanhq/tincan/internal/model"
	"github.com/tincanhq/tincan/internal/plaid"
	"github.com/tincanhq/tincan/internal/reconcile"
	"github.com/tincanhq/tincan/internal/service"
)

const (
	// Staleness windows for candidate selection.
	accountStaleness     = 24 * time.Hour
	transactionStaleness = 12 * time.Hour

	// How long an item claim survives a crashed worker.
	defaultClaimTTL = 10 * time.Minute
)

// ProgressFunc is called after each candidate is handled, claimed or not.
type ProgressFunc func(done, total int)

// Engine drives sync batches against storage and the aggregator.
type Engine struct {
	storage    service.Storage
	aggregator plaid.Aggregator
	logger     *slog.Logger
	progress   ProgressFunc
	claimTTL   time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithProgress registers a per-item progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// WithClaimTTL overrides how long an item claim lasts before self-expiring.
func WithClaimTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.claimTTL = ttl
	}
}

// New creates a sync engine.
func New(storage service.Storage, aggregator plaid.Aggregator, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("aggregator cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		storage:    storage,
		aggregator: aggregator,
		logger:     logger.With("component", "engine"),
		claimTTL:   defaultClaimTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// BatchResult summarizes one batch invocation.
type BatchResult struct {
	BatchID string
	Total   int
	Synced  int
	Skipped int
	Failed  int
	Halted  bool
}

// SyncAccounts reconciles account snapshots for the given items, or for every
// item whose accounts are stale when externalIDs is empty. A rate-limit error
// halts the batch; already committed items keep their progress.
func (e *Engine) SyncAccounts(ctx context.Context, externalIDs []string) (*BatchResult, error) {
	batchID := uuid.NewString()
	logger := e.logger.With("batch_id", batchID, "batch", "accounts")

	items, err := e.accountCandidates(ctx, externalIDs)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{BatchID: batchID, Total: len(items)}
	logger.Info("Starting accounts sync", "candidates", len(items))

	for i := range items {
		item := &items[i]
		err := e.withClaim(ctx, logger, item, result, func() error {
			return e.syncItemAccounts(ctx, logger, item)
		})
		e.reportProgress(i+1, len(items))
		if err != nil {
			if errors.Is(err, common.ErrPlaidRateLimit) {
				result.Halted = true
				logger.Error("Rate limit hit, halting batch",
					"item_id", item.ID, "remaining", len(items)-i-1)
				return result, err
			}
			result.Failed++
			logger.Error("Accounts sync failed for item",
				"item_id", item.ID, "error", err)
			continue
		}
	}

	logger.Info("Accounts sync complete",
		"synced", result.Synced, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// SyncTransactions drains and reconciles transaction change sets for the
// given items, or for every stale item with a completed accounts sync when
// externalIDs is empty.
func (e *Engine) SyncTransactions(ctx context.Context, externalIDs []string) (*BatchResult, error) {
	batchID := uuid.NewString()
	logger := e.logger.With("batch_id", batchID, "batch", "transactions")

	// One category set per batch, read-only afterward.
	categories, err := e.loadCategorySet(ctx)
	if err != nil {
		return nil, err
	}

	items, err := e.transactionCandidates(ctx, externalIDs)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{BatchID: batchID, Total: len(items)}
	logger.Info("Starting transactions sync", "candidates", len(items))

	for i := range items {
		item := &items[i]
		if !item.HasSyncedAccounts() {
			logger.Warn("Skipping item without a completed accounts sync",
				"item_id", item.ID)
			result.Skipped++
			e.reportProgress(i+1, len(items))
			continue
		}

		err := e.withClaim(ctx, logger, item, result, func() error {
			return e.syncItemTransactions(ctx, logger, item, categories)
		})
		e.reportProgress(i+1, len(items))
		if err != nil {
			if errors.Is(err, common.ErrPlaidRateLimit) {
				result.Halted = true
				logger.Error("Rate limit hit, halting batch",
					"item_id", item.ID, "remaining", len(items)-i-1)
				return result, err
			}
			result.Failed++
			logger.Error("Transactions sync failed for item",
				"item_id", item.ID, "error", err)
			continue
		}
	}

	logger.Info("Transactions sync complete",
		"synced", result.Synced, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// withClaim runs fn under the item's lease. An already-claimed item is
// skipped, never waited on.
func (e *Engine) withClaim(ctx context.Context, logger *slog.Logger, item *model.Item, result *BatchResult, fn func() error) error {
	claimed, err := e.storage.ClaimItem(ctx, item.ID, e.claimTTL)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Info("Item claimed by another worker, skipping", "item_id", item.ID)
		result.Skipped++
		return nil
	}
	defer func() {
		if releaseErr := e.storage.ReleaseItem(ctx, item.ID); releaseErr != nil {
			logger.Warn("Failed to release item claim",
				"item_id", item.ID, "error", releaseErr)
		}
	}()

	if err := fn(); err != nil {
		return err
	}
	result.Synced++
	return nil
}

// syncItemAccounts fetches the item's account snapshot and reconciles it
// inside one unit of work. The network call happens before the transaction
// begins.
func (e *Engine) syncItemAccounts(ctx context.Context, logger *slog.Logger, item *model.Item) error {
	snapshot, err := e.aggregator.GetAccounts(ctx, item.AccessToken)
	if err != nil {
		return err
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := reconcile.Accounts(ctx, logger, tx, item, snapshot)
	if err != nil {
		return err
	}
	if err := tx.MarkAccountsSynced(ctx, item.ID, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit accounts sync: %w", err)
	}

	logger.Info("Reconciled accounts",
		"item_id", item.ID,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"deactivated", result.Deactivated)
	return nil
}

// syncItemTransactions drains the change stream from the item's stored cursor
// and applies it with the cursor update in one unit of work. The drain
// retries mutations internally, so nothing partial ever reaches storage.
func (e *Engine) syncItemTransactions(ctx context.Context, logger *slog.Logger, item *model.Item, categories *mapping.CategorySet) error {
	delta, err := e.aggregator.SyncTransactions(ctx, item.AccessToken, item.TransactionCursor)
	if err != nil {
		return err
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := reconcile.Transactions(ctx, logger, tx, item, delta, categories)
	if err != nil {
		return err
	}
	if delta.NextCursor != item.TransactionCursor {
		if err := tx.UpdateItemCursor(ctx, item.ID, delta.NextCursor); err != nil {
			return err
		}
	}
	if err := tx.MarkTransactionsSynced(ctx, item.ID, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transactions sync: %w", err)
	}

	logger.Info("Reconciled transactions",
		"item_id", item.ID,
		"added", result.Added,
		"added_skipped", result.AddedSkipped,
		"modified", result.Modified,
		"modified_skipped", result.ModifiedSkipped,
		"removed", result.Removed,
		"cursor", delta.NextCursor)
	return nil
}

func (e *Engine) accountCandidates(ctx context.Context, externalIDs []string) ([]model.Item, error) {
	if len(externalIDs) > 0 {
		return e.storage.GetItemsByExternalIDs(ctx, externalIDs)
	}
	return e.storage.ListItemsForAccountSync(ctx, time.Now().UTC().Add(-accountStaleness))
}

func (e *Engine) transactionCandidates(ctx context.Context, externalIDs []string) ([]model.Item, error) {
	if len(externalIDs) > 0 {
		return e.storage.GetItemsByExternalIDs(ctx, externalIDs)
	}
	return e.storage.ListItemsForTransactionSync(ctx, time.Now().UTC().Add(-transactionStaleness))
}

func (e *Engine) loadCategorySet(ctx context.Context) (*mapping.CategorySet, error) {
	cats, err := e.storage.GetCategories(ctx)
	if err != nil {
		return nil, err
	}
	subs, err := e.storage.GetSubcategories(ctx)
	if err != nil {
		return nil, err
	}
	return mapping.NewCategorySet(cats, subs)
}

func (e *Engine) reportProgress(done, total int) {
	if e.progress != nil {
		e.progress(done, total)
	}
}

// CreateLinkToken issues a link token for the given user. Aggregator failures
// surface as a generic invalid-request error at this boundary.
func (e *Engine) CreateLinkToken(ctx context.Context, userID int64) (string, error) {
	token, err := e.aggregator.CreateLinkToken(ctx, strconv.FormatInt(userID, 10))
	if err != nil {
		e.logger.Error("Link token creation failed", "user_id", userID, "error", err)
		return "", common.NewUserError("invalid request", err)
	}
	return token, nil
}

// LinkItem exchanges a one-time public token for an access token, stores the
// new item, and enriches it with institution and product details. Enrichment
// failures log and leave the item linked; the next sync can fill them in.
func (e *Engine) LinkItem(ctx context.Context, userID int64, publicToken string) (*model.Item, error) {
	exchange, err := e.aggregator.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		e.logger.Error("Public token exchange failed", "user_id", userID, "error", err)
		return nil, common.NewUserError("invalid request", err)
	}

	item, err := e.storage.CreateItem(ctx, &model.Item{
		UserID:      userID,
		AccessToken: exchange.AccessToken,
		ExternalID:  exchange.ExternalItemID,
	})
	if err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			return nil, common.NewUserError("invalid request", err)
		}
		return nil, err
	}

	if enriched, enrichErr := e.enrichItem(ctx, item); enrichErr != nil {
		e.logger.Warn("Item linked but details enrichment failed",
			"item_id", item.ID, "error", enrichErr)
	} else {
		item = enriched
	}

	e.logger.Info("Linked item",
		"item_id", item.ID,
		"external_item_id", item.ExternalID,
		"institution", item.InstitutionName)
	return item, nil
}

// enrichItem pulls institution and product details for a linked item and
// pushes the institution name down to any accounts the item already has.
func (e *Engine) enrichItem(ctx context.Context, item *model.Item) (*model.Item, error) {
	details, err := e.aggregator.GetItem(ctx, item.AccessToken)
	if err != nil {
		return nil, err
	}

	item.InstitutionID = details.InstitutionID
	item.BilledProducts = details.BilledProducts
	item.Products = details.Products
	item.ConsentedScopes = details.ConsentedScopes

	if details.InstitutionID != "" {
		name, nameErr := e.aggregator.GetInstitutionName(ctx, details.InstitutionID)
		if nameErr != nil {
			return nil, nameErr
		}
		item.InstitutionName = name
	}

	if err := e.storage.UpdateItemDetails(ctx, item); err != nil {
		return nil, err
	}
	if item.InstitutionName != "" {
		if err := e.storage.SetAccountsInstitutionName(ctx, item.ID, item.InstitutionName); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// RemoveItem revokes the item at the aggregator, then deletes it locally.
// An item the aggregator no longer knows counts as revoked.
func (e *Engine) RemoveItem(ctx context.Context, externalID string) error {
	item, err := e.storage.GetItemByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%w: item %q", common.ErrNotFound, externalID)
	}

	if err := e.aggregator.RemoveItem(ctx, item.AccessToken); err != nil {
		return fmt.Errorf("failed to revoke item at aggregator: %w", err)
	}

	if err := e.storage.DeleteItem(ctx, item.ID); err != nil {
		return err
	}

	e.logger.Info("Removed item",
		"item_id", item.ID, "external_item_id", externalID)
	return nil
}

// ListItems returns every linked item.
func (e *Engine) ListItems(ctx context.Context) ([]model.Item, error) {
	return e.storage.ListItems(ctx)
}
