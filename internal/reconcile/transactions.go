package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tincanhq/tincan/internal/common"
	"github.com/tincanhq/tincan/internal/mapping"
	"github.com/tincanhq/tincan/internal/model"
	"github.com/tincanhq/tincan/internal/plaid"
	"github.com/tincanhq/tincan/internal/service"
)

// TransactionResult summarizes one transaction reconciliation.
type TransactionResult struct {
	Added           int
	AddedSkipped    int
	Modified        int
	ModifiedSkipped int
	Removed         int
}

// Transactions applies a fully drained change set to local storage. Added
// runs first, then modified, then removed, so an add-then-remove within one
// window nets out. Each record resolves its owning account through the
// account's external ID under the item; a skipped record never aborts the
// item.
func Transactions(ctx context.Context, logger *slog.Logger, tx service.Tx, item *model.Item, delta *plaid.TransactionDelta, categories *mapping.CategorySet) (*TransactionResult, error) {
	if item == nil {
		return nil, fmt.Errorf("item cannot be nil")
	}
	if delta == nil {
		return nil, fmt.Errorf("delta cannot be nil")
	}
	if categories == nil {
		return nil, fmt.Errorf("categories cannot be nil")
	}

	r := &reconciler{
		logger:     logger,
		tx:         tx,
		item:       item,
		delta:      delta,
		categories: categories,
		accounts:   make(map[string]*model.Account),
	}

	result := &TransactionResult{}
	if err := r.applyAdded(ctx, result); err != nil {
		return nil, err
	}
	if err := r.applyModified(ctx, result); err != nil {
		return nil, err
	}
	if err := r.applyRemoved(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// reconciler carries the per-call account cache across the three passes.
type reconciler struct {
	logger     *slog.Logger
	tx         service.Tx
	item       *model.Item
	delta      *plaid.TransactionDelta
	categories *mapping.CategorySet
	accounts   map[string]*model.Account
}

func (r *reconciler) applyAdded(ctx context.Context, result *TransactionResult) error {
	for _, rec := range r.delta.Added {
		account, err := r.resolveAccount(ctx, rec.ExternalAccountID, true)
		if err != nil {
			return err
		}
		if account == nil {
			r.logger.Warn("Skipping added transaction for unknown account",
				"item_id", r.item.ID,
				"external_account_id", rec.ExternalAccountID,
				"external_transaction_id", rec.ExternalID)
			result.AddedSkipped++
			continue
		}

		categoryID, subcategoryID := r.categories.Map(rec.Category)
		externalID := rec.ExternalID
		txn := &model.Transaction{
			AccountID:     account.ID,
			ExternalID:    &externalID,
			Date:          rec.Date,
			Amount:        mapping.NormalizeAmount(account.Subtype, rec.Amount),
			Description:   rec.Description,
			Pending:       rec.Pending,
			CategoryID:    categoryID,
			SubcategoryID: subcategoryID,
		}

		if _, err := r.tx.CreateTransaction(ctx, txn); err != nil {
			if errors.Is(err, common.ErrDuplicateEntry) {
				// Already ingested by a previous, possibly interrupted run.
				r.logger.Info("Skipping already ingested transaction",
					"item_id", r.item.ID,
					"external_transaction_id", rec.ExternalID)
				result.AddedSkipped++
				continue
			}
			return err
		}
		result.Added++
	}
	return nil
}

func (r *reconciler) applyModified(ctx context.Context, result *TransactionResult) error {
	for _, rec := range r.delta.Modified {
		account, err := r.resolveAccount(ctx, rec.ExternalAccountID, false)
		if err != nil {
			return err
		}
		if account == nil {
			r.logger.Warn("Skipping modified transaction for unknown account",
				"item_id", r.item.ID,
				"external_account_id", rec.ExternalAccountID,
				"external_transaction_id", rec.ExternalID)
			result.ModifiedSkipped++
			continue
		}

		existing, err := r.tx.GetTransactionByExternalID(ctx, account.ID, rec.ExternalID)
		if err != nil {
			return err
		}
		if existing == nil {
			// Modifications never create.
			r.logger.Warn("Skipping modification of unknown transaction",
				"item_id", r.item.ID,
				"external_transaction_id", rec.ExternalID)
			result.ModifiedSkipped++
			continue
		}

		categoryID, subcategoryID := r.categories.Map(rec.Category)
		existing.Date = rec.Date
		existing.Amount = mapping.NormalizeAmount(account.Subtype, rec.Amount)
		existing.Description = rec.Description
		existing.Pending = rec.Pending
		existing.CategoryID = categoryID
		existing.SubcategoryID = subcategoryID

		if err := r.tx.UpdateTransaction(ctx, existing); err != nil {
			return err
		}
		result.Modified++
	}
	return nil
}

func (r *reconciler) applyRemoved(ctx context.Context, result *TransactionResult) error {
	byAccount := make(map[string][]string)
	for _, rec := range r.delta.Removed {
		byAccount[rec.ExternalAccountID] = append(byAccount[rec.ExternalAccountID], rec.ExternalID)
	}

	for externalAccountID, requested := range byAccount {
		account, err := r.resolveAccount(ctx, externalAccountID, false)
		if err != nil {
			return err
		}
		if account == nil {
			r.logger.Warn("Skipping removals for unknown account",
				"item_id", r.item.ID,
				"external_account_id", externalAccountID,
				"requested", requested)
			continue
		}

		deleted, err := r.tx.DeleteTransactionsByExternalIDs(ctx, account.ID, requested)
		if err != nil {
			return err
		}

		// The requested and actually-deleted sets can legitimately differ.
		r.logger.Info("Removed transactions",
			"item_id", r.item.ID,
			"account_id", account.ID,
			"requested", requested,
			"deleted", deleted)
		result.Removed += len(deleted)
	}
	return nil
}

// resolveAccount finds the item's account for an external account ID, using
// the per-call cache. When createMissing is set and the change set carried
// the account's data, the account is created inline before returning it.
func (r *reconciler) resolveAccount(ctx context.Context, externalAccountID string, createMissing bool) (*model.Account, error) {
	if account, ok := r.accounts[externalAccountID]; ok {
		return account, nil
	}

	account, err := r.tx.GetItemAccount(ctx, r.item.ID, externalAccountID)
	if err != nil {
		return nil, err
	}
	if account == nil && createMissing {
		snap, ok := r.delta.Accounts[externalAccountID]
		if ok {
			account, err = createAccount(ctx, r.logger, r.tx, r.item, snap)
			if err != nil {
				return nil, err
			}
			if account != nil {
				r.logger.Info("Created account discovered in change stream",
					"item_id", r.item.ID,
					"external_account_id", externalAccountID)
			}
		}
	}

	// Negative results are cached too so one unknown account logs a skip per
	// record but queries once.
	r.accounts[externalAccountID] = account
	return account, nil
}
