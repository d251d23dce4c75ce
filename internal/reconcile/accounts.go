// Package reconcile applies aggregator snapshots and change streams to local
// storage. Reconcilers are pure functions over a service.Tx so the caller
// controls the unit of work.
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

// AccountResult summarizes one account reconciliation.
type AccountResult struct {
	Created     int
	Updated     int
	Skipped     int
	Deactivated int64
}

// Accounts reconciles the item's local accounts against a freshly fetched
// snapshot: update known accounts, create unknown ones, and deactivate
// accounts absent from the snapshot. Unmapped account types and cross-item
// identifier collisions skip the single record without aborting the item.
func Accounts(ctx context.Context, logger *slog.Logger, tx service.Tx, item *model.Item, snapshot *plaid.AccountsSnapshot) (*AccountResult, error) {
	if item == nil {
		return nil, fmt.Errorf("item cannot be nil")
	}
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot cannot be nil")
	}
	if snapshot.ExternalItemID != item.ExternalID {
		return nil, fmt.Errorf("%w: snapshot is for item %q, claimed item is %q",
			common.ErrDataConsistency, snapshot.ExternalItemID, item.ExternalID)
	}

	result := &AccountResult{}
	present := make([]string, 0, len(snapshot.Accounts))

	for _, snap := range snapshot.Accounts {
		present = append(present, snap.ExternalID)

		existing, err := tx.GetItemAccount(ctx, item.ID, snap.ExternalID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := tx.UpdateAccountSnapshot(ctx, existing.ID, snap.Name, snap.Balance, item.InstitutionName); err != nil {
				return nil, err
			}
			result.Updated++
			continue
		}

		created, err := createAccount(ctx, logger, tx, item, snap)
		if err != nil {
			return nil, err
		}
		if created != nil {
			result.Created++
		} else {
			result.Skipped++
		}
	}

	deactivated, err := tx.DeactivateMissingAccounts(ctx, item.ID, present)
	if err != nil {
		return nil, err
	}
	result.Deactivated = deactivated

	if deactivated > 0 {
		logger.Info("Deactivated accounts missing from snapshot",
			"item_id", item.ID,
			"deactivated", deactivated)
	}
	return result, nil
}

// createAccount creates one account from a snapshot record and returns the
// stored row. A nil account means the record was skipped: an unmapped account
// type or an external ID already claimed by a different item. An external ID
// already held under the same item resolves to the existing row.
func createAccount(ctx context.Context, logger *slog.Logger, tx service.Tx, item *model.Item, snap plaid.AccountSnapshot) (*model.Account, error) {
	other, err := tx.GetAccountByExternalID(ctx, snap.ExternalID)
	if err != nil {
		return nil, err
	}
	if other != nil {
		if other.ItemID != nil && *other.ItemID == item.ID {
			logger.Info("Account already exists, using existing row",
				"external_account_id", snap.ExternalID,
				"item_id", item.ID)
			return other, nil
		}
		// Never reparent an account between items.
		logger.Error("Account external ID already belongs to another item",
			"external_account_id", snap.ExternalID,
			"item_id", item.ID,
			"owning_item_id", other.ItemID,
			"error", common.ErrDataConsistency)
		return nil, nil
	}

	accountType, err := mapping.MapAccountType(snap.Type)
	if err != nil {
		logger.Warn("Skipping account with unmapped type",
			"external_account_id", snap.ExternalID,
			"item_id", item.ID,
			"account_type", snap.Type,
			"error", err)
		return nil, nil
	}

	itemID := item.ID
	externalID := snap.ExternalID
	account := &model.Account{
		ItemID:          &itemID,
		UserID:          item.UserID,
		ExternalID:      &externalID,
		Name:            snap.Name,
		InstitutionName: item.InstitutionName,
		Type:            accountType.Type,
		Subtype:         accountType.Subtype,
		Balance:         snap.Balance,
		Active:          true,
	}

	stored, err := tx.CreateAccount(ctx, account)
	if err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			// A concurrent writer got there first. Resolve to whatever row
			// holds the external ID now.
			existing, lookupErr := tx.GetItemAccount(ctx, item.ID, snap.ExternalID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing == nil {
				logger.Error("Account external ID already belongs to another item",
					"external_account_id", snap.ExternalID,
					"item_id", item.ID,
					"error", common.ErrDataConsistency)
				return nil, nil
			}
			logger.Info("Account already exists, using existing row",
				"external_account_id", snap.ExternalID,
				"item_id", item.ID)
			return existing, nil
		}
		return nil, err
	}
	return stored, nil
}
