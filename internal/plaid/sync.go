package plaid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/plaid/plaid-go/v41/plaid"

	"github.com/tincanhq/tincan/internal/common"
)

const (
	// maxSyncRetries bounds how many times one drain restarts after upstream
	// data mutates between pages. Exhaustion is terminal for the item.
	maxSyncRetries = 3

	syncPageSize = int32(500) // Plaid's max page size
)

// syncPage is one page of the transactions change stream.
type syncPage struct {
	nextCursor string
	added      []TransactionRecord
	modified   []TransactionRecord
	removed    []RemovedRecord
	accounts   []AccountSnapshot
	hasMore    bool
}

type pageFetchFunc func(ctx context.Context, cursor string) (*syncPage, error)

// SyncTransactions drains the transactions change stream from the given
// cursor until the aggregator reports no more pages, and returns the
// accumulated delta. The original cursor is retained: if the aggregator
// reports a mutation during pagination, everything accumulated is discarded
// and the drain restarts from it, up to maxSyncRetries times. A rate-limit
// error surfaces as common.ErrPlaidRateLimit so the orchestrator can halt
// the batch.
func (c *Client) SyncTransactions(ctx context.Context, accessToken, cursor string) (*TransactionDelta, error) {
	return drainTransactions(ctx, c.logger, func(ctx context.Context, cursor string) (*syncPage, error) {
		return c.fetchTransactionsPage(ctx, accessToken, cursor)
	}, cursor)
}

func drainTransactions(ctx context.Context, logger *slog.Logger, fetch pageFetchFunc, originalCursor string) (*TransactionDelta, error) {
	for attempt := 0; ; attempt++ {
		delta, err := drainOnce(ctx, fetch, originalCursor)
		if err == nil {
			return delta, nil
		}

		if errors.Is(err, errNoAccounts) {
			// Nothing to sync yet. Leave the cursor where it was.
			logger.Info("Item has no accounts, skipping transaction sync")
			return &TransactionDelta{
				Accounts:   map[string]AccountSnapshot{},
				NextCursor: originalCursor,
			}, nil
		}

		if errors.Is(err, errMutationDuringPagination) {
			if attempt < maxSyncRetries {
				logger.Warn("Transactions mutated during pagination, restarting drain",
					"attempt", attempt+1,
					"max_retries", maxSyncRetries)
				continue
			}
			return nil, fmt.Errorf("%w: mutation during pagination persisted after %d retries",
				common.ErrTransactionSync, maxSyncRetries)
		}

		return nil, err
	}
}

// drainOnce follows hasMore/cursor pages until exhausted. Any page error
// aborts the whole pass; nothing partial is returned.
func drainOnce(ctx context.Context, fetch pageFetchFunc, cursor string) (*TransactionDelta, error) {
	delta := &TransactionDelta{Accounts: map[string]AccountSnapshot{}}

	hasMore := true
	for hasMore {
		page, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}

		cursor = page.nextCursor
		delta.Added = append(delta.Added, page.added...)
		delta.Modified = append(delta.Modified, page.modified...)
		delta.Removed = append(delta.Removed, page.removed...)
		for _, acc := range page.accounts {
			delta.Accounts[acc.ExternalID] = acc
		}
		hasMore = page.hasMore
	}

	delta.NextCursor = cursor
	return delta, nil
}

func (c *Client) fetchTransactionsPage(ctx context.Context, accessToken, cursor string) (*syncPage, error) {
	request := plaid.NewTransactionsSyncRequest(accessToken)
	request.SetCount(syncPageSize)
	if cursor != "" {
		request.SetCursor(cursor)
	}

	resp, _, err := c.client.PlaidApi.TransactionsSync(ctx).TransactionsSyncRequest(*request).Execute()
	if err != nil {
		return nil, c.classifyError("transactions sync", err)
	}

	added := resp.GetAdded()
	modified := resp.GetModified()
	removed := resp.GetRemoved()
	accounts := resp.GetAccounts()

	page := &syncPage{
		nextCursor: resp.GetNextCursor(),
		hasMore:    resp.GetHasMore(),
		added:      make([]TransactionRecord, 0, len(added)),
		modified:   make([]TransactionRecord, 0, len(modified)),
		removed:    make([]RemovedRecord, 0, len(removed)),
		accounts:   make([]AccountSnapshot, 0, len(accounts)),
	}
	for i := range added {
		page.added = append(page.added, c.mapTransaction(&added[i]))
	}
	for i := range modified {
		page.modified = append(page.modified, c.mapTransaction(&modified[i]))
	}
	for i := range removed {
		page.removed = append(page.removed, RemovedRecord{
			ExternalID:        removed[i].GetTransactionId(),
			ExternalAccountID: removed[i].GetAccountId(),
		})
	}
	for i := range accounts {
		page.accounts = append(page.accounts, mapAccount(&accounts[i]))
	}

	c.logger.Debug("Fetched transactions page",
		"added", len(page.added),
		"modified", len(page.modified),
		"removed", len(page.removed),
		"has_more", page.hasMore)

	return page, nil
}
