package plaid

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/plaid/plaid-go/v41/plaid"

	"github.com/tincanhq/tincan/internal/common"
)

// Plaid error codes the engine special-cases. Everything else propagates as a
// generic API error after being logged.
const (
	codeRateLimit    = "RATE_LIMIT_EXCEEDED"
	codeMutation     = "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION"
	codeItemNotFound = "ITEM_NOT_FOUND"
	codeNoAccounts   = "NO_ACCOUNTS"
)

var (
	// errMutationDuringPagination means upstream data changed between pages of
	// one drain. The drain restarts from its original cursor.
	errMutationDuringPagination = errors.New("transactions mutated during pagination")
	// errNoAccounts means the item has no accounts yet. Treated as a soft
	// no-op by the sync, not a failure.
	errNoAccounts = errors.New("item has no accounts")
)

// extractPlaidError attempts to extract a Plaid error from a generic error.
func extractPlaidError(err error) *plaid.PlaidError {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return nil
	}
	return &plaidErr
}

// classifyError logs a Plaid API error with enough detail for a post-mortem
// and maps the codes the engine cares about onto distinguished errors.
func (c *Client) classifyError(op string, err error) error {
	plaidErr := extractPlaidError(err)
	if plaidErr == nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.logger.Error("Plaid API error",
		"operation", op,
		"error_type", string(plaidErr.ErrorType),
		"error_code", plaidErr.ErrorCode,
		"error_message", plaidErr.ErrorMessage,
		"request_id", plaidErr.RequestId)

	switch {
	case plaidErr.ErrorCode == codeRateLimit || string(plaidErr.ErrorType) == codeRateLimit:
		return fmt.Errorf("%s: %w", op, common.ErrPlaidRateLimit)
	case plaidErr.ErrorCode == codeMutation:
		return fmt.Errorf("%s: %w", op, errMutationDuringPagination)
	case plaidErr.ErrorCode == codeNoAccounts:
		return fmt.Errorf("%s: %w", op, errNoAccounts)
	case plaidErr.ErrorCode == codeItemNotFound:
		return fmt.Errorf("%s: %w", op, common.ErrItemNotFound)
	}

	return fmt.Errorf("%s: plaid API error: %s - %s", op, plaidErr.ErrorCode, plaidErr.ErrorMessage)
}

// retryClassify wraps classifyError for use inside common.WithRetry: Plaid
// API errors are final, transport errors are worth another attempt.
func (c *Client) retryClassify(op string, err error) error {
	if extractPlaidError(err) != nil {
		return &common.RetryableError{Err: c.classifyError(op, err), Retryable: false}
	}
	slog.Debug("Transient aggregator transport error", "operation", op, "error", err)
	return &common.RetryableError{Err: fmt.Errorf("%s: %w", op, err), Retryable: true}
}
