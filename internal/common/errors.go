// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Aggregator errors. ErrPlaidRateLimit is the shared-quota signal that
	// halts a whole sync batch; ErrTransactionSync is terminal for one item
	// after the mutation-during-pagination retries are exhausted.
	ErrPlaidRateLimit  = errors.New("plaid rate limit exceeded")
	ErrTransactionSync = errors.New("failed to sync transactions")
	ErrItemNotFound    = errors.New("item not found at aggregator")

	// Reconciliation errors.
	ErrDataConsistency    = errors.New("data consistency fault")
	ErrUnknownAccountType = errors.New("unknown account type")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user. The wrapped
// error stays out of the user-facing message so aggregator internals never
// leak through the boundary.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
