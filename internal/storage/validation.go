package storage

import (
	"context"
	"fmt"
)

// validateContext ensures the context is usable before hitting the database.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return nil
}

// validateString ensures a required string parameter is present.
func validateString(value, name string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	return nil
}

// validateID ensures a row identifier is positive.
func validateID(id int64, name string) error {
	if id <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, id)
	}
	return nil
}
