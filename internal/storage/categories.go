package storage

import (
	"context"
	"fmt"

	"github.com/tincanhq/tincan/internal/model"
)

// GetCategories returns every category ordered by name.
func (s *SQLiteStorage) GetCategories(ctx context.Context) ([]model.Category, error) {
	return getCategories(ctx, s.db)
}

func (t *sqliteTx) GetCategories(ctx context.Context) ([]model.Category, error) {
	return getCategories(ctx, t.tx)
}

func getCategories(ctx context.Context, q querier) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, name, category_type, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		var cat model.Category
		var catType string
		if scanErr := rows.Scan(&cat.ID, &cat.Name, &catType, &cat.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan category: %w", scanErr)
		}
		cat.Type = model.CategoryType(catType)
		categories = append(categories, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return categories, nil
}

// GetSubcategories returns every subcategory ordered by category then name.
func (s *SQLiteStorage) GetSubcategories(ctx context.Context) ([]model.Subcategory, error) {
	return getSubcategories(ctx, s.db)
}

func (t *sqliteTx) GetSubcategories(ctx context.Context) ([]model.Subcategory, error) {
	return getSubcategories(ctx, t.tx)
}

func getSubcategories(ctx context.Context, q querier) ([]model.Subcategory, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, category_id, name, created_at FROM subcategories ORDER BY category_id, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subcategories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subcategories []model.Subcategory
	for rows.Next() {
		var sub model.Subcategory
		if scanErr := rows.Scan(&sub.ID, &sub.CategoryID, &sub.Name, &sub.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan subcategory: %w", scanErr)
		}
		subcategories = append(subcategories, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subcategories: %w", err)
	}
	return subcategories, nil
}
