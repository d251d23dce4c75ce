package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tincanhq/tincan/internal/model"
)

const itemColumns = `id, user_id, access_token, external_id, institution_id,
	institution_name, transaction_cursor, accounts_synced_at,
	transactions_synced_at, billed_products, products, consented_scopes,
	claim_expires_at, created_at, updated_at`

// CreateItem stores a newly linked item.
func (s *SQLiteStorage) CreateItem(ctx context.Context, item *model.Item) (*model.Item, error) {
	return createItem(ctx, s.db, item)
}

func (t *sqliteTx) CreateItem(ctx context.Context, item *model.Item) (*model.Item, error) {
	return createItem(ctx, t.tx, item)
}

func createItem(ctx context.Context, q querier, item *model.Item) (*model.Item, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item cannot be nil")
	}
	if err := validateString(item.AccessToken, "access token"); err != nil {
		return nil, err
	}
	if err := validateString(item.ExternalID, "external ID"); err != nil {
		return nil, err
	}

	billed, err := encodeStringSlice(item.BilledProducts)
	if err != nil {
		return nil, err
	}
	products, err := encodeStringSlice(item.Products)
	if err != nil {
		return nil, err
	}
	scopes, err := encodeStringSlice(item.ConsentedScopes)
	if err != nil {
		return nil, err
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO items (user_id, access_token, external_id, institution_id,
			institution_name, transaction_cursor, billed_products, products,
			consented_scopes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.UserID, item.AccessToken, item.ExternalID,
		nullString(item.InstitutionID), nullString(item.InstitutionName),
		nullString(item.TransactionCursor), billed, products, scopes)
	if err != nil {
		return nil, wrapInsertError("item", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get item ID: %w", err)
	}

	return getItemByID(ctx, q, id)
}

// GetItemByExternalID returns the item with the given aggregator item ID, or
// (nil, nil) when no such item exists.
func (s *SQLiteStorage) GetItemByExternalID(ctx context.Context, externalID string) (*model.Item, error) {
	return getItemByExternalID(ctx, s.db, externalID)
}

func (t *sqliteTx) GetItemByExternalID(ctx context.Context, externalID string) (*model.Item, error) {
	return getItemByExternalID(ctx, t.tx, externalID)
}

func getItemByExternalID(ctx context.Context, q querier, externalID string) (*model.Item, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "external ID"); err != nil {
		return nil, err
	}

	row := q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE external_id = ?`, externalID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func getItemByID(ctx context.Context, q querier, id int64) (*model.Item, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// GetItemsByExternalIDs returns the items matching the given aggregator item
// IDs. Unknown IDs are silently absent from the result.
func (s *SQLiteStorage) GetItemsByExternalIDs(ctx context.Context, externalIDs []string) ([]model.Item, error) {
	return getItemsByExternalIDs(ctx, s.db, externalIDs)
}

func (t *sqliteTx) GetItemsByExternalIDs(ctx context.Context, externalIDs []string) ([]model.Item, error) {
	return getItemsByExternalIDs(ctx, t.tx, externalIDs)
}

func getItemsByExternalIDs(ctx context.Context, q querier, externalIDs []string) ([]model.Item, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(externalIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(externalIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(externalIDs))
	for i, id := range externalIDs {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE external_id IN (`+placeholders+`) ORDER BY id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanItems(rows)
}

// ListItems returns every item, oldest first.
func (s *SQLiteStorage) ListItems(ctx context.Context) ([]model.Item, error) {
	return listItems(ctx, s.db)
}

func (t *sqliteTx) ListItems(ctx context.Context) ([]model.Item, error) {
	return listItems(ctx, t.tx)
}

func listItems(ctx context.Context, q querier) ([]model.Item, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanItems(rows)
}

// ListItemsForAccountSync returns items whose accounts have never been synced
// or were last synced before olderThan.
func (s *SQLiteStorage) ListItemsForAccountSync(ctx context.Context, olderThan time.Time) ([]model.Item, error) {
	return listItemsForAccountSync(ctx, s.db, olderThan)
}

func (t *sqliteTx) ListItemsForAccountSync(ctx context.Context, olderThan time.Time) ([]model.Item, error) {
	return listItemsForAccountSync(ctx, t.tx, olderThan)
}

func listItemsForAccountSync(ctx context.Context, q querier, olderThan time.Time) ([]model.Item, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE accounts_synced_at IS NULL OR accounts_synced_at <= ?
		ORDER BY accounts_synced_at ASC NULLS FIRST, id`, olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanItems(rows)
}

// ListItemsForTransactionSync returns items due for a transaction sync. Items
// that have never completed an accounts sync are excluded: there are no local
// accounts to attach their transactions to yet.
func (s *SQLiteStorage) ListItemsForTransactionSync(ctx context.Context, olderThan time.Time) ([]model.Item, error) {
	return listItemsForTransactionSync(ctx, s.db, olderThan)
}

func (t *sqliteTx) ListItemsForTransactionSync(ctx context.Context, olderThan time.Time) ([]model.Item, error) {
	return listItemsForTransactionSync(ctx, t.tx, olderThan)
}

func listItemsForTransactionSync(ctx context.Context, q querier, olderThan time.Time) ([]model.Item, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE accounts_synced_at IS NOT NULL
		AND (transactions_synced_at IS NULL OR transactions_synced_at <= ?)
		ORDER BY transactions_synced_at ASC NULLS FIRST, id`, olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanItems(rows)
}

// UpdateItemDetails updates the institution and product details of an item.
func (s *SQLiteStorage) UpdateItemDetails(ctx context.Context, item *model.Item) error {
	return updateItemDetails(ctx, s.db, item)
}

func (t *sqliteTx) UpdateItemDetails(ctx context.Context, item *model.Item) error {
	return updateItemDetails(ctx, t.tx, item)
}

func updateItemDetails(ctx context.Context, q querier, item *model.Item) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("item cannot be nil")
	}
	if err := validateID(item.ID, "item ID"); err != nil {
		return err
	}

	billed, err := encodeStringSlice(item.BilledProducts)
	if err != nil {
		return err
	}
	products, err := encodeStringSlice(item.Products)
	if err != nil {
		return err
	}
	scopes, err := encodeStringSlice(item.ConsentedScopes)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		UPDATE items
		SET institution_id = ?, institution_name = ?, billed_products = ?,
			products = ?, consented_scopes = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		nullString(item.InstitutionID), nullString(item.InstitutionName),
		billed, products, scopes, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update item details: %w", err)
	}
	return nil
}

// UpdateItemCursor stores the next sync cursor for an item.
func (s *SQLiteStorage) UpdateItemCursor(ctx context.Context, itemID int64, cursor string) error {
	return updateItemCursor(ctx, s.db, itemID, cursor)
}

func (t *sqliteTx) UpdateItemCursor(ctx context.Context, itemID int64, cursor string) error {
	return updateItemCursor(ctx, t.tx, itemID, cursor)
}

func updateItemCursor(ctx context.Context, q querier, itemID int64, cursor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(itemID, "item ID"); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		UPDATE items SET transaction_cursor = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, nullString(cursor), itemID)
	if err != nil {
		return fmt.Errorf("failed to update item cursor: %w", err)
	}
	return nil
}

// MarkAccountsSynced records the completion time of an accounts sync.
func (s *SQLiteStorage) MarkAccountsSynced(ctx context.Context, itemID int64, at time.Time) error {
	return markSynced(ctx, s.db, "accounts_synced_at", itemID, at)
}

func (t *sqliteTx) MarkAccountsSynced(ctx context.Context, itemID int64, at time.Time) error {
	return markSynced(ctx, t.tx, "accounts_synced_at", itemID, at)
}

// MarkTransactionsSynced records the completion time of a transaction sync.
func (s *SQLiteStorage) MarkTransactionsSynced(ctx context.Context, itemID int64, at time.Time) error {
	return markSynced(ctx, s.db, "transactions_synced_at", itemID, at)
}

func (t *sqliteTx) MarkTransactionsSynced(ctx context.Context, itemID int64, at time.Time) error {
	return markSynced(ctx, t.tx, "transactions_synced_at", itemID, at)
}

func markSynced(ctx context.Context, q querier, column string, itemID int64, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(itemID, "item ID"); err != nil {
		return err
	}

	// column is one of two compile-time constants, never user input.
	_, err := q.ExecContext(ctx,
		`UPDATE items SET `+column+` = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at.UTC(), itemID)
	if err != nil {
		return fmt.Errorf("failed to mark %s: %w", column, err)
	}
	return nil
}

// DeleteItem removes an item. Its accounts survive but are detached.
func (s *SQLiteStorage) DeleteItem(ctx context.Context, itemID int64) error {
	return deleteItem(ctx, s.db, itemID)
}

func (t *sqliteTx) DeleteItem(ctx context.Context, itemID int64) error {
	return deleteItem(ctx, t.tx, itemID)
}

func deleteItem(ctx context.Context, q querier, itemID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(itemID, "item ID"); err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE accounts SET item_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE item_id = ?`,
		itemID); err != nil {
		return fmt.Errorf("failed to detach accounts: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, itemID); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// ClaimItem takes a timed lease on an item. It returns false without waiting
// when another worker already holds an unexpired lease.
func (s *SQLiteStorage) ClaimItem(ctx context.Context, itemID int64, ttl time.Duration) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateID(itemID, "item ID"); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive, got %v", ttl)
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE items SET claim_expires_at = ?
		WHERE id = ? AND (claim_expires_at IS NULL OR claim_expires_at <= ?)`,
		now.Add(ttl), itemID, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check claim result: %w", err)
	}
	return affected == 1, nil
}

// ReleaseItem drops the lease on an item.
func (s *SQLiteStorage) ReleaseItem(ctx context.Context, itemID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(itemID, "item ID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET claim_expires_at = NULL WHERE id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("failed to release item: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	var item model.Item
	var externalID, institutionID, institutionName, cursor sql.NullString
	var accountsSyncedAt, transactionsSyncedAt, claimExpiresAt sql.NullTime
	var billed, products, scopes string

	err := row.Scan(&item.ID, &item.UserID, &item.AccessToken, &externalID,
		&institutionID, &institutionName, &cursor, &accountsSyncedAt,
		&transactionsSyncedAt, &billed, &products, &scopes, &claimExpiresAt,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}

	item.ExternalID = externalID.String
	item.InstitutionID = institutionID.String
	item.InstitutionName = institutionName.String
	item.TransactionCursor = cursor.String
	item.AccountsSyncedAt = nullTimePtr(accountsSyncedAt)
	item.TransactionsSyncedAt = nullTimePtr(transactionsSyncedAt)
	item.ClaimExpiresAt = nullTimePtr(claimExpiresAt)

	if item.BilledProducts, err = decodeStringSlice(billed); err != nil {
		return nil, fmt.Errorf("bad billed_products for item %d: %w", item.ID, err)
	}
	if item.Products, err = decodeStringSlice(products); err != nil {
		return nil, fmt.Errorf("bad products for item %d: %w", item.ID, err)
	}
	if item.ConsentedScopes, err = decodeStringSlice(scopes); err != nil {
		return nil, fmt.Errorf("bad consented_scopes for item %d: %w", item.ID, err)
	}
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

func encodeStringSlice(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode string slice: %w", err)
	}
	return string(data), nil
}

func decodeStringSlice(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}
