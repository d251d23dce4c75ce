package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tincanhq/tincan/internal/model"
)

const transactionColumns = `id, account_id, external_id, date, amount,
	description, pending, category_id, subcategory_id, split_from_id,
	created_at, updated_at`

const dateLayout = "2006-01-02"

// CreateTransaction stores a new transaction. A duplicate external ID
// surfaces as common.ErrDuplicateEntry so reconciliation can treat replays
// of an already ingested transaction as a no-op.
func (s *SQLiteStorage) CreateTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	return createTransaction(ctx, s.db, txn)
}

func (t *sqliteTx) CreateTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	return createTransaction(ctx, t.tx, txn)
}

func createTransaction(ctx context.Context, q querier, txn *model.Transaction) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, fmt.Errorf("transaction cannot be nil")
	}
	if err := validateID(txn.AccountID, "account ID"); err != nil {
		return nil, err
	}
	if err := validateID(txn.CategoryID, "category ID"); err != nil {
		return nil, err
	}
	if err := validateID(txn.SubcategoryID, "subcategory ID"); err != nil {
		return nil, err
	}
	if txn.Date.IsZero() {
		return nil, fmt.Errorf("transaction date cannot be zero")
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO transactions (account_id, external_id, date, amount,
			description, pending, category_id, subcategory_id, split_from_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.AccountID, txn.ExternalID, txn.Date.Format(dateLayout),
		txn.Amount, nullString(txn.Description), txn.Pending,
		txn.CategoryID, txn.SubcategoryID, txn.SplitFromID)
	if err != nil {
		return nil, wrapInsertError("transaction", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction ID: %w", err)
	}

	return getTransactionByID(ctx, q, id)
}

func getTransactionByID(ctx context.Context, q querier, id int64) (*model.Transaction, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// GetTransactionByExternalID returns the transaction with the given
// aggregator transaction ID within an account, or (nil, nil) when none
// exists.
func (s *SQLiteStorage) GetTransactionByExternalID(ctx context.Context, accountID int64, externalID string) (*model.Transaction, error) {
	return getTransactionByExternalID(ctx, s.db, accountID, externalID)
}

func (t *sqliteTx) GetTransactionByExternalID(ctx context.Context, accountID int64, externalID string) (*model.Transaction, error) {
	return getTransactionByExternalID(ctx, t.tx, accountID, externalID)
}

func getTransactionByExternalID(ctx context.Context, q querier, accountID int64, externalID string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(accountID, "account ID"); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "external ID"); err != nil {
		return nil, err
	}

	row := q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE account_id = ? AND external_id = ?`,
		accountID, externalID)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// UpdateTransaction rewrites the mutable fields of a transaction.
func (s *SQLiteStorage) UpdateTransaction(ctx context.Context, txn *model.Transaction) error {
	return updateTransaction(ctx, s.db, txn)
}

func (t *sqliteTx) UpdateTransaction(ctx context.Context, txn *model.Transaction) error {
	return updateTransaction(ctx, t.tx, txn)
}

func updateTransaction(ctx context.Context, q querier, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if txn == nil {
		return fmt.Errorf("transaction cannot be nil")
	}
	if err := validateID(txn.ID, "transaction ID"); err != nil {
		return err
	}
	if err := validateID(txn.CategoryID, "category ID"); err != nil {
		return err
	}
	if err := validateID(txn.SubcategoryID, "subcategory ID"); err != nil {
		return err
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}

	_, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET date = ?, amount = ?, description = ?, pending = ?,
			category_id = ?, subcategory_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		txn.Date.Format(dateLayout), txn.Amount, nullString(txn.Description),
		txn.Pending, txn.CategoryID, txn.SubcategoryID, txn.ID)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

// DeleteTransactionsByExternalIDs deletes the account's transactions matching
// the given external IDs and returns the IDs actually deleted, which may be a
// subset when some were never ingested or already removed.
func (s *SQLiteStorage) DeleteTransactionsByExternalIDs(ctx context.Context, accountID int64, externalIDs []string) ([]string, error) {
	return deleteTransactionsByExternalIDs(ctx, s.db, accountID, externalIDs)
}

func (t *sqliteTx) DeleteTransactionsByExternalIDs(ctx context.Context, accountID int64, externalIDs []string) ([]string, error) {
	return deleteTransactionsByExternalIDs(ctx, t.tx, accountID, externalIDs)
}

func deleteTransactionsByExternalIDs(ctx context.Context, q querier, accountID int64, externalIDs []string) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(accountID, "account ID"); err != nil {
		return nil, err
	}
	if len(externalIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(externalIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(externalIDs)+1)
	args = append(args, accountID)
	for _, id := range externalIDs {
		args = append(args, id)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT external_id FROM transactions WHERE account_id = ? AND external_id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for deletion: %w", err)
	}

	var deleted []string
	for rows.Next() {
		var externalID string
		if scanErr := rows.Scan(&externalID); scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan external ID: %w", scanErr)
		}
		deleted = append(deleted, externalID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	_ = rows.Close()

	if len(deleted) == 0 {
		return nil, nil
	}

	if _, err := q.ExecContext(ctx,
		`DELETE FROM transactions WHERE account_id = ? AND external_id IN (`+placeholders+`)`,
		args...); err != nil {
		return nil, fmt.Errorf("failed to delete transactions: %w", err)
	}
	return deleted, nil
}

// ListAccountTransactions returns every transaction of an account, newest
// first.
func (s *SQLiteStorage) ListAccountTransactions(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	return listAccountTransactions(ctx, s.db, accountID)
}

func (t *sqliteTx) ListAccountTransactions(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	return listAccountTransactions(ctx, t.tx, accountID)
}

func listAccountTransactions(ctx context.Context, q querier, accountID int64) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(accountID, "account ID"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE account_id = ? ORDER BY date DESC, id DESC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.Transaction
	for rows.Next() {
		txn, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", scanErr)
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txns, nil
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var externalID, description sql.NullString
	var splitFromID sql.NullInt64

	// The driver hands back time.Time for the DATE column.
	err := row.Scan(&txn.ID, &txn.AccountID, &externalID, &txn.Date,
		&txn.Amount, &description, &txn.Pending, &txn.CategoryID,
		&txn.SubcategoryID, &splitFromID, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	txn.Date = txn.Date.UTC()

	if externalID.Valid {
		txn.ExternalID = &externalID.String
	}
	txn.Description = description.String
	if splitFromID.Valid {
		txn.SplitFromID = &splitFromID.Int64
	}
	return &txn, nil
}
