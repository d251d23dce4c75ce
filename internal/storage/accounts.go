package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tincanhq/tincan/internal/model"
)

const accountColumns = `id, item_id, user_id, external_id, name,
	institution_name, account_type, account_subtype, current_balance, active,
	created_at, updated_at`

// CreateAccount stores a new account. A duplicate external ID surfaces as
// common.ErrDuplicateEntry.
func (s *SQLiteStorage) CreateAccount(ctx context.Context, account *model.Account) (*model.Account, error) {
	return createAccount(ctx, s.db, account)
}

func (t *sqliteTx) CreateAccount(ctx context.Context, account *model.Account) (*model.Account, error) {
	return createAccount(ctx, t.tx, account)
}

func createAccount(ctx context.Context, q querier, account *model.Account) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account cannot be nil")
	}
	if err := validateString(account.Name, "account name"); err != nil {
		return nil, err
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO accounts (item_id, user_id, external_id, name,
			institution_name, account_type, account_subtype, current_balance,
			active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ItemID, account.UserID, account.ExternalID, account.Name,
		nullString(account.InstitutionName), nullString(account.Type),
		nullString(account.Subtype), account.Balance, account.Active)
	if err != nil {
		return nil, wrapInsertError("account", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get account ID: %w", err)
	}

	return getAccountByID(ctx, q, id)
}

func getAccountByID(ctx context.Context, q querier, id int64) (*model.Account, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetAccountByExternalID returns the account with the given aggregator
// account ID regardless of which item owns it, or (nil, nil) when none
// exists.
func (s *SQLiteStorage) GetAccountByExternalID(ctx context.Context, externalID string) (*model.Account, error) {
	return getAccountByExternalID(ctx, s.db, externalID)
}

func (t *sqliteTx) GetAccountByExternalID(ctx context.Context, externalID string) (*model.Account, error) {
	return getAccountByExternalID(ctx, t.tx, externalID)
}

func getAccountByExternalID(ctx context.Context, q querier, externalID string) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "external ID"); err != nil {
		return nil, err
	}

	row := q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE external_id = ?`, externalID)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetItemAccount returns the account with the given aggregator account ID
// belonging to the given item, or (nil, nil) when none exists. An account
// with the same external ID under a different item does not match.
func (s *SQLiteStorage) GetItemAccount(ctx context.Context, itemID int64, externalID string) (*model.Account, error) {
	return getItemAccount(ctx, s.db, itemID, externalID)
}

func (t *sqliteTx) GetItemAccount(ctx context.Context, itemID int64, externalID string) (*model.Account, error) {
	return getItemAccount(ctx, t.tx, itemID, externalID)
}

func getItemAccount(ctx context.Context, q querier, itemID int64, externalID string) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(itemID, "item ID"); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "external ID"); err != nil {
		return nil, err
	}

	row := q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE item_id = ? AND external_id = ?`,
		itemID, externalID)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ListItemAccounts returns every account belonging to an item, active or not.
func (s *SQLiteStorage) ListItemAccounts(ctx context.Context, itemID int64) ([]model.Account, error) {
	return listItemAccounts(ctx, s.db, itemID)
}

func (t *sqliteTx) ListItemAccounts(ctx context.Context, itemID int64) ([]model.Account, error) {
	return listItemAccounts(ctx, t.tx, itemID)
}

func listItemAccounts(ctx context.Context, q querier, itemID int64) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(itemID, "item ID"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE item_id = ? ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		account, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan account: %w", scanErr)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccountSnapshot refreshes the mutable fields reported by the
// aggregator on every sync and reactivates the account if it was previously
// deactivated.
func (s *SQLiteStorage) UpdateAccountSnapshot(ctx context.Context, accountID int64, name string, balance float64, institutionName string) error {
	return updateAccountSnapshot(ctx, s.db, accountID, name, balance, institutionName)
}

func (t *sqliteTx) UpdateAccountSnapshot(ctx context.Context, accountID int64, name string, balance float64, institutionName string) error {
	return updateAccountSnapshot(ctx, t.tx, accountID, name, balance, institutionName)
}

func updateAccountSnapshot(ctx context.Context, q querier, accountID int64, name string, balance float64, institutionName string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(accountID, "account ID"); err != nil {
		return err
	}
	if err := validateString(name, "account name"); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET name = ?, current_balance = ?, institution_name = ?, active = 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		name, balance, nullString(institutionName), accountID)
	if err != nil {
		return fmt.Errorf("failed to update account snapshot: %w", err)
	}
	return nil
}

// SetAccountsInstitutionName stamps the institution name onto every account
// of an item. Used once the item's institution details arrive after linking.
func (s *SQLiteStorage) SetAccountsInstitutionName(ctx context.Context, itemID int64, institutionName string) error {
	return setAccountsInstitutionName(ctx, s.db, itemID, institutionName)
}

func (t *sqliteTx) SetAccountsInstitutionName(ctx context.Context, itemID int64, institutionName string) error {
	return setAccountsInstitutionName(ctx, t.tx, itemID, institutionName)
}

func setAccountsInstitutionName(ctx context.Context, q querier, itemID int64, institutionName string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(itemID, "item ID"); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		UPDATE accounts SET institution_name = ?, updated_at = CURRENT_TIMESTAMP
		WHERE item_id = ?`,
		nullString(institutionName), itemID)
	if err != nil {
		return fmt.Errorf("failed to set institution name: %w", err)
	}
	return nil
}

// DeactivateMissingAccounts deactivates the item's accounts whose external
// IDs are absent from presentExternalIDs and returns how many rows changed.
// Accounts without an external ID are never touched.
func (s *SQLiteStorage) DeactivateMissingAccounts(ctx context.Context, itemID int64, presentExternalIDs []string) (int64, error) {
	return deactivateMissingAccounts(ctx, s.db, itemID, presentExternalIDs)
}

func (t *sqliteTx) DeactivateMissingAccounts(ctx context.Context, itemID int64, presentExternalIDs []string) (int64, error) {
	return deactivateMissingAccounts(ctx, t.tx, itemID, presentExternalIDs)
}

func deactivateMissingAccounts(ctx context.Context, q querier, itemID int64, presentExternalIDs []string) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateID(itemID, "item ID"); err != nil {
		return 0, err
	}

	query := `
		UPDATE accounts SET active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE item_id = ? AND active = 1 AND external_id IS NOT NULL`
	args := []any{itemID}

	if len(presentExternalIDs) > 0 {
		placeholders := strings.Repeat("?,", len(presentExternalIDs))
		query += ` AND external_id NOT IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, id := range presentExternalIDs {
			args = append(args, id)
		}
	}

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate accounts: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deactivated accounts: %w", err)
	}
	return affected, nil
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var account model.Account
	var itemID sql.NullInt64
	var externalID, institutionName, accountType, subtype sql.NullString

	err := row.Scan(&account.ID, &itemID, &account.UserID, &externalID,
		&account.Name, &institutionName, &accountType, &subtype,
		&account.Balance, &account.Active, &account.CreatedAt,
		&account.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if itemID.Valid {
		account.ItemID = &itemID.Int64
	}
	if externalID.Valid {
		account.ExternalID = &externalID.String
	}
	account.InstitutionName = institutionName.String
	account.Type = accountType.String
	account.Subtype = subtype.String
	return &account, nil
}
