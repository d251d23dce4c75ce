package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/tincanhq/tincan/internal/mapping"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS items (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL,
					access_token TEXT NOT NULL,
					external_id TEXT,
					institution_id TEXT,
					institution_name TEXT,
					transaction_cursor TEXT,
					accounts_synced_at DATETIME,
					transactions_synced_at DATETIME,
					billed_products TEXT NOT NULL DEFAULT '[]',
					products TEXT NOT NULL DEFAULT '[]',
					consented_scopes TEXT NOT NULL DEFAULT '[]',
					claim_expires_at DATETIME,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE UNIQUE INDEX idx_items_external_id ON items(external_id)`,
				`CREATE INDEX idx_items_accounts_synced_at ON items(accounts_synced_at)`,
				`CREATE INDEX idx_items_transactions_synced_at ON items(transactions_synced_at)`,

				`CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					category_type TEXT NOT NULL DEFAULT 'spend',
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE UNIQUE INDEX idx_categories_name ON categories(name)`,

				`CREATE TABLE IF NOT EXISTS subcategories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					category_id INTEGER NOT NULL REFERENCES categories(id),
					name TEXT NOT NULL,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_subcategories_category_id ON subcategories(category_id)`,

				`CREATE TABLE IF NOT EXISTS accounts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					item_id INTEGER REFERENCES items(id),
					user_id INTEGER NOT NULL,
					external_id TEXT,
					name TEXT NOT NULL,
					institution_name TEXT,
					account_type TEXT,
					account_subtype TEXT,
					current_balance REAL NOT NULL DEFAULT 0,
					active BOOLEAN NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE UNIQUE INDEX idx_accounts_external_id ON accounts(external_id)`,
				`CREATE INDEX idx_accounts_item_id ON accounts(item_id)`,
				`CREATE INDEX idx_accounts_user_id ON accounts(user_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Transactions table with splits",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					account_id INTEGER NOT NULL REFERENCES accounts(id),
					external_id TEXT,
					date DATE NOT NULL,
					amount REAL NOT NULL,
					description TEXT,
					pending BOOLEAN NOT NULL DEFAULT 0,
					category_id INTEGER NOT NULL REFERENCES categories(id),
					subcategory_id INTEGER NOT NULL REFERENCES subcategories(id),
					split_from_id INTEGER REFERENCES transactions(id),
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE UNIQUE INDEX idx_transactions_external_id ON transactions(external_id)`,
				`CREATE INDEX idx_transactions_account_id ON transactions(account_id)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
				`CREATE INDEX idx_transactions_split_from_id ON transactions(split_from_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Seed categories from the mapping table",
		Up: func(tx *sql.Tx) error {
			catStmt, err := tx.Prepare(`INSERT OR IGNORE INTO categories (name, category_type) VALUES (?, ?)`)
			if err != nil {
				return fmt.Errorf("failed to prepare category insert: %w", err)
			}
			defer func() { _ = catStmt.Close() }()

			subStmt, err := tx.Prepare(`
				INSERT INTO subcategories (category_id, name)
				SELECT c.id, ? FROM categories c
				WHERE c.name = ?
				AND NOT EXISTS (
					SELECT 1 FROM subcategories s WHERE s.category_id = c.id AND s.name = ?
				)`)
			if err != nil {
				return fmt.Errorf("failed to prepare subcategory insert: %w", err)
			}
			defer func() { _ = subStmt.Close() }()

			for _, seed := range mapping.SeedCategories() {
				if _, err := catStmt.Exec(seed.Name, string(seed.Type)); err != nil {
					return fmt.Errorf("failed to seed category %q: %w", seed.Name, err)
				}
				for _, sub := range seed.Subcategories {
					if _, err := subStmt.Exec(sub, seed.Name, sub); err != nil {
						return fmt.Errorf("failed to seed subcategory %q/%q: %w", seed.Name, sub, err)
					}
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
