package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/tincanhq/tincan/internal/engine"
	"github.com/tincanhq/tincan/internal/plaid"
	"github.com/tincanhq/tincan/internal/storage"
)

func databasePath() (string, error) {
	if dbPath := viper.GetString("database.path"); dbPath != "" {
		return dbPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "tincan", "tincan.db"), nil
}

func openStorage() (*storage.SQLiteStorage, error) {
	dbPath, err := databasePath()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func newAggregator() (*plaid.Client, error) {
	return plaid.NewClient(plaid.Config{
		ClientID:    viper.GetString("plaid.client_id"),
		Secret:      viper.GetString("plaid.secret"),
		Environment: viper.GetString("plaid.environment"),
	})
}

func newEngine(store *storage.SQLiteStorage, opts ...engine.Option) (*engine.Engine, error) {
	aggregator, err := newAggregator()
	if err != nil {
		return nil, err
	}
	return engine.New(store, aggregator, slog.Default(), opts...)
}
