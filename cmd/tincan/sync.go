package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/tincanhq/tincan/internal/engine"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync linked items against the aggregator",
	}
	cmd.AddCommand(syncAccountsCmd())
	cmd.AddCommand(syncTransactionsCmd())
	return cmd
}

func syncAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts [item-id...]",
		Short: "Reconcile account snapshots",
		Long: `Fetches the current account snapshot for each item and reconciles it:
new accounts are created, known accounts get fresh balances and names,
and accounts missing from the snapshot are deactivated.

Without arguments, syncs every item whose accounts are older than 24h.`,
		RunE: runSyncAccounts,
	}
}

func runSyncAccounts(cmd *cobra.Command, args []string) error {
	return runSync(cmd, args, "accounts",
		func(eng *engine.Engine) (*engine.BatchResult, error) {
			return eng.SyncAccounts(cmd.Context(), args)
		})
}

func syncTransactionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transactions [item-id...]",
		Short: "Drain and reconcile transaction change streams",
		Long: `Drains each item's transaction change stream from its stored cursor and
applies the added, modified, and removed records.

Without arguments, syncs every item whose transactions are older than 12h
and whose accounts have synced at least once.`,
		RunE: runSyncTransactions,
	}
}

func runSyncTransactions(cmd *cobra.Command, args []string) error {
	return runSync(cmd, args, "transactions",
		func(eng *engine.Engine) (*engine.BatchResult, error) {
			return eng.SyncTransactions(cmd.Context(), args)
		})
}

func runSync(cmd *cobra.Command, _ []string, kind string, run func(*engine.Engine) (*engine.BatchResult, error)) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	var bar *progressbar.ProgressBar
	eng, err := newEngine(store, engine.WithProgress(func(done, total int) {
		if bar == nil {
			bar = progressbar.Default(int64(total), "syncing "+kind)
		}
		_ = bar.Set(done)
	}))
	if err != nil {
		return err
	}

	result, err := run(eng)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		if result != nil && result.Halted {
			fmt.Printf("\nRate limited after %d of %d items; committed items keep their progress. Re-run later.\n",
				result.Synced, result.Total)
		}
		return err
	}

	fmt.Printf("\nSynced %s for %d items (%d skipped, %d failed).\n",
		kind, result.Synced, result.Skipped, result.Failed)
	return nil
}
