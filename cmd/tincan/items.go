package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func itemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage linked items",
	}
	cmd.AddCommand(itemsListCmd())
	cmd.AddCommand(itemsRemoveCmd())
	return cmd
}

func itemsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List linked items and their sync state",
		RunE:  runItemsList,
	}
}

func runItemsList(cmd *cobra.Command, _ []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	items, err := store.ListItems(cmd.Context())
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No linked items.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM ID\tINSTITUTION\tACCOUNTS SYNCED\tTRANSACTIONS SYNCED")
	for _, item := range items {
		name := item.InstitutionName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			item.ExternalID, name,
			formatSyncTime(item.AccountsSyncedAt),
			formatSyncTime(item.TransactionsSyncedAt))
	}
	return w.Flush()
}

func formatSyncTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func itemsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Revoke an item at the aggregator and delete it locally",
		Long: `Removes a linked item. The item is revoked at the aggregator first;
its accounts stay in the ledger but are detached from the item.`,
		Args: cobra.ExactArgs(1),
		RunE: runItemsRemove,
	}
}

func runItemsRemove(cmd *cobra.Command, args []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	eng, err := newEngine(store)
	if err != nil {
		return err
	}

	if err := eng.RemoveItem(cmd.Context(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Removed item %s\n", args[0])
	return nil
}
