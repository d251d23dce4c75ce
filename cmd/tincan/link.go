package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func linkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link bank accounts through the aggregator",
	}
	cmd.AddCommand(linkTokenCmd())
	cmd.AddCommand(linkItemCmd())
	return cmd
}

func linkTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create a link token for starting a new link session",
		RunE:  runLinkToken,
	}
	cmd.Flags().Int64("user", 1, "user ID to link for")
	return cmd
}

func runLinkToken(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetInt64("user")

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	eng, err := newEngine(store)
	if err != nil {
		return err
	}

	token, err := eng.CreateLinkToken(cmd.Context(), userID)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}

func linkItemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item <public-token>",
		Short: "Exchange a public token and store the linked item",
		Long: `Completes a link session: exchanges the one-time public token for an
access token, stores the item, and pulls institution details.`,
		Args: cobra.ExactArgs(1),
		RunE: runLinkItem,
	}
	cmd.Flags().Int64("user", 1, "user ID the item belongs to")
	return cmd
}

func runLinkItem(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetInt64("user")

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	eng, err := newEngine(store)
	if err != nil {
		return err
	}

	item, err := eng.LinkItem(cmd.Context(), userID, args[0])
	if err != nil {
		return err
	}

	name := item.InstitutionName
	if name == "" {
		name = "(institution pending)"
	}
	fmt.Printf("Linked %s as item %s\n", name, item.ExternalID)
	return nil
}
