package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memohai/courier/internal/accounts"
)

func newAccountsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage owner accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Load accounts from a YAML file into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsImport(cmd, *configPath, args[0])
		},
	})
	return cmd
}

func runAccountsImport(cmd *cobra.Command, configPath, file string) error {
	ctx := context.Background()
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	items, err := accounts.ParseFile(file)
	if err != nil {
		return err
	}
	s, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	store, err := s.accountsStore()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, item := range items {
		saved, err := store.Upsert(ctx, item)
		if err != nil {
			return fmt.Errorf("import %s:%s: %w", item.ChannelType, item.OwnerID, err)
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", saved.ChannelType, saved.OwnerID, saved.AssistantID)
	}
	fmt.Fprintf(out, "imported %d accounts\n", len(items))
	return nil
}
