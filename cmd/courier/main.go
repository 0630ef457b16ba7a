package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memohai/courier/internal/config"
	"github.com/memohai/courier/internal/version"
)

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:          "courier",
		Short:        "Courier relays direct messages to OpenAI assistants",
		Long:         "Courier receives Instagram, WhatsApp and Telegram messages, runs the owner's assistant on a per-conversation thread and sends the reply back.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config.toml (env CONFIG_PATH)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newMigrateCmd(&configPath))
	cmd.AddCommand(newTokenCmd(&configPath))
	cmd.AddCommand(newAccountsCmd(&configPath))
	return cmd
}

func defaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return config.DefaultConfigPath
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "courier %s\n", version.GetInfo())
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
