package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/courier/internal/auth"
	"github.com/memohai/courier/internal/config"
)

func newTokenCmd(configPath *string) *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, *configPath, subject, ttl)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "operator name recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.jwt_expires_in)")
	return cmd
}

func runToken(cmd *cobra.Command, configPath, subject string, ttl time.Duration) error {
	cfg, err := loadConfig(context.Background(), configPath)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = config.Duration(cfg.Auth.JWTExpiresIn, 24*time.Hour)
	}
	token, expiresAt, err := auth.GenerateToken(subject, cfg.Auth.JWTSecret, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
