package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var renewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Renew the Flume authentication token",
	Long: `Performs a refresh-grant OAuth request using the refresh token from the
token file, and overwrites the token file with the new token pair.`,
	RunE: runRenew,
}

func init() {
	rootCmd.AddCommand(renewCmd)
}

func runRenew(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger()
	defer logger.Sync()

	store := newCredStore(cfg, logger)
	cred, err := store.Load()
	if err != nil {
		return fmt.Errorf("loading credentials (run 'wattflume auth' first): %w", err)
	}

	cred, err = store.Renew(context.Background(), cfg.Flume.ClientID, cfg.Flume.ClientSecret, cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("renewing credentials: %w", err)
	}

	fmt.Printf("✓ Tokens renewed and saved to %s (user id %s)\n", store.Path, cred.UserID)
	return nil
}
