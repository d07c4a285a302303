package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Obtain a Flume authentication token",
	Long: `Performs a password-grant OAuth request against the Flume API using the
client credentials from the config file, and saves the resulting access and
refresh tokens to the token file.`,
	RunE: runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fl := cfg.Flume
	if fl.ClientID == "" || fl.ClientSecret == "" || fl.Username == "" || fl.Password == "" {
		return fmt.Errorf("flume client_id, client_secret, username, and password must be set in %s", getConfigPath())
	}

	logger := newLogger()
	defer logger.Sync()

	store := newCredStore(cfg, logger)
	cred, err := store.Obtain(context.Background(), fl.ClientID, fl.ClientSecret, fl.Username, fl.Password)
	if err != nil {
		return fmt.Errorf("obtaining credentials: %w", err)
	}

	fmt.Printf("✓ Tokens saved to %s (user id %s)\n", store.Path, cred.UserID)
	return nil
}
