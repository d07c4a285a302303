package main

import (
	"context"
	"fmt"

	"github.com/mbenton/wattflume/internal/flume"
	"github.com/mbenton/wattflume/internal/throttle"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Show Flume account metadata and devices",
	Long: `Prints the current access and refresh tokens, the user id decoded from
the access token, and the account's device list with the bridge device
highlighted.`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
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

	client := flume.NewClient(cfg.Flume, store, throttle.NewGuard(logger), logger)

	devices, cred, err := client.Devices(context.Background(), cred)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	fmt.Println("-------------------------------------------")
	fmt.Printf("Access Token: %s\n", cred.AccessToken)
	fmt.Printf("Refresh Token: %s\n", cred.RefreshToken)
	fmt.Printf("User ID: %s\n", cred.UserID)
	fmt.Println("-------------------------------------------")
	for _, d := range devices {
		marker := ""
		if d.Type == flume.BridgeDeviceType {
			marker = "  (bridge)"
		}
		fmt.Printf("Device %s  type %d%s\n", d.ID, d.Type, marker)
	}

	return nil
}
