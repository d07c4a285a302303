package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mbenton/wattflume/internal/flume"
	"github.com/mbenton/wattflume/internal/throttle"
	"github.com/mbenton/wattflume/pkg/models"
	"github.com/spf13/cobra"
)

var queryStore bool

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query water usage for the last minute",
	Long:  `Queries the Flume API for water usage over the most recent minute.`,
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&queryStore, "store", false, "Also store the reading in the database")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
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

	gallons, _, err := client.FetchLastMinute(context.Background(), cred)
	if err != nil {
		return fmt.Errorf("querying usage: %w", err)
	}

	now := time.Now()
	fmt.Printf("Water usage for the last minute: %.3f gallons\n", gallons)

	if queryStore {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		rec := models.IntervalRecord{
			Date:    now.Format("2006-01-02"),
			Time:    now.Format("15:04:05"),
			Kind:    models.KindWater,
			Gallons: &gallons,
		}
		if err := db.InsertInterval(&rec); err != nil {
			return fmt.Errorf("storing reading: %w", err)
		}
		fmt.Println("✓ Reading stored")
	}
	return nil
}
