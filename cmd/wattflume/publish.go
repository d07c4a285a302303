package main

import (
	"fmt"
	"time"

	"github.com/mbenton/wattflume/internal/publisher"
	"github.com/mbenton/wattflume/pkg/models"
	"github.com/spf13/cobra"
)

var (
	publishKind  string
	publishAll   bool
	publishLimit int
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish stored interval data to Home Assistant",
	Long:  `Reads stored interval records from the database and publishes them via MQTT and/or the Home Assistant HTTP API.`,
	RunE:  runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishKind, "kind", "", "Kind to publish (generation, consumption, or water, default: all)")
	publishCmd.Flags().BoolVar(&publishAll, "all", false, "Force republish all records (ignore published flag)")
	publishCmd.Flags().IntVar(&publishLimit, "limit", 0, "Limit number of records to publish (0 = no limit)")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.MQTT.Enabled && !cfg.HomeAssistant.Enabled {
		return fmt.Errorf("neither MQTT nor Home Assistant publishing is enabled in config")
	}

	pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	kinds := []models.Kind{}
	if publishKind != "" {
		kind := models.Kind(publishKind)
		if !kind.Valid() {
			return fmt.Errorf("unknown kind: %s (available: generation, consumption, water)", publishKind)
		}
		kinds = append(kinds, kind)
	} else {
		kinds = append(kinds, models.KindGeneration, models.KindConsumption, models.KindWater)
	}

	totalPublished := 0
	for _, kind := range kinds {
		var data []models.IntervalRecord
		if publishAll {
			data, err = db.ListIntervals(kind)
		} else {
			data, err = db.ListUnpublished(kind)
		}
		if err != nil {
			return fmt.Errorf("listing data for %s: %w", kind, err)
		}

		if len(data) == 0 {
			if publishKind != "" {
				fmt.Printf("No unpublished data found for %s\n", kind)
			}
			continue
		}

		if publishLimit > 0 && len(data) > publishLimit {
			data = data[:publishLimit]
			fmt.Printf("Limiting to %d records (--limit flag)\n", publishLimit)
		}

		fmt.Printf("Publishing %d %s records...\n", len(data), kind)
		published := 0
		for i, rec := range data {
			fmt.Printf("[%d/%d] Publishing %s %s... ", i+1, len(data), rec.Date, rec.Time)
			if err := pub.Publish(rec); err != nil {
				fmt.Printf("FAILED: %v\n", err)
				continue
			}

			if err := db.MarkPublished(rec.ID); err != nil {
				fmt.Printf("✓ (warning: failed to mark as published: %v)\n", err)
			} else {
				fmt.Printf("✓\n")
			}
			published++
		}

		fmt.Printf("Successfully published %d/%d %s records\n", published, len(data), kind)
		totalPublished += published
	}

	fmt.Printf("\nTotal records published: %d\n", totalPublished)
	return nil
}
