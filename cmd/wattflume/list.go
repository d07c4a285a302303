package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/mbenton/wattflume/pkg/models"
	"github.com/spf13/cobra"
)

var listKind string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored interval data",
	Long:  `Displays stored interval records from the database, grouped by data kind.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listKind, "kind", "", "Filter by kind (generation, consumption, or water)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	kinds := []models.Kind{}
	if listKind != "" {
		kind := models.Kind(listKind)
		if !kind.Valid() {
			return fmt.Errorf("unknown kind: %s (available: generation, consumption, water)", listKind)
		}
		kinds = append(kinds, kind)
	} else {
		kinds = append(kinds, models.KindGeneration, models.KindConsumption, models.KindWater)
	}

	for _, kind := range kinds {
		data, err := db.ListIntervals(kind)
		if err != nil {
			return fmt.Errorf("listing data for %s: %w", kind, err)
		}

		if len(data) == 0 {
			if listKind != "" {
				fmt.Printf("No data found for %s\n", kind)
			}
			continue
		}

		unit := "Wh"
		if kind == models.KindWater {
			unit = "gal"
		}

		fmt.Printf("\n%s data:\n", kind)
		fmt.Println("----------------------------------------")
		fmt.Printf("%-12s  %-10s  %12s\n", "Date", "Time", unit)
		fmt.Println("----------------------------------------")

		var total float64
		for _, rec := range data {
			var value float64
			switch kind {
			case models.KindWater:
				if rec.Gallons != nil {
					value = *rec.Gallons
				}
			default:
				if rec.EnergyWh != nil {
					value = *rec.EnergyWh
				}
			}
			fmt.Printf("%-12s  %-10s  %12s\n", rec.Date, rec.Time, humanize.CommafWithDigits(value, 2))
			total += value
		}

		fmt.Println("----------------------------------------")
		fmt.Printf("Total: %s %s (%s records)\n",
			humanize.CommafWithDigits(total, 2), unit, humanize.Comma(int64(len(data))))
	}

	return nil
}
