package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var generateStatsKind string

var generateStatsCmd = &cobra.Command{
	Use:   "generate-stats",
	Short: "Generate statistics in Home Assistant from backfilled states",
	Long:  `Calls the AppDaemon endpoint to compile statistics from backfilled interval states. Run this after publishing to populate the Energy dashboard.`,
	RunE:  runGenerateStats,
}

func init() {
	generateStatsCmd.Flags().StringVar(&generateStatsKind, "kind", "generation", "Kind whose entity to compile (generation, consumption, or water)")
	rootCmd.AddCommand(generateStatsCmd)
}

func runGenerateStats(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Generate Statistics started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.HomeAssistant.Enabled {
		return fmt.Errorf("Home Assistant is not enabled in config")
	}
	entityID := cfg.HomeAssistant.EntityID(generateStatsKind)
	if entityID == "" {
		return fmt.Errorf("no Home Assistant entity configured for %s", generateStatsKind)
	}

	apiURL := fmt.Sprintf("%s/api/appdaemon/generate_statistics", cfg.HomeAssistant.URL)

	payload := map[string]string{
		"entity_id": entityID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	client := &http.Client{Timeout: 60 * time.Second} // Longer timeout for statistics generation
	req, err := http.NewRequest("POST", apiURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+cfg.HomeAssistant.Token)
	req.Header.Set("Content-Type", "application/json")

	fmt.Printf("Generating statistics for %s...\n", entityID)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("✓ Statistics generated successfully\n")
	if inserted, ok := result["inserted"].(float64); ok {
		fmt.Printf("  - Inserted: %d new statistics records\n", int(inserted))
	}
	if updated, ok := result["updated"].(float64); ok {
		fmt.Printf("  - Updated: %d existing statistics records\n", int(updated))
	}

	return nil
}
