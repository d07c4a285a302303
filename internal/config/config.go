package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Enphase       EnphaseConfig `yaml:"enphase,omitempty"`
	Flume         FlumeConfig   `yaml:"flume,omitempty"`
	MQTT          MQTTConfig    `yaml:"mqtt,omitempty"`
	HomeAssistant HAConfig      `yaml:"home_assistant,omitempty"`
	DumpDir       string        `yaml:"dump_dir,omitempty"` // Raw vendor payloads are written here when set
}

// EnphaseConfig holds Enlighten API access settings
type EnphaseConfig struct {
	APIKey string `yaml:"api_key"`
	UserID string `yaml:"user_id"`
	SiteID string `yaml:"site_id"`
}

// FlumeConfig holds Flume OAuth client settings
type FlumeConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	TokenFile    string `yaml:"token_file,omitempty"` // default is ./flume.token
}

// MQTTConfig holds MQTT broker settings for publishing records
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"` // default is "wattflume"
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`   // e.g., "http://yourdomain.local:5050"
	Token          string `yaml:"token"` // Long-lived access token
	EnergyEntityID string `yaml:"energy_entity_id,omitempty"`
	WaterEntityID  string `yaml:"water_entity_id,omitempty"`
}

// Load reads the config file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// GetTokenFile returns the Flume token file path with a default of ./flume.token
func (c *Config) GetTokenFile() string {
	if c.Flume.TokenFile != "" {
		return c.Flume.TokenFile
	}
	return "flume.token"
}

// GetTopicPrefix returns the MQTT topic prefix with a default of "wattflume"
func (c *MQTTConfig) GetTopicPrefix() string {
	if c.TopicPrefix != "" {
		return c.TopicPrefix
	}
	return "wattflume"
}

// EntityID returns the Home Assistant entity for the given data kind,
// or "" when none is configured.
func (c *HAConfig) EntityID(kind string) string {
	switch kind {
	case "water":
		return c.WaterEntityID
	default:
		return c.EnergyEntityID
	}
}
