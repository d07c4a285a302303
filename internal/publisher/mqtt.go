package publisher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mbenton/wattflume/internal/config"
	"github.com/mbenton/wattflume/pkg/models"
)

// Publisher pushes stored interval records out to Home Assistant, over
// MQTT or the HTTP backfill API.
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	haConfig    config.HAConfig
}

// New creates a new publisher (supports both MQTT and HA HTTP API)
func New(mqttCfg config.MQTTConfig, haCfg config.HAConfig) (*Publisher, error) {
	// Validate HA config if enabled
	if haCfg.Enabled {
		if haCfg.URL == "" {
			return nil, fmt.Errorf("Home Assistant URL is required when enabled")
		}
		if haCfg.Token == "" {
			return nil, fmt.Errorf("Home Assistant token is required when enabled")
		}
	}

	var client mqtt.Client
	var topicPrefix string

	if mqttCfg.Enabled {
		if mqttCfg.Broker == "" {
			return nil, fmt.Errorf("MQTT broker address is required when enabled")
		}

		topicPrefix = mqttCfg.GetTopicPrefix()

		// Configure MQTT client options
		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", mqttCfg.Broker))
		opts.SetClientID("wattflume")
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(10 * time.Second)

		if mqttCfg.Username != "" {
			opts.SetUsername(mqttCfg.Username)
		}
		if mqttCfg.Password != "" {
			opts.SetPassword(mqttCfg.Password)
		}

		// Create and connect client
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
		}
	}

	return &Publisher{
		client:      client,
		topicPrefix: topicPrefix,
		haConfig:    haCfg,
	}, nil
}

// HAPayload matches the Home Assistant backfill service call data
type HAPayload struct {
	EntityID    string `json:"entity_id"`
	State       string `json:"state"`
	LastChanged string `json:"last_changed"`
	LastUpdated string `json:"last_updated"`
}

// mqttPayload is the record shape published to the broker.
type mqttPayload struct {
	Date  string  `json:"date"`
	Time  string  `json:"time"`
	Kind  string  `json:"kind"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Publish sends an interval record to each enabled transport.
func (p *Publisher) Publish(rec models.IntervalRecord) error {
	value, unit, err := recordValue(rec)
	if err != nil {
		return err
	}

	if p.client != nil {
		if err := p.publishMQTT(rec, value, unit); err != nil {
			return err
		}
	}
	if p.haConfig.Enabled {
		return p.publishHA(rec, value)
	}
	if p.client == nil {
		return fmt.Errorf("no publishing transport is enabled in config")
	}
	return nil
}

// publishMQTT pushes the record to <prefix>/<kind>.
func (p *Publisher) publishMQTT(rec models.IntervalRecord, value float64, unit string) error {
	body, err := json.Marshal(mqttPayload{
		Date:  rec.Date,
		Time:  rec.Time,
		Kind:  string(rec.Kind),
		Value: value,
		Unit:  unit,
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", p.topicPrefix, rec.Kind)
	if token := p.client.Publish(topic, 0, false, body); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// publishHA backfills the record's state via the Home Assistant HTTP API.
func (p *Publisher) publishHA(rec models.IntervalRecord, value float64) error {
	entityID := p.haConfig.EntityID(string(rec.Kind))
	if entityID == "" {
		return fmt.Errorf("no Home Assistant entity configured for %s records", rec.Kind)
	}

	// Build the full API URL (AppDaemon API endpoint)
	apiURL := fmt.Sprintf("%s/api/appdaemon/backfill_state", p.haConfig.URL)

	timestamp := rec.Date + "T" + rec.Time
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", rec.Date+" "+rec.Time, time.Local); err == nil {
		timestamp = t.Format(time.RFC3339)
	}

	payload := HAPayload{
		EntityID:    entityID,
		State:       fmt.Sprintf("%.2f", value),
		LastChanged: timestamp,
		LastUpdated: timestamp,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest("POST", apiURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.haConfig.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// recordValue picks the record's populated measurement and its unit.
func recordValue(rec models.IntervalRecord) (float64, string, error) {
	switch rec.Kind {
	case models.KindGeneration, models.KindConsumption:
		if rec.EnergyWh == nil {
			return 0, "", fmt.Errorf("%s record %s %s has no energy value", rec.Kind, rec.Date, rec.Time)
		}
		return *rec.EnergyWh, "Wh", nil
	case models.KindWater:
		if rec.Gallons == nil {
			return 0, "", fmt.Errorf("water record %s %s has no gallons value", rec.Date, rec.Time)
		}
		return *rec.Gallons, "gal", nil
	}
	return 0, "", fmt.Errorf("unknown record kind %q", rec.Kind)
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
