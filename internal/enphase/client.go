// Package enphase fetches interval energy data from the Enlighten v2 API.
// The stats endpoint returns at most one day of generation intervals per
// call; consumption_stats accepts up to one month.
package enphase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbenton/wattflume/internal/config"
	"github.com/mbenton/wattflume/internal/throttle"
	"github.com/mbenton/wattflume/internal/window"
	"github.com/mbenton/wattflume/pkg/models"
	"go.uber.org/zap"
)

// DefaultBaseURL is the Enlighten API root.
const DefaultBaseURL = "https://api.enphaseenergy.com"

// Interval is one vendor interval. Powr is only present on generation
// payloads.
type Interval struct {
	EndAt string   `json:"end_at"`
	EnWh  float64  `json:"enwh"`
	Powr  *float64 `json:"powr,omitempty"`
}

// Payload is the decoded intervals envelope for one fetch window.
type Payload struct {
	Intervals []Interval `json:"intervals"`
}

// Client issues one request per fetch window against the Enlighten API.
type Client struct {
	BaseURL    string
	APIKey     string
	UserID     string
	SiteID     string
	HTTPClient *http.Client
	Guard      *throttle.Guard
	Logger     *zap.Logger
}

// NewClient creates an Enphase client from config.
func NewClient(cfg config.EnphaseConfig, guard *throttle.Guard, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL:    DefaultBaseURL,
		APIKey:     cfg.APIKey,
		UserID:     cfg.UserID,
		SiteID:     cfg.SiteID,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Guard:      guard,
		Logger:     logger,
	}
}

// Fetch issues the request for one planned window. Generation windows hit
// the stats endpoint with only a start_at (the vendor caps stats at one day
// per call); consumption windows hit consumption_stats with both bounds.
func (c *Client) Fetch(ctx context.Context, w window.FetchWindow) (*Payload, error) {
	var endpoint string
	params := url.Values{}
	params.Set("key", c.APIKey)
	params.Set("user_id", c.UserID)
	params.Set("start_at", strconv.FormatInt(w.Start.Unix(), 10))
	params.Set("datetime_format", "iso8601")

	switch w.Kind {
	case models.KindGeneration:
		endpoint = "stats"
	case models.KindConsumption:
		endpoint = "consumption_stats"
		params.Set("end_at", strconv.FormatInt(w.End.Unix(), 10))
	default:
		return nil, fmt.Errorf("enphase cannot fetch %q windows", w.Kind)
	}

	reqURL := fmt.Sprintf("%s/api/v2/systems/%s/%s?%s", c.BaseURL, c.SiteID, endpoint, params.Encode())
	return c.fetch(ctx, reqURL)
}

// fetch issues the request, classifying each response and retrying once
// after a rate-limit cooldown. A second consecutive rate limit abandons the
// window.
func (c *Client) fetch(ctx context.Context, reqURL string) (*Payload, error) {
	var lastReason string
	for attempt := 1; attempt <= throttle.MaxAttemptsPerWindow; attempt++ {
		if err := c.Guard.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("making request: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading response body: %w", err)
		}

		decision := throttle.Classify(resp.StatusCode, body)
		switch decision.Outcome {
		case throttle.Ok:
			return decodePayload(body)
		case throttle.RateLimited:
			lastReason = decision.Reason
			c.Logger.Warn("enphase rate limited",
				zap.Int("attempt", attempt),
				zap.String("reason", decision.Reason))
			if attempt == throttle.MaxAttemptsPerWindow {
				return nil, &throttle.RateLimitError{Reason: lastReason}
			}
			if err := c.Guard.Backoff(ctx); err != nil {
				return nil, err
			}
		case throttle.Fatal:
			return nil, &throttle.FatalError{StatusCode: resp.StatusCode, Reason: decision.Reason}
		}
	}
	return nil, &throttle.RateLimitError{Reason: lastReason}
}

// decodePayload unmarshals the intervals envelope. A body without an
// intervals key at all is malformed; an empty intervals array is a valid
// no-data payload and is the caller's to judge.
func decodePayload(body []byte) (*Payload, error) {
	var probe struct {
		Intervals *[]Interval `json:"intervals"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, &throttle.FatalError{Reason: fmt.Sprintf("decoding intervals: %v", err)}
	}
	if probe.Intervals == nil {
		return nil, &throttle.FatalError{Reason: "response has no intervals field"}
	}
	return &Payload{Intervals: *probe.Intervals}, nil
}
