// Package flume fetches per-minute water usage from the Flume API. Every
// query runs against the account's bridge device, which is discovered from
// the device list before the first query.
package flume

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbenton/wattflume/internal/config"
	"github.com/mbenton/wattflume/internal/credentials"
	"github.com/mbenton/wattflume/internal/throttle"
	"github.com/mbenton/wattflume/internal/window"
	"go.uber.org/zap"
)

// DefaultBaseURL is the Flume API root.
const DefaultBaseURL = "https://api.flumetech.com"

// BridgeDeviceType marks the Flume bridge unit in the device list. Queries
// only work against the bridge's id.
const BridgeDeviceType = 2

// queryRequestID names the single query in each request envelope and keys
// its results in the response.
const queryRequestID = "perminute"

const datetimeLayout = "2006-01-02 15:04:05"

// Query is one entry of a /query request body.
type Query struct {
	RequestID       string `json:"request_id"`
	Bucket          string `json:"bucket"`
	SinceDatetime   string `json:"since_datetime"`
	UntilDatetime   string `json:"until_datetime"`
	GroupMultiplier string `json:"group_multiplier"`
	Operation       string `json:"operation,omitempty"`
	SortDirection   string `json:"sort_direction"`
	Units           string `json:"units"`
}

type queryEnvelope struct {
	Queries []Query `json:"queries"`
}

// Sample is one per-minute usage bucket from a query response.
type Sample struct {
	Datetime string  `json:"datetime"`
	Value    float64 `json:"value"`
}

// Device is one entry of the account device list.
type Device struct {
	ID   json.Number `json:"id"`
	Type int         `json:"type"`
}

type envelope struct {
	HTTPCode int               `json:"http_code"`
	Message  string            `json:"message"`
	Data     []json.RawMessage `json:"data"`
}

// Client issues water usage queries, refreshing credentials through the
// store once on an auth failure.
type Client struct {
	BaseURL    string
	Store      *credentials.Store
	Config     config.FlumeConfig
	HTTPClient *http.Client
	Guard      *throttle.Guard
	Logger     *zap.Logger

	deviceID string
}

// NewClient creates a Flume client. The credential store is used for the
// single re-obtain on auth failure.
func NewClient(cfg config.FlumeConfig, store *credentials.Store, guard *throttle.Guard, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL:    DefaultBaseURL,
		Store:      store,
		Config:     cfg,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Guard:      guard,
		Logger:     logger,
	}
}

// Devices lists the account's devices.
func (c *Client) Devices(ctx context.Context, cred *credentials.Credential) ([]Device, *credentials.Credential, error) {
	reqURL := fmt.Sprintf("%s/users/%s/devices", c.BaseURL, cred.UserID)
	body, cred, err := c.do(ctx, cred, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, cred, err
	}

	var env struct {
		Data []Device `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, cred, &throttle.FatalError{Reason: fmt.Sprintf("decoding device list: %v", err)}
	}
	return env.Data, cred, nil
}

// BridgeDevice discovers the bridge device id and caches it for later
// queries.
func (c *Client) BridgeDevice(ctx context.Context, cred *credentials.Credential) (string, *credentials.Credential, error) {
	if c.deviceID != "" {
		return c.deviceID, cred, nil
	}

	devices, cred, err := c.Devices(ctx, cred)
	if err != nil {
		return "", cred, err
	}
	for _, d := range devices {
		if d.Type == BridgeDeviceType {
			c.deviceID = d.ID.String()
			c.Logger.Debug("found bridge device", zap.String("device_id", c.deviceID))
			return c.deviceID, cred, nil
		}
	}
	return "", cred, &throttle.FatalError{Reason: "no bridge device on account"}
}

// FetchWindow runs one per-minute query over the window, clamping the span
// to the vendor ceiling. Rate limiting gets one cooldown-and-retry; a
// second rate limit abandons the window.
func (c *Client) FetchWindow(ctx context.Context, cred *credentials.Credential, w window.FetchWindow) ([]Sample, *credentials.Credential, error) {
	deviceID, cred, err := c.BridgeDevice(ctx, cred)
	if err != nil {
		return nil, cred, err
	}

	q := Query{
		RequestID:       queryRequestID,
		Bucket:          "MIN",
		SinceDatetime:   w.Start.Format(datetimeLayout),
		UntilDatetime:   untilString(w),
		GroupMultiplier: "1",
		SortDirection:   "ASC",
		Units:           "GALLONS",
	}
	return c.query(ctx, cred, deviceID, q)
}

// FetchDay fetches the AM and PM halves of one day and concatenates their
// samples. If exactly one half is rate limited the other half's samples
// are kept and the day is reported degraded; both halves rate limited
// abandons the day.
func (c *Client) FetchDay(ctx context.Context, cred *credentials.Credential, am, pm window.FetchWindow) ([]Sample, *credentials.Credential, bool, error) {
	amSamples, cred, amErr := c.FetchWindow(ctx, cred, am)
	if amErr != nil && !isRateLimit(amErr) {
		return nil, cred, false, amErr
	}

	pmSamples, cred, pmErr := c.FetchWindow(ctx, cred, pm)
	if pmErr != nil && !isRateLimit(pmErr) {
		return nil, cred, false, pmErr
	}

	switch {
	case amErr != nil && pmErr != nil:
		return nil, cred, false, amErr
	case amErr != nil:
		c.Logger.Warn("dropping rate-limited AM half", zap.Time("day", am.Start))
		return pmSamples, cred, true, nil
	case pmErr != nil:
		c.Logger.Warn("dropping rate-limited PM half", zap.Time("day", am.Start))
		return amSamples, cred, true, nil
	}
	return append(amSamples, pmSamples...), cred, false, nil
}

// FetchLastMinute queries usage for the most recent minute, summed.
func (c *Client) FetchLastMinute(ctx context.Context, cred *credentials.Credential) (float64, *credentials.Credential, error) {
	deviceID, cred, err := c.BridgeDevice(ctx, cred)
	if err != nil {
		return 0, cred, err
	}

	now := time.Now()
	q := Query{
		RequestID:       queryRequestID,
		Bucket:          "MIN",
		SinceDatetime:   now.Add(-time.Minute).Format(datetimeLayout),
		UntilDatetime:   now.Format(datetimeLayout),
		GroupMultiplier: "1",
		Operation:       "SUM",
		SortDirection:   "ASC",
		Units:           "GALLONS",
	}
	samples, cred, err := c.query(ctx, cred, deviceID, q)
	if err != nil {
		return 0, cred, err
	}
	if len(samples) == 0 {
		return 0, cred, nil
	}
	return samples[0].Value, cred, nil
}

// query posts one query envelope and unwraps its samples.
func (c *Client) query(ctx context.Context, cred *credentials.Credential, deviceID string, q Query) ([]Sample, *credentials.Credential, error) {
	payload, err := json.Marshal(queryEnvelope{Queries: []Query{q}})
	if err != nil {
		return nil, cred, fmt.Errorf("encoding query: %w", err)
	}

	reqURL := fmt.Sprintf("%s/users/%s/devices/%s/query", c.BaseURL, cred.UserID, deviceID)

	var lastReason string
	for attempt := 1; attempt <= throttle.MaxAttemptsPerWindow; attempt++ {
		body, freshCred, err := c.do(ctx, cred, http.MethodPost, reqURL, payload)
		cred = freshCred
		if err != nil {
			var rl *throttle.RateLimitError
			if errors.As(err, &rl) {
				lastReason = rl.Reason
				if attempt == throttle.MaxAttemptsPerWindow {
					return nil, cred, err
				}
				if err := c.Guard.Backoff(ctx); err != nil {
					return nil, cred, err
				}
				continue
			}
			return nil, cred, err
		}

		samples, err := decodeSamples(body)
		return samples, cred, err
	}
	return nil, cred, &throttle.RateLimitError{Reason: lastReason}
}

// do issues one paced request with the bearer token, classifying the
// response. An auth failure triggers a single credential re-obtain and
// retries the request once with the fresh token.
func (c *Client) do(ctx context.Context, cred *credentials.Credential, method, reqURL string, payload []byte) ([]byte, *credentials.Credential, error) {
	body, status, err := c.once(ctx, cred, method, reqURL, payload)
	if err != nil {
		return nil, cred, err
	}

	if isAuthFailure(status, body) {
		c.Logger.Info("auth failure, re-obtaining credentials")
		fresh, err := c.Store.Obtain(ctx, c.Config.ClientID, c.Config.ClientSecret, c.Config.Username, c.Config.Password)
		if err != nil {
			return nil, cred, err
		}
		cred = fresh

		body, status, err = c.once(ctx, cred, method, reqURL, payload)
		if err != nil {
			return nil, cred, err
		}
		if isAuthFailure(status, body) {
			return nil, cred, &credentials.AuthError{StatusCode: status, Message: "request unauthorized after credential refresh"}
		}
	}

	decision := throttle.Classify(status, body)
	switch decision.Outcome {
	case throttle.RateLimited:
		return nil, cred, &throttle.RateLimitError{Reason: decision.Reason}
	case throttle.Fatal:
		return nil, cred, &throttle.FatalError{StatusCode: status, Reason: decision.Reason}
	}
	return body, cred, nil
}

// once performs a single HTTP round trip under the guard's pacing.
func (c *Client) once(ctx context.Context, cred *credentials.Credential, method, reqURL string, payload []byte) ([]byte, int, error) {
	if err := c.Guard.Wait(ctx); err != nil {
		return nil, 0, err
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// decodeSamples unwraps data[0][request_id] from a query response body.
func decodeSamples(body []byte) ([]Sample, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &throttle.FatalError{Reason: fmt.Sprintf("decoding query response: %v", err)}
	}
	if len(env.Data) == 0 {
		return nil, &throttle.FatalError{Reason: "query response has no data"}
	}

	var result map[string][]Sample
	if err := json.Unmarshal(env.Data[0], &result); err != nil {
		return nil, &throttle.FatalError{Reason: fmt.Sprintf("decoding query result: %v", err)}
	}
	samples, ok := result[queryRequestID]
	if !ok {
		return nil, &throttle.FatalError{Reason: fmt.Sprintf("query response missing %q result", queryRequestID)}
	}
	return samples, nil
}

// untilString formats a window end for the vendor. The vendor accepts the
// literal "24:00:00" for end-of-day, which is how the PM half-day window's
// midnight bound must be spelled.
func untilString(w window.FetchWindow) string {
	end := window.ClampSpan(w.Start, w.End)
	midnight := time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day(), 0, 0, 0, 0, w.Start.Location()).AddDate(0, 0, 1)
	if end.Equal(midnight) {
		return w.Start.Format("2006-01-02") + " 24:00:00"
	}
	return end.Format(datetimeLayout)
}

// isAuthFailure reports a 401 from either the HTTP status or the vendor's
// in-body envelope code.
func isAuthFailure(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	if status != http.StatusOK {
		return false
	}
	var probe struct {
		HTTPCode int `json:"http_code"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.HTTPCode == http.StatusUnauthorized
}

func isRateLimit(err error) bool {
	var rl *throttle.RateLimitError
	return errors.As(err, &rl)
}
