// Package throttle classifies vendor API responses and paces requests to
// stay under the documented request budget (roughly 10 calls per minute).
package throttle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Outcome is the classification of a single vendor response.
type Outcome int

const (
	Ok Outcome = iota
	RateLimited
	Fatal
)

// MaxAttemptsPerWindow bounds retries after rate limiting: the original
// request plus one retry. A second consecutive rate limit abandons the
// window so total wait time stays bounded.
const MaxAttemptsPerWindow = 2

// Decision is the per-response verdict handed back to the calling client.
// Produced per HTTP response and consumed immediately, never persisted.
type Decision struct {
	Outcome Outcome
	Reason  string
}

// Classify maps an HTTP status and body onto a Decision. It is a pure
// function: identical inputs always yield the identical decision.
//
// HTTP 429 is a rate limit. A 200 whose body carries the vendor's in-body
// throttle marker (a "reason" field, or an envelope http_code of 429) is
// also a rate limit. A 200 with a parseable body is Ok; everything else is
// fatal.
func Classify(statusCode int, body []byte) Decision {
	if statusCode == http.StatusTooManyRequests {
		return Decision{Outcome: RateLimited, Reason: "HTTP 429"}
	}
	if statusCode != http.StatusOK {
		return Decision{Outcome: Fatal, Reason: fmt.Sprintf("HTTP %d", statusCode)}
	}

	var probe struct {
		Reason   string `json:"reason"`
		HTTPCode int    `json:"http_code"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return Decision{Outcome: Fatal, Reason: "unparseable response body"}
	}

	if probe.Reason != "" {
		return Decision{Outcome: RateLimited, Reason: probe.Reason}
	}
	switch probe.HTTPCode {
	case 0, http.StatusOK:
		return Decision{Outcome: Ok}
	case http.StatusTooManyRequests:
		return Decision{Outcome: RateLimited, Reason: "http_code 429"}
	default:
		reason := probe.Message
		if reason == "" {
			reason = fmt.Sprintf("http_code %d", probe.HTTPCode)
		}
		return Decision{Outcome: Fatal, Reason: reason}
	}
}

// Guard paces outgoing requests. Wait enforces the minimum spacing between
// consecutive calls; Backoff sits out the full cooldown after an explicit
// rate-limit signal. Both block cooperatively and honor cancellation.
type Guard struct {
	MinSpacing time.Duration
	Cooldown   time.Duration

	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	last   time.Time
}

// NewGuard creates a Guard with the vendor-documented pacing: 6 second
// minimum spacing, 60 second cooldown after a rate-limit signal.
func NewGuard(logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		MinSpacing: 6 * time.Second,
		Cooldown:   60 * time.Second,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Wait blocks until the minimum spacing since the previous request has
// elapsed, then stamps the request time.
func (g *Guard) Wait(ctx context.Context) error {
	if !g.last.IsZero() {
		if remaining := g.MinSpacing - time.Since(g.last); remaining > 0 {
			if err := g.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
	g.last = time.Now()
	return nil
}

// Backoff sits out the cooldown after an explicit rate-limit signal.
func (g *Guard) Backoff(ctx context.Context) error {
	g.logger.Warn("rate limited, backing off", zap.Duration("cooldown", g.Cooldown))
	if err := g.sleep(ctx, g.Cooldown); err != nil {
		return err
	}
	g.last = time.Now()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
