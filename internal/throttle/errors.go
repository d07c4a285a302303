package throttle

import "fmt"

// RateLimitError reports a window abandoned after exhausting the allowed
// rate-limit retries.
type RateLimitError struct {
	Reason string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s", e.Reason)
}

// FatalError reports an unrecoverable vendor response: unexpected status,
// malformed body, or a missing expected field. Never retried.
type FatalError struct {
	StatusCode int
	Reason     string
}

func (e *FatalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fatal vendor response (status %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("fatal vendor response: %s", e.Reason)
}
