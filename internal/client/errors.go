package client

import (
	"fmt"
	"time"
)

// TimeoutError reports that an upstream call exceeded its phase
// deadline.
type TimeoutError struct {
	Phase string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request timed out after %s", e.Phase, e.Limit)
}

// UpstreamError reports a non-2xx response from the model provider.
type UpstreamError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream returned %d %s: %s", e.Status, e.StatusText, e.Body)
	}
	return fmt.Sprintf("upstream returned %d %s", e.Status, e.StatusText)
}
