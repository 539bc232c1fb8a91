package proxy

import (
	"context"
	"errors"
	"fmt"

	"chat-relay/metrics"
)

var (
	// ErrEmptyStream means the upstream connection succeeded but produced no tokens
	ErrEmptyStream = errors.New("upstream stream produced no tokens")
	// ErrUpstreamTimeout means the upstream did not finish within the turn timeout
	ErrUpstreamTimeout = errors.New("upstream request timed out")
	// ErrNoEndpoint means no upstream endpoint is configured
	ErrNoEndpoint = errors.New("no upstream endpoint configured")
)

// UpstreamStatusError is returned when the upstream answers with a non-2xx status
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// UpstreamEventError carries the message of an upstream error envelope
type UpstreamEventError struct {
	Message string
}

func (e *UpstreamEventError) Error() string {
	return "upstream error: " + e.Message
}

// clientMessage is the text sent in the outbound error event. Each failure
// class gets its own wording so clients can tell them apart.
func clientMessage(err error) string {
	var statusErr *UpstreamStatusError
	var eventErr *UpstreamEventError
	switch {
	case errors.Is(err, ErrEmptyStream):
		return "No data received from upstream"
	case errors.Is(err, ErrUpstreamTimeout):
		return "Upstream request timed out"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("Upstream returned status %d", statusErr.StatusCode)
	case errors.As(err, &eventErr):
		return eventErr.Error()
	case errors.Is(err, context.Canceled):
		return "Request canceled"
	default:
		return "Upstream unavailable"
	}
}

// outcome maps a turn error to its metrics label
func outcome(err error) string {
	var statusErr *UpstreamStatusError
	var eventErr *UpstreamEventError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrEmptyStream):
		return metrics.OutcomeEmpty
	case errors.Is(err, ErrUpstreamTimeout):
		return metrics.OutcomeTimeout
	case errors.As(err, &statusErr), errors.As(err, &eventErr):
		return metrics.OutcomeUpstream
	case errors.Is(err, context.Canceled):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeUnavailable
	}
}
