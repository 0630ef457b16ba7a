package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

var (
	// ErrInvalidConversationEvent marks a malformed inbound event. Such events are dropped.
	ErrInvalidConversationEvent = errors.New("invalid conversation event")
	// ErrDeliveryFailed marks a reply that could not be delivered to the platform.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrEmptyResponse is returned by send APIs when the platform answered with no body.
	ErrEmptyResponse = errors.New("empty response body")
	// ErrInvalidResponse is returned by send APIs when the platform body is not valid JSON.
	ErrInvalidResponse = errors.New("invalid response body")
)

// HTTPStatusError captures a non-2xx platform response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// HTTPStatusCode returns the response status code.
func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// DeliveryError reports a reply that the transport gave up on, either because the failure was
// terminal or because every attempt failed. Err is the last underlying cause.
type DeliveryError struct {
	Channel  ChannelType
	Target   string
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("send outbound failed after %d attempt(s) to %s:%s: %v", e.Attempts, e.Channel, e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDeliveryFailed) match any DeliveryError.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailed
}

// IsRetryable classifies a send failure. Network errors, empty or unparseable bodies and 5xx
// responses are transient; 4xx responses, cancellation and anything unrecognized are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrInvalidResponse) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
