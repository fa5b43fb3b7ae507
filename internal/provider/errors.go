package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// AuthError marks a credential failure (401/403). Never retried; the
// turn fails immediately with a configuration-level message.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("provider authentication failed (HTTP %d): %s", e.Status, e.Message)
}

// TransientError marks a retryable failure (429, 5xx, network).
// RetryAfter is non-zero when the provider sent a Retry-After hint.
type TransientError struct {
	Status     int
	RetryAfter time.Duration
	Message    string
}

func (e *TransientError) Error() string {
	if e.Status == 0 {
		return "transient provider error: " + e.Message
	}
	return fmt.Sprintf("transient provider error (HTTP %d): %s", e.Status, e.Message)
}

// classifyError maps SDK errors onto AuthError / TransientError.
// Anything unclassified passes through unchanged and is not retried.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return &AuthError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return &TransientError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
		return err
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.HTTPStatusCode == 401 || reqErr.HTTPStatusCode == 403:
			return &AuthError{Status: reqErr.HTTPStatusCode, Message: reqErr.Error()}
		case reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500:
			return &TransientError{Status: reqErr.HTTPStatusCode, Message: reqErr.Error()}
		}
		return err
	}

	// Transport-level failures never carry an HTTP status: a refused
	// connect, a reset mid-handshake, or a DNS miss surface from the SDK
	// as a raw *url.Error or net.Error. Cancellation stays unclassified;
	// the caller asked for it.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &TransientError{Message: urlErr.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Message: netErr.Error()}
	}
	return err
}

// retryable reports whether err should be retried with backoff.
func retryable(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
