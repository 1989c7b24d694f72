package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ConnectionError reports that the agent service could not be reached.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports that a request exceeded its client-side deadline.
// The request is abandoned and never retried.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
	}
	return fmt.Sprintf("request to %s timed out", e.URL)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// AuthenticationError reports missing, rejected or expired credentials.
// Expired is set when the service answered 401 to an authenticated call;
// the client has already dropped its token by then.
type AuthenticationError struct {
	StatusCode int
	Message    string
	Expired    bool
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Message
}

// PaymentRequiredError carries the billing data of a 402 answer.
type PaymentRequiredError struct {
	Message         string
	CurrentBalance  float64
	RequiredBalance float64
	PaymentURL      string
}

func (e *PaymentRequiredError) Error() string {
	msg := fmt.Sprintf("insufficient balance: %.2f available, %.2f required", e.CurrentBalance, e.RequiredBalance)
	if e.PaymentURL != "" {
		msg += " (top up at " + e.PaymentURL + ")"
	}
	return msg
}

// ClientError is any other non-2xx answer or an unexpected response shape.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("agent service error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return "agent service error: " + e.Message
}

// Outcome is the coarse result of an agent call.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeAuthExpired
	OutcomePaymentRequired
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeAuthExpired:
		return "auth_expired"
	case OutcomePaymentRequired:
		return "payment_required"
	default:
		return "failed"
	}
}

// Classify maps an error returned by Client to an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) && authErr.Expired {
		return OutcomeAuthExpired
	}
	var payErr *PaymentRequiredError
	if errors.As(err, &payErr) {
		return OutcomePaymentRequired
	}
	return OutcomeFailed
}

// FailureKind names the error class, using the same vocabulary as the
// health check result.
func FailureKind(err error) string {
	var (
		connErr    *ConnectionError
		timeoutErr *TimeoutError
		authErr    *AuthenticationError
		payErr     *PaymentRequiredError
		clientErr  *ClientError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &connErr):
		return "connection_error"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &authErr):
		return "authentication_error"
	case errors.As(err, &payErr):
		return "payment_required"
	case errors.As(err, &clientErr):
		return "client_error"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "request_error"
	}
}

// translateTransportError turns a failed Do or body read into the error
// taxonomy. Caller cancellation passes through unchanged.
func translateTransportError(url string, timeout time.Duration, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: url, Timeout: timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{URL: url, Timeout: timeout, Err: err}
	}
	return &ConnectionError{URL: url, Err: err}
}

// serverMessage extracts a human-readable message from an error body.
func serverMessage(body []byte, fallback string) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			switch v := parsed[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if msg, ok := v["message"].(string); ok && msg != "" {
					return msg
				}
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "{") {
		if len(text) > 300 {
			text = text[:300] + "..."
		}
		return text
	}
	return fallback
}

type paymentBody struct {
	Message         string  `json:"message"`
	CurrentBalance  float64 `json:"current_balance"`
	RequiredBalance float64 `json:"required_balance"`
	PaymentURL      string  `json:"payment_url"`
}

// parsePaymentRequired reads a 402 body. The billing fields may sit at the
// top level or under "detail".
func parsePaymentRequired(body []byte) *PaymentRequiredError {
	var flat paymentBody
	_ = json.Unmarshal(body, &flat)

	if flat.PaymentURL == "" && flat.RequiredBalance == 0 {
		var wrapped struct {
			Detail paymentBody `json:"detail"`
		}
		if json.Unmarshal(body, &wrapped) == nil {
			flat = wrapped.Detail
		}
	}

	msg := flat.Message
	if msg == "" {
		msg = http.StatusText(http.StatusPaymentRequired)
	}
	return &PaymentRequiredError{
		Message:         msg,
		CurrentBalance:  flat.CurrentBalance,
		RequiredBalance: flat.RequiredBalance,
		PaymentURL:      flat.PaymentURL,
	}
}
