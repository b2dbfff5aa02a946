package telegram

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryError is a failed Bot API call: a transport failure or an ok=false reply.
type DeliveryError struct {
	Method      string
	StatusCode  int
	Code        int
	Description string
	RetryAfter  time.Duration
	Err         error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telegram %s failed: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("telegram %s failed (%d): %s", e.Method, e.Code, e.Description)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Kind classifies the failure.
func (e *DeliveryError) Kind() string {
	if e.Err != nil && e.Code == 0 {
		return "transport"
	}
	switch e.Code {
	case 401:
		return "auth_failed"
	case 400:
		if strings.Contains(e.Description, "chat not found") {
			return "chat_not_found"
		}
		return "bad_request"
	case 403:
		return "forbidden"
	case 429:
		return "rate_limited"
	}
	if e.Code >= 500 || e.StatusCode >= 500 {
		return "server_error"
	}
	return "unknown"
}

// Transient reports whether the same call may succeed later.
func (e *DeliveryError) Transient() bool {
	switch e.Kind() {
	case "transport", "rate_limited", "server_error":
		return true
	}
	return false
}
