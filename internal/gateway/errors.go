package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies a gateway failure for the propagation policy:
// read-state mutations swallow, bookmark mutations compensate, refresh and
// sync errors surface as non-blocking notifications.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindServer
	KindValidation
	KindNotFound
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// APIError is a classified gateway failure. RetryAfter is set only for
// rate-limited responses that carried a hint.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s error (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway %s error: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// KindOf extracts the ErrorKind from err, or KindUnknown when err is not a
// gateway error.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

func networkError(err error) *APIError {
	return &APIError{Kind: KindNetwork, Message: err.Error(), cause: err}
}

func statusError(resp *http.Response, message string) *APIError {
	e := &APIError{StatusCode: resp.StatusCode, Message: message}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		e.Kind = KindNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = retryAfterHint(resp)
	case resp.StatusCode >= 500:
		e.Kind = KindServer
	case resp.StatusCode >= 400:
		e.Kind = KindValidation
	default:
		e.Kind = KindUnknown
	}
	return e
}

func retryAfterHint(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}
