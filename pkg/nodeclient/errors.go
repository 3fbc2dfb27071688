package nodeclient

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError wraps a network-layer failure (timeout, connection refused,
// dns). The client already retried; callers record and move on.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("node %s: transient network error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// HTTPError is a 4xx/5xx response from a node. Never retried; status and a
// body snippet are preserved for the caller.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("node %s: http %d: %s", e.Op, e.StatusCode, e.Body)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// isNetworkError classifies retryable transport failures. HTTP status
// responses never reach here (resty returns them as responses, not errors).
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

const bodySnippetLimit = 512

func bodySnippet(body []byte) string {
	if len(body) > bodySnippetLimit {
		return string(body[:bodySnippetLimit])
	}
	return string(body)
}
