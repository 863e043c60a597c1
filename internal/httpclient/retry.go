package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// Retriable reports whether the status is a server-side failure.
func (e *StatusError) Retriable() bool {
	return e.StatusCode >= 500 && e.StatusCode <= 599
}

// IsRetriable reports whether err is a transient condition worth another
// attempt: connection failures, timeouts, truncated bodies and 5xx responses.
// Client errors such as 404 are permanent.
func IsRetriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retriable()
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	return false
}
