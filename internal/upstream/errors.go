package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// Kind classifies an outbound failure.
type Kind int

const (
	// KindInternal is anything that is neither of the other kinds.
	KindInternal Kind = iota
	// KindUnavailable means the AI service could not be reached in time:
	// connection refused, DNS failure, timeout, or the local throttle gave up.
	KindUnavailable
	// KindUpstream means the AI service answered with a non-2xx status.
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindUpstream:
		return "upstream_error"
	default:
		return "internal"
	}
}

// Error is returned by Client calls that did not produce a 2xx response.
type Error struct {
	Kind       Kind
	Capability string
	// Status and Body are set for KindUpstream.
	Status      int
	Body        []byte
	ContentType string
	Err         error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUpstream:
		return fmt.Sprintf("upstream %s: status %d", e.Capability, e.Status)
	default:
		return fmt.Sprintf("upstream %s: %s: %v", e.Capability, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindInternal
}

// IsUnavailable reports whether err means the AI service is unreachable.
func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }

// classify maps a transport-level error to a Kind.
func classify(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, errThrottled):
		return KindUnavailable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindUnavailable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindUnavailable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && strings.Contains(strings.ToLower(urlErr.Error()), "connection refused") {
		return KindUnavailable
	}
	return KindInternal
}
