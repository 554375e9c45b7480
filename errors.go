package adaptq

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrNoHandler is returned by Mux when no processor is registered for a job type.
var ErrNoHandler = errors.New("adaptq: no handler for job type")

// ErrQueueClosed is reported when work is submitted to a closed queue.
var ErrQueueClosed = errors.New("adaptq: queue closed")

// ErrUnknownState is returned when an invalid job state is parsed.
var ErrUnknownState = errors.New("adaptq: unknown state")

// ErrCircuitOpen matches every *CircuitOpenError via errors.Is.
var ErrCircuitOpen = errors.New("adaptq: circuit open")

// Kind classifies a failure. Retryability is a property of the kind.
type Kind string

const (
	KindUnknown        Kind = "unknown"
	KindNetwork        Kind = "network"
	KindTimeout        Kind = "timeout"
	KindRateLimited    Kind = "rate_limited"
	KindAuthentication Kind = "authentication"
	KindServerError    Kind = "server_error"
	KindClientError    Kind = "client_error"
	KindCancelled      Kind = "cancelled"
	KindValidation     Kind = "validation"
	KindCircuitOpen    Kind = "circuit_open"
)

// String returns the raw string value of the kind.
func (k Kind) String() string { return string(k) }

// Retryable reports whether failures of this kind are worth another attempt.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimited, KindServerError, KindCircuitOpen:
		return true
	default:
		return false
	}
}

// Error is a classified failure. It wraps the underlying cause(s) so that
// errors.Is and errors.As keep working through it.
type Error struct {
	Kind Kind
	// Message is a human readable description. When empty the first wrapped
	// error's text is used.
	Message string
	// StatusCode is the HTTP status that produced the error, if any.
	StatusCode int
	// RetryAfter is the delay requested by the upstream (rate limiting).
	RetryAfter time.Duration

	errs []error
}

// NewError creates a classified error with a message.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap classifies err with an explicit kind. It returns nil for a nil err.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, errs: []error{err}}
}

// RateLimitedError creates a RateLimited error carrying a retry-after hint.
func RateLimitedError(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: msg, RetryAfter: retryAfter}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		for _, err := range e.errs {
			if err != nil {
				msg = err.Error()
				break
			}
		}
	}
	if msg == "" {
		msg = "operation failed"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return string(e.Kind) + ": " + msg
}

// Unwrap exposes the wrapped causes.
func (e *Error) Unwrap() []error { return e.errs }

// Retryable reports whether the error's kind is retryable.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// CircuitOpenError is returned by a Breaker that rejects a call without
// running it.
type CircuitOpenError struct {
	Name      string
	Remaining time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("adaptq: circuit %q open, retry in %s", e.Name, e.Remaining.Round(time.Millisecond))
}

// Is makes errors.Is(err, ErrCircuitOpen) true.
func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// messagePatterns is the last resort for errors that carry no type
// information, e.g. errors reconstructed from remote responses.
var messagePatterns = []struct {
	kind     Kind
	patterns []string
}{
	{KindRateLimited, []string{"rate limit", "too many requests", "quota exceeded"}},
	{KindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{KindNetwork, []string{"connection refused", "connection reset", "no such host", "network is unreachable", "broken pipe"}},
	{KindAuthentication, []string{"unauthorized", "forbidden", "invalid api key"}},
}

// Classify maps any error into the taxonomy. It returns the empty Kind for nil.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var co *CircuitOpenError
	if errors.As(err, &co) {
		return KindCircuitOpen
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrNoHandler):
		return KindValidation
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	if isNetworkError(err) {
		return KindNetwork
	}

	var syn *json.SyntaxError
	var ute *json.UnmarshalTypeError
	if errors.As(err, &syn) || errors.As(err, &ute) {
		return KindValidation
	}

	return classifyMessage(err.Error())
}

func isNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var dnsErr *net.DNSError
	var opErr *net.OpError
	var urlErr *url.Error
	var certErr *tls.CertificateVerificationError
	var authErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	return errors.As(err, &dnsErr) || errors.As(err, &opErr) || errors.As(err, &certErr) ||
		errors.As(err, &authErr) || errors.As(err, &hostErr) || errors.As(err, &urlErr)
}

func classifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, p := range messagePatterns {
		for _, s := range p.patterns {
			if strings.Contains(lower, s) {
				return p.kind
			}
		}
	}
	return KindUnknown
}

// IsRetryable is the single retryability predicate shared by Retry, the
// Queue retry path and breaker filters.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable()
}

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool {
	return err != nil && Classify(err) == KindCancelled
}

// RetryAfter returns the upstream-requested delay carried by err, or 0.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter
	}
	var co *CircuitOpenError
	if errors.As(err, &co) {
		return co.Remaining
	}
	return 0
}

// AsError returns err as a classified *Error, wrapping it when needed.
// It returns nil for a nil err.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: Classify(err), RetryAfter: RetryAfter(err), errs: []error{err}}
}

func cancelledError(cause error, last error) *Error {
	errs := []error{cause}
	if last != nil {
		errs = append(errs, last)
	}
	return &Error{Kind: KindCancelled, Message: "operation cancelled", errs: errs}
}
