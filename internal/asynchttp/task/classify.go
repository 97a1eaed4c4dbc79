package task

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"
	"os"

	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/model"
)

// errTooLarge is the sentinel the reactor raises when a response body
// exceeds max_response_size while streaming (spec.md §4.3 step g).
var errTooLarge = errors.New("asynchttp: response body exceeds max_response_size")

// ErrResponseTooLarge is the exported sentinel for response-size
// enforcement, shared with the reactor package.
var ErrResponseTooLarge = errTooLarge

// Classify maps a raised condition to a *model.TransportError following
// the rule table in spec.md §4.7. Already-classified ErrorValue causes
// (e.g. a RedirectError built by the reactor) pass through unchanged.
func Classify(cause error, t *Task) error {
	if cause == nil {
		return nil
	}
	switch cause.(type) {
	case *model.TransportError, *model.HTTPError, *model.RedirectError:
		return cause
	}

	duration, _ := t.Duration()
	kind := classifyKind(cause)
	return model.NewTransportError(
		kind,
		t.request.URL(),
		t.request.Method(),
		t.id,
		duration,
		t.callbackArgs,
		className(cause),
		cause.Error(),
		"",
	)
}

func classifyKind(cause error) model.TransportKind {
	if errors.Is(cause, errTooLarge) {
		return model.TransportResponseTooLarge
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return model.TransportTimeout
	}
	var netErr net.Error
	if errors.As(cause, &netErr) && netErr.Timeout() {
		return model.TransportTimeout
	}
	var tlsErr *tls.CertificateVerificationError
	if errors.As(cause, &tlsErr) {
		return model.TransportSSL
	}
	var urlErr *url.Error
	if errors.As(cause, &urlErr) {
		return classifyKind(urlErr.Err)
	}
	var opErr *net.OpError
	if errors.As(cause, &opErr) {
		return model.TransportConnection
	}
	if errors.Is(cause, os.ErrDeadlineExceeded) {
		return model.TransportTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(cause, &dnsErr) {
		return model.TransportConnection
	}
	return model.TransportUnknown
}

func className(cause error) string {
	switch cause.(type) {
	case *net.OpError:
		return "ConnectionError"
	case *net.DNSError:
		return "ConnectionError"
	case *tls.CertificateVerificationError:
		return "SSLError"
	default:
		return "TransportError"
	}
}
