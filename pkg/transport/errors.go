package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind classifies a transport failure.
type Kind string

const (
	// KindTimeout covers deadline-style failures: connect, header read,
	// or the total request timeout.
	KindTimeout Kind = "timeout"

	// KindConnectionRefused means the remote endpoint actively refused
	// the connection.
	KindConnectionRefused Kind = "connection_refused"

	// KindTLS covers certificate verification and handshake failures.
	KindTLS Kind = "tls"

	// KindHTTPStatus means the server answered with an error status.
	KindHTTPStatus Kind = "http_status"

	// KindDecode means the response body could not be read or parsed.
	KindDecode Kind = "decode"

	// KindNetwork covers remaining connectivity failures (DNS, resets).
	KindNetwork Kind = "network"
)

// Error is a classified transport failure.
type Error struct {
	Kind       Kind
	StatusCode int // set for KindHTTPStatus
	URL        string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("transport: %s returned status %d", e.URL, e.StatusCode)
	case KindTLS:
		return fmt.Sprintf("transport: TLS verification failed for %s (set request.verify_ssl=false to skip verification): %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("transport: %s error for %s: %v", e.Kind, e.URL, e.Err)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retriable reports whether the error is transient under the given
// retriable status set. Timeouts are always transient.
func (e *Error) Retriable(statuses map[int]bool) bool {
	switch e.Kind {
	case KindTimeout:
		return true
	case KindHTTPStatus:
		return statuses[e.StatusCode]
	default:
		return false
	}
}

// classify maps a raw request error onto the transport taxonomy.
func classify(err error, url string) *Error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &Error{Kind: KindConnectionRefused, URL: url, Err: err}
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuth) || errors.As(err, &hostnameErr) {
		return &Error{Kind: KindTLS, URL: url, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}

	return &Error{Kind: KindNetwork, URL: url, Err: err}
}

func statusError(url string, code int) *Error {
	return &Error{Kind: KindHTTPStatus, StatusCode: code, URL: url}
}
