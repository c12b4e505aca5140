package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"regexp"
	"syscall"
)

var (
	// ErrValidation marks descriptors rejected before any network I/O.
	ErrValidation = errors.New("invalid request descriptor")
	// ErrClientCanceled is returned when the caller aborted the relay call.
	ErrClientCanceled = errors.New("client closed request")
	// ErrFatalTransport wraps send failures that are not retried.
	ErrFatalTransport = errors.New("upstream request failed")

	errBuildRequest = errors.New("build upstream request")
)

// ValidationError carries the caller-facing reason a descriptor was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type failureClass int

const (
	failureFatal failureClass = iota
	failureTransient
	failureCanceled
)

// classify decides what a failed attempt means for the send pipeline. Any
// failure after the caller's context is done counts as cancellation.
func classify(callerCtx context.Context, err error) failureClass {
	if callerCtx.Err() != nil {
		return failureCanceled
	}
	if errors.Is(err, errBuildRequest) {
		return failureFatal
	}
	if isTransient(err) {
		return failureTransient
	}
	return failureFatal
}

// isTransient reports whether err is a connection-level failure worth one
// retry on the other egress route. HTTP status codes never reach here.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}

	var (
		opErr      *net.OpError
		dnsErr     *net.DNSError
		errno      syscall.Errno
		recordErr  tls.RecordHeaderError
		verifyErr  *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) || errors.As(err, &errno) ||
		errors.As(err, &recordErr) || errors.As(err, &verifyErr) ||
		errors.As(err, &unknownCA) || errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// credentialPattern matches userinfo in URLs, e.g. a proxy address in a dial error.
var credentialPattern = regexp.MustCompile(`(://[^/@\s":]+:)[^/@\s"]+@`)

// SanitizeError redacts URL credentials from error messages before they are
// logged or returned to callers.
func SanitizeError(err error) string {
	return credentialPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
}
