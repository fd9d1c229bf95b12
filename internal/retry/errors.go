package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Kind classifies an external call failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindConnection
	KindRateLimit
	KindAuth
	KindMalformed
	KindConfig
)

var kindNames = map[Kind]string{
	KindUnknown:    "unknown",
	KindTimeout:    "timeout",
	KindConnection: "connection",
	KindRateLimit:  "rate_limit",
	KindAuth:       "auth",
	KindMalformed:  "malformed",
	KindConfig:     "config",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Transient reports whether the kind is worth retrying.
func (k Kind) Transient() bool {
	return k == KindTimeout || k == KindConnection || k == KindRateLimit
}

// Error is a classified external call failure.
type Error struct {
	Kind   Kind
	Op     string
	Status int // HTTP status, when there was one

	// RetryAfter is the server-requested wait on rate limiting.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromStatus classifies a non-2xx HTTP response.
func FromStatus(op string, status int, body string) *Error {
	var kind Kind
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusPaymentRequired:
		kind = KindAuth
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status >= 500:
		kind = KindConnection
	case status == http.StatusNotFound:
		kind = KindConfig
	default:
		kind = KindMalformed
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return &Error{Kind: kind, Op: op, Status: status, Err: errors.New(body)}
}

// Classify maps an error onto a Kind. Already-classified errors keep their
// kind; bare network and deadline errors are recognised.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return KindConnection
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return KindConnection
	}
	return KindUnknown
}
