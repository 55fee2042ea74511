package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FailureKind is the closed set of request-level failure classes.
type FailureKind int

const (
	KindUnknown FailureKind = iota
	KindTimeout
	KindRateLimited
	KindAuth
	KindBadRequest
	KindServiceUnavailable
	KindSafetyBlocked
)

func (k FailureKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindBadRequest:
		return "bad_request"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindSafetyBlocked:
		return "safety_blocked"
	default:
		return "unknown"
	}
}

// Retriable reports whether the same request may succeed on a later attempt.
func (k FailureKind) Retriable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindServiceUnavailable, KindUnknown:
		return true
	default:
		return false
	}
}

// RotatesKey reports whether the failover loop should move on to the next
// credential. Auth is not retriable on the same key, but each key is an
// independent secret, so an auth failure on one says nothing about the next.
func (k FailureKind) RotatesKey() bool {
	return k.Retriable() || k == KindAuth
}

// Outage reports whether the failure points at the provider rather than the
// request or key. Only outages trip a provider circuit breaker.
func (k FailureKind) Outage() bool {
	return k == KindServiceUnavailable || k == KindTimeout
}

var (
	timeoutPhrases   = []string{"timeout", "timed out", "deadline exceeded", "aborted", "context canceled"}
	rateLimitPhrases = []string{"quota", "rate limit", "rate-limit", "ratelimit", "resource_exhausted", "resource exhausted", "too many requests"}
	authPhrases      = []string{"api key", "api_key", "apikey", "unauthenticated", "unauthorized", "permission_denied", "invalid authentication"}
	outagePhrases    = []string{"service unavailable", "bad gateway", "overloaded", "temporarily unavailable"}
	invalidPhrases   = []string{"invalid", "malformed"}
)

// Classify maps an HTTP status, a provider error message and a transport
// error to a FailureKind. Checks run in a fixed order and the first match
// wins: timeout, rate limit, auth, outage, safety, bad request.
func Classify(status int, message string, err error) FailureKind {
	msg := strings.ToLower(message)
	if err != nil {
		msg += " " + strings.ToLower(err.Error())
	}

	if isTimeoutErr(err) || status == 408 || containsAny(msg, timeoutPhrases) {
		return KindTimeout
	}
	if status == 429 || containsAny(msg, rateLimitPhrases) {
		return KindRateLimited
	}
	if status == 401 || status == 403 || containsAny(msg, authPhrases) {
		return KindAuth
	}
	if status == 502 || status == 503 || status == 504 || containsAny(msg, outagePhrases) {
		return KindServiceUnavailable
	}
	if strings.Contains(strings.ToUpper(message), "SAFETY") {
		return KindSafetyBlocked
	}
	if status == 400 || containsAny(msg, invalidPhrases) {
		return KindBadRequest
	}
	return KindUnknown
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Failure is a classified request failure.
type Failure struct {
	Kind       FailureKind
	Message    string
	StatusCode int
	Provider   string
	Retriable  bool
	// KeysAttempted is set on the aggregate failure returned once every
	// credential of a provider has been tried.
	KeysAttempted int
	Err           error
}

// NewFailure builds a Failure of the given kind.
func NewFailure(kind FailureKind, status int, message string, err error) *Failure {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &Failure{
		Kind:       kind,
		Message:    message,
		StatusCode: status,
		Retriable:  kind.Retriable(),
		Err:        err,
	}
}

// FromResponse classifies and wraps a failed provider call.
func FromResponse(status int, message string, err error) *Failure {
	return NewFailure(Classify(status, message, err), status, message, err)
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind.String())
	if f.Provider != "" {
		fmt.Fprintf(&b, " (%s)", f.Provider)
	}
	if f.StatusCode != 0 {
		fmt.Fprintf(&b, " [%d]", f.StatusCode)
	}
	if f.KeysAttempted > 0 {
		fmt.Fprintf(&b, " after %d keys", f.KeysAttempted)
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	return b.String()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts a *Failure from err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
