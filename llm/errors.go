package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a ProviderError.
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindAuth        ErrorKind = "auth"
	KindRateLimit   ErrorKind = "rate-limit"
	KindStatus      ErrorKind = "status"
	KindBadEnvelope ErrorKind = "bad-envelope"
	KindUnsupported ErrorKind = "unsupported"
)

var ErrUnknownBackend = errors.New("unknown backend")

// ProviderError is returned for every failed backend call. It is never retried by the adapter.
type ProviderError struct {
	Backend    string
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s error", e.Backend, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// kindForStatus maps an HTTP status code onto an error kind.
func kindForStatus(code int) ErrorKind {
	switch code {
	case 401, 403:
		return KindAuth
	case 429:
		return KindRateLimit
	default:
		return KindStatus
	}
}

func badEnvelope(backend, detail string) *ProviderError {
	return &ProviderError{Backend: backend, Kind: KindBadEnvelope, Err: errors.New(detail)}
}
