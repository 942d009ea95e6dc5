package forum

import (
	"errors"
	"fmt"
)

// Kind classifies a failed forum request
type Kind int

const (
	// Transient failures (network, timeout, 5xx, 429) are retried by backoff
	Transient Kind = iota
	// AuthRejected means the forum no longer accepts the session
	AuthRejected
	// ParseFailure means the page did not have the expected shape
	ParseFailure
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case AuthRejected:
		return "auth_rejected"
	case ParseFailure:
		return "parse_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FetchError is returned by every forum operation that fails
type FetchError struct {
	Kind Kind
	Op   string // "login", "verify", "fetch"
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("forum %s %s: %s: %v", e.Op, e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the kind of a forum error. Errors that did not come from
// this package count as Transient.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Transient
}

// IsAuthRejected checks if an error means the session was rejected
func IsAuthRejected(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == AuthRejected
}

// statusError describes an unexpected HTTP status
type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

func kindForStatus(code int) Kind {
	switch {
	case code == 401 || code == 403:
		return AuthRejected
	case code == 429 || code >= 500:
		return Transient
	default:
		return ParseFailure
	}
}
