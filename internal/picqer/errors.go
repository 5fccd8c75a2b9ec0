package picqer

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed upstream call.
type Kind int

const (
	// KindTimeout means the call did not finish within its timeout.
	KindTimeout Kind = iota + 1
	// KindHTTPStatus means the upstream answered with a non-200 status.
	KindHTTPStatus
	// KindParse means the body was empty, not JSON, or of an unknown shape.
	KindParse
	// KindNetwork means the request could not be sent or the body not read.
	KindNetwork
	// KindCanceled means the caller abandoned the call (superseded or shutdown).
	KindCanceled
	// KindBreakerOpen means the circuit breaker rejected the call.
	KindBreakerOpen
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http_status"
	case KindParse:
		return "parse"
	case KindNetwork:
		return "network"
	case KindCanceled:
		return "canceled"
	case KindBreakerOpen:
		return "breaker_open"
	default:
		return "unknown"
	}
}

// maxSnippet bounds the response excerpt kept on errors.
const maxSnippet = 300

// FetchError describes a failed upstream call.
type FetchError struct {
	Kind    Kind
	Path    string
	Status  int
	Snippet string
	Err     error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("picqer %s: status %d: %s", e.Path, e.Status, e.Snippet)
	case KindParse:
		if e.Err != nil {
			return fmt.Sprintf("picqer %s: parse: %v: %s", e.Path, e.Err, e.Snippet)
		}
		return fmt.Sprintf("picqer %s: parse: %s", e.Path, e.Snippet)
	default:
		if e.Err != nil {
			return fmt.Sprintf("picqer %s: %s: %v", e.Path, e.Kind, e.Err)
		}
		return fmt.Sprintf("picqer %s: %s", e.Path, e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Canceled reports whether the call was abandoned by the caller.
func (e *FetchError) Canceled() bool {
	return e.Kind == KindCanceled
}

// Timeout reports whether the call hit its timeout.
func (e *FetchError) Timeout() bool {
	return e.Kind == KindTimeout
}

// upstreamFault reports whether the error says something about the upstream's
// health. Only these failures trip the circuit breaker.
func (e *FetchError) upstreamFault() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork:
		return true
	case KindHTTPStatus:
		return e.Status >= 500 || e.Status == http.StatusTooManyRequests
	default:
		return false
	}
}

// KindOf returns the kind of a FetchError in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsCanceled reports whether err is a canceled upstream call.
func IsCanceled(err error) bool {
	return KindOf(err) == KindCanceled
}

func snippet(b []byte) string {
	if len(b) > maxSnippet {
		b = b[:maxSnippet]
	}
	return string(b)
}
