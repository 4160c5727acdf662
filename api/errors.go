// Package api adapts the canonical ChatRequest/ChatResponse model onto the
// two OpenAI-compatible wire protocols: direct `/chat/completions` and the
// item-based `/responses` endpoint, including its SSE streaming variant.
package api

import "fmt"

// Error is the adapter's typed failure surface. Exactly one of the
// underlying causes below applies to a given Error.
type Error struct {
	// Transport is set when the HTTP round trip itself failed (timeout,
	// connection refused, DNS, etc.) before any status line was read.
	Transport error
	// StatusCode and Body are set when the server responded with a
	// non-2xx status.
	StatusCode     int
	Body           string
	RetryAfterSecs *uint64
	// Invalid is set when a successful response body could not be parsed
	// into the canonical shape.
	Invalid string
	// LoginRequired is set when the server returned 401 and no api_key was
	// ever configured to send — the one case distinguishable from an
	// ordinary bad/expired key without a login/OAuth mode to check.
	LoginRequired string
}

func (e *Error) Error() string {
	switch {
	case e.Transport != nil:
		return fmt.Sprintf("request failed: %v", e.Transport)
	case e.StatusCode != 0:
		return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
	case e.Invalid != "":
		return fmt.Sprintf("invalid response: %s", e.Invalid)
	case e.LoginRequired != "":
		return e.LoginRequired
	default:
		return "unknown api error"
	}
}

func newTransportError(err error) *Error {
	return &Error{Transport: err}
}

func newStatusError(code int, body string, retryAfterSecs *uint64) *Error {
	return &Error{StatusCode: code, Body: body, RetryAfterSecs: retryAfterSecs}
}

func newInvalidResponseError(format string, args ...any) *Error {
	return &Error{Invalid: fmt.Sprintf(format, args...)}
}

func newLoginRequiredError(format string, args ...any) *Error {
	return &Error{LoginRequired: fmt.Sprintf(format, args...)}
}

// IsTimeoutOrConnect reports whether the failure was a client-side
// transport problem worth a blind retry (as opposed to a server-reported
// status).
func (e *Error) IsTimeoutOrConnect() bool {
	if e.Transport == nil {
		return false
	}
	var netErr interface{ Timeout() bool }
	if timeoutErr, ok := e.Transport.(netErr); ok && timeoutErr.Timeout() {
		return true
	}
	return isConnectError(e.Transport)
}
