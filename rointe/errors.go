package rointe

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates a valid request for which the backend holds no
	// data, e.g. energy stats not yet posted for the requested hour.
	ErrNotFound = errors.New("rointe: no data")

	// ErrNoCostData is returned when the Nexa energy snapshot is missing or
	// degenerate and no per-device estimate can be made.
	ErrNoCostData = errors.New("rointe: no cost data to estimate energy")

	// ErrProtocol indicates a malformed websocket frame or a frame without a
	// usable correlation id.
	ErrProtocol = errors.New("rointe: websocket protocol error")
)

// HTTPStatusError reports a non-2xx response from either backend.
type HTTPStatusError struct {
	Op     string
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("rointe api error in %s: %d: %s", e.Op, e.Status, strings.TrimSpace(e.Body))
}

// AuthError reports a failed login or an unrefreshable token.
type AuthError struct {
	Reason string
	Err    error
}

func (e AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rointe auth: %s: %v", e.Reason, e.Err)
	}
	return "rointe auth: " + e.Reason
}

func (e AuthError) Unwrap() error { return e.Err }

func authErrf(err error, format string, args ...any) error {
	return AuthError{Reason: fmt.Sprintf(format, args...), Err: err}
}
