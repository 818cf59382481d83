package directory

import (
	"fmt"
)

// ErrorKind classifies a failed REST call.
type ErrorKind string

const (
	// KindNetwork covers transport-level failures (DNS, refused, timeout).
	KindNetwork ErrorKind = "network"
	// KindUnauthorized covers 401/403 responses.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindServer covers any other non-2xx response.
	KindServer ErrorKind = "server"
)

// Error is a typed failure from a Directory call. Callers may retry the
// specific call; a failed fetch never partially applies results.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("directory %s: %s (status %d): %s", e.Op, e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("directory %s: %s: %s", e.Op, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}
