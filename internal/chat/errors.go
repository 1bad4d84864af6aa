package chat

import "errors"

var (
	// ErrAuthentication means the connection never got a verified identity.
	ErrAuthentication = errors.New("authentication failed")
	// ErrValidation means the request was malformed; nothing changed.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound means an unknown message or room.
	ErrNotFound = errors.New("not found")
	// ErrPersistence means the durable store failed; nothing was broadcast.
	ErrPersistence = errors.New("persistence failed")
	// ErrConflict is a lost create race in the store. The resolver retries
	// and never surfaces it.
	ErrConflict = errors.New("concurrent create conflict")
)

// ErrorCode maps an error onto the code carried by error events.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_failure"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	case errors.Is(err, ErrAuthentication):
		return "authentication_failure"
	default:
		return "internal"
	}
}
