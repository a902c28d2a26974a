// services/errors.go
package services

import "errors"

// Failure taxonomy shared by the request/response and realtime boundaries.
// Every error is recoverable at the request boundary: the operation aborts
// with no partial mutation.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrAccessDenied      = errors.New("access denied")
	ErrUnavailable       = errors.New("instance unavailable")
	ErrInsufficientLevel = errors.New("insufficient level")
	ErrUnauthenticated   = errors.New("unauthenticated")
)
