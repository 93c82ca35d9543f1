package workboard

import "errors"

// Error kinds surfaced by lifecycle operations. Handlers map these to HTTP
// status codes; services wrap them with detail via fmt.Errorf and %w.
var (
	ErrNotFound   = errors.New("result not found")
	ErrForbidden  = errors.New("role not permitted for this test category")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("result is no longer in the expected state")
)
