package orders

import "errors"

var (
	ErrNotFound   = errors.New("order not found")
	ErrValidation = errors.New("order validation failed")
	ErrConflict   = errors.New("order is no longer in the expected state")
)
