package catalog

import "errors"

var (
	ErrNotFound   = errors.New("test not found")
	ErrValidation = errors.New("invalid test definition")
	ErrDuplicate  = errors.New("test code already exists")
)
