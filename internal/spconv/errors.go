package spconv

import "errors"

// Common errors returned by backends.
var (
	ErrInvalidConfig    = errors.New("invalid convolution config")
	ErrFeatureDType     = errors.New("features must be float32")
	ErrShapeMismatch    = errors.New("tensor shape mismatch")
	ErrIndiceKeyMissing = errors.New("indice key not found")
	ErrIndiceMismatch   = errors.New("indice data does not match input")
)
