package nn

import "errors"

// Common errors.
var (
	ErrScaleNotDivisible = errors.New("stride does not divide tensor scale")
	ErrReorderMismatch   = errors.New("reorder does not match layer or tensor")
	ErrRecoverOrder      = errors.New("recovering the original row order failed")
	ErrUnsupportedDType  = errors.New("unsupported feature dtype")
	ErrMissingParameter  = errors.New("parameter missing from state dict")
)
