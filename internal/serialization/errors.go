package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrInvalidFormat     = errors.New("invalid safetensors file")
	ErrHeaderTooLarge    = errors.New("header exceeds maximum size")
	ErrUnsupportedDType  = errors.New("unsupported dtype")
	ErrMissingTensor     = errors.New("tensor not found")
	ErrInvalidMetadata   = errors.New("invalid sparse metadata")
	ErrChecksumMismatch  = errors.New("checksum mismatch: file may be corrupted")
	ErrInvalidTensorName = errors.New("invalid tensor name")
)

// ValidationError provides detailed information about header validation failures.
type ValidationError struct {
	Type    string // e.g. "offset_overlap", "out_of_bounds"
	Tensor  string
	Tensor2 string // second tensor for overlap errors
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Tensor2 != "" {
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	}
	if e.Tensor != "" {
		return fmt.Sprintf("%s: tensor %q: %s", e.Type, e.Tensor, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}

// Unwrap lets callers match any validation failure with ErrInvalidFormat.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidFormat
}
