package serialization

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Validation limits for resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB
	MaxTensorCount   = 1024
	MaxTensorNameLen = 4096
)

type namedHeader struct {
	Name string
	TensorHeader
}

// validateTensorOffsets checks for overlapping, negative and out-of-bounds
// tensor regions. Malformed files must not make the reader slice outside the
// data section.
func validateTensorOffsets(tensors []namedHeader, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	sorted := make([]namedHeader, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DataOffsets[0] < sorted[j].DataOffsets[0]
	})

	for i, t := range sorted {
		begin, end := t.DataOffsets[0], t.DataOffsets[1]
		if begin < 0 || end < begin {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  t.Name,
				Details: fmt.Sprintf("data_offsets [%d, %d]", begin, end),
			}
		}
		if end > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  t.Name,
				Details: fmt.Sprintf("end %d > data_size %d", end, dataSize),
			}
		}
		if i < len(sorted)-1 {
			next := sorted[i+1]
			if end > next.DataOffsets[0] {
				return &ValidationError{
					Type:    "offset_overlap",
					Tensor:  t.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						begin, end, next.DataOffsets[0], next.DataOffsets[1]),
				}
			}
		}
	}
	return nil
}

// validateTensorName rejects names that could be abused as paths.
func validateTensorName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidTensorName)
	case len(name) > MaxTensorNameLen:
		return fmt.Errorf("%w: length %d > max %d", ErrInvalidTensorName, len(name), MaxTensorNameLen)
	case strings.Contains(name, ".."), strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidTensorName, name)
	}
	return nil
}

// tensorByteSize returns the byte size a tensor of the given shape occupies.
// It reports false on a negative dimension or when the product overflows.
func tensorByteSize(shape []int64, elemSize int) (int64, bool) {
	size := int64(elemSize)
	for _, dim := range shape {
		if dim < 0 {
			return 0, false
		}
		if dim != 0 && size > math.MaxInt64/dim {
			return 0, false
		}
		size *= dim
	}
	return size, true
}
