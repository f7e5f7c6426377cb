// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense row-major tensors that carry sparse
// features and coordinates.
//
// Example:
//
//	feats, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
//	f64 := tensor.Cast(feats, tensor.Float64)
package tensor

import (
	"github.com/born-ml/sparseconv/internal/tensor"
)

// RawTensor is a contiguous row-major tensor.
type RawTensor = tensor.RawTensor

// Shape represents tensor dimensions.
type Shape = tensor.Shape

// DataType is the element type of a RawTensor.
type DataType = tensor.DataType

// DType constrains the Go element types a RawTensor can hold.
type DType = tensor.DType

// Device identifies where tensor memory lives.
type Device = tensor.Device

// Data types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
	Int32   = tensor.Int32
	Int64   = tensor.Int64
	Uint8   = tensor.Uint8
	Bool    = tensor.Bool
)

// CPU is host memory.
const CPU = tensor.CPU

// NewRaw allocates a zeroed tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromSlice creates a tensor holding a copy of data.
func FromSlice[T DType](data []T, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(data, shape)
}

// ParseDataType parses a data type name such as "float32".
func ParseDataType(s string) (DataType, error) {
	return tensor.ParseDataType(s)
}

// Cast converts x to dtype. x is returned unchanged when it already has dtype.
func Cast(x *RawTensor, dtype DataType) *RawTensor {
	return tensor.Cast(x, dtype)
}

// IndexSelect gathers rows of x: result[i] = x[index[i]].
func IndexSelect(x, index *RawTensor) (*RawTensor, error) {
	return tensor.IndexSelect(x, index)
}

// Equal reports whether a and b have the same dtype, shape and contents.
func Equal(a, b *RawTensor) bool {
	return tensor.Equal(a, b)
}
