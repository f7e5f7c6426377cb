// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package sparse provides the sparse 3D tensor consumed by sparse
// convolution layers, and its SafeTensors persistence.
//
// Example:
//
//	x, err := sparse.New(feats, coords)
//	if err := sparse.WriteFile("scene.safetensors", x); err != nil {
//	    log.Fatal(err)
//	}
package sparse

import (
	"io"

	"github.com/born-ml/sparseconv/internal/serialization"
	"github.com/born-ml/sparseconv/internal/sparse"
	"github.com/born-ml/sparseconv/tensor"
)

// Tensor is a sparse 3D feature tensor.
type Tensor = sparse.Tensor

// Span is the row range [Start, End) of one batch sample.
type Span = sparse.Span

// SpatialCache holds auxiliary data keyed by scale and name.
type SpatialCache = sparse.SpatialCache

// Option configures New.
type Option = sparse.Option

// Errors.
var (
	ErrCacheMiss       = sparse.ErrCacheMiss
	ErrCacheType       = sparse.ErrCacheType
	ErrInvalidCoords   = sparse.ErrInvalidCoords
	ErrInvalidFeats    = sparse.ErrInvalidFeats
	ErrInvalidOptions  = sparse.ErrInvalidOptions
	ErrInvalidFormat   = serialization.ErrInvalidFormat
	ErrMissingTensor   = serialization.ErrMissingTensor
	ErrInvalidMetadata = serialization.ErrInvalidMetadata
)

// New creates a sparse tensor from features [N, C] and Int32 coordinates
// [N, 4] holding (batch, x, y, z) rows.
func New(feats, coords *tensor.RawTensor, opts ...Option) (*Tensor, error) {
	return sparse.New(feats, coords, opts...)
}

// WithBatchSize overrides the inferred batch size.
var WithBatchSize = sparse.WithBatchSize

// WithSpatialShape overrides the inferred spatial shape.
var WithSpatialShape = sparse.WithSpatialShape

// WithScale sets the initial scale.
var WithScale = sparse.WithScale

// Lookup returns the spatial cache entry under key at t's scale as a T.
func Lookup[T any](t *Tensor, key string) (T, error) {
	return sparse.Lookup[T](t, key)
}

// WriteFile stores x at path in SafeTensors format.
func WriteFile(path string, x *Tensor) error {
	return serialization.WriteSparse(path, x)
}

// ReadFile loads a sparse tensor written by WriteFile.
func ReadFile(path string) (*Tensor, error) {
	return serialization.ReadSparse(path)
}

// Encode writes x to w in SafeTensors format.
func Encode(w io.Writer, x *Tensor) error {
	return serialization.EncodeSparse(w, x)
}

// Decode reads a sparse tensor from r.
func Decode(r io.Reader) (*Tensor, error) {
	return serialization.DecodeSparse(r)
}
