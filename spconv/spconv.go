// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package spconv defines the contract between sparse convolution layers and
// the backends that execute them.
//
// A Backend builds one Operator per layer. Operators consume and produce
// backend tensors whose rulebooks are shared through the IndiceDict under
// each layer's indice key, so an inverse convolution can reuse the
// rulebook of the strided convolution it undoes.
package spconv

import (
	"github.com/born-ml/sparseconv/internal/spconv"
)

// Triple is a per-axis (x, y, z) integer triple.
type Triple = spconv.Triple

// Algo selects the backend convolution algorithm.
type Algo = spconv.Algo

// Algorithms.
const (
	AlgoNative       = spconv.AlgoNative
	AlgoImplicitGEMM = spconv.AlgoImplicitGEMM
)

// ConvConfig is the normalized configuration handed to a Backend.
type ConvConfig = spconv.ConvConfig

// Tensor is the backend sparse tensor.
type Tensor = spconv.Tensor

// IndiceDict maps indice keys to rulebooks.
type IndiceDict = spconv.IndiceDict

// IndiceData is one registered rulebook.
type IndiceData = spconv.IndiceData

// PairList holds the (input row, output row) pairs of one kernel offset.
type PairList = spconv.PairList

// Operator is a constructed convolution.
type Operator = spconv.Operator

// Backend creates convolution operators.
type Backend = spconv.Backend

// Errors returned by backends.
var (
	ErrInvalidConfig    = spconv.ErrInvalidConfig
	ErrFeatureDType     = spconv.ErrFeatureDType
	ErrShapeMismatch    = spconv.ErrShapeMismatch
	ErrIndiceKeyMissing = spconv.ErrIndiceKeyMissing
	ErrIndiceMismatch   = spconv.ErrIndiceMismatch
)

// Uniform returns (n, n, n).
func Uniform(n int) Triple {
	return spconv.Uniform(n)
}

// NewTriple builds a Triple from one value (broadcast) or three values.
func NewTriple(vals ...int) (Triple, error) {
	return spconv.NewTriple(vals...)
}

// ParseAlgo parses "native" or "implicit_gemm".
func ParseAlgo(s string) (Algo, error) {
	return spconv.ParseAlgo(s)
}
