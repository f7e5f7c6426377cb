// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend for sparse 3D convolution.
//
// Rulebooks are built on the host from hashed site keys. The native
// algorithm runs one BLAS GEMM per kernel offset; implicit GEMM accumulates
// each output row over a kernel-offset mask, fanned out over goroutines.
//
// Strided outputs are ordered spatially with the batch index innermost, so
// rows of different samples interleave.
package cpu

import (
	"github.com/sirupsen/logrus"

	internalcpu "github.com/born-ml/sparseconv/internal/backend/cpu"
	"github.com/born-ml/sparseconv/internal/parallel"
	"github.com/born-ml/sparseconv/spconv"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements spconv.Backend.
var _ spconv.Backend = (*Backend)(nil)

// Option configures New.
type Option = internalcpu.Option

// ParallelConfig controls goroutine fan-out in implicit GEMM.
type ParallelConfig = parallel.Config

// DefaultParallelConfig returns one worker per CPU.
func DefaultParallelConfig() ParallelConfig {
	return parallel.DefaultConfig()
}

// New creates a new CPU backend.
//
// Example:
//
//	backend := cpu.New()
//	conv, err := nn.NewSparseConv3D(cfg, backend, nn.Options{})
func New(opts ...Option) *Backend {
	return internalcpu.New(opts...)
}

// WithParallel sets the worker configuration.
func WithParallel(cfg ParallelConfig) Option {
	return internalcpu.WithParallel(cfg)
}

// WithLogger sets the logger for debug output.
func WithLogger(entry *logrus.Entry) Option {
	return internalcpu.WithLogger(entry)
}
