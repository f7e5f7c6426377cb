// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides sparse 3D convolution layers.
//
// # Overview
//
//   - SparseConv3D: submanifold conv (stride 1, no padding) or strided conv
//   - SparseInverseConv3D: undoes a strided SparseConv3D with the same
//     indice key and stride
//   - ReLU, Sequential, Module, Parameter
//
// Every sparse tensor carries a scale. A strided conv multiplies it by its
// stride; the paired inverse conv divides it back.
//
// # Reorder
//
// Backends may emit strided output rows in any order. SparseConv3D sorts
// them by batch index and records the permutation as a Reorder, returned
// from ForwardWithReorder and also registered in the output's spatial
// cache. SparseInverseConv3D uses it to hand the backend rows in the order
// the backend produced them.
//
// # Basic Usage
//
//	backend := cpu.New()
//	down, _ := nn.NewSparseConv3D(nn.Conv3DConfig{
//	    InChannels: 16, OutChannels: 32,
//	    KernelSize: spconv.Uniform(2), Stride: spconv.Uniform(2),
//	    IndiceKey: "down0",
//	}, backend, nn.Options{})
//	up, _ := nn.NewSparseInverseConv3D(nn.InverseConv3DConfig{
//	    InChannels: 32, OutChannels: 16,
//	    KernelSize: spconv.Uniform(2), Stride: spconv.Uniform(2),
//	    IndiceKey: "down0",
//	}, backend, nn.Options{})
//
//	model := nn.NewSequential(down, nn.NewReLU(), up)
//	y, err := model.Forward(ctx, x) // y.Scale() == x.Scale()
package nn

import (
	"github.com/born-ml/sparseconv/internal/nn"
	"github.com/born-ml/sparseconv/spconv"
)

// Module is a layer operating on sparse tensors.
type Module = nn.Module

// Parameter is a named weight tensor.
type Parameter = nn.Parameter

// Options are per-layer runtime settings.
type Options = nn.Options

// Conv3DConfig configures a SparseConv3D.
type Conv3DConfig = nn.Conv3DConfig

// SparseConv3D is a sparse 3D convolution layer.
type SparseConv3D = nn.SparseConv3D

// InverseConv3DConfig configures a SparseInverseConv3D.
type InverseConv3DConfig = nn.InverseConv3DConfig

// SparseInverseConv3D undoes a strided SparseConv3D.
type SparseInverseConv3D = nn.SparseInverseConv3D

// Reorder is the row permutation handed from a strided conv to its inverse.
type Reorder = nn.Reorder

// ReLU is the sparse rectifier.
type ReLU = nn.ReLU

// Sequential chains modules.
type Sequential = nn.Sequential

// Errors.
var (
	ErrScaleNotDivisible = nn.ErrScaleNotDivisible
	ErrReorderMismatch   = nn.ErrReorderMismatch
	ErrRecoverOrder      = nn.ErrRecoverOrder
	ErrUnsupportedDType  = nn.ErrUnsupportedDType
)

// NewSparseConv3D creates a sparse conv layer on backend.
func NewSparseConv3D(cfg Conv3DConfig, backend spconv.Backend, opts Options) (*SparseConv3D, error) {
	return nn.NewSparseConv3D(cfg, backend, opts)
}

// NewSparseInverseConv3D creates an inverse sparse conv layer on backend.
func NewSparseInverseConv3D(cfg InverseConv3DConfig, backend spconv.Backend, opts Options) (*SparseInverseConv3D, error) {
	return nn.NewSparseInverseConv3D(cfg, backend, opts)
}

// NewReLU creates a ReLU module.
func NewReLU() *ReLU {
	return nn.NewReLU()
}

// NewSequential chains modules.
func NewSequential(modules ...Module) *Sequential {
	return nn.NewSequential(modules...)
}

// UnsortedDataKey is the spatial cache key of a strided conv's unsorted output.
func UnsortedDataKey(stride spconv.Triple) string {
	return nn.UnsortedDataKey(stride)
}

// SortBackwardKey is the spatial cache key of a strided conv's inverse sort permutation.
func SortBackwardKey(stride spconv.Triple) string {
	return nn.SortBackwardKey(stride)
}
