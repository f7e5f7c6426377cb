// Package spconv defines the contract between sparse convolution layers and
// the backends that execute them.
//
// A Backend builds Operators from a ConvConfig and its weights:
//
//	op, err := backend.SparseConv3D(cfg, weight, bias)
//	out, err := op.Forward(ctx, x)
//
// Weights are laid out as [K, in_channels, out_channels] where K is the
// kernel volume and offsets are enumerated x-major.
package spconv

import (
	"context"

	"github.com/born-ml/sparseconv/internal/tensor"
)

// Operator is a constructed sparse convolution.
type Operator interface {
	// Forward applies the convolution. Input features must be Float32.
	Forward(ctx context.Context, x *Tensor) (*Tensor, error)

	// Config returns the normalized operator configuration.
	Config() ConvConfig
}

// Backend constructs sparse convolution operators.
type Backend interface {
	// SubMConv3D builds a submanifold convolution: output sites equal input sites.
	SubMConv3D(cfg ConvConfig, weight, bias *tensor.RawTensor) (Operator, error)

	// SparseConv3D builds a regular sparse convolution that may change resolution.
	SparseConv3D(cfg ConvConfig, weight, bias *tensor.RawTensor) (Operator, error)

	// SparseInverseConv3D builds the inverse of the strided convolution that
	// registered cfg.IndiceKey. Output sites are that convolution's input sites.
	SparseInverseConv3D(cfg ConvConfig, weight, bias *tensor.RawTensor) (Operator, error)

	// Name returns the backend name.
	Name() string
}
