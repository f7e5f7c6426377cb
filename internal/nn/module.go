// Package nn implements sparse convolution layers over sparse.Tensor.
//
// The layers adapt a spconv.Backend, injected at construction, to the
// sparse tensor abstraction:
//   - SparseConv3D: submanifold or strided convolution
//   - SparseInverseConv3D: undoes a strided convolution
//   - ReLU: feature-wise activation
//   - Sequential: container for stacking layers
//
// Strided convolutions hand their row-reorder metadata to the matching
// inverse convolution, either explicitly (Reorder) or through the tensor's
// spatial cache.
package nn

import (
	"context"

	"github.com/born-ml/sparseconv/internal/sparse"
)

// Module is the base interface for all sparse layers.
type Module interface {
	// Forward computes the output of the module given an input tensor.
	Forward(ctx context.Context, x *sparse.Tensor) (*sparse.Tensor, error)

	// Parameters returns all trainable parameters of this module.
	// Returns an empty slice for modules without parameters.
	Parameters() []*Parameter
}
