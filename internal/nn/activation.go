package nn

import (
	"context"
	"fmt"

	"github.com/born-ml/sparseconv/internal/sparse"
	"github.com/born-ml/sparseconv/internal/tensor"
)

// ReLU applies max(0, x) to every feature of a sparse tensor.
// Coordinates, layout, scale and spatial cache pass through unchanged.
type ReLU struct{}

// NewReLU creates a new ReLU activation module.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward applies ReLU element-wise to the features.
func (r *ReLU) Forward(_ context.Context, x *sparse.Tensor) (*sparse.Tensor, error) {
	feats := x.Feats().Clone()
	switch feats.DType() {
	case tensor.Float32:
		relu(feats.AsFloat32())
	case tensor.Float64:
		relu(feats.AsFloat64())
	default:
		return nil, fmt.Errorf("relu: %w: %s", ErrUnsupportedDType, feats.DType())
	}
	return x.Replace(feats)
}

func relu[T float32 | float64](data []T) {
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
}

// Parameters returns an empty slice (ReLU has no trainable parameters).
func (r *ReLU) Parameters() []*Parameter {
	return []*Parameter{}
}

// String returns a string representation of the layer.
func (r *ReLU) String() string {
	return "ReLU()"
}
