package spconv

import (
	"fmt"

	"github.com/born-ml/sparseconv/internal/tensor"
)

// Tensor is the backend's sparse tensor: one feature row per active site.
//
// Features: [N, C]. Operators require Float32.
// Indices:  [N, 4] Int32 rows of (batch, x, y, z).
type Tensor struct {
	Features     *tensor.RawTensor
	Indices      *tensor.RawTensor
	SpatialShape Triple
	BatchSize    int

	// IndiceDict is shared by every tensor derived from the same input, so
	// paired operators can find each other's rulebooks.
	IndiceDict *IndiceDict
}

// NewTensor validates its arguments and creates a Tensor with an empty
// indice dictionary.
func NewTensor(features, indices *tensor.RawTensor, spatialShape Triple, batchSize int) (*Tensor, error) {
	fs, is := features.Shape(), indices.Shape()
	if len(fs) != 2 {
		return nil, fmt.Errorf("%w: features must be 2D [N, C], got %v", ErrShapeMismatch, fs)
	}
	if len(is) != 2 || is[1] != 4 {
		return nil, fmt.Errorf("%w: indices must be [N, 4], got %v", ErrShapeMismatch, is)
	}
	if indices.DType() != tensor.Int32 {
		return nil, fmt.Errorf("%w: indices must be int32, got %s", ErrShapeMismatch, indices.DType())
	}
	if fs[0] != is[0] {
		return nil, fmt.Errorf("%w: %d feature rows vs %d index rows", ErrShapeMismatch, fs[0], is[0])
	}
	if !spatialShape.Positive() {
		return nil, fmt.Errorf("%w: spatial shape %v", ErrShapeMismatch, spatialShape)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size %d", ErrShapeMismatch, batchSize)
	}

	return &Tensor{
		Features:     features,
		Indices:      indices,
		SpatialShape: spatialShape,
		BatchSize:    batchSize,
		IndiceDict:   NewIndiceDict(),
	}, nil
}

// NumActive returns the number of active sites.
func (t *Tensor) NumActive() int {
	return t.Indices.Rows()
}

// NumChannels returns the feature width.
func (t *Tensor) NumChannels() int {
	return t.Features.Shape()[1]
}

// ReplaceFeature returns a tensor with the given features and everything else
// shared with t.
func (t *Tensor) ReplaceFeature(features *tensor.RawTensor) *Tensor {
	return &Tensor{
		Features:     features,
		Indices:      t.Indices,
		SpatialShape: t.SpatialShape,
		BatchSize:    t.BatchSize,
		IndiceDict:   t.IndiceDict,
	}
}
