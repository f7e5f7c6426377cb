package nn

import (
	"fmt"

	"github.com/born-ml/sparseconv/internal/sparse"
	"github.com/born-ml/sparseconv/internal/spconv"
	"github.com/born-ml/sparseconv/internal/tensor"
)

// Reorder records how SparseConv3D sorted a strided backend output by batch
// index, so the SparseInverseConv3D with the same stride can hand the backend
// rows in the order it produced them.
//
// Invariant: IndexSelect(sorted, Backward) reproduces Unsorted row for row.
type Reorder struct {
	Stride   spconv.Triple
	Unsorted *spconv.Tensor    // backend output before sorting
	Backward *tensor.RawTensor // Int64 [N]
}

// UnsortedDataKey is the spatial cache key of the unsorted backend output.
func UnsortedDataKey(stride spconv.Triple) string {
	return fmt.Sprintf("conv_%s_unsorted_data", stride)
}

// SortBackwardKey is the spatial cache key of the inverse sort permutation.
func SortBackwardKey(stride spconv.Triple) string {
	return fmt.Sprintf("conv_%s_sort_bwd", stride)
}

// sortByBatch stably sorts the backend output rows by batch index.
func sortByBatch(out *spconv.Tensor, stride spconv.Triple) (*spconv.Tensor, *Reorder, error) {
	fwd, err := tensor.ArgsortColumn(out.Indices, 0)
	if err != nil {
		return nil, nil, err
	}
	bwd, err := tensor.InversePermutation(fwd)
	if err != nil {
		return nil, nil, err
	}
	feats, err := tensor.IndexSelect(out.Features, fwd)
	if err != nil {
		return nil, nil, err
	}
	coords, err := tensor.IndexSelect(out.Indices, fwd)
	if err != nil {
		return nil, nil, err
	}

	sorted := &spconv.Tensor{
		Features:     feats,
		Indices:      coords,
		SpatialShape: out.SpatialShape,
		BatchSize:    out.BatchSize,
		IndiceDict:   out.IndiceDict,
	}
	return sorted, &Reorder{Stride: stride, Unsorted: out, Backward: bwd}, nil
}

// register publishes the reorder in t's spatial cache.
func (r *Reorder) register(t *sparse.Tensor) {
	t.RegisterSpatialCache(UnsortedDataKey(r.Stride), r.Unsorted)
	t.RegisterSpatialCache(SortBackwardKey(r.Stride), r.Backward)
}

// reorderFromCache reads the reorder registered for stride at t's scale.
func reorderFromCache(t *sparse.Tensor, stride spconv.Triple) (*Reorder, error) {
	unsorted, err := sparse.Lookup[*spconv.Tensor](t, UnsortedDataKey(stride))
	if err != nil {
		return nil, err
	}
	bwd, err := sparse.Lookup[*tensor.RawTensor](t, SortBackwardKey(stride))
	if err != nil {
		return nil, err
	}
	return &Reorder{Stride: stride, Unsorted: unsorted, Backward: bwd}, nil
}

// restore returns the unsorted backend tensor carrying x's features in the
// backend's original row order. With verify set, x's coordinates must map
// back onto the unsorted indices exactly.
func (r *Reorder) restore(x *sparse.Tensor, verify bool) (*spconv.Tensor, error) {
	if r.Backward.Rows() != x.NumActive() {
		return nil, fmt.Errorf("%w: permutation has %d rows, tensor has %d", ErrReorderMismatch, r.Backward.Rows(), x.NumActive())
	}

	feats, err := tensor.IndexSelect(x.Feats(), r.Backward)
	if err != nil {
		return nil, err
	}
	data := r.Unsorted.ReplaceFeature(feats)

	if verify {
		coords, err := tensor.IndexSelect(x.Coords(), r.Backward)
		if err != nil {
			return nil, err
		}
		if !tensor.Equal(data.Indices, coords) {
			return nil, ErrRecoverOrder
		}
	}
	return data, nil
}
