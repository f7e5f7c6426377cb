// Package sparse implements the sparse tensor used by sparse convolution layers.
//
// A Tensor holds one feature row per active 3D site. Its coordinates are
// (batch, x, y, z) rows; its scale records how much the sites have been
// downsampled relative to the network input; its spatial cache carries
// auxiliary data between paired layers.
//
// Example:
//
//	x, err := sparse.New(feats, coords)
//	x.Scale()     // (1,1,1)
//	x.BatchSize() // max batch index + 1
package sparse

import (
	"fmt"

	"github.com/born-ml/sparseconv/internal/spconv"
	"github.com/born-ml/sparseconv/internal/tensor"
)

// MaxBatchSize bounds the batch size of a tensor. The per-batch layout holds
// one span per sample.
const MaxBatchSize = 1 << 16

// Tensor is a sparse 3D feature tensor.
//
// Shape is [batch_size, channels]. Layout is nil when the row order per batch
// is unknown.
type Tensor struct {
	data   *spconv.Tensor
	shape  tensor.Shape
	layout []Span
	scale  spconv.Triple
	cache  *SpatialCache
}

type options struct {
	batchSize    int
	spatialShape spconv.Triple
	scale        spconv.Triple
}

// Option configures New.
type Option func(*options)

// WithBatchSize overrides the batch size inferred from the coordinates.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithSpatialShape overrides the spatial shape inferred from the coordinates.
func WithSpatialShape(shape spconv.Triple) Option {
	return func(o *options) {
		o.spatialShape = shape
	}
}

// WithScale sets the initial scale. Default (1,1,1).
func WithScale(scale spconv.Triple) Option {
	return func(o *options) {
		o.scale = scale
	}
}

// New creates a sparse tensor from features [N, C] and Int32 coordinates [N, 4].
//
// Unless overridden, the batch size is the largest batch index + 1 and the
// spatial shape is the largest coordinate + 1 on each axis.
func New(feats, coords *tensor.RawTensor, opts ...Option) (*Tensor, error) {
	o := options{scale: spconv.Uniform(1)}
	for _, opt := range opts {
		opt(&o)
	}

	if len(feats.Shape()) != 2 {
		return nil, fmt.Errorf("%w: expected 2D [N, C], got %v", ErrInvalidFeats, feats.Shape())
	}
	cs := coords.Shape()
	if coords.DType() != tensor.Int32 || len(cs) != 2 || cs[1] != 4 {
		return nil, fmt.Errorf("%w: expected int32 [N, 4], got %s %v", ErrInvalidCoords, coords.DType(), cs)
	}
	if feats.Rows() != coords.Rows() {
		return nil, fmt.Errorf("%w: %d feature rows vs %d coordinate rows", ErrInvalidFeats, feats.Rows(), coords.Rows())
	}
	if !o.scale.Positive() {
		return nil, fmt.Errorf("%w: scale %v", ErrInvalidOptions, o.scale)
	}

	c := coords.AsInt32()
	batch, spatial := 1, spconv.Uniform(1)
	for i := 0; i < len(c); i += 4 {
		for d := 0; d < 4; d++ {
			if c[i+d] < 0 {
				return nil, fmt.Errorf("%w: negative value in row %d", ErrInvalidCoords, i/4)
			}
		}
		batch = max(batch, int(c[i])+1)
		for d := 0; d < 3; d++ {
			spatial[d] = max(spatial[d], int(c[i+d+1])+1)
		}
	}

	if batch > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch index %d exceeds max batch size %d", ErrInvalidCoords, batch-1, MaxBatchSize)
	}
	if o.batchSize != 0 {
		if o.batchSize > MaxBatchSize {
			return nil, fmt.Errorf("%w: batch size %d exceeds %d", ErrInvalidOptions, o.batchSize, MaxBatchSize)
		}
		if o.batchSize < batch {
			return nil, fmt.Errorf("%w: batch size %d but batch index %d present", ErrInvalidOptions, o.batchSize, batch-1)
		}
		batch = o.batchSize
	}
	if !o.spatialShape.IsZero() {
		for d := 0; d < 3; d++ {
			if o.spatialShape[d] < spatial[d] {
				return nil, fmt.Errorf("%w: spatial shape %v does not cover %v", ErrInvalidOptions, o.spatialShape, spatial)
			}
		}
		spatial = o.spatialShape
	}

	data, err := spconv.NewTensor(feats, coords, spatial, batch)
	if err != nil {
		return nil, err
	}

	return &Tensor{
		data:   data,
		shape:  tensor.Shape{batch, feats.Shape()[1]},
		layout: computeLayout(c, batch),
		scale:  o.scale,
		cache:  NewSpatialCache(),
	}, nil
}

// Wrap builds a Tensor around an existing backend tensor. Layers use it to
// wrap backend outputs; cache is shared, not copied. A nil cache creates a new one.
func Wrap(data *spconv.Tensor, shape tensor.Shape, layout []Span, scale spconv.Triple, cache *SpatialCache) *Tensor {
	if cache == nil {
		cache = NewSpatialCache()
	}
	return &Tensor{
		data:   data,
		shape:  shape.Clone(),
		layout: layout,
		scale:  scale,
		cache:  cache,
	}
}

// Data returns the backend tensor.
func (t *Tensor) Data() *spconv.Tensor {
	return t.data
}

// Feats returns the feature tensor [N, C].
func (t *Tensor) Feats() *tensor.RawTensor {
	return t.data.Features
}

// Coords returns the Int32 coordinate tensor [N, 4].
func (t *Tensor) Coords() *tensor.RawTensor {
	return t.data.Indices
}

// Shape returns [batch_size, channels].
func (t *Tensor) Shape() tensor.Shape {
	return t.shape
}

// BatchSize returns the number of samples in the batch.
func (t *Tensor) BatchSize() int {
	return t.shape[0]
}

// NumActive returns the number of active sites.
func (t *Tensor) NumActive() int {
	return t.data.NumActive()
}

// Layout returns the per-batch row spans, or nil when unknown.
func (t *Tensor) Layout() []Span {
	return t.layout
}

// Scale returns the accumulated per-axis downsampling factor.
func (t *Tensor) Scale() spconv.Triple {
	return t.scale
}

// SpatialCache returns the shared spatial cache.
func (t *Tensor) SpatialCache() *SpatialCache {
	return t.cache
}

// Replace returns a tensor with new features; coordinates, layout, scale and
// spatial cache are shared with t.
func (t *Tensor) Replace(feats *tensor.RawTensor) (*Tensor, error) {
	if len(feats.Shape()) != 2 {
		return nil, fmt.Errorf("%w: expected 2D [N, C], got %v", ErrInvalidFeats, feats.Shape())
	}
	if feats.Rows() != t.NumActive() {
		return nil, fmt.Errorf("%w: %d rows, tensor has %d active sites", ErrInvalidFeats, feats.Rows(), t.NumActive())
	}
	return &Tensor{
		data:   t.data.ReplaceFeature(feats),
		shape:  tensor.Shape{t.shape[0], feats.Shape()[1]},
		layout: t.layout,
		scale:  t.scale,
		cache:  t.cache,
	}, nil
}

// RegisterSpatialCache stores value under key at this tensor's scale.
func (t *Tensor) RegisterSpatialCache(key string, value any) {
	t.cache.Register(t.scale, key, value)
}

// GetSpatialCache returns the value stored under key at this tensor's scale.
func (t *Tensor) GetSpatialCache(key string) (any, error) {
	return t.cache.Get(t.scale, key)
}

// String returns a short description of the tensor.
func (t *Tensor) String() string {
	return fmt.Sprintf("SparseTensor(shape=%v, active=%d, scale=%v, dtype=%s)",
		t.shape, t.NumActive(), t.scale, t.Feats().DType())
}

// Lookup returns the spatial cache entry under key at t's scale as a T.
func Lookup[T any](t *Tensor, key string) (T, error) {
	var zero T
	v, err := t.GetSpatialCache(key)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q holds %T, want %T", ErrCacheType, key, v, zero)
	}
	return typed, nil
}
