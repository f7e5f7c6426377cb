package nn

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sparseconv/internal/backend/cpu"
	"github.com/born-ml/sparseconv/internal/sparse"
	"github.com/born-ml/sparseconv/internal/spconv"
	"github.com/born-ml/sparseconv/internal/tensor"
)

// twoBatchSites holds 10 active sites, batch-sorted, in an 8^3 grid. After a
// stride-2 convolution the coarse sites of both batches coincide, so the
// backend's spatial-major output interleaves batches.
var twoBatchSites = [][4]int32{
	{0, 0, 0, 0}, {0, 1, 1, 1}, {0, 2, 2, 2}, {0, 4, 4, 4}, {0, 6, 6, 6},
	{1, 0, 0, 0}, {1, 3, 3, 3}, {1, 5, 5, 5}, {1, 6, 6, 6}, {1, 7, 7, 7},
}

func newInput(t *testing.T, sites [][4]int32, channels int, dtype tensor.DataType) *sparse.Tensor {
	t.Helper()

	rng := rand.New(rand.NewSource(42))
	coords := make([]int32, 0, len(sites)*4)
	for _, s := range sites {
		coords = append(coords, s[:]...)
	}
	feats := make([]float32, len(sites)*channels)
	for i := range feats {
		feats[i] = rng.Float32()*2 - 1
	}

	c, err := tensor.FromSlice(coords, tensor.Shape{len(sites), 4})
	require.NoError(t, err)
	f, err := tensor.FromSlice(feats, tensor.Shape{len(sites), channels})
	require.NoError(t, err)

	x, err := sparse.New(tensor.Cast(f, dtype), c, sparse.WithSpatialShape(spconv.Uniform(8)))
	require.NoError(t, err)
	return x
}

func newDown(t *testing.T, backend spconv.Backend, stride spconv.Triple, opts Options) *SparseConv3D {
	t.Helper()
	conv, err := NewSparseConv3D(Conv3DConfig{
		InChannels: 3, OutChannels: 4,
		KernelSize: spconv.Uniform(2), Stride: stride,
		Bias: true, IndiceKey: "down0",
	}, backend, opts)
	require.NoError(t, err)
	return conv
}

func newUp(t *testing.T, backend spconv.Backend, stride spconv.Triple, opts Options) *SparseInverseConv3D {
	t.Helper()
	conv, err := NewSparseInverseConv3D(InverseConv3DConfig{
		InChannels: 4, OutChannels: 3,
		KernelSize: spconv.Uniform(2), Stride: stride,
		Bias: true, IndiceKey: "down0",
	}, backend, opts)
	require.NoError(t, err)
	return conv
}

func TestSparseConv3D_SubmanifoldKeepsScale(t *testing.T) {
	backend := cpu.New()
	conv, err := NewSparseConv3D(Conv3DConfig{
		InChannels: 3, OutChannels: 5, KernelSize: spconv.Uniform(3),
	}, backend, Options{})
	require.NoError(t, err)
	assert.True(t, conv.Submanifold())
	assert.False(t, conv.SpatialChanged())

	x := newInput(t, twoBatchSites, 3, tensor.Float32)
	y, reorder, err := conv.ForwardWithReorder(context.Background(), x)
	require.NoError(t, err)

	assert.Nil(t, reorder)
	assert.Equal(t, x.Scale(), y.Scale())
	assert.Equal(t, x.Layout(), y.Layout())
	assert.Equal(t, tensor.Shape{2, 5}, y.Shape())
	assert.True(t, tensor.Equal(x.Coords(), y.Coords()))
	assert.Equal(t, 0, y.SpatialCache().Len())
}

func TestSparseConv3D_ExplicitPaddingChangesResolution(t *testing.T) {
	backend := cpu.New()
	pad := spconv.Uniform(1)
	conv, err := NewSparseConv3D(Conv3DConfig{
		InChannels: 3, OutChannels: 3, KernelSize: spconv.Uniform(3), Padding: &pad,
	}, backend, Options{})
	require.NoError(t, err)
	assert.False(t, conv.Submanifold())
	assert.True(t, conv.SpatialChanged())

	x := newInput(t, twoBatchSites, 3, tensor.Float32)
	y, reorder, err := conv.ForwardWithReorder(context.Background(), x)
	require.NoError(t, err)

	assert.Nil(t, y.Layout())
	assert.Equal(t, x.Scale(), y.Scale())
	require.NotNil(t, reorder)
	assert.Equal(t, spconv.Uniform(1), reorder.Stride)
}

// Scenario: 10 active sites, batch 2, stride (2,2,2).
func TestSparseConv3D_StridedRegistersReorder(t *testing.T) {
	backend := cpu.New()
	down := newDown(t, backend, spconv.Uniform(2), Options{})

	x := newInput(t, twoBatchSites, 3, tensor.Float32)
	require.Equal(t, 10, x.NumActive())

	y, reorder, err := down.ForwardWithReorder(context.Background(), x)
	require.NoError(t, err)
	require.NotNil(t, reorder)

	assert.Equal(t, spconv.Uniform(2), y.Scale())
	assert.Nil(t, y.Layout())
	assert.Equal(t, tensor.Shape{2, 4}, y.Shape())

	// Output rows are grouped by batch.
	coords := y.Coords().AsInt32()
	for i := 1; i < y.NumActive(); i++ {
		assert.LessOrEqual(t, coords[(i-1)*4], coords[i*4], "row %d out of batch order", i)
	}

	assert.Equal(t,
		[]string{"conv_(2,2,2)_sort_bwd", "conv_(2,2,2)_unsorted_data"},
		y.SpatialCache().Keys(spconv.Uniform(2)))

	unsorted, err := y.GetSpatialCache("conv_(2,2,2)_unsorted_data")
	require.NoError(t, err)
	assert.Same(t, reorder.Unsorted, unsorted)
	bwd, err := y.GetSpatialCache("conv_(2,2,2)_sort_bwd")
	require.NoError(t, err)
	assert.Same(t, reorder.Backward, bwd)

	_, err = y.GetSpatialCache("conv_(1,1,1)_unsorted_data")
	assert.ErrorIs(t, err, sparse.ErrCacheMiss)
}

func TestSparseConv3D_PermutationRoundTrip(t *testing.T) {
	backend := cpu.New()
	down := newDown(t, backend, spconv.Uniform(2), Options{})

	x := newInput(t, twoBatchSites, 3, tensor.Float32)
	y, reorder, err := down.ForwardWithReorder(context.Background(), x)
	require.NoError(t, err)
	require.NotNil(t, reorder)

	// The backend really did interleave batches.
	assert.False(t, tensor.Equal(reorder.Unsorted.Indices, y.Coords()))

	feats, err := tensor.IndexSelect(y.Feats(), reorder.Backward)
	require.NoError(t, err)
	coords, err := tensor.IndexSelect(y.Coords(), reorder.Backward)
	require.NoError(t, err)

	assert.True(t, tensor.Equal(reorder.Unsorted.Features, feats))
	assert.True(t, tensor.Equal(reorder.Unsorted.Indices, coords))
}

func TestSparseConv3D_SingleBatchLeavesCacheUntouched(t *testing.T) {
	backend := cpu.New()
	down := newDown(t, backend, spconv.Uniform(2), Options{})
	up := newUp(t, backend, spconv.Uniform(2), Options{Verify: true})

	x := newInput(t, twoBatchSites[:5], 3, tensor.Float32)
	require.Equal(t, 1, x.BatchSize())

	y, reorder, err := down.ForwardWithReorder(context.Background(), x)
	require.NoError(t, err)
	assert.Nil(t, reorder)
	assert.Equal(t, 0, y.SpatialCache().Len())

	z, err := up.Forward(context.Background(), y)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(x.Coords(), z.Coords()))
	assert.Equal(t, x.Scale(), z.Scale())
}

func TestSparseConv3D_FeatureDTypeRoundTrip(t *testing.T) {
	backend := cpu.New()
	down := newDown(t, backend, spconv.Uniform(2), Options{})
	up := newUp(t, backend, spconv.Uniform(2), Options{})

	x := newInput(t, twoBatchSites, 3, tensor.Float64)

	y, err := down.Forward(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Float64, y.Feats().DType())

	z, err := up.Forward(context.Background(), y)
	require.NoError(t, err)
	assert.Equal(t, tensor.Float64, z.Feats().DType())
}

func TestSparseInverseConv3D_ScaleRoundTrip(t *testing.T) {
	for _, stride := range []spconv.Triple{spconv.Uniform(2), {2, 2, 1}} {
		t.Run(stride.String(), func(t *testing.T) {
			backend := cpu.New()
			down := newDown(t, backend, stride, Options{})
			up := newUp(t, backend, stride, Options{Verify: true})

			x := newInput(t, twoBatchSites, 3, tensor.Float32)
			y, err := down.Forward(context.Background(), x)
			require.NoError(t, err)
			assert.Equal(t, stride, y.Scale())

			z, err := up.Forward(context.Background(), y)
			require.NoError(t, err)
			assert.Equal(t, x.Scale(), z.Scale())
			assert.Nil(t, z.Layout())
			assert.Equal(t, tensor.Shape{2, 3}, z.Shape())
			assert.True(t, tensor.Equal(x.Coords(), z.Coords()))
		})
	}
}

// The adapter pair must compute exactly what the backend computes when its
// rows are never reordered.
func TestSparseInverseConv3D_MatchesBackendOrder(t *testing.T) {
	backend := cpu.New()
	down := newDown(t, backend, spconv.Uniform(2), Options{})
	up := newUp(t, backend, spconv.Uniform(2), Options{Verify: true})

	x := newInput(t, twoBatchSites, 3, tensor.Float32)
	y, err := down.Forward(context.Background(), x)
	require.NoError(t, err)
	z, err := up.Forward(context.Background(), y)
	require.NoError(t, err)

	downOp, err := backend.SparseConv3D(down.cfg, down.weight.Tensor(), down.bias.Tensor())
	require.NoError(t, err)
	upOp, err := backend.SparseInverseConv3D(up.cfg, up.weight.Tensor(), up.bias.Tensor())
	require.NoError(t, err)

	fresh := newInput(t, twoBatchSites, 3, tensor.Float32)
	mid, err := downOp.Forward(context.Background(), fresh.Data())
	require.NoError(t, err)
	want, err := upOp.Forward(context.Background(), mid)
	require.NoError(t, err)

	assert.True(t, tensor.Equal(want.Indices, z.Coords()))
	assert.InDeltaSlice(t, want.Features.AsFloat32(), z.Feats().AsFloat32(), 1e-6)
}

func TestSparseInverseConv3D_MismatchedStrideMissesCache(t *testing.T) {
	backend := cpu.New()
	down := newDown(t, backend, spconv.Uniform(2), Options{})
	up := newUp(t, backend, spconv.Triple{2, 2, 1}, Options{})

	x := newInput(t, twoBatchSites, 3, tensor.Float32)
	y, err := down.Forward(context.Background(), x)
	require.NoError(t, err)

	_, err = up.Forward(context.Background(), y)
	assert.True(t, errors.Is(err, sparse.ErrCacheMiss), "got %v", err)
}

func TestSparseInverseConv3D_ScaleNotDivisible(t *testing.T) {
	backend := cpu.New()
	down := newDown(t, backend, spconv.Uniform(2), Options{})
	up := newUp(t, backend, spconv.Uniform(4), Options{})

	x := newInput(t, twoBatchSites, 3, tensor.Float32)
	y, err := down.Forward(context.Background(), x)
	require.NoError(t, err)

	_, err = up.Forward(context.Background(), y)
	assert.ErrorIs(t, err, ErrScaleNotDivisible)
}

func TestSparseInverseConv3D_ExplicitReorder(t *testing.T) {
	backend := cpu.New()
	down := newDown(t, backend, spconv.Uniform(2), Options{})
	up := newUp(t, backend, spconv.Uniform(2), Options{})

	x := newInput(t, twoBatchSites, 3, tensor.Float32)
	y, reorder, err := down.ForwardWithReorder(context.Background(), x)
	require.NoError(t, err)

	viaCache, err := up.Forward(context.Background(), y)
	require.NoError(t, err)
	viaHandoff, err := up.ForwardWithReorder(context.Background(), y, reorder)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(viaCache.Feats(), viaHandoff.Feats()))

	wrong := *reorder
	wrong.Stride = spconv.Triple{2, 2, 1}
	_, err = up.ForwardWithReorder(context.Background(), y, &wrong)
	assert.ErrorIs(t, err, ErrReorderMismatch)
}

func TestSparseInverseConv3D_VerifyDetectsCorruptPermutation(t *testing.T) {
	backend := cpu.New()
	down := newDown(t, backend, spconv.Uniform(2), Options{})

	x := newInput(t, twoBatchSites, 3, tensor.Float32)
	y, reorder, err := down.ForwardWithReorder(context.Background(), x)
	require.NoError(t, err)

	corrupt := *reorder
	corrupt.Backward = reorder.Backward.Clone()
	bwd := corrupt.Backward.AsInt64()
	bwd[0], bwd[1] = bwd[1], bwd[0]

	strict := newUp(t, backend, spconv.Uniform(2), Options{Verify: true})
	_, err = strict.ForwardWithReorder(context.Background(), y, &corrupt)
	assert.ErrorIs(t, err, ErrRecoverOrder)

	lenient := newUp(t, backend, spconv.Uniform(2), Options{})
	_, err = lenient.ForwardWithReorder(context.Background(), y, &corrupt)
	assert.NoError(t, err)
}

func TestSparseInverseConv3D_UnitStridePassesThrough(t *testing.T) {
	backend := cpu.New()
	pad := spconv.Triple{}
	down, err := NewSparseConv3D(Conv3DConfig{
		InChannels: 3, OutChannels: 4, KernelSize: spconv.Uniform(1),
		Padding: &pad, IndiceKey: "proj",
	}, backend, Options{})
	require.NoError(t, err)
	up, err := NewSparseInverseConv3D(InverseConv3DConfig{
		InChannels: 4, OutChannels: 3, KernelSize: spconv.Uniform(1), IndiceKey: "proj",
	}, backend, Options{})
	require.NoError(t, err)

	x := newInput(t, twoBatchSites, 3, tensor.Float32)
	y, reorder, err := down.ForwardWithReorder(context.Background(), x)
	require.NoError(t, err)
	require.NotNil(t, reorder)

	// No lookup happens for a unit stride, so an empty cache is fine.
	z, err := up.Forward(context.Background(), sparse.Wrap(y.Data(), y.Shape(), y.Layout(), y.Scale(), nil))
	require.NoError(t, err)
	assert.Equal(t, x.Scale(), z.Scale())

	_, err = up.ForwardWithReorder(context.Background(), y, reorder)
	assert.ErrorIs(t, err, ErrReorderMismatch)
}

// Two stride-2 pairs share the cache keys conv_(2,2,2)_*; each inverse must
// find the entries registered at its own scale.
func TestSparseInverseConv3D_NestedSameStride(t *testing.T) {
	backend := cpu.New()
	stride := spconv.Uniform(2)
	down0 := newDown(t, backend, stride, Options{})
	down1, err := NewSparseConv3D(Conv3DConfig{
		InChannels: 4, OutChannels: 4, KernelSize: spconv.Uniform(2), Stride: stride, IndiceKey: "down1",
	}, backend, Options{})
	require.NoError(t, err)
	up1, err := NewSparseInverseConv3D(InverseConv3DConfig{
		InChannels: 4, OutChannels: 4, KernelSize: spconv.Uniform(2), Stride: stride, IndiceKey: "down1",
	}, backend, Options{Verify: true})
	require.NoError(t, err)
	up0 := newUp(t, backend, stride, Options{Verify: true})

	ctx := context.Background()
	x := newInput(t, twoBatchSites, 3, tensor.Float32)
	a, err := down0.Forward(ctx, x)
	require.NoError(t, err)
	b, err := down1.Forward(ctx, a)
	require.NoError(t, err)
	require.Equal(t, spconv.Uniform(4), b.Scale())

	cache := b.SpatialCache()
	keys := []string{"conv_(2,2,2)_sort_bwd", "conv_(2,2,2)_unsorted_data"}
	assert.Equal(t, keys, cache.Keys(spconv.Uniform(2)))
	assert.Equal(t, keys, cache.Keys(spconv.Uniform(4)))
	outer, err := cache.Get(spconv.Uniform(2), UnsortedDataKey(stride))
	require.NoError(t, err)
	inner, err := cache.Get(spconv.Uniform(4), UnsortedDataKey(stride))
	require.NoError(t, err)
	assert.NotSame(t, outer, inner)

	c, err := up1.Forward(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, spconv.Uniform(2), c.Scale())
	assert.True(t, tensor.Equal(a.Coords(), c.Coords()))

	z, err := up0.Forward(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, x.Scale(), z.Scale())
	assert.True(t, tensor.Equal(x.Coords(), z.Coords()))

	// Same chain on the raw backend, where rows are never reordered.
	ops := make([]spconv.Operator, 0, 4)
	for _, l := range []struct {
		cfg     spconv.ConvConfig
		w       *Parameter
		b       *Parameter
		inverse bool
	}{
		{down0.cfg, down0.weight, down0.bias, false},
		{down1.cfg, down1.weight, down1.bias, false},
		{up1.cfg, up1.weight, up1.bias, true},
		{up0.cfg, up0.weight, up0.bias, true},
	} {
		var bias *tensor.RawTensor
		if l.b != nil {
			bias = l.b.Tensor()
		}
		var op spconv.Operator
		if l.inverse {
			op, err = backend.SparseInverseConv3D(l.cfg, l.w.Tensor(), bias)
		} else {
			op, err = backend.SparseConv3D(l.cfg, l.w.Tensor(), bias)
		}
		require.NoError(t, err)
		ops = append(ops, op)
	}
	want := newInput(t, twoBatchSites, 3, tensor.Float32).Data()
	for _, op := range ops {
		want, err = op.Forward(ctx, want)
		require.NoError(t, err)
	}
	assert.True(t, tensor.Equal(want.Indices, z.Coords()))
	assert.InDeltaSlice(t, want.Features.AsFloat32(), z.Feats().AsFloat32(), 1e-5)
}

func TestSparseConv3D_InvalidConfig(t *testing.T) {
	backend := cpu.New()
	_, err := NewSparseConv3D(Conv3DConfig{InChannels: 0, OutChannels: 4, KernelSize: spconv.Uniform(3)}, backend, Options{})
	assert.ErrorIs(t, err, spconv.ErrInvalidConfig)

	_, err = NewSparseInverseConv3D(InverseConv3DConfig{InChannels: 4, OutChannels: 4, KernelSize: spconv.Uniform(2)}, backend, Options{})
	assert.ErrorIs(t, err, spconv.ErrInvalidConfig)
}

func TestSparseConv3D_BackendErrorPropagates(t *testing.T) {
	backend := cpu.New()
	conv, err := NewSparseConv3D(Conv3DConfig{InChannels: 5, OutChannels: 4, KernelSize: spconv.Uniform(3)}, backend, Options{})
	require.NoError(t, err)

	x := newInput(t, twoBatchSites, 3, tensor.Float32)
	_, err = conv.Forward(context.Background(), x)
	assert.ErrorIs(t, err, spconv.ErrShapeMismatch)
}
