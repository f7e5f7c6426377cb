package cpu

import (
	"context"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sparseconv/internal/parallel"
	"github.com/born-ml/sparseconv/internal/spconv"
	"github.com/born-ml/sparseconv/internal/tensor"
)

// newSparse builds a backend tensor from (batch, x, y, z) sites and row-major features.
func newSparse(t *testing.T, sites [][4]int32, feats []float32, channels int, shape spconv.Triple, batch int) *spconv.Tensor {
	t.Helper()

	coords := make([]int32, 0, len(sites)*4)
	for _, s := range sites {
		coords = append(coords, s[:]...)
	}
	idx, err := tensor.FromSlice(coords, tensor.Shape{len(sites), 4})
	require.NoError(t, err)
	f, err := tensor.FromSlice(feats, tensor.Shape{len(sites), channels})
	require.NoError(t, err)

	x, err := spconv.NewTensor(f, idx, shape, batch)
	require.NoError(t, err)
	return x
}

// filledWeight returns a [K, cin, cout] weight with every entry set to v.
func filledWeight(t *testing.T, cfg spconv.ConvConfig, v float32) *tensor.RawTensor {
	t.Helper()
	w, err := tensor.NewRaw(cfg.WeightShape(), tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	for i := range w.AsFloat32() {
		w.AsFloat32()[i] = v
	}
	return w
}

func randomWeight(t *testing.T, cfg spconv.ConvConfig, rng *rand.Rand) *tensor.RawTensor {
	t.Helper()
	w, err := tensor.NewRaw(cfg.WeightShape(), tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	for i := range w.AsFloat32() {
		w.AsFloat32()[i] = rng.Float32()*2 - 1
	}
	return w
}

func TestSubMConv3D_PointwiseScale(t *testing.T) {
	backend := New()
	cfg := spconv.ConvConfig{InChannels: 1, OutChannels: 1, KernelSize: spconv.Uniform(1)}
	op, err := backend.SubMConv3D(cfg, filledWeight(t, cfg, 2), nil)
	require.NoError(t, err)

	x := newSparse(t, [][4]int32{{0, 0, 0, 0}, {0, 3, 2, 1}}, []float32{1.5, -1}, 1, spconv.Uniform(4), 1)
	out, err := op.Forward(context.Background(), x)
	require.NoError(t, err)

	assert.Equal(t, []float32{3, -2}, out.Features.AsFloat32())
	assert.Same(t, x.Indices, out.Indices)
	assert.Equal(t, x.SpatialShape, out.SpatialShape)
}

func TestSubMConv3D_NeighbourSumStaysInBatch(t *testing.T) {
	backend := New()
	cfg := spconv.ConvConfig{InChannels: 1, OutChannels: 1, KernelSize: spconv.Uniform(3), IndiceKey: "subm0"}
	op, err := backend.SubMConv3D(cfg, filledWeight(t, cfg, 1), nil)
	require.NoError(t, err)

	x := newSparse(t, [][4]int32{
		{0, 0, 0, 0},
		{0, 1, 0, 0},
		{1, 0, 0, 0},
		{0, 3, 3, 3},
	}, []float32{1, 10, 100, 1000}, 1, spconv.Uniform(4), 2)

	out, err := op.Forward(context.Background(), x)
	require.NoError(t, err)

	// Sites (0,0,0) and (1,0,0) of batch 0 see each other; batch 1 is isolated.
	assert.Equal(t, []float32{11, 11, 100, 1000}, out.Features.AsFloat32())

	data, ok := x.IndiceDict.Get("subm0")
	require.True(t, ok)
	assert.True(t, data.Subm)
	assert.Equal(t, 6, data.NumPairs())
}

func TestSubMConv3D_ReusesRulebook(t *testing.T) {
	backend := New()
	cfg := spconv.ConvConfig{InChannels: 1, OutChannels: 1, KernelSize: spconv.Uniform(3), IndiceKey: "subm0"}
	op, err := backend.SubMConv3D(cfg, filledWeight(t, cfg, 1), nil)
	require.NoError(t, err)

	x := newSparse(t, [][4]int32{{0, 0, 0, 0}, {0, 1, 1, 1}}, []float32{1, 2}, 1, spconv.Uniform(2), 1)
	_, err = op.Forward(context.Background(), x)
	require.NoError(t, err)
	first, _ := x.IndiceDict.Get("subm0")

	_, err = op.Forward(context.Background(), x)
	require.NoError(t, err)
	second, _ := x.IndiceDict.Get("subm0")

	assert.Same(t, first, second)
}

func TestSparseConv3D_StrideTwoInterleavesBatches(t *testing.T) {
	backend := New()
	cfg := spconv.ConvConfig{
		InChannels: 1, OutChannels: 1,
		KernelSize: spconv.Uniform(2), Stride: spconv.Uniform(2),
		IndiceKey: "down0",
	}
	op, err := backend.SparseConv3D(cfg, filledWeight(t, cfg, 1), nil)
	require.NoError(t, err)

	x := newSparse(t, [][4]int32{
		{0, 0, 0, 0},
		{0, 1, 1, 1},
		{0, 2, 0, 0},
		{1, 0, 0, 0},
	}, []float32{1, 2, 4, 8}, 1, spconv.Uniform(4), 2)

	out, err := op.Forward(context.Background(), x)
	require.NoError(t, err)

	assert.Equal(t, spconv.Uniform(2), out.SpatialShape)
	assert.Equal(t, []int32{
		0, 0, 0, 0,
		1, 0, 0, 0,
		0, 1, 0, 0,
	}, out.Indices.AsInt32())
	assert.Equal(t, []float32{3, 8, 4}, out.Features.AsFloat32())

	data, ok := out.IndiceDict.Get("down0")
	require.True(t, ok)
	assert.False(t, data.Subm)
	assert.Same(t, x.Indices, data.InIndices)
}

func TestSparseInverseConv3D_RestoresInputSites(t *testing.T) {
	backend := New()
	down := spconv.ConvConfig{
		InChannels: 1, OutChannels: 1,
		KernelSize: spconv.Uniform(2), Stride: spconv.Uniform(2),
		IndiceKey: "down0",
	}
	up := spconv.ConvConfig{InChannels: 1, OutChannels: 1, KernelSize: spconv.Uniform(2), IndiceKey: "down0"}

	downOp, err := backend.SparseConv3D(down, filledWeight(t, down, 1), nil)
	require.NoError(t, err)
	upOp, err := backend.SparseInverseConv3D(up, filledWeight(t, up, 1), nil)
	require.NoError(t, err)

	x := newSparse(t, [][4]int32{
		{0, 0, 0, 0},
		{0, 1, 1, 1},
		{0, 2, 0, 0},
		{1, 0, 0, 0},
	}, []float32{1, 2, 4, 8}, 1, spconv.Uniform(4), 2)

	mid, err := downOp.Forward(context.Background(), x)
	require.NoError(t, err)
	out, err := upOp.Forward(context.Background(), mid)
	require.NoError(t, err)

	assert.Same(t, x.Indices, out.Indices)
	assert.Equal(t, x.SpatialShape, out.SpatialShape)
	// Each input site receives the coarse feature of the cell it fell into.
	assert.Equal(t, []float32{3, 3, 4, 8}, out.Features.AsFloat32())
}

func TestSparseInverseConv3D_Errors(t *testing.T) {
	backend := New()
	up := spconv.ConvConfig{InChannels: 1, OutChannels: 1, KernelSize: spconv.Uniform(2), IndiceKey: "down0"}
	upOp, err := backend.SparseInverseConv3D(up, filledWeight(t, up, 1), nil)
	require.NoError(t, err)

	x := newSparse(t, [][4]int32{{0, 0, 0, 0}}, []float32{1}, 1, spconv.Uniform(2), 1)

	_, err = upOp.Forward(context.Background(), x)
	assert.True(t, errors.Is(err, spconv.ErrIndiceKeyMissing))

	x.IndiceDict.Set("down0", &spconv.IndiceData{
		InIndices:  x.Indices,
		OutIndices: x.Indices,
		KernelSize: spconv.Uniform(2),
		Pairs:      make([]spconv.PairList, 8),
	})
	two := newSparse(t, [][4]int32{{0, 0, 0, 0}, {0, 1, 0, 0}}, []float32{1, 2}, 1, spconv.Uniform(2), 1)
	two.IndiceDict = x.IndiceDict
	_, err = upOp.Forward(context.Background(), two)
	assert.True(t, errors.Is(err, spconv.ErrIndiceMismatch))

	noKey := spconv.ConvConfig{InChannels: 1, OutChannels: 1, KernelSize: spconv.Uniform(2)}
	_, err = backend.SparseInverseConv3D(noKey, filledWeight(t, noKey, 1), nil)
	assert.True(t, errors.Is(err, spconv.ErrInvalidConfig))
}

func TestConv3D_RejectsFloat64Features(t *testing.T) {
	backend := New()
	cfg := spconv.ConvConfig{InChannels: 1, OutChannels: 1, KernelSize: spconv.Uniform(1)}
	op, err := backend.SubMConv3D(cfg, filledWeight(t, cfg, 1), nil)
	require.NoError(t, err)

	x := newSparse(t, [][4]int32{{0, 0, 0, 0}}, []float32{1}, 1, spconv.Uniform(1), 1)
	x = x.ReplaceFeature(tensor.Cast(x.Features, tensor.Float64))

	_, err = op.Forward(context.Background(), x)
	assert.True(t, errors.Is(err, spconv.ErrFeatureDType))
}

func TestConv3D_Bias(t *testing.T) {
	backend := New()
	cfg := spconv.ConvConfig{InChannels: 1, OutChannels: 2, KernelSize: spconv.Uniform(1), Bias: true}
	bias, err := tensor.FromSlice([]float32{0.5, -0.5}, tensor.Shape{2})
	require.NoError(t, err)
	op, err := backend.SubMConv3D(cfg, filledWeight(t, cfg, 1), bias)
	require.NoError(t, err)

	x := newSparse(t, [][4]int32{{0, 0, 0, 0}}, []float32{2}, 1, spconv.Uniform(1), 1)
	out, err := op.Forward(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, []float32{2.5, 1.5}, out.Features.AsFloat32())
}

func TestConv3D_RejectsDuplicateSites(t *testing.T) {
	backend := New()
	cfg := spconv.ConvConfig{InChannels: 1, OutChannels: 1, KernelSize: spconv.Uniform(3)}
	op, err := backend.SubMConv3D(cfg, filledWeight(t, cfg, 1), nil)
	require.NoError(t, err)

	x := newSparse(t, [][4]int32{{0, 1, 1, 1}, {0, 1, 1, 1}}, []float32{1, 2}, 1, spconv.Uniform(2), 1)
	_, err = op.Forward(context.Background(), x)
	assert.True(t, errors.Is(err, spconv.ErrShapeMismatch))
}

func TestConv3D_CancelledContext(t *testing.T) {
	backend := New()
	cfg := spconv.ConvConfig{InChannels: 1, OutChannels: 1, KernelSize: spconv.Uniform(1)}
	op, err := backend.SubMConv3D(cfg, filledWeight(t, cfg, 1), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	x := newSparse(t, [][4]int32{{0, 0, 0, 0}}, []float32{1}, 1, spconv.Uniform(1), 1)
	_, err = op.Forward(ctx, x)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestConv3D_NativeMatchesImplicitGEMM(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	backend := New(WithParallel(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}))

	// Random active sites in an 8^3 grid, two batches.
	seen := map[[4]int32]bool{}
	var sites [][4]int32
	for len(sites) < 60 {
		s := [4]int32{int32(rng.Intn(2)), int32(rng.Intn(8)), int32(rng.Intn(8)), int32(rng.Intn(8))}
		if !seen[s] {
			seen[s] = true
			sites = append(sites, s)
		}
	}
	feats := make([]float32, len(sites)*3)
	for i := range feats {
		feats[i] = rng.Float32()
	}

	cases := []struct {
		name  string
		build func(cfg spconv.ConvConfig, w *tensor.RawTensor) (spconv.Operator, error)
		cfg   spconv.ConvConfig
	}{
		{
			name:  "subm",
			build: func(cfg spconv.ConvConfig, w *tensor.RawTensor) (spconv.Operator, error) { return backend.SubMConv3D(cfg, w, nil) },
			cfg:   spconv.ConvConfig{InChannels: 3, OutChannels: 4, KernelSize: spconv.Uniform(3)},
		},
		{
			name:  "strided",
			build: func(cfg spconv.ConvConfig, w *tensor.RawTensor) (spconv.Operator, error) { return backend.SparseConv3D(cfg, w, nil) },
			cfg:   spconv.ConvConfig{InChannels: 3, OutChannels: 4, KernelSize: spconv.Uniform(3), Stride: spconv.Uniform(2), Padding: spconv.Uniform(1)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := randomWeight(t, tc.cfg, rng)

			native := tc.cfg
			native.Algo = spconv.AlgoNative
			implicit := tc.cfg
			implicit.Algo = spconv.AlgoImplicitGEMM

			nativeOp, err := tc.build(native, w)
			require.NoError(t, err)
			implicitOp, err := tc.build(implicit, w)
			require.NoError(t, err)

			x := newSparse(t, sites, feats, 3, spconv.Uniform(8), 2)
			a, err := nativeOp.Forward(context.Background(), x)
			require.NoError(t, err)
			b, err := implicitOp.Forward(context.Background(), x)
			require.NoError(t, err)

			assert.True(t, tensor.Equal(a.Indices, b.Indices))
			assert.InDeltaSlice(t, a.Features.AsFloat32(), b.Features.AsFloat32(), 1e-4)
		})
	}
}

func TestOutputSpatialShape(t *testing.T) {
	tests := []struct {
		name string
		cfg  spconv.ConvConfig
		in   spconv.Triple
		want spconv.Triple
	}{
		{"k2s2", spconv.ConvConfig{KernelSize: spconv.Uniform(2), Stride: spconv.Uniform(2), Dilation: spconv.Uniform(1)}, spconv.Uniform(8), spconv.Uniform(4)},
		{"k3s2p1", spconv.ConvConfig{KernelSize: spconv.Uniform(3), Stride: spconv.Uniform(2), Dilation: spconv.Uniform(1), Padding: spconv.Uniform(1)}, spconv.Uniform(8), spconv.Uniform(4)},
		{"k3s1", spconv.ConvConfig{KernelSize: spconv.Uniform(3), Stride: spconv.Uniform(1), Dilation: spconv.Uniform(1)}, spconv.Triple{8, 6, 4}, spconv.Triple{6, 4, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := outputSpatialShape(tt.in, tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := outputSpatialShape(spconv.Uniform(1), spconv.ConvConfig{
		KernelSize: spconv.Uniform(3), Stride: spconv.Uniform(1), Dilation: spconv.Uniform(1),
	})
	assert.True(t, errors.Is(err, spconv.ErrShapeMismatch))
}

func TestSiteEncodingRoundTrip(t *testing.T) {
	shape := spconv.Triple{5, 6, 7}
	for _, s := range [][4]int{{0, 0, 0, 0}, {2, 4, 5, 6}, {1, 3, 0, 2}} {
		key := encodeSite(s[0], s[1], s[2], s[3], shape, 3)
		b, x, y, z := decodeSite(key, shape, 3)
		assert.Equal(t, s, [4]int{b, x, y, z})
	}
}
