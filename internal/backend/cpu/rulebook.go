package cpu

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/sparseconv/internal/spconv"
	"github.com/born-ml/sparseconv/internal/tensor"
)

// siteIndex maps encoded active sites to their row in an indices tensor.
//
// Sites are encoded spatial-major with the batch index innermost, so sorting
// encoded keys orders sites by position first and interleaves batches.
type siteIndex struct {
	shape spconv.Triple
	batch int
	rows  map[int64]int32
}

func encodeSite(b, x, y, z int, shape spconv.Triple, batch int) int64 {
	return ((int64(x)*int64(shape[1])+int64(y))*int64(shape[2])+int64(z))*int64(batch) + int64(b)
}

func decodeSite(key int64, shape spconv.Triple, batch int) (b, x, y, z int) {
	b = int(key % int64(batch))
	rest := key / int64(batch)
	z = int(rest % int64(shape[2]))
	rest /= int64(shape[2])
	y = int(rest % int64(shape[1]))
	x = int(rest / int64(shape[1]))
	return b, x, y, z
}

func newSiteIndex(indices *tensor.RawTensor, shape spconv.Triple, batch int) (*siteIndex, error) {
	coords := indices.AsInt32()
	n := indices.Rows()
	idx := &siteIndex{shape: shape, batch: batch, rows: make(map[int64]int32, n)}

	for i := 0; i < n; i++ {
		b, x, y, z := int(coords[i*4]), int(coords[i*4+1]), int(coords[i*4+2]), int(coords[i*4+3])
		if b < 0 || b >= batch || !inBounds(x, y, z, shape) {
			return nil, errors.Wrapf(spconv.ErrShapeMismatch,
				"site %d (%d, %d, %d, %d) outside batch %d / spatial shape %v", i, b, x, y, z, batch, shape)
		}
		key := encodeSite(b, x, y, z, shape, batch)
		if _, dup := idx.rows[key]; dup {
			return nil, errors.Wrapf(spconv.ErrShapeMismatch, "duplicate site (%d, %d, %d, %d)", b, x, y, z)
		}
		idx.rows[key] = int32(i)
	}
	return idx, nil
}

func (s *siteIndex) lookup(b, x, y, z int) (int32, bool) {
	if !inBounds(x, y, z, s.shape) {
		return 0, false
	}
	row, ok := s.rows[encodeSite(b, x, y, z, s.shape, s.batch)]
	return row, ok
}

func inBounds(x, y, z int, shape spconv.Triple) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < shape[0] && y < shape[1] && z < shape[2]
}

// kernelOffset returns the per-axis position of kernel offset k (x-major).
func kernelOffset(k int, ks spconv.Triple) spconv.Triple {
	return spconv.Triple{k / (ks[1] * ks[2]), (k / ks[2]) % ks[1], k % ks[2]}
}

// outputSpatialShape applies (in + 2p - d(k-1) - 1)/s + 1 per axis.
func outputSpatialShape(in spconv.Triple, cfg spconv.ConvConfig) (spconv.Triple, error) {
	var out spconv.Triple
	for d := 0; d < 3; d++ {
		span := in[d] + 2*cfg.Padding[d] - cfg.Dilation[d]*(cfg.KernelSize[d]-1) - 1
		if span < 0 {
			return out, errors.Wrapf(spconv.ErrShapeMismatch,
				"spatial shape %v too small for kernel %v dilation %v padding %v", in, cfg.KernelSize, cfg.Dilation, cfg.Padding)
		}
		out[d] = span/cfg.Stride[d] + 1
	}
	return out, nil
}

// buildSubmRulebook pairs every active site with its active neighbours.
// Output sites are the input sites; the kernel is centred at ks/2.
func buildSubmRulebook(x *spconv.Tensor, cfg spconv.ConvConfig) (*spconv.IndiceData, error) {
	idx, err := newSiteIndex(x.Indices, x.SpatialShape, x.BatchSize)
	if err != nil {
		return nil, err
	}

	coords := x.Indices.AsInt32()
	n := x.NumActive()
	ks, dil := cfg.KernelSize, cfg.Dilation
	pairs := make([]spconv.PairList, ks.Volume())

	for k := range pairs {
		off := kernelOffset(k, ks)
		dx := (off[0] - ks[0]/2) * dil[0]
		dy := (off[1] - ks[1]/2) * dil[1]
		dz := (off[2] - ks[2]/2) * dil[2]
		for j := 0; j < n; j++ {
			c := coords[j*4 : j*4+4]
			if i, ok := idx.lookup(int(c[0]), int(c[1])+dx, int(c[2])+dy, int(c[3])+dz); ok {
				pairs[k].In = append(pairs[k].In, i)
				pairs[k].Out = append(pairs[k].Out, int32(j))
			}
		}
	}

	return &spconv.IndiceData{
		InIndices:       x.Indices,
		OutIndices:      x.Indices,
		InSpatialShape:  x.SpatialShape,
		OutSpatialShape: x.SpatialShape,
		Pairs:           pairs,
		KernelSize:      cfg.KernelSize,
		Stride:          cfg.Stride,
		Padding:         cfg.Padding,
		Dilation:        cfg.Dilation,
		Subm:            true,
	}, nil
}

// buildStridedRulebook computes the output site set of a regular sparse
// convolution and the pairs feeding it. Output sites are ordered by their
// spatial-major encoding, so rows of different batches interleave.
func buildStridedRulebook(x *spconv.Tensor, cfg spconv.ConvConfig) (*spconv.IndiceData, error) {
	outShape, err := outputSpatialShape(x.SpatialShape, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := newSiteIndex(x.Indices, x.SpatialShape, x.BatchSize); err != nil {
		return nil, err
	}

	type hit struct {
		in  int32
		k   int
		key int64
	}

	coords := x.Indices.AsInt32()
	n := x.NumActive()
	ks := cfg.KernelSize
	kv := ks.Volume()
	hits := make([]hit, 0, n)
	seen := make(map[int64]int32)

	for i := 0; i < n; i++ {
		c := coords[i*4 : i*4+4]
		for k := 0; k < kv; k++ {
			off := kernelOffset(k, ks)
			var o spconv.Triple
			ok := true
			for d := 0; d < 3 && ok; d++ {
				num := int(c[d+1]) + cfg.Padding[d] - off[d]*cfg.Dilation[d]
				if num < 0 || num%cfg.Stride[d] != 0 {
					ok = false
					break
				}
				o[d] = num / cfg.Stride[d]
				ok = o[d] < outShape[d]
			}
			if !ok {
				continue
			}
			key := encodeSite(int(c[0]), o[0], o[1], o[2], outShape, x.BatchSize)
			seen[key] = 0
			hits = append(hits, hit{in: int32(i), k: k, key: key})
		}
	}

	keys := make([]int64, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })

	outCoords := make([]int32, 0, len(keys)*4)
	for row, key := range keys {
		seen[key] = int32(row)
		b, ox, oy, oz := decodeSite(key, outShape, x.BatchSize)
		outCoords = append(outCoords, int32(b), int32(ox), int32(oy), int32(oz))
	}
	outIndices, err := tensor.FromSlice(outCoords, tensor.Shape{len(keys), 4})
	if err != nil {
		return nil, errors.Wrap(err, "output indices")
	}

	pairs := make([]spconv.PairList, kv)
	for _, h := range hits {
		pairs[h.k].In = append(pairs[h.k].In, h.in)
		pairs[h.k].Out = append(pairs[h.k].Out, seen[h.key])
	}

	return &spconv.IndiceData{
		InIndices:       x.Indices,
		OutIndices:      outIndices,
		InSpatialShape:  x.SpatialShape,
		OutSpatialShape: outShape,
		Pairs:           pairs,
		KernelSize:      cfg.KernelSize,
		Stride:          cfg.Stride,
		Padding:         cfg.Padding,
		Dilation:        cfg.Dilation,
		Subm:            false,
	}, nil
}

// reusable reports whether a stored rulebook was built for the same input
// sites and geometry as cfg.
func reusable(data *spconv.IndiceData, x *spconv.Tensor, cfg spconv.ConvConfig, subm bool) bool {
	if data.Subm != subm || data.KernelSize != cfg.KernelSize || data.Dilation != cfg.Dilation {
		return false
	}
	if !subm && (data.Stride != cfg.Stride || data.Padding != cfg.Padding) {
		return false
	}
	return data.InSpatialShape == x.SpatialShape &&
		(data.InIndices == x.Indices || tensor.Equal(data.InIndices, x.Indices))
}
