package cpu

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/sparseconv/internal/parallel"
	"github.com/born-ml/sparseconv/internal/spconv"
	"github.com/born-ml/sparseconv/internal/tensor"
)

// apply computes out[dst] += in[src] · W[k] for every pair of every kernel
// offset k, then adds the bias. With reverse set the pairs are read
// backwards (output → input), which is how the inverse convolution reuses
// the rulebook of the strided convolution it undoes.
func (c *conv3d) apply(ctx context.Context, feats *tensor.RawTensor, pairs []spconv.PairList, nOut int, reverse bool) (*tensor.RawTensor, error) {
	out, err := tensor.NewRaw(tensor.Shape{nOut, c.cfg.OutChannels}, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, errors.Wrap(err, "allocate output")
	}
	if len(pairs) != c.cfg.KernelVolume() {
		return nil, errors.Wrapf(spconv.ErrIndiceMismatch, "%d pair lists for kernel volume %d", len(pairs), c.cfg.KernelVolume())
	}

	switch c.cfg.Algo {
	case spconv.AlgoImplicitGEMM:
		err = c.implicitGEMM(ctx, feats.AsFloat32(), out.AsFloat32(), pairs, nOut, reverse)
	default:
		err = c.native(ctx, feats.AsFloat32(), out.AsFloat32(), pairs, reverse)
	}
	if err != nil {
		return nil, err
	}

	if c.bias != nil {
		addBias(out.AsFloat32(), c.bias.AsFloat32())
	}
	return out, nil
}

// native runs one dense GEMM per kernel offset over the gathered input rows.
func (c *conv3d) native(ctx context.Context, in, out []float32, pairs []spconv.PairList, reverse bool) error {
	cin, cout := c.cfg.InChannels, c.cfg.OutChannels
	w := c.weight.AsFloat32()

	maxPairs := 0
	for _, p := range pairs {
		maxPairs = max(maxPairs, p.Len())
	}
	gathered := make([]float32, maxPairs*cin)
	product := make([]float32, maxPairs*cout)

	for k, p := range pairs {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "kernel offset %d", k)
		}
		src, dst := p.In, p.Out
		if reverse {
			src, dst = p.Out, p.In
		}
		n := len(src)
		if n == 0 {
			continue
		}

		for r, i := range src {
			copy(gathered[r*cin:(r+1)*cin], in[int(i)*cin:(int(i)+1)*cin])
		}

		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			blas32.General{Rows: n, Cols: cin, Stride: cin, Data: gathered[:n*cin]},
			blas32.General{Rows: cin, Cols: cout, Stride: cout, Data: w[k*cin*cout : (k+1)*cin*cout]},
			0,
			blas32.General{Rows: n, Cols: cout, Stride: cout, Data: product[:n*cout]},
		)

		for r, j := range dst {
			row := out[int(j)*cout : (int(j)+1)*cout]
			prod := product[r*cout : (r+1)*cout]
			for co := range row {
				row[co] += prod[co]
			}
		}
	}
	return nil
}

// implicitGEMM builds a [K, nOut] mask of source rows and lets each worker
// accumulate a contiguous block of output rows.
func (c *conv3d) implicitGEMM(ctx context.Context, in, out []float32, pairs []spconv.PairList, nOut int, reverse bool) error {
	cin, cout := c.cfg.InChannels, c.cfg.OutChannels
	w := c.weight.AsFloat32()
	kv := len(pairs)

	mask := make([]int32, kv*nOut)
	for i := range mask {
		mask[i] = -1
	}
	for k, p := range pairs {
		src, dst := p.In, p.Out
		if reverse {
			src, dst = p.Out, p.In
		}
		for r, j := range dst {
			mask[k*nOut+int(j)] = src[r]
		}
	}

	err := parallel.ForContext(ctx, nOut, func(start, end int) {
		for j := start; j < end; j++ {
			row := out[j*cout : (j+1)*cout]
			for k := 0; k < kv; k++ {
				i := mask[k*nOut+j]
				if i < 0 {
					continue
				}
				x := in[int(i)*cin : (int(i)+1)*cin]
				wk := w[k*cin*cout : (k+1)*cin*cout]
				for ci, v := range x {
					if v == 0 {
						continue
					}
					wr := wk[ci*cout : (ci+1)*cout]
					for co, wv := range wr {
						row[co] += v * wv
					}
				}
			}
		}
	}, c.backend.parallel)
	return errors.Wrap(err, "implicit gemm")
}

func addBias(out, bias []float32) {
	cout := len(bias)
	for r := 0; r < len(out)/cout; r++ {
		row := out[r*cout : (r+1)*cout]
		for co, b := range bias {
			row[co] += b
		}
	}
}
