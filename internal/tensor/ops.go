package tensor

import (
	"bytes"
	"cmp"
	"fmt"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

type number interface {
	constraints.Integer | constraints.Float
}

// Cast converts the tensor to a different data type.
// Returns x itself when the dtype already matches.
func Cast(x *RawTensor, dtype DataType) *RawTensor {
	if x.DType() == dtype {
		return x
	}

	result, err := NewRaw(x.Shape(), dtype, x.Device())
	if err != nil {
		panic(fmt.Sprintf("cast: %v", err))
	}

	switch x.DType() {
	case Float32:
		castFrom(result, viewAs[float32](x))
	case Float64:
		castFrom(result, viewAs[float64](x))
	case Int32:
		castFrom(result, viewAs[int32](x))
	case Int64:
		castFrom(result, viewAs[int64](x))
	case Uint8:
		castFrom(result, x.data)
	case Bool:
		// bool and uint8 share the same byte representation.
		castFrom(result, x.data)
	default:
		panic(fmt.Sprintf("cast: unsupported source dtype %v", x.DType()))
	}
	return result
}

func castFrom[F number](dst *RawTensor, src []F) {
	switch dst.dtype {
	case Float32:
		convert(viewAs[float32](dst), src)
	case Float64:
		convert(viewAs[float64](dst), src)
	case Int32:
		convert(viewAs[int32](dst), src)
	case Int64:
		convert(viewAs[int64](dst), src)
	case Uint8:
		convert(dst.data, src)
	case Bool:
		out := viewAs[bool](dst)
		for i, v := range src {
			out[i] = v != 0
		}
	default:
		panic(fmt.Sprintf("cast: unsupported target dtype %v", dst.dtype))
	}
}

func convert[F, T number](dst []T, src []F) {
	for i, v := range src {
		dst[i] = T(v)
	}
}

// IndexSelect gathers rows of x along dim 0: result[i] = x[index[i]].
// Works for every dtype; index must be a 1D Int32 or Int64 tensor.
func IndexSelect(x, index *RawTensor) (*RawTensor, error) {
	if len(x.Shape()) == 0 {
		return nil, fmt.Errorf("index_select: expected at least 1D input, got scalar")
	}
	idx, err := indexValues(index)
	if err != nil {
		return nil, fmt.Errorf("index_select: %w", err)
	}

	outShape := x.Shape().Clone()
	outShape[0] = len(idx)
	result, err := NewRaw(outShape, x.DType(), x.Device())
	if err != nil {
		return nil, fmt.Errorf("index_select: %w", err)
	}

	rowBytes := x.RowBytes()
	rows := x.Rows()
	for i, src := range idx {
		if src < 0 || src >= int64(rows) {
			return nil, fmt.Errorf("index_select: index %d out of range [0, %d)", src, rows)
		}
		copy(result.data[i*rowBytes:(i+1)*rowBytes], x.data[int(src)*rowBytes:int(src+1)*rowBytes])
	}
	return result, nil
}

// ArgsortColumn returns the stable ascending argsort (Int64) of column col
// of a 2D integer tensor.
func ArgsortColumn(x *RawTensor, col int) (*RawTensor, error) {
	shape := x.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("argsort: expected 2D input, got %dD", len(shape))
	}
	if col < 0 || col >= shape[1] {
		return nil, fmt.Errorf("argsort: column %d out of range [0, %d)", col, shape[1])
	}

	n, width := shape[0], shape[1]
	keys := make([]int64, n)
	switch x.DType() {
	case Int32:
		data := viewAs[int32](x)
		for i := range keys {
			keys[i] = int64(data[i*width+col])
		}
	case Int64:
		data := viewAs[int64](x)
		for i := range keys {
			keys[i] = data[i*width+col]
		}
	default:
		return nil, fmt.Errorf("argsort: expected integer tensor, got %s", x.DType())
	}

	order := make([]int64, n)
	for i := range order {
		order[i] = int64(i)
	}
	slices.SortStableFunc(order, func(a, b int64) int {
		return cmp.Compare(keys[a], keys[b])
	})
	return FromSlice(order, Shape{n})
}

// InversePermutation returns bwd such that bwd[perm[i]] = i.
// perm must be a 1D integer permutation of [0, n).
func InversePermutation(perm *RawTensor) (*RawTensor, error) {
	idx, err := indexValues(perm)
	if err != nil {
		return nil, fmt.Errorf("inverse permutation: %w", err)
	}

	n := len(idx)
	bwd := make([]int64, n)
	seen := make([]bool, n)
	for i, p := range idx {
		if p < 0 || p >= int64(n) || seen[p] {
			return nil, fmt.Errorf("inverse permutation: %v is not a permutation of [0, %d)", perm.Shape(), n)
		}
		seen[p] = true
		bwd[p] = int64(i)
	}
	return FromSlice(bwd, Shape{n})
}

// Equal reports whether a and b have the same dtype, shape and contents.
func Equal(a, b *RawTensor) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.DType() == b.DType() && a.Shape().Equal(b.Shape()) && bytes.Equal(a.data, b.data)
}

// indexValues reads a 1D Int32 or Int64 tensor as int64 values.
func indexValues(index *RawTensor) ([]int64, error) {
	if len(index.Shape()) != 1 {
		return nil, fmt.Errorf("expected 1D index, got shape %v", index.Shape())
	}
	switch index.DType() {
	case Int64:
		return viewAs[int64](index), nil
	case Int32:
		src := viewAs[int32](index)
		out := make([]int64, len(src))
		convert(out, src)
		return out, nil
	default:
		return nil, fmt.Errorf("expected integer index, got %s", index.DType())
	}
}
