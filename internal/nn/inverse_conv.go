package nn

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/sparseconv/internal/sparse"
	"github.com/born-ml/sparseconv/internal/spconv"
	"github.com/born-ml/sparseconv/internal/tensor"
)

// InverseConv3DConfig configures a SparseInverseConv3D.
//
// IndiceKey and KernelSize must match the SparseConv3D being undone; Stride
// must equal that layer's stride.
type InverseConv3DConfig struct {
	InChannels  int
	OutChannels int
	KernelSize  spconv.Triple
	Stride      spconv.Triple // zero value means (1,1,1)
	Bias        bool
	IndiceKey   string
	Algo        spconv.Algo
}

// SparseInverseConv3D undoes a strided SparseConv3D: its output sites are the
// input sites of the convolution registered under IndiceKey.
type SparseInverseConv3D struct {
	cfg spconv.ConvConfig

	weight *Parameter // [K, in_channels, out_channels]
	bias   *Parameter // [out_channels] or nil

	op   spconv.Operator
	opts Options
	log  *logrus.Entry
}

// NewSparseInverseConv3D creates the layer and its backend operator.
func NewSparseInverseConv3D(cfg InverseConv3DConfig, backend spconv.Backend, opts Options) (*SparseInverseConv3D, error) {
	bc := spconv.ConvConfig{
		InChannels:  cfg.InChannels,
		OutChannels: cfg.OutChannels,
		KernelSize:  cfg.KernelSize,
		Stride:      cfg.Stride,
		Bias:        cfg.Bias,
		IndiceKey:   cfg.IndiceKey,
		Algo:        cfg.Algo,
	}.Normalize()
	if err := bc.Validate(); err != nil {
		return nil, fmt.Errorf("sparse inverse conv3d: %w", err)
	}

	kv := bc.KernelVolume()
	weight := NewParameter("sparse_inverse_conv3d.weight",
		Xavier(bc.InChannels*kv, bc.OutChannels*kv, bc.WeightShape()))
	var bias *Parameter
	var biasRaw *tensor.RawTensor
	if bc.Bias {
		bias = NewParameter("sparse_inverse_conv3d.bias", Zeros(tensor.Shape{bc.OutChannels}))
		biasRaw = bias.Tensor()
	}

	op, err := backend.SparseInverseConv3D(bc, weight.Tensor(), biasRaw)
	if err != nil {
		return nil, fmt.Errorf("sparse inverse conv3d: %w", err)
	}

	return &SparseInverseConv3D{
		cfg:    bc,
		weight: weight,
		bias:   bias,
		op:     op,
		opts:   opts,
		log:    opts.logger("sparse_inverse_conv3d"),
	}, nil
}

// SpatialChanged reports whether the layer changes resolution.
func (c *SparseInverseConv3D) SpatialChanged() bool {
	return !c.cfg.Stride.IsUnit()
}

// Forward applies the inverse convolution, reading the reorder produced by
// the paired SparseConv3D from x's spatial cache.
func (c *SparseInverseConv3D) Forward(ctx context.Context, x *sparse.Tensor) (*sparse.Tensor, error) {
	return c.ForwardWithReorder(ctx, x, nil)
}

// ForwardWithReorder applies the inverse convolution using an explicit
// reorder handoff. A nil reorder falls back to the spatial cache. A unit-stride
// layer never recovers order and rejects a non-nil reorder.
func (c *SparseInverseConv3D) ForwardWithReorder(ctx context.Context, x *sparse.Tensor, reorder *Reorder) (*sparse.Tensor, error) {
	spatialChanged := c.SpatialChanged()
	stride := c.cfg.Stride

	if !spatialChanged && reorder != nil {
		return nil, fmt.Errorf("%w: unit-stride layer cannot apply reorder for stride %v", ErrReorderMismatch, reorder.Stride)
	}
	if spatialChanged && !x.Scale().Divisible(stride) {
		return nil, fmt.Errorf("%w: scale %v, stride %v", ErrScaleNotDivisible, x.Scale(), stride)
	}

	data := x.Data()
	recovered := false
	if spatialChanged && x.BatchSize() != 1 {
		var err error
		if reorder == nil {
			reorder, err = reorderFromCache(x, stride)
			if err != nil {
				return nil, fmt.Errorf("sparse inverse conv3d: %w", err)
			}
		} else if reorder.Stride != stride {
			return nil, fmt.Errorf("%w: reorder stride %v, layer stride %v", ErrReorderMismatch, reorder.Stride, stride)
		}
		data, err = reorder.restore(x, c.opts.Verify)
		if err != nil {
			return nil, fmt.Errorf("sparse inverse conv3d: %w", err)
		}
		recovered = true
	}

	dtype := data.Features.DType()
	out, err := c.op.Forward(ctx, data.ReplaceFeature(tensor.Cast(data.Features, tensor.Float32)))
	if err != nil {
		return nil, fmt.Errorf("sparse inverse conv3d: %w", err)
	}

	layout := x.Layout()
	if spatialChanged {
		layout = nil
	}
	result := sparse.Wrap(
		out.ReplaceFeature(tensor.Cast(out.Features, dtype)),
		tensor.Shape{x.BatchSize(), c.cfg.OutChannels},
		layout,
		x.Scale().Div(stride),
		x.SpatialCache(),
	)

	c.log.WithFields(logrus.Fields{
		"stride":    stride.String(),
		"rowsIn":    x.NumActive(),
		"rowsOut":   result.NumActive(),
		"scale":     result.Scale().String(),
		"recovered": recovered,
	}).Debug("forward")

	return result, nil
}

// Parameters returns all trainable parameters.
func (c *SparseInverseConv3D) Parameters() []*Parameter {
	if c.bias != nil {
		return []*Parameter{c.weight, c.bias}
	}
	return []*Parameter{c.weight}
}

// Stride returns the normalized stride.
func (c *SparseInverseConv3D) Stride() spconv.Triple {
	return c.cfg.Stride
}

// OutChannels returns the number of output channels.
func (c *SparseInverseConv3D) OutChannels() int {
	return c.cfg.OutChannels
}

// String returns a string representation of the layer.
func (c *SparseInverseConv3D) String() string {
	return fmt.Sprintf("SparseInverseConv3D(in_channels=%d, out_channels=%d, kernel_size=%v, stride=%v, indice_key=%q, bias=%v)",
		c.cfg.InChannels, c.cfg.OutChannels, c.cfg.KernelSize, c.cfg.Stride, c.cfg.IndiceKey, c.bias != nil)
}
