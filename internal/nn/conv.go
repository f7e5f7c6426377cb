package nn

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/sparseconv/internal/sparse"
	"github.com/born-ml/sparseconv/internal/spconv"
	"github.com/born-ml/sparseconv/internal/tensor"
)

// Conv3DConfig configures a SparseConv3D.
type Conv3DConfig struct {
	InChannels  int
	OutChannels int
	KernelSize  spconv.Triple
	Stride      spconv.Triple  // zero value means (1,1,1)
	Dilation    spconv.Triple  // zero value means (1,1,1)
	Padding     *spconv.Triple // nil means no explicit padding
	Bias        bool
	IndiceKey   string
	Algo        spconv.Algo
}

func (c Conv3DConfig) backendConfig() spconv.ConvConfig {
	bc := spconv.ConvConfig{
		InChannels:  c.InChannels,
		OutChannels: c.OutChannels,
		KernelSize:  c.KernelSize,
		Stride:      c.Stride,
		Dilation:    c.Dilation,
		Bias:        c.Bias,
		IndiceKey:   c.IndiceKey,
		Algo:        c.Algo,
	}
	if c.Padding != nil {
		bc.Padding = *c.Padding
	}
	return bc.Normalize()
}

// SparseConv3D is a sparse 3D convolution layer.
//
// With stride (1,1,1) and no explicit padding it runs a submanifold
// convolution (output sites = input sites); otherwise a regular sparse
// convolution that changes resolution.
//
// When resolution changes and the batch holds more than one sample, backend
// output rows are sorted by batch index. The permutation is returned as a
// Reorder and registered in the output's spatial cache under
// UnsortedDataKey(stride) and SortBackwardKey(stride).
//
// Example:
//
//	down, err := nn.NewSparseConv3D(nn.Conv3DConfig{
//	    InChannels: 32, OutChannels: 64,
//	    KernelSize: spconv.Uniform(2), Stride: spconv.Uniform(2),
//	    IndiceKey: "down0",
//	}, backend, nn.Options{})
//	y, reorder, err := down.ForwardWithReorder(ctx, x) // y.Scale() == x.Scale() * 2
type SparseConv3D struct {
	cfg         spconv.ConvConfig
	padded      bool
	submanifold bool

	weight *Parameter // [K, in_channels, out_channels]
	bias   *Parameter // [out_channels] or nil

	op   spconv.Operator
	opts Options
	log  *logrus.Entry
}

// NewSparseConv3D creates the layer and its backend operator with Xavier
// initialized weights and zero bias.
func NewSparseConv3D(cfg Conv3DConfig, backend spconv.Backend, opts Options) (*SparseConv3D, error) {
	bc := cfg.backendConfig()
	if err := bc.Validate(); err != nil {
		return nil, fmt.Errorf("sparse conv3d: %w", err)
	}

	kv := bc.KernelVolume()
	weight := NewParameter("sparse_conv3d.weight",
		Xavier(bc.InChannels*kv, bc.OutChannels*kv, bc.WeightShape()))
	var bias *Parameter
	var biasRaw *tensor.RawTensor
	if bc.Bias {
		bias = NewParameter("sparse_conv3d.bias", Zeros(tensor.Shape{bc.OutChannels}))
		biasRaw = bias.Tensor()
	}

	submanifold := bc.Stride.IsUnit() && cfg.Padding == nil
	var op spconv.Operator
	var err error
	if submanifold {
		op, err = backend.SubMConv3D(bc, weight.Tensor(), biasRaw)
	} else {
		op, err = backend.SparseConv3D(bc, weight.Tensor(), biasRaw)
	}
	if err != nil {
		return nil, fmt.Errorf("sparse conv3d: %w", err)
	}

	return &SparseConv3D{
		cfg:         bc,
		padded:      cfg.Padding != nil,
		submanifold: submanifold,
		weight:      weight,
		bias:        bias,
		op:          op,
		opts:        opts,
		log:         opts.logger("sparse_conv3d"),
	}, nil
}

// SpatialChanged reports whether the layer changes resolution.
func (c *SparseConv3D) SpatialChanged() bool {
	return !c.cfg.Stride.IsUnit() || c.padded
}

// Forward applies the convolution.
func (c *SparseConv3D) Forward(ctx context.Context, x *sparse.Tensor) (*sparse.Tensor, error) {
	out, _, err := c.ForwardWithReorder(ctx, x)
	return out, err
}

// ForwardWithReorder applies the convolution and also returns the reorder
// handoff for the paired inverse convolution; it is nil when no rows were
// reordered (resolution unchanged or batch size 1).
func (c *SparseConv3D) ForwardWithReorder(ctx context.Context, x *sparse.Tensor) (*sparse.Tensor, *Reorder, error) {
	spatialChanged := c.SpatialChanged()
	dtype := x.Feats().DType()

	// Backends only accept float32 features.
	in := x.Data().ReplaceFeature(tensor.Cast(x.Feats(), tensor.Float32))
	out, err := c.op.Forward(ctx, in)
	if err != nil {
		return nil, nil, fmt.Errorf("sparse conv3d: %w", err)
	}

	var reorder *Reorder
	if spatialChanged && x.BatchSize() != 1 {
		out, reorder, err = sortByBatch(out, c.cfg.Stride)
		if err != nil {
			return nil, nil, fmt.Errorf("sparse conv3d: sort by batch: %w", err)
		}
	}

	layout := x.Layout()
	if spatialChanged {
		layout = nil
	}
	result := sparse.Wrap(
		out.ReplaceFeature(tensor.Cast(out.Features, dtype)),
		tensor.Shape{x.BatchSize(), c.cfg.OutChannels},
		layout,
		x.Scale().Mul(c.cfg.Stride),
		x.SpatialCache(),
	)
	if reorder != nil {
		reorder.register(result)
	}

	c.log.WithFields(logrus.Fields{
		"stride":    c.cfg.Stride.String(),
		"rowsIn":    x.NumActive(),
		"rowsOut":   result.NumActive(),
		"scale":     result.Scale().String(),
		"reordered": reorder != nil,
	}).Debug("forward")

	return result, reorder, nil
}

// Parameters returns all trainable parameters.
func (c *SparseConv3D) Parameters() []*Parameter {
	if c.bias != nil {
		return []*Parameter{c.weight, c.bias}
	}
	return []*Parameter{c.weight}
}

// Submanifold reports whether the layer runs a submanifold convolution.
func (c *SparseConv3D) Submanifold() bool {
	return c.submanifold
}

// Stride returns the normalized stride.
func (c *SparseConv3D) Stride() spconv.Triple {
	return c.cfg.Stride
}

// OutChannels returns the number of output channels.
func (c *SparseConv3D) OutChannels() int {
	return c.cfg.OutChannels
}

// String returns a string representation of the layer.
func (c *SparseConv3D) String() string {
	return fmt.Sprintf("SparseConv3D(in_channels=%d, out_channels=%d, kernel_size=%v, stride=%v, dilation=%v, submanifold=%v, bias=%v, algo=%s)",
		c.cfg.InChannels, c.cfg.OutChannels, c.cfg.KernelSize, c.cfg.Stride, c.cfg.Dilation,
		c.submanifold, c.bias != nil, c.cfg.Algo)
}
