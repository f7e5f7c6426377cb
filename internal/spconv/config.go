package spconv

import (
	"fmt"

	"github.com/born-ml/sparseconv/internal/tensor"
)

// ConvConfig describes a sparse 3D convolution operator.
//
// Zero-valued Stride and Dilation mean (1,1,1); zero-valued Padding means none.
type ConvConfig struct {
	InChannels  int
	OutChannels int
	KernelSize  Triple
	Stride      Triple
	Dilation    Triple
	Padding     Triple
	Bias        bool

	// IndiceKey names the rulebook shared between operators. A strided
	// convolution and the inverse convolution that undoes it must use the
	// same key.
	IndiceKey string
	Algo      Algo
}

// Normalize fills defaulted fields.
func (c ConvConfig) Normalize() ConvConfig {
	c.Stride = c.Stride.orDefault(Uniform(1))
	c.Dilation = c.Dilation.orDefault(Uniform(1))
	return c
}

// Validate checks the static configuration.
func (c ConvConfig) Validate() error {
	c = c.Normalize()
	switch {
	case c.InChannels <= 0 || c.OutChannels <= 0:
		return fmt.Errorf("%w: channels in=%d, out=%d", ErrInvalidConfig, c.InChannels, c.OutChannels)
	case !c.KernelSize.Positive():
		return fmt.Errorf("%w: kernel size %v", ErrInvalidConfig, c.KernelSize)
	case !c.Stride.Positive():
		return fmt.Errorf("%w: stride %v", ErrInvalidConfig, c.Stride)
	case !c.Dilation.Positive():
		return fmt.Errorf("%w: dilation %v", ErrInvalidConfig, c.Dilation)
	case c.Padding[0] < 0 || c.Padding[1] < 0 || c.Padding[2] < 0:
		return fmt.Errorf("%w: padding %v", ErrInvalidConfig, c.Padding)
	case c.Algo != AlgoNative && c.Algo != AlgoImplicitGEMM:
		return fmt.Errorf("%w: algorithm %d", ErrInvalidConfig, c.Algo)
	}
	return nil
}

// KernelVolume returns the number of kernel offsets.
func (c ConvConfig) KernelVolume() int {
	return c.KernelSize.Volume()
}

// WeightShape returns the expected weight shape [K, in_channels, out_channels].
func (c ConvConfig) WeightShape() tensor.Shape {
	return tensor.Shape{c.KernelVolume(), c.InChannels, c.OutChannels}
}

// CheckParams validates weight and bias tensors against the config.
func (c ConvConfig) CheckParams(weight, bias *tensor.RawTensor) error {
	if weight == nil {
		return fmt.Errorf("%w: missing weight", ErrInvalidConfig)
	}
	if weight.DType() != tensor.Float32 {
		return fmt.Errorf("%w: weight is %s", ErrFeatureDType, weight.DType())
	}
	if !weight.Shape().Equal(c.WeightShape()) {
		return fmt.Errorf("%w: weight shape %v, want %v", ErrShapeMismatch, weight.Shape(), c.WeightShape())
	}
	if !c.Bias {
		return nil
	}
	if bias == nil {
		return fmt.Errorf("%w: bias enabled but missing", ErrInvalidConfig)
	}
	if bias.DType() != tensor.Float32 {
		return fmt.Errorf("%w: bias is %s", ErrFeatureDType, bias.DType())
	}
	if !bias.Shape().Equal(tensor.Shape{c.OutChannels}) {
		return fmt.Errorf("%w: bias shape %v, want [%d]", ErrShapeMismatch, bias.Shape(), c.OutChannels)
	}
	return nil
}
