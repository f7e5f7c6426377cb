package nn

import (
	"fmt"

	"github.com/born-ml/sparseconv/internal/tensor"
)

// Parameter is a named Float32 weight tensor owned by a layer.
//
// The backend operator built by the layer reads the same buffer, so Load
// updates the weights the operator uses.
type Parameter struct {
	name   string
	tensor *tensor.RawTensor
}

// NewParameter creates a new parameter.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.tensor
}

// Load copies src into the parameter in place. Shape must match; src is
// cast to Float32 when needed.
func (p *Parameter) Load(src *tensor.RawTensor) error {
	if !src.Shape().Equal(p.tensor.Shape()) {
		return fmt.Errorf("parameter %s: shape %v, want %v", p.name, src.Shape(), p.tensor.Shape())
	}
	copy(p.tensor.AsFloat32(), tensor.Cast(src, tensor.Float32).AsFloat32())
	return nil
}
