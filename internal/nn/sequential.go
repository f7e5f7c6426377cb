package nn

import (
	"context"
	"fmt"

	"github.com/born-ml/sparseconv/internal/sparse"
)

// Sequential is a container module that chains multiple modules together.
//
// Each module's output becomes the next module's input. Inverse convolutions
// inside a Sequential find their reorder through the spatial cache.
//
// Example:
//
//	model := nn.NewSequential(down, nn.NewReLU(), up)
//	y, err := model.Forward(ctx, x)
type Sequential struct {
	modules []Module
}

// NewSequential creates a new Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules: modules,
	}
}

// Forward applies all modules in sequence. The first error stops the chain.
func (s *Sequential) Forward(ctx context.Context, x *sparse.Tensor) (*sparse.Tensor, error) {
	out := x
	for i, module := range s.modules {
		var err error
		out, err = module.Forward(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("sequential[%d]: %w", i, err)
		}
	}
	return out, nil
}

// Parameters returns all trainable parameters from all modules.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Add appends a module to the sequence.
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}

// Len returns the number of modules.
func (s *Sequential) Len() int {
	return len(s.modules)
}

// Module returns the i-th module.
func (s *Sequential) Module(i int) Module {
	return s.modules[i]
}
