package nn

import (
	"fmt"
	"strconv"

	"github.com/born-ml/sparseconv/internal/serialization"
	"github.com/born-ml/sparseconv/internal/tensor"
)

// StateDict returns m's parameters keyed "<index>.<name>", index being the
// parameter's position in m.Parameters().
//
// The tensors are shared, not copied.
func StateDict(m Module) map[string]*tensor.RawTensor {
	params := m.Parameters()
	dict := make(map[string]*tensor.RawTensor, len(params))
	for i, p := range params {
		dict[stateKey(i, p)] = p.Tensor()
	}
	return dict
}

// LoadStateDict copies dict into m's parameters. Every parameter must be
// present with a matching shape; extra entries are ignored.
func LoadStateDict(m Module, dict map[string]*tensor.RawTensor) error {
	for i, p := range m.Parameters() {
		key := stateKey(i, p)
		src, ok := dict[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingParameter, key)
		}
		if err := p.Load(src); err != nil {
			return err
		}
	}
	return nil
}

// SaveWeights writes m's parameters to path in SafeTensors format.
func SaveWeights(path string, m Module) error {
	params := m.Parameters()
	metadata := map[string]string{
		"format":     "weights",
		"parameters": strconv.Itoa(len(params)),
	}
	return serialization.WriteSafeTensors(path, StateDict(m), metadata)
}

// LoadWeights reads parameters written by SaveWeights into m.
func LoadWeights(path string, m Module) error {
	dict, _, err := serialization.ReadSafeTensors(path)
	if err != nil {
		return err
	}
	return LoadStateDict(m, dict)
}

func stateKey(i int, p *Parameter) string {
	return strconv.Itoa(i) + "." + p.Name()
}
