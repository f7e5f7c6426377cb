package spconv

import "fmt"

// Algo selects the backend convolution algorithm.
type Algo int

// Supported algorithms.
const (
	// AlgoNative gathers input rows per kernel offset, multiplies them by the
	// offset's weight slice and scatters the products into the output.
	AlgoNative Algo = iota
	// AlgoImplicitGEMM accumulates each output row over a kernel-offset mask.
	AlgoImplicitGEMM
)

// String returns the configuration name of the algorithm.
func (a Algo) String() string {
	switch a {
	case AlgoNative:
		return "native"
	case AlgoImplicitGEMM:
		return "implicit_gemm"
	default:
		return "unknown"
	}
}

// ParseAlgo parses "native" or "implicit_gemm".
func ParseAlgo(s string) (Algo, error) {
	switch s {
	case "native":
		return AlgoNative, nil
	case "implicit_gemm":
		return AlgoImplicitGEMM, nil
	default:
		return 0, fmt.Errorf("%w: unknown algorithm %q (want native or implicit_gemm)", ErrInvalidConfig, s)
	}
}
