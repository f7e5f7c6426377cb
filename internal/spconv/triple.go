package spconv

import "fmt"

// Triple is a per-axis (x, y, z) integer parameter such as a kernel size,
// stride, dilation or padding.
type Triple [3]int

// Uniform returns a Triple with all three axes set to n.
func Uniform(n int) Triple {
	return Triple{n, n, n}
}

// NewTriple normalizes one value (broadcast to all axes) or three values
// into a Triple.
func NewTriple(vals ...int) (Triple, error) {
	switch len(vals) {
	case 1:
		return Uniform(vals[0]), nil
	case 3:
		return Triple{vals[0], vals[1], vals[2]}, nil
	default:
		return Triple{}, fmt.Errorf("%w: expected 1 or 3 values, got %d", ErrInvalidConfig, len(vals))
	}
}

// IsZero reports whether the Triple is the zero value.
func (t Triple) IsZero() bool {
	return t == Triple{}
}

// IsUnit reports whether every axis equals 1.
func (t Triple) IsUnit() bool {
	return t == Uniform(1)
}

// Positive reports whether every axis is > 0.
func (t Triple) Positive() bool {
	return t[0] > 0 && t[1] > 0 && t[2] > 0
}

// Volume returns the product of the three axes.
func (t Triple) Volume() int {
	return t[0] * t[1] * t[2]
}

// Mul returns the element-wise product.
func (t Triple) Mul(o Triple) Triple {
	return Triple{t[0] * o[0], t[1] * o[1], t[2] * o[2]}
}

// Div returns the element-wise integer quotient.
func (t Triple) Div(o Triple) Triple {
	return Triple{t[0] / o[0], t[1] / o[1], t[2] / o[2]}
}

// Divisible reports whether o evenly divides t on every axis.
func (t Triple) Divisible(o Triple) bool {
	return o.Positive() && t[0]%o[0] == 0 && t[1]%o[1] == 0 && t[2]%o[2] == 0
}

// String formats the Triple as "(x,y,z)".
func (t Triple) String() string {
	return fmt.Sprintf("(%d,%d,%d)", t[0], t[1], t[2])
}

// orDefault returns t, or def when t is the zero value.
func (t Triple) orDefault(def Triple) Triple {
	if t.IsZero() {
		return def
	}
	return t
}
