// Package cpu implements a reference sparse convolution backend in pure Go.
//
// Rulebooks are built with hash lookups over active sites; convolution is
// either gather-GEMM-scatter per kernel offset (native, gonum BLAS) or
// per-output-row accumulation over a kernel-offset mask (implicit GEMM).
package cpu

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/born-ml/sparseconv/internal/logging"
	"github.com/born-ml/sparseconv/internal/parallel"
	"github.com/born-ml/sparseconv/internal/spconv"
	"github.com/born-ml/sparseconv/internal/tensor"
)

// CPUBackend builds sparse convolution operators that run on the CPU.
type CPUBackend struct {
	parallel parallel.Config
	log      *logrus.Entry
}

// Option configures a CPUBackend.
type Option func(*CPUBackend)

// WithParallel sets the worker configuration used by implicit GEMM.
func WithParallel(cfg parallel.Config) Option {
	return func(b *CPUBackend) {
		b.parallel = cfg
	}
}

// WithLogger sets the logger used for rulebook diagnostics.
func WithLogger(entry *logrus.Entry) Option {
	return func(b *CPUBackend) {
		b.log = entry
	}
}

// New creates a new CPU backend.
func New(opts ...Option) *CPUBackend {
	b := &CPUBackend{
		parallel: parallel.DefaultConfig(),
		log:      logging.WithComponent("cpu_backend"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ spconv.Backend = (*CPUBackend)(nil)

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return tensor.CPU
}

// SubMConv3D builds a submanifold convolution.
func (cpu *CPUBackend) SubMConv3D(cfg spconv.ConvConfig, weight, bias *tensor.RawTensor) (spconv.Operator, error) {
	return cpu.newConv(kindSubM, cfg, weight, bias)
}

// SparseConv3D builds a regular (possibly strided) sparse convolution.
func (cpu *CPUBackend) SparseConv3D(cfg spconv.ConvConfig, weight, bias *tensor.RawTensor) (spconv.Operator, error) {
	return cpu.newConv(kindStrided, cfg, weight, bias)
}

// SparseInverseConv3D builds the inverse of the strided convolution keyed by cfg.IndiceKey.
func (cpu *CPUBackend) SparseInverseConv3D(cfg spconv.ConvConfig, weight, bias *tensor.RawTensor) (spconv.Operator, error) {
	if cfg.IndiceKey == "" {
		return nil, errors.Wrap(spconv.ErrInvalidConfig, "inverse conv requires an indice key")
	}
	return cpu.newConv(kindInverse, cfg, weight, bias)
}

func (cpu *CPUBackend) newConv(kind convKind, cfg spconv.ConvConfig, weight, bias *tensor.RawTensor) (*conv3d, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s", kind)
	}
	if err := cfg.CheckParams(weight, bias); err != nil {
		return nil, errors.Wrapf(err, "%s", kind)
	}
	if !cfg.Bias {
		bias = nil
	}
	return &conv3d{
		kind:    kind,
		cfg:     cfg,
		weight:  weight,
		bias:    bias,
		backend: cpu,
	}, nil
}
