package cpu

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/born-ml/sparseconv/internal/spconv"
	"github.com/born-ml/sparseconv/internal/tensor"
)

type convKind int

const (
	kindSubM convKind = iota
	kindStrided
	kindInverse
)

func (k convKind) String() string {
	switch k {
	case kindSubM:
		return "subm_conv3d"
	case kindStrided:
		return "sparse_conv3d"
	case kindInverse:
		return "sparse_inverse_conv3d"
	default:
		return "unknown_conv3d"
	}
}

// conv3d is the spconv.Operator returned by CPUBackend.
type conv3d struct {
	kind    convKind
	cfg     spconv.ConvConfig
	weight  *tensor.RawTensor // [K, in_channels, out_channels]
	bias    *tensor.RawTensor // [out_channels] or nil
	backend *CPUBackend
}

// Config returns the normalized operator configuration.
func (c *conv3d) Config() spconv.ConvConfig {
	return c.cfg
}

// Forward applies the convolution to x.
func (c *conv3d) Forward(ctx context.Context, x *spconv.Tensor) (*spconv.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "%s", c.kind)
	}
	if x.Features.DType() != tensor.Float32 {
		return nil, errors.Wrapf(spconv.ErrFeatureDType, "%s: got %s", c.kind, x.Features.DType())
	}
	if x.NumChannels() != c.cfg.InChannels {
		return nil, errors.Wrapf(spconv.ErrShapeMismatch, "%s: input channels %d != expected %d",
			c.kind, x.NumChannels(), c.cfg.InChannels)
	}

	rb, err := c.rulebook(x)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", c.kind)
	}

	outIndices, outShape, reverse := rb.OutIndices, rb.OutSpatialShape, false
	if c.kind == kindInverse {
		outIndices, outShape, reverse = rb.InIndices, rb.InSpatialShape, true
	}

	feats, err := c.apply(ctx, x.Features, rb.Pairs, outIndices.Rows(), reverse)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", c.kind)
	}

	return &spconv.Tensor{
		Features:     feats,
		Indices:      outIndices,
		SpatialShape: outShape,
		BatchSize:    x.BatchSize,
		IndiceDict:   x.IndiceDict,
	}, nil
}

// rulebook returns the pairs for x, reusing or registering them under the
// indice key as spconv does.
func (c *conv3d) rulebook(x *spconv.Tensor) (*spconv.IndiceData, error) {
	key := c.cfg.IndiceKey
	var stored *spconv.IndiceData
	if key != "" {
		stored, _ = x.IndiceDict.Get(key)
	}

	switch c.kind {
	case kindInverse:
		if stored == nil {
			return nil, errors.Wrapf(spconv.ErrIndiceKeyMissing, "key %q", key)
		}
		if stored.Subm {
			return nil, errors.Wrapf(spconv.ErrIndiceMismatch, "key %q holds a submanifold rulebook", key)
		}
		if stored.KernelSize != c.cfg.KernelSize {
			return nil, errors.Wrapf(spconv.ErrIndiceMismatch, "key %q built with kernel %v, inverse uses %v",
				key, stored.KernelSize, c.cfg.KernelSize)
		}
		if x.NumActive() != stored.OutIndices.Rows() {
			return nil, errors.Wrapf(spconv.ErrIndiceMismatch, "key %q expects %d input rows, got %d",
				key, stored.OutIndices.Rows(), x.NumActive())
		}
		return stored, nil

	case kindSubM:
		if stored != nil && reusable(stored, x, c.cfg, true) {
			return stored, nil
		}
		rb, err := buildSubmRulebook(x, c.cfg)
		if err != nil {
			return nil, err
		}
		c.register(x, rb)
		return rb, nil

	default:
		if stored != nil && reusable(stored, x, c.cfg, false) {
			return stored, nil
		}
		rb, err := buildStridedRulebook(x, c.cfg)
		if err != nil {
			return nil, err
		}
		c.register(x, rb)
		return rb, nil
	}
}

func (c *conv3d) register(x *spconv.Tensor, rb *spconv.IndiceData) {
	c.backend.log.WithFields(logrus.Fields{
		"op":        c.kind.String(),
		"indiceKey": c.cfg.IndiceKey,
		"in":        rb.InIndices.Rows(),
		"out":       rb.OutIndices.Rows(),
		"pairs":     rb.NumPairs(),
	}).Debug("built rulebook")

	if c.cfg.IndiceKey != "" {
		x.IndiceDict.Set(c.cfg.IndiceKey, rb)
	}
}
