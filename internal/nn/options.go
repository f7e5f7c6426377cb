package nn

import (
	"github.com/sirupsen/logrus"

	"github.com/born-ml/sparseconv/internal/logging"
)

// Options are per-layer runtime settings.
type Options struct {
	// Verify enables the reorder consistency check in SparseInverseConv3D.
	Verify bool

	// Logger receives debug output. Defaults to the shared logger.
	Logger *logrus.Entry
}

func (o Options) logger(component string) *logrus.Entry {
	if o.Logger != nil {
		return o.Logger.WithField("layer", component)
	}
	return logging.WithComponent("nn").WithField("layer", component)
}
