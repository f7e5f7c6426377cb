package serialization

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/born-ml/sparseconv/internal/sparse"
	"github.com/born-ml/sparseconv/internal/spconv"
	"github.com/born-ml/sparseconv/internal/tensor"
)

// WriteSparse stores x at path.
func WriteSparse(path string, x *sparse.Tensor) error {
	//nolint:gosec // G304: path is chosen by the caller
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	buf := bufio.NewWriter(file)
	if err := EncodeSparse(buf, x); err != nil {
		_ = file.Close()
		return err
	}
	if err := buf.Flush(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return file.Close()
}

// EncodeSparse writes x to w as a SafeTensors stream.
func EncodeSparse(w io.Writer, x *sparse.Tensor) error {
	tensors := map[string]*tensor.RawTensor{
		TensorFeats:  x.Feats(),
		TensorCoords: x.Coords(),
	}
	metadata := map[string]string{
		MetaFormat:       FormatSparse,
		MetaScale:        formatTriple(x.Scale()),
		MetaBatchSize:    strconv.Itoa(x.BatchSize()),
		MetaSpatialShape: formatTriple(x.Data().SpatialShape),
		// coords sorts before feats in the data section.
		MetaChecksum: checksum(x.Coords().Data(), x.Feats().Data()),
	}
	return NewWriter(w).WriteStateDict(tensors, metadata)
}

// ReadSparse loads a sparse tensor written by WriteSparse.
func ReadSparse(path string) (*sparse.Tensor, error) {
	//nolint:gosec // G304: path is chosen by the caller
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	return DecodeSparse(bufio.NewReader(file))
}

// DecodeSparse reads a sparse tensor from a SafeTensors stream.
//
// The layout is recomputed from the coordinates and the spatial cache
// starts empty.
func DecodeSparse(r io.Reader) (*sparse.Tensor, error) {
	tensors, metadata, err := ReadFrom(r)
	if err != nil {
		return nil, err
	}
	if metadata[MetaFormat] != FormatSparse {
		return nil, fmt.Errorf("%w: format %q", ErrInvalidFormat, metadata[MetaFormat])
	}

	feats, ok := tensors[TensorFeats]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTensor, TensorFeats)
	}
	coords, ok := tensors[TensorCoords]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTensor, TensorCoords)
	}

	if sum, ok := metadata[MetaChecksum]; ok && sum != checksum(coords.Data(), feats.Data()) {
		return nil, ErrChecksumMismatch
	}

	scale, err := parseTriple(metadata[MetaScale])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMetadata, MetaScale, err)
	}
	spatial, err := parseTriple(metadata[MetaSpatialShape])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMetadata, MetaSpatialShape, err)
	}
	batch, err := strconv.Atoi(metadata[MetaBatchSize])
	if err != nil || batch <= 0 || batch > sparse.MaxBatchSize {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidMetadata, MetaBatchSize, metadata[MetaBatchSize])
	}

	return sparse.New(feats, coords,
		sparse.WithBatchSize(batch),
		sparse.WithSpatialShape(spatial),
		sparse.WithScale(scale),
	)
}

func formatTriple(t spconv.Triple) string {
	return fmt.Sprintf("%d,%d,%d", t[0], t[1], t[2])
}

func parseTriple(s string) (spconv.Triple, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return spconv.Triple{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var t spconv.Triple
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return spconv.Triple{}, err
		}
		if v <= 0 {
			return spconv.Triple{}, fmt.Errorf("non-positive component in %q", s)
		}
		t[i] = v
	}
	return t, nil
}
