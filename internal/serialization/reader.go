package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/sparseconv/internal/tensor"
)

// ReadSafeTensors reads every tensor and the metadata from path.
func ReadSafeTensors(path string) (map[string]*tensor.RawTensor, map[string]string, error) {
	//nolint:gosec // G304: path is chosen by the caller
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	return ReadFrom(bufio.NewReader(file))
}

// ReadFrom reads every tensor and the metadata from r.
func ReadFrom(r io.Reader) (map[string]*tensor.RawTensor, map[string]string, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, fmt.Errorf("%w: reading header size: %v", ErrInvalidFormat, err)
	}
	if headerSize == 0 {
		return nil, nil, fmt.Errorf("%w: empty header", ErrInvalidFormat)
	}
	if headerSize > MaxHeaderSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, nil, fmt.Errorf("%w: reading header: %v", ErrInvalidFormat, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &fields); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing header: %v", ErrInvalidFormat, err)
	}

	var metadata map[string]string
	entries := make([]namedHeader, 0, len(fields))
	for name, raw := range fields {
		if name == metadataKey {
			if err := json.Unmarshal(raw, &metadata); err != nil {
				return nil, nil, fmt.Errorf("%w: metadata: %v", ErrInvalidFormat, err)
			}
			continue
		}
		if err := validateTensorName(name); err != nil {
			return nil, nil, err
		}
		var h TensorHeader
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, nil, fmt.Errorf("%w: tensor %s: %v", ErrInvalidFormat, name, err)
		}
		entries = append(entries, namedHeader{Name: name, TensorHeader: h})
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if err := validateTensorOffsets(entries, int64(len(data))); err != nil {
		return nil, nil, err
	}

	tensors := make(map[string]*tensor.RawTensor, len(entries))
	for _, e := range entries {
		raw, err := decodeTensor(e, data)
		if err != nil {
			return nil, nil, err
		}
		tensors[e.Name] = raw
	}
	return tensors, metadata, nil
}

func decodeTensor(e namedHeader, data []byte) (*tensor.RawTensor, error) {
	dtype, ok := safeTensorsToDtype(e.DType)
	if !ok {
		return nil, fmt.Errorf("%w: tensor %s has %q", ErrUnsupportedDType, e.Name, e.DType)
	}

	region := data[e.DataOffsets[0]:e.DataOffsets[1]]
	want, ok := tensorByteSize(e.Shape, dtype.Size())
	if !ok || want != int64(len(region)) {
		return nil, &ValidationError{
			Type:    "size_mismatch",
			Tensor:  e.Name,
			Details: fmt.Sprintf("%d bytes for shape %v %s", len(region), e.Shape, dtype),
		}
	}

	shape := make(tensor.Shape, len(e.Shape))
	for i, dim := range e.Shape {
		shape[i] = int(dim)
	}
	raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("%w: tensor %s: %v", ErrInvalidFormat, e.Name, err)
	}
	copy(raw.Data(), region)
	return raw, nil
}
