// Package serialization stores sparse tensors in the SafeTensors format.
//
// File layout:
//
//	[8 bytes: header size (uint64 LE)]
//	[header: JSON object, one entry per tensor plus "__metadata__"]
//	[tensor data: raw little-endian bytes, in alphabetical tensor order]
//
// A sparse tensor is stored as two tensors, "feats" [N, C] and "coords"
// Int32 [N, 4], with its scale, batch size and spatial shape in the metadata.
//
// Example:
//
//	if err := serialization.WriteSparse("scene.safetensors", x); err != nil {
//	    log.Fatal(err)
//	}
//	x, err := serialization.ReadSparse("scene.safetensors")
package serialization

import (
	"github.com/born-ml/sparseconv/internal/tensor"
)

// Tensor and metadata names of the sparse layout.
const (
	TensorFeats  = "feats"
	TensorCoords = "coords"

	MetaFormat       = "format"
	MetaScale        = "scale"
	MetaBatchSize    = "batch_size"
	MetaSpatialShape = "spatial_shape"
	MetaChecksum     = "sha256"

	FormatSparse = "sparse"
)

const metadataKey = "__metadata__"

// TensorHeader describes one tensor in the SafeTensors header.
type TensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// dtypeToSafeTensors converts a tensor.DataType to its SafeTensors name.
func dtypeToSafeTensors(dt tensor.DataType) (string, bool) {
	switch dt {
	case tensor.Float32:
		return "F32", true
	case tensor.Float64:
		return "F64", true
	case tensor.Int32:
		return "I32", true
	case tensor.Int64:
		return "I64", true
	case tensor.Uint8:
		return "U8", true
	case tensor.Bool:
		return "BOOL", true
	default:
		return "", false
	}
}

// safeTensorsToDtype converts a SafeTensors dtype name to tensor.DataType.
func safeTensorsToDtype(s string) (tensor.DataType, bool) {
	switch s {
	case "F32":
		return tensor.Float32, true
	case "F64":
		return tensor.Float64, true
	case "I32":
		return tensor.Int32, true
	case "I64":
		return tensor.Int64, true
	case "U8":
		return tensor.Uint8, true
	case "BOOL":
		return tensor.Bool, true
	default:
		return 0, false
	}
}
