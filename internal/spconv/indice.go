package spconv

import "github.com/born-ml/sparseconv/internal/tensor"

// PairList holds the (input row, output row) pairs of one kernel offset.
type PairList struct {
	In  []int32
	Out []int32
}

// Len returns the number of pairs.
func (p PairList) Len() int {
	return len(p.In)
}

// IndiceData is the rulebook a convolution built between an input and an
// output site set.
type IndiceData struct {
	InIndices       *tensor.RawTensor
	OutIndices      *tensor.RawTensor
	InSpatialShape  Triple
	OutSpatialShape Triple

	// Pairs has one entry per kernel offset, offsets in x-major order.
	Pairs []PairList

	KernelSize Triple
	Stride     Triple
	Padding    Triple
	Dilation   Triple
	Subm       bool
}

// NumPairs returns the total number of pairs over all kernel offsets.
func (d *IndiceData) NumPairs() int {
	n := 0
	for _, p := range d.Pairs {
		n += p.Len()
	}
	return n
}

// IndiceDict maps indice keys to rulebooks. Not safe for concurrent use.
type IndiceDict struct {
	entries map[string]*IndiceData
}

// NewIndiceDict creates an empty dictionary.
func NewIndiceDict() *IndiceDict {
	return &IndiceDict{entries: make(map[string]*IndiceData)}
}

// Get returns the rulebook stored under key.
func (d *IndiceDict) Get(key string) (*IndiceData, bool) {
	data, ok := d.entries[key]
	return data, ok
}

// Set stores a rulebook under key, replacing any previous entry.
func (d *IndiceDict) Set(key string, data *IndiceData) {
	d.entries[key] = data
}

// Len returns the number of stored rulebooks.
func (d *IndiceDict) Len() int {
	return len(d.entries)
}
