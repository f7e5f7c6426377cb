package sparse

// Span is the half-open row range [Start, End) holding one batch sample.
type Span struct {
	Start int
	End   int
}

// Len returns the number of rows in the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// computeLayout returns one span per batch index when the (batch, x, y, z)
// rows are grouped by non-decreasing batch index, and nil otherwise.
func computeLayout(coords []int32, batchSize int) []Span {
	n := len(coords) / 4
	layout := make([]Span, batchSize)
	row := 0
	for b := 0; b < batchSize; b++ {
		layout[b].Start = row
		for row < n && int(coords[row*4]) == b {
			row++
		}
		layout[b].End = row
	}
	if row != n {
		return nil
	}
	return layout
}
