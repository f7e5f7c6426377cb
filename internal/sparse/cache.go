package sparse

import (
	"fmt"
	"sort"

	"github.com/born-ml/sparseconv/internal/spconv"
)

// SpatialCache is an auxiliary key-value store shared by a sparse tensor and
// every tensor derived from it. Entries are partitioned by scale, so a value
// registered at scale (2,2,2) is only visible to tensors at that scale.
//
// Entries are never evicted. SpatialCache is not safe for concurrent use.
type SpatialCache struct {
	entries map[spconv.Triple]map[string]any
}

// NewSpatialCache creates an empty cache.
func NewSpatialCache() *SpatialCache {
	return &SpatialCache{entries: make(map[spconv.Triple]map[string]any)}
}

// Register stores value under key at the given scale, replacing any previous value.
func (c *SpatialCache) Register(scale spconv.Triple, key string, value any) {
	bucket, ok := c.entries[scale]
	if !ok {
		bucket = make(map[string]any)
		c.entries[scale] = bucket
	}
	bucket[key] = value
}

// Get returns the value stored under key at scale, or an error wrapping ErrCacheMiss.
func (c *SpatialCache) Get(scale spconv.Triple, key string) (any, error) {
	if v, ok := c.entries[scale][key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q at scale %v", ErrCacheMiss, key, scale)
}

// Keys returns the sorted keys registered at scale.
func (c *SpatialCache) Keys(scale spconv.Triple) []string {
	keys := make([]string, 0, len(c.entries[scale]))
	for k := range c.entries[scale] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the total number of entries across all scales.
func (c *SpatialCache) Len() int {
	n := 0
	for _, bucket := range c.entries {
		n += len(bucket)
	}
	return n
}
