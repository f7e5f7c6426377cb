package sparse

import "errors"

// Common errors.
var (
	ErrCacheMiss      = errors.New("spatial cache entry not found")
	ErrCacheType      = errors.New("spatial cache entry has unexpected type")
	ErrInvalidCoords  = errors.New("invalid coordinates")
	ErrInvalidFeats   = errors.New("invalid features")
	ErrInvalidOptions = errors.New("invalid sparse tensor options")
)
