package pipeline

import "time"

const (
	baseTimeout    = 5 * time.Minute
	mediumTimeout  = 7 * time.Minute
	largeTimeout   = 10 * time.Minute
	perExtraChunk  = 2 * time.Minute
	hardCapTimeout = 60 * time.Minute

	mib           = 1024 * 1024
	mediumSize    = 10 * mib
	largeSize     = 50 * mib
	extraChunkSize = 50 * mib
)

// DeriveTimeout computes a conversion timeout from the input object
// size: larger inputs get proportionally more time to stream through
// the transcoder, capped so a single job can never monopolise a worker
// indefinitely.
func DeriveTimeout(sizeBytes uint64) time.Duration {
	switch {
	case sizeBytes > largeSize:
		extra := (sizeBytes - largeSize) / extraChunkSize
		d := largeTimeout + time.Duration(extra)*perExtraChunk
		if d > hardCapTimeout {
			d = hardCapTimeout
		}
		return d
	case sizeBytes > mediumSize:
		return mediumTimeout
	default:
		return baseTimeout
	}
}
