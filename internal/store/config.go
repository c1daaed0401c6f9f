package store

import "github.com/rs/zerolog"

// DefaultSegmentSize is the roll threshold used when the caller does not set
// one.
const DefaultSegmentSize = 4 * 1024 * 1024

type Config struct {
	// SegmentSize is the threshold in bytes past which the writer rolls to a
	// new segment. A single record larger than the threshold still fits: it
	// gets a segment to itself.
	SegmentSize int64
	// Logger receives recovery and compaction events. Defaults to a stderr
	// logger.
	Logger *zerolog.Logger
}
