// Package segkv is a log-structured, segment-based key-value store for a
// single process. Writes append records to the current segment file and
// update an in-memory index; reads follow the index straight to the value
// bytes; a background compactor rewrites segments full of overwritten
// records so the directory does not grow without bound. Data survives
// restarts: opening a directory rebuilds the index from the segments in it.
package segkv

import (
	"github.com/rs/zerolog"

	"github.com/ttaaoo/segkv/internal/store"
)

// Errors callers can match with errors.Is.
var (
	ErrKeyMissing    = store.ErrKeyMissing
	ErrInvalidRecord = store.ErrInvalidRecord
	ErrCorruptName   = store.ErrCorruptName
	ErrCorruptRecord = store.ErrCorruptRecord
	ErrStoreClosed   = store.ErrStoreClosed
)

// Store is a handle on one store directory.
type Store struct {
	engine *store.Store
}

type config struct {
	logger *zerolog.Logger
}

// Option configures a store at Open.
type Option func(*config)

// WithLogger routes the store's recovery and compaction events to the given
// logger instead of stderr.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = &logger
	}
}

// Open opens the store rooted at path, creating the directory and the first
// segment if needed. segmentSize is the roll threshold in bytes: once a
// record would push the current segment past it, writes move to a fresh
// segment and the old one becomes a compaction candidate. A record bigger
// than the threshold still fits; it simply gets a segment of its own.
func Open(path string, segmentSize int64, opts ...Option) (*Store, error) {
	var c config
	for _, opt := range opts {
		opt(&c)
	}
	engine, err := store.New(path, store.Config{
		SegmentSize: segmentSize,
		Logger:      c.logger,
	})
	if err != nil {
		return nil, err
	}
	return &Store{engine: engine}, nil
}

// Read returns the value last written for key.
func (s *Store) Read(key []byte) ([]byte, error) {
	return s.engine.Read(key)
}

// Write stores value under key and returns the total number of bytes the
// store now occupies on disk. Keys and values must be nonempty and free of
// zero bytes.
func (s *Store) Write(key, value []byte) (int64, error) {
	return s.engine.Write(key, value)
}

// Size returns the total number of bytes the store occupies on disk.
func (s *Store) Size() int64 {
	return s.engine.Size()
}

// Path returns the store's directory.
func (s *Store) Path() string {
	return s.engine.Path()
}

// Close stops the compactor and closes every segment file.
func (s *Store) Close() error {
	return s.engine.Close()
}
