// Package store implements a log-structured key-value store over a directory
// of append-only segment files. An in-memory index maps each key to the byte
// range of its newest value; a background compactor rewrites the segment with
// the most superseded records into a fresh segment and deletes the original,
// so space held by overwritten keys is reclaimed. The compactor reads the
// victim off disk without the engine lock; picking out the live records and
// writing the fresh segment happen under it, blocking readers and writers
// for that part of the pass.
package store

import (
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Store is the engine handle. One mutex guards the index, the segment table,
// the current segment id, the append cursor and the total size; every public
// operation passes through it. Reads release the mutex before touching disk,
// writes hold it across the append.
type Store struct {
	dir         string
	segmentSize int64
	logger      zerolog.Logger

	mu       sync.Mutex
	index    *keyIndex
	segments *segmentTable
	current  segmentID // id of the segment taking appends; always the table max
	offset   int64     // append cursor; equals the current segment's byte length
	size     int64     // bytes on disk across all segments
	pending  int       // compaction passes owed to the worker
	closed   bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the store rooted at dir, creating the directory and the first
// segment if needed, rebuilds the index from the segments on disk and starts
// the compaction worker.
func New(dir string, c Config) (*Store, error) {
	s, err := newStore(dir, c)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go s.compactLoop()
	return s, nil
}

// newStore builds the engine without starting the compaction worker.
func newStore(dir string, c Config) (*Store, error) {
	if c.SegmentSize <= 0 {
		c.SegmentSize = DefaultSegmentSize
	}
	logger := zerolog.New(os.Stderr).With().Str("service", "segkv").Logger()
	if c.Logger != nil {
		logger = *c.Logger
	}

	s := &Store{
		dir:         dir,
		segmentSize: c.SegmentSize,
		logger:      logger,
		index:       newKeyIndex(),
		segments:    newSegmentTable(dir),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// Write appends the record for key and returns the total number of bytes the
// store occupies on disk. The append and the index update share one critical
// section: with no lengths in the format, two interleaved appends would
// corrupt the segment beyond repair. In-memory state changes only after the
// bytes hit the file, so a failed append leaves the store as it was.
func (s *Store) Write(key, value []byte) (int64, error) {
	if err := validateRecord(key, value); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	rlen := recordLen(key, value)
	if s.offset+rlen > s.segmentSize {
		if err := s.roll(); err != nil {
			return 0, err
		}
	}

	cur, ok := s.segments.get(s.current)
	if !ok {
		return 0, fmt.Errorf("current segment %s missing from table", s.current)
	}
	if _, err := cur.file.Write(encodeRecord(key, value)); err != nil {
		return 0, err
	}

	entry := indexEntry{
		segment: s.current,
		offset:  s.offset + int64(len(key)) + 1,
		length:  int64(len(value)),
	}
	if prev, ok := s.index.upsert(key, entry); ok {
		if owner, ok := s.segments.get(prev.segment); ok {
			owner.deadRecords++
		}
	}
	s.offset += rlen
	s.size += rlen
	return s.size, nil
}

// roll seals the current segment and directs subsequent appends at a fresh
// one. Every roll leaves the compactor one pass to run. Callers hold mu.
func (s *Store) roll() error {
	if cur, ok := s.segments.get(s.current); ok {
		if err := cur.seal(); err != nil {
			return err
		}
	}
	next, err := s.segments.create(s.current.next())
	if err != nil {
		return err
	}
	s.current = next.id
	s.offset = 0
	s.signalCompactor()
	return nil
}

// signalCompactor records one owed compaction pass and wakes the worker. The
// counter stands in for an unbounded queue: no signal is ever dropped and the
// writer never blocks while holding the engine lock. Callers hold mu.
func (s *Store) signalCompactor() {
	s.pending++
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Read returns the value last written for key. The lock covers the index
// lookup and a descriptor clone; the disk read happens after it is released.
// The clone stays readable even if the compactor removes the segment before
// the read lands.
func (s *Store) Read(key []byte) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	entry, ok := s.index.lookup(key)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrKeyMissing, key)
	}
	seg, ok := s.segments.get(entry.segment)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("index entry for %q points at missing segment %s", key, entry.segment)
	}
	f, err := seg.clone()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	defer f.Close()

	value := make([]byte, entry.length)
	if _, err := f.ReadAt(value, entry.offset); err != nil {
		return nil, err
	}
	return value, nil
}

// Size returns the total number of bytes the store occupies on disk.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Path returns the store's directory.
func (s *Store) Path() string {
	return s.dir
}

// Close stops the compaction worker, letting it finish the passes it is
// still owed, then closes every segment file.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	var errs *multierror.Error
	s.segments.ascend(func(seg *segment) bool {
		if err := seg.file.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close segment %s: %w", seg.id, err))
		}
		return true
	})
	return errs.ErrorOrNil()
}
