package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/btree"
	"golang.org/x/sys/unix"
)

/*
Segment files are named "{base}_{index}" with both components decimal
uint32s. The writer rolls to {base+1, 0}; compacting a segment writes its
survivors into {base, index+1}, so compaction outputs sort immediately after
the segment they replace and rolled segments sort after everything written
before them.
*/

type segmentID struct {
	base  uint32
	index uint32
}

func parseSegmentID(name string) (segmentID, error) {
	baseStr, indexStr, ok := strings.Cut(name, "_")
	if !ok {
		return segmentID{}, fmt.Errorf("%w: %q", ErrCorruptName, name)
	}
	base, err := strconv.ParseUint(baseStr, 10, 32)
	if err != nil {
		return segmentID{}, fmt.Errorf("%w: %q", ErrCorruptName, name)
	}
	index, err := strconv.ParseUint(indexStr, 10, 32)
	if err != nil {
		return segmentID{}, fmt.Errorf("%w: %q", ErrCorruptName, name)
	}
	return segmentID{base: uint32(base), index: uint32(index)}, nil
}

func (id segmentID) String() string {
	return fmt.Sprintf("%d_%d", id.base, id.index)
}

// next is the id the writer rolls to.
func (id segmentID) next() segmentID {
	return segmentID{base: id.base + 1}
}

// compacted is the id a compaction of this segment writes into.
func (id segmentID) compacted() segmentID {
	return segmentID{base: id.base, index: id.index + 1}
}

func (id segmentID) less(other segmentID) bool {
	if id.base != other.base {
		return id.base < other.base
	}
	return id.index < other.index
}

// segment is one open append-only file plus the number of its records known
// to be superseded. The count steers compaction priority only, so it may be
// approximate; it never decreases except by removing the whole segment.
type segment struct {
	id          segmentID
	file        *os.File
	deadRecords int
}

func (s *segment) size() (int64, error) {
	fi, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// clone duplicates the segment's descriptor so the caller can keep reading
// after the engine lock is released. The duplicate stays valid even if the
// segment is removed and its original handle closed in the meantime.
func (s *segment) clone() (*os.File, error) {
	fd, err := unix.Dup(int(s.file.Fd()))
	if err != nil {
		return nil, fmt.Errorf("clone segment %s: %w", s.id, err)
	}
	return os.NewFile(uintptr(fd), s.file.Name()), nil
}

// seal flushes a segment that has stopped taking appends.
func (s *segment) seal() error {
	return unix.Fdatasync(int(s.file.Fd()))
}

// segmentTable is the set of open segments, ordered by id so the smallest
// and largest ids and in-order iteration are cheap.
type segmentTable struct {
	dir  string
	tree *btree.BTreeG[*segment]
}

func newSegmentTable(dir string) *segmentTable {
	return &segmentTable{
		dir: dir,
		tree: btree.NewG(2, func(a, b *segment) bool {
			return a.id.less(b.id)
		}),
	}
}

func (t *segmentTable) get(id segmentID) (*segment, bool) {
	return t.tree.Get(&segment{id: id})
}

// open opens an existing segment file in read+append mode and adds it to the
// table.
func (t *segmentTable) open(id segmentID) (*segment, error) {
	f, err := os.OpenFile(filepath.Join(t.dir, id.String()), os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", id, err)
	}
	s := &segment{id: id, file: f}
	t.tree.ReplaceOrInsert(s)
	return s, nil
}

// create creates the segment file and adds it to the table. A file for an id
// the table does not know about means the directory and the table have
// diverged, so creation refuses to reuse it.
func (t *segmentTable) create(id segmentID) (*segment, error) {
	f, err := os.OpenFile(
		filepath.Join(t.dir, id.String()),
		os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_EXCL,
		0644,
	)
	if err != nil {
		return nil, fmt.Errorf("create segment %s: %w", id, err)
	}
	s := &segment{id: id, file: f}
	t.tree.ReplaceOrInsert(s)
	return s, nil
}

// remove closes the segment, drops it from the table and unlinks its file.
// Callers must have redirected every index entry pointing at the segment
// before removing it.
func (t *segmentTable) remove(id segmentID) error {
	s, ok := t.tree.Delete(&segment{id: id})
	if !ok {
		return fmt.Errorf("segment %s is not in the table", id)
	}
	if err := s.file.Close(); err != nil {
		return err
	}
	return os.Remove(filepath.Join(t.dir, id.String()))
}

func (t *segmentTable) max() (*segment, bool) {
	return t.tree.Max()
}

func (t *segmentTable) len() int {
	return t.tree.Len()
}

// ascend visits every segment in ascending id order until fn returns false.
func (t *segmentTable) ascend(fn func(*segment) bool) {
	t.tree.Ascend(fn)
}
