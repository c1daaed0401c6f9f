package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testConfig(segmentSize int64) Config {
	nop := zerolog.Nop()
	return Config{SegmentSize: segmentSize, Logger: &nop}
}

func newTestStore(t *testing.T, dir string, segmentSize int64) *Store {
	t.Helper()
	s, err := New(dir, testConfig(segmentSize))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newIdleStore builds a store whose compaction worker never runs, so tests
// can drive compaction passes by hand.
func newIdleStore(t *testing.T, dir string, segmentSize int64) *Store {
	t.Helper()
	s, err := newStore(dir, testConfig(segmentSize))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWriteRead(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 100)

	total, err := s.Write([]byte("k"), []byte("v"))
	require.NoError(t, err)
	require.EqualValues(t, 4, total)

	value, err := s.Read([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
	require.EqualValues(t, 4, s.Size())
}

func TestOverwriteReturnsNewestValue(t *testing.T) {
	s := newIdleStore(t, t.TempDir(), 1<<20)

	_, err := s.Write([]byte("k"), []byte("one"))
	require.NoError(t, err)
	_, err = s.Write([]byte("k"), []byte("two"))
	require.NoError(t, err)

	value, err := s.Read([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("two"), value)

	seg, ok := s.segments.get(segmentID{})
	require.True(t, ok)
	require.Equal(t, 1, seg.deadRecords)
}

func TestReadMissingKey(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 100)

	_, err := s.Read([]byte("nope"))
	require.ErrorIs(t, err, ErrKeyMissing)
}

func TestWriteRejectsInvalidRecords(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 100)

	for _, tc := range [][2][]byte{
		{[]byte("k\x00"), []byte("v")},
		{[]byte("k"), []byte("v\x00x")},
		{nil, []byte("v")},
		{[]byte("k"), nil},
	} {
		_, err := s.Write(tc[0], tc[1])
		require.ErrorIs(t, err, ErrInvalidRecord)
	}

	// Rejected writes must leave no trace.
	require.EqualValues(t, 0, s.Size())
	_, err := s.Read([]byte("k"))
	require.ErrorIs(t, err, ErrKeyMissing)
}

// Filling the first segment pushes the next write into a rolled segment, and
// reads keep working across the boundary.
func TestWriteRollsToNextSegment(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 100)

	pairs := map[string]string{}
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("key-%d-aaaaaaaaaaaaa", i)   // 19 bytes
		value := fmt.Sprintf("val-%d-bbbbbbbbbbbbb", i) // 19 bytes
		pairs[key] = value
		_, err := s.Write([]byte(key), []byte(value))
		require.NoError(t, err)
	}
	pairs["meaningful"] = "thing"
	_, err := s.Write([]byte("meaningful"), []byte("thing"))
	require.NoError(t, err)

	for key, want := range pairs {
		got, err := s.Read([]byte(key))
		require.NoError(t, err)
		require.Equal(t, []byte(want), got)
	}
}

// A record bigger than the whole threshold still gets written; it just takes
// a segment of its own.
func TestWriteOversizedRecord(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 16)

	big := make([]byte, 64)
	for i := range big {
		big[i] = 'x'
	}
	_, err := s.Write([]byte("big"), big)
	require.NoError(t, err)

	got, err := s.Read([]byte("big"))
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestOperationsAfterClose(t *testing.T) {
	s, err := New(t.TempDir(), testConfig(100))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Write([]byte("k"), []byte("v"))
	require.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.Read([]byte("k"))
	require.ErrorIs(t, err, ErrStoreClosed)
	require.ErrorIs(t, s.Close(), ErrStoreClosed)
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 256)

	const (
		writers = 4
		keys    = 25
	)
	errc := make(chan error, writers*keys*2)
	var wg sync.WaitGroup

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for round := 0; round < 2; round++ {
				for i := 0; i < keys; i++ {
					key := fmt.Sprintf("w%d-k%d", w, i)
					value := fmt.Sprintf("r%d-v%d", round, i)
					if _, err := s.Write([]byte(key), []byte(value)); err != nil {
						errc <- err
						return
					}
					if _, err := s.Read([]byte(key)); err != nil {
						errc <- err
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		require.NoError(t, err)
	}

	// Last write wins for every key, rolls and compactions notwithstanding.
	for w := 0; w < writers; w++ {
		for i := 0; i < keys; i++ {
			key := fmt.Sprintf("w%d-k%d", w, i)
			value, err := s.Read([]byte(key))
			require.NoError(t, err)
			require.Equal(t, []byte(fmt.Sprintf("r1-v%d", i)), value)
		}
	}
}
