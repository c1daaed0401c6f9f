package store

import (
	"bytes"
	"fmt"
	"io"
)

// compactLoop is the background worker that rewrites segments to reclaim
// space held by superseded records. It runs one pass per writer signal and
// never skips one; each pass picks the worst segment at that moment, so
// back-to-back passes still make progress. On shutdown the worker finishes
// the passes it is owed, then exits.
func (s *Store) compactLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.wake:
			s.drainPending()
		case <-s.done:
			s.drainPending()
			return
		}
	}
}

func (s *Store) drainPending() {
	for {
		s.mu.Lock()
		if s.pending == 0 {
			s.mu.Unlock()
			return
		}
		s.pending--
		s.mu.Unlock()

		if err := s.compactOnce(); err != nil {
			s.logger.Error().Err(err).Msg("compaction failed")
		}
	}
}

// compactOnce rewrites the segment with the most dead records into its
// successor and deletes the original. The lock is held for victim selection
// and for the final swap, not for reading the victim off disk. Index entries
// are redirected before the victim disappears, and only after its replacement
// is fully on disk, so readers never chase a dangling entry and a failed pass
// leaves the store untouched.
func (s *Store) compactOnce() error {
	s.mu.Lock()
	victim := s.selectVictim()
	if victim == nil {
		s.mu.Unlock()
		return nil
	}
	id := victim.id
	f, err := victim.clone()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(io.NewSectionReader(f, 0, fi.Size()))
	if err != nil {
		return err
	}

	out := id.compacted()

	s.mu.Lock()
	defer s.mu.Unlock()

	// A record is live only while the index still points at this exact spot.
	// Keys overwritten since the victim was chosen fail the check and are
	// skipped.
	type redirect struct {
		key   []byte
		entry indexEntry
	}
	var (
		buf       bytes.Buffer
		redirects []redirect
	)
	scanner := newRecordScanner(bytes.NewReader(raw))
	for {
		rec, ok := scanner.scan()
		if !ok {
			break
		}
		entry, ok := s.index.lookup(rec.key)
		if !ok || entry.segment != id || entry.offset != rec.valueOff {
			continue
		}
		redirects = append(redirects, redirect{
			key: rec.key,
			entry: indexEntry{
				segment: out,
				offset:  int64(buf.Len()) + int64(len(rec.key)) + 1,
				length:  int64(len(rec.value)),
			},
		})
		buf.Write(rec.bytes())
	}
	if scanner.err != nil {
		return scanner.err
	}

	if buf.Len() > 0 {
		outSeg, err := s.segments.create(out)
		if err != nil {
			return err
		}
		if _, err := outSeg.file.Write(buf.Bytes()); err != nil {
			if rmErr := s.segments.remove(out); rmErr != nil {
				return fmt.Errorf("write segment %s: %w (cleanup: %v)", out, err, rmErr)
			}
			return fmt.Errorf("write segment %s: %w", out, err)
		}
		for _, r := range redirects {
			s.index.upsert(r.key, r.entry)
		}
		s.size += int64(buf.Len())
	}

	s.size -= fi.Size()
	if err := s.segments.remove(id); err != nil {
		return err
	}

	ev := s.logger.Info().
		Str("victim", id.String()).
		Int("live", len(redirects)).
		Int64("reclaimed", fi.Size()-int64(buf.Len()))
	if buf.Len() > 0 {
		ev = ev.Str("output", out.String())
	}
	ev.Msg("compacted segment")
	return nil
}

// selectVictim picks the segment with the most dead records, breaking ties
// toward the smallest id. The segment taking appends is never picked: the
// writer only signals after rolling away from it, and truncating the append
// target from under the writer is the one way compaction could lose data.
// Callers hold mu.
func (s *Store) selectVictim() *segment {
	var victim *segment
	s.segments.ascend(func(seg *segment) bool {
		if seg.id == s.current {
			return true
		}
		if victim == nil || seg.deadRecords > victim.deadRecords {
			victim = seg
		}
		return true
	})
	return victim
}
