package store

// indexEntry locates the current value of one key: the owning segment and
// the byte range of the value inside it, terminators excluded.
type indexEntry struct {
	segment segmentID
	offset  int64
	length  int64
}

// keyIndex maps every live key to the location of its newest value. Key
// equality is byte-exact. There is no delete, so entries are only ever
// replaced, never removed.
type keyIndex struct {
	entries map[string]indexEntry
}

func newKeyIndex() *keyIndex {
	return &keyIndex{entries: make(map[string]indexEntry)}
}

func (idx *keyIndex) lookup(key []byte) (indexEntry, bool) {
	e, ok := idx.entries[string(key)]
	return e, ok
}

// upsert installs the entry for key and returns the entry it replaced, if
// any, so the caller can mark the superseded record dead in its segment.
func (idx *keyIndex) upsert(key []byte, e indexEntry) (indexEntry, bool) {
	prev, ok := idx.entries[string(key)]
	idx.entries[string(key)] = e
	return prev, ok
}

func (idx *keyIndex) len() int {
	return len(idx.entries)
}
