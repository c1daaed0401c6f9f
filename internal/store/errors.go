package store

import "errors"

var (
	// ErrKeyMissing is returned by Read when the key has never been written.
	ErrKeyMissing = errors.New("key not found")
	// ErrInvalidRecord is returned by Write for keys or values that are empty
	// or contain a zero byte, which the record format cannot represent.
	ErrInvalidRecord = errors.New("keys and values must be nonempty and contain no zero bytes")
	// ErrCorruptName means the store directory contains a file whose name does
	// not parse as a segment id.
	ErrCorruptName = errors.New("not a valid segment name")
	// ErrCorruptRecord means a segment contains a record with a zero-length
	// key or value.
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)
