package recordstore

import "errors"

var (
	// ErrReadOnly is returned by any mutating method when the store was
	// opened over a read-only Gate.
	ErrReadOnly = errors.New("recordstore: store is read-only")

	// ErrNotFound is returned when an offset does not name a live record,
	// or a list traversal runs off the end.
	ErrNotFound = errors.New("recordstore: record not found")

	// ErrCorrupt is returned when a record header's checksum does not
	// match its contents.
	ErrCorrupt = errors.New("recordstore: record header checksum mismatch")

	// ErrDataCorrupt is returned when a record's data checksum does not
	// match its contents.
	ErrDataCorrupt = errors.New("recordstore: record data checksum mismatch")

	// ErrInvalidHeader is returned when the storage header's signature or
	// version does not match what this package writes.
	ErrInvalidHeader = errors.New("recordstore: storage header signature or version mismatch")

	// ErrEmptyStore is returned by GetFirstRecord/GetLastRecord when the
	// live list is empty, and by Open when asked to open a zero-length
	// file read-only.
	ErrEmptyStore = errors.New("recordstore: store has no records")

	// ErrZeroLength is returned when a caller tries to create or update a
	// record with no data.
	ErrZeroLength = errors.New("recordstore: record data must be non-empty")
)
