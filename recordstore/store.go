// Package recordstore implements the Record Store: a doubly-linked list of
// variable-length binary records over a pagecache.Cache. Records form a
// live list (threaded by Next/Previous in file order of creation) and a
// free list reusing deleted records' space; which list a record belongs to
// is determined solely by DeletedFlag in its header, not by its position in
// the file.
//
// Grounded on DaemonDB's heapfile_manager (per-row RWMutex locking, checksum
// validation on read, free-slot reuse before appending) generalized from
// slotted fixed-size pages to this format's exact-capacity linked records,
// and on the original Cloudless RecordFileIO design for the wire layout and
// free-list algorithms.
package recordstore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"knowstore/gate"
	"knowstore/pagecache"
	"knowstore/storagelog"
)

// Store is a single-file variable-length record store.
type Store struct {
	cache *pagecache.Cache
	log   *storagelog.Logger

	headerMu sync.RWMutex
	header   StorageHeader

	freeListMu sync.Mutex
	appendMu   sync.Mutex
	locks      *stripedLocks

	freeLookupDepth atomic.Uint64
	readOnly        bool
}

// Open opens path (creating it if writable and absent), builds the Gate and
// Page Cache underneath, and loads (or, for an empty file, initializes) the
// storage header. The returned Store owns both layers and Close/Flush
// propagate down to them.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	var gopts []gate.Option
	if cfg.readOnly {
		gopts = append(gopts, gate.ReadOnly())
	}
	gopts = append(gopts, gate.WithLogger(cfg.log))

	g, err := gate.Open(path, gopts...)
	if err != nil {
		return nil, fmt.Errorf("recordstore: open: %w", err)
	}

	cache, err := pagecache.Open(g, cfg.cacheBytes, pagecache.WithLogger(cfg.log))
	if err != nil {
		return nil, fmt.Errorf("recordstore: open: %w", err)
	}

	s := &Store{
		cache:    cache,
		log:      cfg.log,
		locks:    newStripedLocks(cfg.stripeCount),
		readOnly: cache.IsReadOnly(),
	}

	size, err := cache.Size()
	if err != nil {
		return nil, fmt.Errorf("recordstore: open: %w", err)
	}

	if size == 0 {
		if s.readOnly {
			return nil, fmt.Errorf("recordstore: open: %w", ErrEmptyStore)
		}
		s.header = newStorageHeader()
		if err := s.writeStorageHeader(); err != nil {
			return nil, fmt.Errorf("recordstore: open: %w", err)
		}
	}

	if err := s.loadStorageHeader(); err != nil {
		return nil, fmt.Errorf("recordstore: open: %w", err)
	}

	s.log.Info("recordstore opened",
		zap.Uint64("total_records", s.header.TotalRecords),
		zap.Uint64("total_free_records", s.header.TotalFreeRecords),
		zap.Bool("read_only", s.readOnly))

	return s, nil
}

// IsReadOnly reports whether mutating methods will fail with ErrReadOnly.
func (s *Store) IsReadOnly() bool { return s.readOnly }

// TotalRecords returns the number of live records.
func (s *Store) TotalRecords() uint64 {
	s.headerMu.RLock()
	defer s.headerMu.RUnlock()
	return s.header.TotalRecords
}

// TotalFreeRecords returns the number of deleted records awaiting reuse.
func (s *Store) TotalFreeRecords() uint64 {
	s.headerMu.RLock()
	defer s.headerMu.RUnlock()
	return s.header.TotalFreeRecords
}

// Flush persists every dirty page through to the underlying file.
func (s *Store) Flush() error {
	if err := s.cache.Flush(); err != nil {
		return fmt.Errorf("recordstore: flush: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying cache and gate.
func (s *Store) Close() error {
	if err := s.cache.Close(); err != nil {
		return fmt.Errorf("recordstore: close: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------
// storage header I/O
// -----------------------------------------------------------------------

func (s *Store) writeStorageHeader() error {
	var buf [StorageHeaderSize]byte
	s.header.marshal(buf[:])
	if _, err := s.cache.Write(0, buf[:]); err != nil {
		return fmt.Errorf("write storage header: %w", err)
	}
	s.adjustFreeLookupDepth(s.header.TotalFreeRecords)
	return nil
}

func (s *Store) loadStorageHeader() error {
	var buf [StorageHeaderSize]byte
	n, err := s.cache.Read(0, buf[:])
	if err != nil {
		return fmt.Errorf("read storage header: %w", err)
	}
	if n != StorageHeaderSize {
		return fmt.Errorf("%w: short header", ErrInvalidHeader)
	}
	var h StorageHeader
	h.unmarshal(buf[:])
	if h.Signature != Signature || h.Version != Version {
		return fmt.Errorf("%w", ErrInvalidHeader)
	}
	s.header = h
	s.adjustFreeLookupDepth(h.TotalFreeRecords)
	return nil
}

func (s *Store) adjustFreeLookupDepth(totalFreeRecords uint64) {
	depth := uint64(FreeLookupMinDepth)
	if ratio := totalFreeRecords / FreeLookupRatio; ratio > depth {
		depth = ratio
	}
	s.freeLookupDepth.Store(depth)
}

// -----------------------------------------------------------------------
// record header/data I/O — caller holds whatever lock the operation needs
// -----------------------------------------------------------------------

func (s *Store) readRecordHeader(offset uint64) (RecordHeader, error) {
	var buf [RecordHeaderSize]byte
	n, err := s.cache.Read(int64(offset), buf[:])
	if err != nil {
		return RecordHeader{}, fmt.Errorf("read record header at %d: %w", offset, err)
	}
	if n != RecordHeaderSize {
		return RecordHeader{}, fmt.Errorf("%w: short header at %d", ErrCorrupt, offset)
	}
	var h RecordHeader
	h.unmarshal(buf[:])
	if checksum(buf[:recordHeaderPayloadSize]) != h.HeadChecksum {
		return RecordHeader{}, fmt.Errorf("%w: at %d", ErrCorrupt, offset)
	}
	return h, nil
}

func (s *Store) writeRecordHeader(offset uint64, h *RecordHeader) error {
	var buf [RecordHeaderSize]byte
	h.marshalChecksummed(buf[:])
	if _, err := s.cache.Write(int64(offset), buf[:]); err != nil {
		return fmt.Errorf("write record header at %d: %w", offset, err)
	}
	return nil
}

func (s *Store) readRecordData(offset uint64, h RecordHeader) ([]byte, error) {
	data := make([]byte, h.DataLength)
	if h.DataLength > 0 {
		n, err := s.cache.Read(int64(offset)+int64(RecordHeaderSize), data)
		if err != nil {
			return nil, fmt.Errorf("read record data at %d: %w", offset, err)
		}
		if uint32(n) != h.DataLength {
			return nil, fmt.Errorf("%w: short data at %d", ErrDataCorrupt, offset)
		}
	}
	if checksum(data) != h.DataChecksum {
		return nil, fmt.Errorf("%w: at %d", ErrDataCorrupt, offset)
	}
	return data, nil
}

func (s *Store) writeRecordData(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := s.cache.Write(int64(offset)+int64(RecordHeaderSize), data); err != nil {
		return fmt.Errorf("write record data at %d: %w", offset, err)
	}
	return nil
}

// -----------------------------------------------------------------------
// public record operations
// -----------------------------------------------------------------------

// CreateRecord appends data as a new live record and returns its offset.
func (s *Store) CreateRecord(data []byte) (uint64, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}
	if len(data) == 0 {
		return 0, ErrZeroLength
	}
	offset, _, err := s.allocateRecord(uint32(len(data)), data, true)
	if err != nil {
		return 0, fmt.Errorf("recordstore: create record: %w", err)
	}
	return offset, nil
}

// GetRecord returns the data stored at offset, verifying both header and
// data checksums.
func (s *Store) GetRecord(offset uint64) ([]byte, error) {
	s.locks.RLock(offset)
	defer s.locks.RUnlock(offset)

	h, err := s.readRecordHeader(offset)
	if err != nil {
		return nil, fmt.Errorf("recordstore: get record at %d: %w", offset, err)
	}
	if h.Deleted() {
		return nil, fmt.Errorf("recordstore: get record at %d: %w", offset, ErrNotFound)
	}
	data, err := s.readRecordData(offset, h)
	if err != nil {
		return nil, fmt.Errorf("recordstore: get record at %d: %w", offset, err)
	}
	return data, nil
}

// RecordCapacity returns the number of data bytes allocated at offset,
// which may exceed the record's current DataLength — the slack a future
// UpdateRecord can fill in place without relocating.
func (s *Store) RecordCapacity(offset uint64) (uint32, error) {
	s.locks.RLock(offset)
	h, err := s.readRecordHeader(offset)
	s.locks.RUnlock(offset)
	if err != nil {
		return 0, fmt.Errorf("recordstore: record capacity at %d: %w", offset, err)
	}
	if h.Deleted() {
		return 0, fmt.Errorf("recordstore: record capacity at %d: %w", offset, ErrNotFound)
	}
	return h.RecordCapacity, nil
}

// GetFirstRecord returns the offset of the earliest-created live record.
func (s *Store) GetFirstRecord() (uint64, error) {
	s.headerMu.RLock()
	offset := s.header.FirstRecord
	s.headerMu.RUnlock()
	if offset == NotFound {
		return 0, ErrEmptyStore
	}
	return offset, nil
}

// GetLastRecord returns the offset of the most recently appended live
// record (not necessarily the most recently written one).
func (s *Store) GetLastRecord() (uint64, error) {
	s.headerMu.RLock()
	offset := s.header.LastRecord
	s.headerMu.RUnlock()
	if offset == NotFound {
		return 0, ErrEmptyStore
	}
	return offset, nil
}

// NextRecord returns the offset following offset in the live list.
func (s *Store) NextRecord(offset uint64) (uint64, error) {
	s.locks.RLock(offset)
	h, err := s.readRecordHeader(offset)
	s.locks.RUnlock(offset)
	if err != nil {
		return 0, fmt.Errorf("recordstore: next record after %d: %w", offset, err)
	}
	if h.Next == NotFound {
		return 0, ErrNotFound
	}
	return h.Next, nil
}

// PreviousRecord returns the offset preceding offset in the live list.
func (s *Store) PreviousRecord(offset uint64) (uint64, error) {
	s.locks.RLock(offset)
	h, err := s.readRecordHeader(offset)
	s.locks.RUnlock(offset)
	if err != nil {
		return 0, fmt.Errorf("recordstore: previous record before %d: %w", offset, err)
	}
	if h.Previous == NotFound {
		return 0, ErrNotFound
	}
	return h.Previous, nil
}

// UpdateRecord overwrites the record at offset with data. If data fits
// within the record's existing capacity it is rewritten in place and offset
// is returned unchanged; otherwise the record is relocated to a new,
// larger slot, its old space is handed to the free list, its live-list
// siblings are relinked to the new offset, and the new offset is returned.
func (s *Store) UpdateRecord(offset uint64, data []byte) (uint64, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}
	if len(data) == 0 {
		return 0, ErrZeroLength
	}

	s.locks.Lock(offset)
	h, err := s.readRecordHeader(offset)
	if err != nil {
		s.locks.Unlock(offset)
		return 0, fmt.Errorf("recordstore: update record at %d: %w", offset, err)
	}
	if h.Deleted() {
		s.locks.Unlock(offset)
		return 0, fmt.Errorf("recordstore: update record at %d: %w", offset, ErrNotFound)
	}

	if uint32(len(data)) <= h.RecordCapacity {
		h.DataLength = uint32(len(data))
		h.DataChecksum = checksum(data)
		if err := s.writeRecordHeader(offset, &h); err == nil {
			err = s.writeRecordData(offset, data)
		}
		s.locks.Unlock(offset)
		if err != nil {
			return 0, fmt.Errorf("recordstore: update record at %d: %w", offset, err)
		}
		return offset, nil
	}

	leftSibling, rightSibling := h.Previous, h.Next
	s.locks.Unlock(offset)

	newOffset, newHeader, err := s.allocateRecord(uint32(len(data)), data, false)
	if err != nil {
		return 0, fmt.Errorf("recordstore: update record at %d: %w", offset, err)
	}
	if err := s.addRecordToFreeList(offset); err != nil {
		return 0, fmt.Errorf("recordstore: update record at %d: %w", offset, err)
	}

	if err := s.relinkAfterRelocate(newOffset, leftSibling, rightSibling, &newHeader); err != nil {
		return 0, fmt.Errorf("recordstore: update record at %d: %w", offset, err)
	}

	return newOffset, nil
}

// relinkAfterRelocate points leftSibling/rightSibling's Next/Previous at
// newOffset and, if the relocated record was the live list's first or last,
// updates the storage header to match.
func (s *Store) relinkAfterRelocate(newOffset, leftSibling, rightSibling uint64, newHeader *RecordHeader) error {
	unlock := s.locks.LockMulti(newOffset, leftSibling, rightSibling)
	newHeader.Previous = leftSibling
	newHeader.Next = rightSibling

	if leftSibling != NotFound {
		lh, err := s.readRecordHeader(leftSibling)
		if err == nil {
			lh.Next = newOffset
			err = s.writeRecordHeader(leftSibling, &lh)
		}
		if err != nil {
			unlock()
			return err
		}
	}
	if rightSibling != NotFound {
		rh, err := s.readRecordHeader(rightSibling)
		if err == nil {
			rh.Previous = newOffset
			err = s.writeRecordHeader(rightSibling, &rh)
		}
		if err != nil {
			unlock()
			return err
		}
	}
	err := s.writeRecordHeader(newOffset, newHeader)
	unlock()
	if err != nil {
		return err
	}

	if leftSibling == NotFound {
		s.headerMu.Lock()
		s.header.FirstRecord = newOffset
		err := s.writeStorageHeader()
		s.headerMu.Unlock()
		if err != nil {
			return err
		}
	}
	if rightSibling == NotFound {
		s.headerMu.Lock()
		s.header.LastRecord = newOffset
		err := s.writeStorageHeader()
		s.headerMu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// RemoveRecord unlinks offset from the live list and adds its space to the
// free list for reuse.
func (s *Store) RemoveRecord(offset uint64) error {
	if s.readOnly {
		return ErrReadOnly
	}

	s.locks.Lock(offset)
	h, err := s.readRecordHeader(offset)
	if err != nil {
		s.locks.Unlock(offset)
		return fmt.Errorf("recordstore: remove record at %d: %w", offset, err)
	}
	if h.Deleted() {
		s.locks.Unlock(offset)
		return fmt.Errorf("recordstore: remove record at %d: %w", offset, ErrNotFound)
	}
	left, right := h.Previous, h.Next
	s.locks.Unlock(offset)

	if err := s.relinkSiblings(left, right); err != nil {
		return fmt.Errorf("recordstore: remove record at %d: %w", offset, err)
	}

	if err := s.addRecordToFreeList(offset); err != nil {
		return fmt.Errorf("recordstore: remove record at %d: %w", offset, err)
	}

	s.headerMu.Lock()
	switch {
	case left != NotFound && right != NotFound:
	case left != NotFound:
		s.header.LastRecord = left
	case right != NotFound:
		s.header.FirstRecord = right
	default:
		s.header.FirstRecord = NotFound
		s.header.LastRecord = NotFound
	}
	s.header.TotalRecords--
	err = s.writeStorageHeader()
	s.headerMu.Unlock()
	if err != nil {
		return fmt.Errorf("recordstore: remove record at %d: %w", offset, err)
	}
	return nil
}

// relinkSiblings closes the gap left by removing the record between left
// and right in whichever list they belong to.
func (s *Store) relinkSiblings(left, right uint64) error {
	unlock := s.locks.LockMulti(left, right)
	defer unlock()

	switch {
	case left != NotFound && right != NotFound:
		lh, err := s.readRecordHeader(left)
		if err != nil {
			return err
		}
		rh, err := s.readRecordHeader(right)
		if err != nil {
			return err
		}
		lh.Next = right
		rh.Previous = left
		if err := s.writeRecordHeader(left, &lh); err != nil {
			return err
		}
		return s.writeRecordHeader(right, &rh)
	case left != NotFound:
		lh, err := s.readRecordHeader(left)
		if err != nil {
			return err
		}
		lh.Next = NotFound
		return s.writeRecordHeader(left, &lh)
	case right != NotFound:
		rh, err := s.readRecordHeader(right)
		if err != nil {
			return err
		}
		rh.Previous = NotFound
		return s.writeRecordHeader(right, &rh)
	}
	return nil
}
