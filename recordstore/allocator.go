package recordstore

import "fmt"

// allocateRecord reserves a record of at least capacity bytes, preferring a
// reused free-list slot (which keeps its own, possibly larger, capacity)
// over growing the file, and writes the header and data at the returned
// offset. linkToList controls
// whether the new record is threaded into the live list (FirstRecord /
// LastRecord / TotalRecords updated) — it is false only when
// UpdateRecord.relinkAfterRelocate is about to do that linking itself.
func (s *Store) allocateRecord(capacity uint32, data []byte, linkToList bool) (uint64, RecordHeader, error) {
	s.headerMu.RLock()
	noFree := s.header.FirstFreeRecord == NotFound
	noRecords := s.header.LastRecord == NotFound
	s.headerMu.RUnlock()

	if noFree && noRecords {
		return s.createFirstRecord(capacity, data)
	}

	if !noFree {
		offset, h, ok, err := s.getFromFreeList(capacity, data, linkToList)
		if err != nil {
			return 0, RecordHeader{}, err
		}
		if ok {
			return offset, h, nil
		}
	}

	return s.appendNewRecord(capacity, data, linkToList)
}

func (s *Store) createFirstRecord(capacity uint32, data []byte) (uint64, RecordHeader, error) {
	offset := uint64(StorageHeaderSize)
	h := RecordHeader{
		Next:           NotFound,
		Previous:       NotFound,
		RecordCapacity: capacity,
		DataLength:     uint32(len(data)),
		DataChecksum:   checksum(data),
	}

	s.locks.Lock(offset)
	err := s.writeRecordHeader(offset, &h)
	if err == nil {
		err = s.writeRecordData(offset, data)
	}
	s.locks.Unlock(offset)
	if err != nil {
		return 0, RecordHeader{}, err
	}

	s.headerMu.Lock()
	s.header.FirstRecord = offset
	s.header.LastRecord = offset
	s.header.EndOfData = offset + RecordHeaderSize + uint64(capacity)
	s.header.TotalRecords++
	err = s.writeStorageHeader()
	s.headerMu.Unlock()
	if err != nil {
		return 0, RecordHeader{}, err
	}

	return offset, h, nil
}

// appendNewRecord grows the file by one record at EndOfData. appendMu
// serializes the whole operation — not just the header commit — so that
// the offset read here cannot collide with another concurrent append:
// headers/lists are updated only once the record's own header and data have
// been written successfully, matching createFirstRecord and getFromFreeList,
// which defer their header commits the same way. On a write failure nothing
// in s.header has been touched, so there is nothing to revert.
func (s *Store) appendNewRecord(capacity uint32, data []byte, linkToList bool) (uint64, RecordHeader, error) {
	if capacity == 0 {
		return 0, RecordHeader{}, fmt.Errorf("%w", ErrZeroLength)
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	s.headerMu.RLock()
	offset := s.header.EndOfData
	lastRecordOffset := s.header.LastRecord
	s.headerMu.RUnlock()

	h := RecordHeader{
		Next:           NotFound,
		Previous:       NotFound,
		RecordCapacity: capacity,
		DataLength:     uint32(len(data)),
		DataChecksum:   checksum(data),
	}
	if linkToList {
		h.Previous = lastRecordOffset
	}

	unlock := s.locks.LockMulti(offset, lastRecordOffset)
	var err error
	if linkToList && lastRecordOffset != NotFound {
		var prev RecordHeader
		prev, err = s.readRecordHeader(lastRecordOffset)
		if err == nil {
			prev.Next = offset
			err = s.writeRecordHeader(lastRecordOffset, &prev)
		}
	}
	if err == nil {
		err = s.writeRecordHeader(offset, &h)
	}
	if err == nil {
		err = s.writeRecordData(offset, data)
	}
	unlock()
	if err != nil {
		return 0, RecordHeader{}, err
	}

	s.headerMu.Lock()
	s.header.EndOfData = offset + RecordHeaderSize + uint64(capacity)
	if linkToList {
		if lastRecordOffset == NotFound {
			s.header.FirstRecord = offset
		}
		s.header.LastRecord = offset
		s.header.TotalRecords++
	}
	err = s.writeStorageHeader()
	s.headerMu.Unlock()
	if err != nil {
		return 0, RecordHeader{}, err
	}

	return offset, h, nil
}

// getFromFreeList scans up to freeLookupDepth free-list nodes for one with
// enough capacity, reusing it if found. The scan and the reuse it performs
// are serialized by freeListMu against every other free-list mutation
// (both a concurrent claim here and a concurrent append in
// addRecordToFreeList), so a candidate inspected under an RLock cannot be
// claimed out from under this call, and the tail this call sees cannot grow
// a new node mid-scan.
func (s *Store) getFromFreeList(capacity uint32, data []byte, linkToList bool) (uint64, RecordHeader, bool, error) {
	s.freeListMu.Lock()
	defer s.freeListMu.Unlock()

	s.headerMu.RLock()
	if s.header.TotalFreeRecords == 0 {
		s.headerMu.RUnlock()
		return 0, RecordHeader{}, false, nil
	}
	offset := s.header.FirstFreeRecord
	s.headerMu.RUnlock()

	maxIterations := s.freeLookupDepth.Load()

	for i := uint64(0); offset != NotFound && i < maxIterations; i++ {
		s.locks.RLock(offset)
		free, err := s.readRecordHeader(offset)
		s.locks.RUnlock(offset)
		if err != nil {
			return 0, RecordHeader{}, false, err
		}

		if !(free.RecordCapacity >= capacity && free.Deleted()) {
			offset = free.Next
			continue
		}

		if err := s.removeRecordFromFreeList(offset, free); err != nil {
			return 0, RecordHeader{}, false, err
		}

		h := RecordHeader{
			Next:           NotFound,
			RecordCapacity: free.RecordCapacity,
			DataLength:     uint32(len(data)),
			DataChecksum:   checksum(data),
		}

		var prevOffset uint64 = NotFound
		if linkToList {
			s.headerMu.RLock()
			prevOffset = s.header.LastRecord
			s.headerMu.RUnlock()
			h.Previous = prevOffset
		}

		unlock := s.locks.LockMulti(offset, prevOffset)
		if linkToList && prevOffset != NotFound {
			prev, err := s.readRecordHeader(prevOffset)
			if err == nil {
				prev.Next = offset
				err = s.writeRecordHeader(prevOffset, &prev)
			}
			if err != nil {
				unlock()
				return 0, RecordHeader{}, false, err
			}
		}
		if err := s.writeRecordHeader(offset, &h); err == nil {
			err = s.writeRecordData(offset, data)
		}
		unlock()
		if err != nil {
			return 0, RecordHeader{}, false, err
		}

		if linkToList {
			s.headerMu.Lock()
			if prevOffset == NotFound {
				s.header.FirstRecord = offset
			}
			s.header.LastRecord = offset
			s.header.TotalRecords++
			werr := s.writeStorageHeader()
			s.headerMu.Unlock()
			if werr != nil {
				return 0, RecordHeader{}, false, werr
			}
		}

		return offset, h, true, nil
	}

	return 0, RecordHeader{}, false, nil
}

// addRecordToFreeList marks the record at offset deleted and appends it to
// the tail of the free list. Holds freeListMu for the same reason
// getFromFreeList does: without it, a concurrent claim of the current tail
// node could read that node's Next before this call links the new node in,
// truncating the free list one node early and orphaning the node being
// added here — live by TotalFreeRecords' count but unreachable by traversal.
func (s *Store) addRecordToFreeList(offset uint64) error {
	s.locks.RLock(offset)
	h, err := s.readRecordHeader(offset)
	s.locks.RUnlock(offset)
	if err != nil {
		return err
	}
	if h.Deleted() {
		return fmt.Errorf("record at %d already deleted", offset)
	}

	s.freeListMu.Lock()
	defer s.freeListMu.Unlock()

	s.headerMu.Lock()
	prevFreeOffset := s.header.LastFreeRecord
	if s.header.FirstFreeRecord == NotFound {
		s.header.FirstFreeRecord = offset
	}
	s.header.LastFreeRecord = offset
	s.header.TotalFreeRecords++
	err = s.writeStorageHeader()
	s.headerMu.Unlock()
	if err != nil {
		return err
	}

	if prevFreeOffset != NotFound {
		s.locks.Lock(prevFreeOffset)
		prev, err := s.readRecordHeader(prevFreeOffset)
		if err == nil {
			prev.Next = offset
			err = s.writeRecordHeader(prevFreeOffset, &prev)
		}
		s.locks.Unlock(prevFreeOffset)
		if err != nil {
			return err
		}
	}

	h.Next = NotFound
	h.Previous = prevFreeOffset
	h.DataLength = 0
	h.DataChecksum = 0
	h.BitFlags |= DeletedFlag

	s.locks.Lock(offset)
	err = s.writeRecordHeader(offset, &h)
	s.locks.Unlock(offset)
	return err
}

// removeRecordFromFreeList splices offset (already confirmed deleted, with
// header free) out of the free list and decrements TotalFreeRecords.
func (s *Store) removeRecordFromFreeList(offset uint64, free RecordHeader) error {
	left, right := free.Previous, free.Next

	unlock := s.locks.LockMulti(left, right)
	var err error
	switch {
	case left != NotFound && right != NotFound:
		var lh, rh RecordHeader
		lh, err = s.readRecordHeader(left)
		if err == nil {
			rh, err = s.readRecordHeader(right)
		}
		if err == nil {
			lh.Next = right
			rh.Previous = left
			err = s.writeRecordHeader(left, &lh)
		}
		if err == nil {
			err = s.writeRecordHeader(right, &rh)
		}
	case left != NotFound:
		var lh RecordHeader
		lh, err = s.readRecordHeader(left)
		if err == nil {
			lh.Next = NotFound
			err = s.writeRecordHeader(left, &lh)
		}
	case right != NotFound:
		var rh RecordHeader
		rh, err = s.readRecordHeader(right)
		if err == nil {
			rh.Previous = NotFound
			err = s.writeRecordHeader(right, &rh)
		}
	}
	unlock()
	if err != nil {
		return err
	}

	s.headerMu.Lock()
	switch {
	case left != NotFound && right != NotFound:
	case left != NotFound:
		s.header.LastFreeRecord = left
	case right != NotFound:
		s.header.FirstFreeRecord = right
	default:
		s.header.FirstFreeRecord = NotFound
		s.header.LastFreeRecord = NotFound
	}
	s.header.TotalFreeRecords--
	err = s.writeStorageHeader()
	s.headerMu.Unlock()
	return err
}
