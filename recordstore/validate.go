package recordstore

import "fmt"

// Stats is a point-in-time snapshot of storage-level counters.
type Stats struct {
	TotalRecords     uint64
	TotalFreeRecords uint64
	EndOfData        uint64
	FreeLookupDepth  uint64
}

// Stats returns the current storage header counters.
func (s *Store) Stats() Stats {
	s.headerMu.RLock()
	defer s.headerMu.RUnlock()
	return Stats{
		TotalRecords:     s.header.TotalRecords,
		TotalFreeRecords: s.header.TotalFreeRecords,
		EndOfData:        s.header.EndOfData,
		FreeLookupDepth:  s.freeLookupDepth.Load(),
	}
}

// Validate walks both the live and free lists end to end, checking every
// record's header checksum, the live list's data checksums, the
// previous/next interlinks against the direction of the walk, that
// TotalRecords/TotalFreeRecords and the first/last pointers agree with what
// was actually walked, that no offset appears in both lists, that every
// record's DataLength fits within its RecordCapacity, and that every
// record's extent and the header's own EndOfData fall within the file. Dirty
// cached pages are flushed before the file size is read, so pages written
// through the cache but not yet on disk count as part of the file. It
// returns every violation found rather than stopping at the first, so a
// single call surfaces the full extent of any corruption.
func (s *Store) Validate() []error {
	var errs []error

	s.headerMu.RLock()
	header := s.header
	s.headerMu.RUnlock()

	if header.Signature != Signature || header.Version != Version {
		return []error{fmt.Errorf("recordstore: validate: %w", ErrInvalidHeader)}
	}

	if err := s.cache.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("recordstore: validate: flush: %w", err))
	}

	fileSize, err := s.cache.Size()
	if err != nil {
		errs = append(errs, fmt.Errorf("recordstore: validate: file size: %w", err))
	} else if header.EndOfData > uint64(fileSize) {
		errs = append(errs, fmt.Errorf("recordstore: validate: header EndOfData %d exceeds file size %d", header.EndOfData, fileSize))
	}

	seen := make(map[uint64]string)

	checkRecord := func(kind string) func(uint64, RecordHeader) []error {
		return func(offset uint64, h RecordHeader) []error {
			var es []error
			if other, ok := seen[offset]; ok {
				es = append(es, fmt.Errorf("recordstore: validate: record %d appears in both the %s and %s lists", offset, other, kind))
			} else {
				seen[offset] = kind
			}
			if h.DataLength > h.RecordCapacity {
				es = append(es, fmt.Errorf("recordstore: validate: %s record %d data length %d exceeds capacity %d", kind, offset, h.DataLength, h.RecordCapacity))
			}
			if extent := offset + RecordHeaderSize + uint64(h.RecordCapacity); extent > header.EndOfData {
				es = append(es, fmt.Errorf("recordstore: validate: %s record %d extends to %d, past header EndOfData %d", kind, offset, extent, header.EndOfData))
			}
			if offset < StorageHeaderSize {
				es = append(es, fmt.Errorf("recordstore: validate: %s record %d starts before end of storage header at %d", kind, offset, StorageHeaderSize))
			}
			switch kind {
			case "live":
				if h.Deleted() {
					es = append(es, fmt.Errorf("recordstore: validate: live list contains deleted record"))
				}
			case "free":
				if !h.Deleted() {
					es = append(es, fmt.Errorf("recordstore: validate: free list contains live record"))
				}
			}
			return es
		}
	}

	liveCount, lastLive, liveErrs := s.walkList(header.FirstRecord, "live", checkRecord("live"))
	errs = append(errs, liveErrs...)
	if lastLive != header.LastRecord {
		errs = append(errs, fmt.Errorf("recordstore: validate: live list walk ended at %d but header LastRecord is %d", lastLive, header.LastRecord))
	}
	if liveCount != header.TotalRecords {
		errs = append(errs, fmt.Errorf("recordstore: validate: walked %d live records but header TotalRecords is %d", liveCount, header.TotalRecords))
	}

	freeCount, lastFree, freeErrs := s.walkList(header.FirstFreeRecord, "free", checkRecord("free"))
	errs = append(errs, freeErrs...)
	if lastFree != header.LastFreeRecord {
		errs = append(errs, fmt.Errorf("recordstore: validate: free list walk ended at %d but header LastFreeRecord is %d", lastFree, header.LastFreeRecord))
	}
	if freeCount != header.TotalFreeRecords {
		errs = append(errs, fmt.Errorf("recordstore: validate: walked %d free records but header TotalFreeRecords is %d", freeCount, header.TotalFreeRecords))
	}

	return errs
}

// walkList walks the Next chain starting at first, checking header
// checksums, live-list data checksums, Previous-link consistency against
// the walk direction, and cycle freedom, applying extra (offset and header
// of the node just read) per the list kind (live vs free). It returns the
// number of nodes walked and the offset the walk ended on (NotFound if the
// list was empty).
func (s *Store) walkList(first uint64, kind string, extra func(uint64, RecordHeader) []error) (uint64, uint64, []error) {
	var errs []error
	visited := make(map[uint64]bool)
	count := uint64(0)
	prev := NotFound
	offset := first

	for offset != NotFound {
		if visited[offset] {
			errs = append(errs, fmt.Errorf("recordstore: validate: cyclic %s list at %d", kind, offset))
			break
		}
		visited[offset] = true

		h, err := s.readRecordHeader(offset)
		if err != nil {
			errs = append(errs, fmt.Errorf("recordstore: validate: %s record %d: %w", kind, offset, err))
			break
		}
		if h.Previous != prev {
			errs = append(errs, fmt.Errorf("recordstore: validate: %s record %d previous link %d does not match walk predecessor %d", kind, offset, h.Previous, prev))
		}
		errs = append(errs, extra(offset, h)...)
		if kind == "live" {
			if _, err := s.readRecordData(offset, h); err != nil {
				errs = append(errs, fmt.Errorf("recordstore: validate: live record %d data: %w", offset, err))
			}
		}

		count++
		prev = offset
		offset = h.Next
	}

	return count, prev, errs
}
