package recordstore

import "encoding/binary"

// Signature and Version identify a valid storage file and its on-disk
// layout. NotFound is the sentinel offset meaning "no such record".
const (
	Signature = 0x574F4E4B // matches the original format's KNOWLEDGE_SIGNATURE
	Version   = 1

	// DeletedFlag is set in a record header's BitFlags once the record has
	// been handed to the free list; its presence, not its position, is
	// what makes a record a member of the free list rather than the live
	// one.
	DeletedFlag = uint64(1) << 63

	// FreeLookupMinDepth bounds how many free-list nodes a single
	// allocation will scan looking for a reusable slot; FreeLookupRatio
	// lets that bound grow with the free list so lookups stay proportional
	// rather than falling back to a full scan on a large store.
	FreeLookupMinDepth = 64
	FreeLookupRatio    = 10

	StorageHeaderSize = 64
	RecordHeaderSize  = 40

	recordHeaderPayloadSize = RecordHeaderSize - 4 // excludes HeadChecksum
)

// NotFound marks an absent offset: no next/previous sibling, an empty live
// or free list, or a failed lookup.
const NotFound uint64 = ^uint64(0)

// StorageHeader is the fixed 64-byte preface of the store file: format
// identification plus the live and free list's head/tail offsets and
// counts.
type StorageHeader struct {
	Signature uint32
	Version   uint32

	EndOfData uint64

	TotalRecords uint64
	FirstRecord  uint64
	LastRecord   uint64

	TotalFreeRecords uint64
	FirstFreeRecord  uint64
	LastFreeRecord   uint64
}

func newStorageHeader() StorageHeader {
	return StorageHeader{
		Signature:       Signature,
		Version:         Version,
		EndOfData:       StorageHeaderSize,
		FirstRecord:     NotFound,
		LastRecord:      NotFound,
		FirstFreeRecord: NotFound,
		LastFreeRecord:  NotFound,
	}
}

func (h *StorageHeader) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.EndOfData)
	binary.LittleEndian.PutUint64(buf[16:24], h.TotalRecords)
	binary.LittleEndian.PutUint64(buf[24:32], h.FirstRecord)
	binary.LittleEndian.PutUint64(buf[32:40], h.LastRecord)
	binary.LittleEndian.PutUint64(buf[40:48], h.TotalFreeRecords)
	binary.LittleEndian.PutUint64(buf[48:56], h.FirstFreeRecord)
	binary.LittleEndian.PutUint64(buf[56:64], h.LastFreeRecord)
}

func (h *StorageHeader) unmarshal(buf []byte) {
	h.Signature = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.EndOfData = binary.LittleEndian.Uint64(buf[8:16])
	h.TotalRecords = binary.LittleEndian.Uint64(buf[16:24])
	h.FirstRecord = binary.LittleEndian.Uint64(buf[24:32])
	h.LastRecord = binary.LittleEndian.Uint64(buf[32:40])
	h.TotalFreeRecords = binary.LittleEndian.Uint64(buf[40:48])
	h.FirstFreeRecord = binary.LittleEndian.Uint64(buf[48:56])
	h.LastFreeRecord = binary.LittleEndian.Uint64(buf[56:64])
}
