package recordstore

import (
	"encoding/binary"
	"hash/adler32"
)

// RecordHeader is the fixed 40-byte preface of every record: its live/free
// list links, its allocated capacity versus actual data length, and the two
// checksums that let readRecordHeader/readRecordData detect corruption.
type RecordHeader struct {
	Next     uint64
	Previous uint64
	BitFlags uint64

	RecordCapacity uint32
	DataLength     uint32
	DataChecksum   uint32
	HeadChecksum   uint32
}

// Deleted reports whether this header belongs to a free-list record.
func (h *RecordHeader) Deleted() bool {
	return h.BitFlags&DeletedFlag != 0
}

func (h *RecordHeader) marshal(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.Next)
	binary.LittleEndian.PutUint64(buf[8:16], h.Previous)
	binary.LittleEndian.PutUint64(buf[16:24], h.BitFlags)
	binary.LittleEndian.PutUint32(buf[24:28], h.RecordCapacity)
	binary.LittleEndian.PutUint32(buf[28:32], h.DataLength)
	binary.LittleEndian.PutUint32(buf[32:36], h.DataChecksum)
	binary.LittleEndian.PutUint32(buf[36:40], h.HeadChecksum)
}

func (h *RecordHeader) unmarshal(buf []byte) {
	h.Next = binary.LittleEndian.Uint64(buf[0:8])
	h.Previous = binary.LittleEndian.Uint64(buf[8:16])
	h.BitFlags = binary.LittleEndian.Uint64(buf[16:24])
	h.RecordCapacity = binary.LittleEndian.Uint32(buf[24:28])
	h.DataLength = binary.LittleEndian.Uint32(buf[28:32])
	h.DataChecksum = binary.LittleEndian.Uint32(buf[32:36])
	h.HeadChecksum = binary.LittleEndian.Uint32(buf[36:40])
}

// marshalChecksummed serializes h into buf (which must be RecordHeaderSize
// long) and fills in HeadChecksum over everything but itself.
func (h *RecordHeader) marshalChecksummed(buf []byte) {
	h.marshal(buf)
	h.HeadChecksum = checksum(buf[:recordHeaderPayloadSize])
	binary.LittleEndian.PutUint32(buf[36:40], h.HeadChecksum)
}

// checksum is plain Adler-32, bit-for-bit what hash/adler32 computes — used
// directly rather than reimplemented, over both record header payloads and
// record data payloads.
func checksum(data []byte) uint32 {
	return adler32.Checksum(data)
}
