package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// OpType is the kind of a WAL entry.
type OpType byte

const (
	// OpRevision carries one setting revision. Key is the setting identity.
	OpRevision OpType = 1

	// OpSnapshot carries one snapshot record. Key is the snapshot name.
	OpSnapshot OpType = 2

	// OpCommit ends a transaction; entries of uncommitted transactions are
	// ignored on recovery
	OpCommit OpType = 3

	// OpCheckpoint marks that state up to the LSN in Value is checkpointed
	OpCheckpoint OpType = 4
)

func (op OpType) String() string {
	switch op {
	case OpRevision:
		return "REVISION"
	case OpSnapshot:
		return "SNAPSHOT"
	case OpCommit:
		return "COMMIT"
	case OpCheckpoint:
		return "CHECKPOINT"
	}
	return fmt.Sprintf("OP(%d)", byte(op))
}

const (
	// EntryHeaderSize is the fixed size of the entry header
	// Layout: LSN(8) + TxnID(8) + OpType(1) + Reserved(7) + KeyLen(4) + ValLen(4) + Timestamp(8)
	EntryHeaderSize = 40

	// MaxEntrySize bounds key plus value so a corrupt length cannot force a
	// huge allocation
	MaxEntrySize = 64 << 20
)

// Entry is a single framed WAL record
type Entry struct {
	LSN       uint64
	TxnID     uint64
	OpType    OpType
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Encode frames the entry as [Header(40)] [Key] [Value] [CRC32(4)]
func (e *Entry) Encode() []byte {
	keyLen := len(e.Key)
	valLen := len(e.Value)
	buf := make([]byte, e.Size())

	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], e.TxnID)
	buf[16] = byte(e.OpType)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(keyLen))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(valLen))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(e.Timestamp.UnixNano()))

	offset := EntryHeaderSize
	copy(buf[offset:], e.Key)
	offset += keyLen
	copy(buf[offset:], e.Value)
	offset += valLen

	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:offset+4], crc)
	return buf
}

// bodyLen returns the key, value and checksum length announced by header.
func bodyLen(header []byte) (int, error) {
	keyLen := binary.LittleEndian.Uint32(header[24:28])
	valLen := binary.LittleEndian.Uint32(header[28:32])
	if uint64(keyLen)+uint64(valLen) > MaxEntrySize {
		return 0, ErrCorrupted
	}
	return int(keyLen) + int(valLen) + 4, nil
}

// DecodeEntry parses and verifies one framed entry
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, ErrTruncated
	}
	n, err := bodyLen(data)
	if err != nil {
		return nil, err
	}
	if len(data) < EntryHeaderSize+n {
		return nil, ErrTruncated
	}
	data = data[:EntryHeaderSize+n]

	end := len(data) - 4
	if binary.LittleEndian.Uint32(data[end:]) != crc32.ChecksumIEEE(data[:end]) {
		return nil, ErrCorrupted
	}

	entry := &Entry{
		LSN:       binary.LittleEndian.Uint64(data[0:8]),
		TxnID:     binary.LittleEndian.Uint64(data[8:16]),
		OpType:    OpType(data[16]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(data[32:40]))),
	}

	keyLen := int(binary.LittleEndian.Uint32(data[24:28]))
	offset := EntryHeaderSize
	if keyLen > 0 {
		entry.Key = append([]byte(nil), data[offset:offset+keyLen]...)
		offset += keyLen
	}
	if offset < end {
		entry.Value = append([]byte(nil), data[offset:end]...)
	}
	return entry, nil
}

// Size returns the encoded size of the entry
func (e *Entry) Size() int {
	return EntryHeaderSize + len(e.Key) + len(e.Value) + 4
}

func (e *Entry) String() string {
	return fmt.Sprintf("WAL[LSN=%d TxnID=%d Op=%s KeyLen=%d ValLen=%d]",
		e.LSN, e.TxnID, e.OpType, len(e.Key), len(e.Value))
}

// Record is one operation of a committed transaction.
type Record struct {
	Op    OpType
	Key   []byte
	Value []byte
}
