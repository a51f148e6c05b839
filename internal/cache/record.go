package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"
)

// On-disk record layout, all integers little-endian:
//
//	magic   [4]byte "DCR\x00"
//	version uint8
//	key     [32]byte
//	srcSize int64
//	srcMod  int64   unix nanoseconds, 0 when unknown
//	created int64   unix nanoseconds
//	plen    uint64
//	payload [plen]byte
//	crc     uint32  IEEE over everything above
var recordMagic = [4]byte{'D', 'C', 'R', 0}

const (
	recordVersion    = 1
	recordHeaderSize = 4 + 1 + 32 + 8 + 8 + 8 + 8
	recordExt        = ".dcr"
)

var errCorrupt = errors.New("corrupt cache record")

// Record is one cached payload plus what is needed to validate it.
type Record struct {
	Key        Key
	SourceSize int64
	SourceMod  int64
	Created    time.Time
	Payload    []byte
}

func encodeRecord(r Record) []byte {
	buf := make([]byte, 0, recordHeaderSize+len(r.Payload)+4)
	buf = append(buf, recordMagic[:]...)
	buf = append(buf, recordVersion)
	buf = append(buf, r.Key[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.SourceSize))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.SourceMod))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Created.UnixNano()))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(r.Payload)))
	buf = append(buf, r.Payload...)
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

func decodeRecord(raw []byte) (Record, error) {
	if len(raw) < recordHeaderSize+4 {
		return Record{}, fmt.Errorf("%w: %d bytes", errCorrupt, len(raw))
	}
	body, sum := raw[:len(raw)-4], binary.LittleEndian.Uint32(raw[len(raw)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return Record{}, fmt.Errorf("%w: checksum mismatch", errCorrupt)
	}
	r, plen, err := decodeHeader(body[:recordHeaderSize])
	if err != nil {
		return Record{}, err
	}
	if uint64(len(body)-recordHeaderSize) != plen {
		return Record{}, fmt.Errorf("%w: payload length %d, have %d", errCorrupt, plen, len(body)-recordHeaderSize)
	}
	r.Payload = body[recordHeaderSize:]
	return r, nil
}

func decodeHeader(h []byte) (Record, uint64, error) {
	if len(h) < recordHeaderSize || !bytes.Equal(h[:4], recordMagic[:]) {
		return Record{}, 0, fmt.Errorf("%w: bad magic", errCorrupt)
	}
	if h[4] != recordVersion {
		return Record{}, 0, fmt.Errorf("%w: version %d", errCorrupt, h[4])
	}
	var r Record
	copy(r.Key[:], h[5:37])
	r.SourceSize = int64(binary.LittleEndian.Uint64(h[37:45]))
	r.SourceMod = int64(binary.LittleEndian.Uint64(h[45:53]))
	r.Created = time.Unix(0, int64(binary.LittleEndian.Uint64(h[53:61])))
	return r, binary.LittleEndian.Uint64(h[61:69]), nil
}

// readHeader reads just the fixed header of a record file.
func readHeader(rd io.Reader) (Record, error) {
	h := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(rd, h); err != nil {
		return Record{}, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	r, _, err := decodeHeader(h)
	return r, err
}
