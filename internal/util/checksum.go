package util

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Log records are framed as [magic (4)][length (4)][payload][crc32c (4)].
// The checksum covers the payload only.

const frameMagic uint32 = 0x4f545831 // "OTX1"

const frameOverhead = 12

var crc32Table = crc32.MakeTable(crc32.Castagnoli)

// ComputeChecksum computes a CRC32-C checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ValidateChecksum validates data against an expected checksum
func ValidateChecksum(data []byte, expected uint32) bool {
	return ComputeChecksum(data) == expected
}

// Frame wraps payload with a header and a trailing checksum
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+frameOverhead)
	out = binary.LittleEndian.AppendUint32(out, frameMagic)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	return binary.LittleEndian.AppendUint32(out, ComputeChecksum(payload))
}

// Unframe validates a framed record and returns its payload
func Unframe(frame []byte) ([]byte, error) {
	if len(frame) < frameOverhead {
		return nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	if magic := binary.LittleEndian.Uint32(frame); magic != frameMagic {
		return nil, fmt.Errorf("bad frame magic %#x", magic)
	}
	n := int(binary.LittleEndian.Uint32(frame[4:]))
	if n != len(frame)-frameOverhead {
		return nil, fmt.Errorf("frame length %d does not match %d payload bytes", n, len(frame)-frameOverhead)
	}
	payload := frame[8 : 8+n]
	expected := binary.LittleEndian.Uint32(frame[8+n:])
	if !ValidateChecksum(payload, expected) {
		return nil, fmt.Errorf("checksum mismatch: expected %#x, got %#x", expected, ComputeChecksum(payload))
	}
	return payload, nil
}
