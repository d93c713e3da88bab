package codec

import (
	"encoding/binary"
	"hash/crc32"
)

// Record frames carry a version byte and a trailing CRC32 so a torn or
// corrupted value is detected on read.
// Format: [version (1 byte)][payload][checksum (4 bytes, big endian)]

const (
	// FrameVersion is the only frame layout currently written
	FrameVersion byte = 1

	frameOverhead = 1 + crc32.Size
)

var crc32Table = crc32.MakeTable(crc32.IEEE)

// Checksum computes a CRC32 (IEEE) checksum for the given data
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// Frame wraps payload in a versioned, checksummed frame
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+frameOverhead)
	out = append(out, FrameVersion)
	out = append(out, payload...)
	return binary.BigEndian.AppendUint32(out, Checksum(out))
}

// Unframe validates a frame and returns its payload. The payload aliases
// the input slice.
func Unframe(frame []byte) ([]byte, error) {
	if len(frame) < frameOverhead {
		return nil, &FrameError{Reason: "frame too short", Length: len(frame)}
	}
	body := frame[:len(frame)-crc32.Size]
	expected := binary.BigEndian.Uint32(frame[len(body):])
	if actual := Checksum(body); actual != expected {
		return nil, &FrameError{Reason: "checksum mismatch", Length: len(frame), Expected: expected, Actual: actual}
	}
	if body[0] != FrameVersion {
		return nil, &FrameError{Reason: "unknown frame version", Length: len(frame), Version: body[0]}
	}
	return body[1:], nil
}

// FrameError describes why a frame was rejected
type FrameError struct {
	Reason   string
	Length   int
	Version  byte
	Expected uint32
	Actual   uint32
}

func (e *FrameError) Error() string {
	return "invalid record frame: " + e.Reason
}
