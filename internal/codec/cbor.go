// Package codec encodes chain records for the embedded store: CBOR payloads
// in checksummed frames, and fixed-width integer keys.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// KeySize is the width of an encoded integer key
const KeySize = 4

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding keeps identical records byte-identical.
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Sprintf("codec: cbor encoder: %v", err))
	}
	if decMode, err = (cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}).DecMode(); err != nil {
		panic(fmt.Sprintf("codec: cbor decoder: %v", err))
	}
}

// Marshal CBOR-encodes v and frames the result
func Marshal(v any) ([]byte, error) {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return Frame(payload), nil
}

// Unmarshal validates the frame and decodes its payload into v
func Unmarshal(data []byte, v any) error {
	payload, err := Unframe(data)
	if err != nil {
		return err
	}
	if err := decMode.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

// EncodeKey encodes k as a big-endian fixed-width key, so byte order
// matches numeric order
func EncodeKey(k uint32) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, KeySize), k)
}

// DecodeKey is the inverse of EncodeKey
func DecodeKey(b []byte) (uint32, error) {
	if len(b) != KeySize {
		return 0, fmt.Errorf("integer key must be %d bytes, got %d", KeySize, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}
