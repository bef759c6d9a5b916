package gatt

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidUUID = errors.New("invalid UUID")

// A UUID is a BLE UUID. The bytes are kept in wire (little-endian) order.
type UUID struct {
	b []byte
}

// baseUUID is 00000000-0000-1000-8000-00805F9B34FB in wire order.
// A 16-bit alias occupies bytes 12 and 13.
var baseUUID = []byte{
	0xfb, 0x34, 0x9b, 0x5f, 0x80, 0x00, 0x00, 0x80,
	0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// UUID16 converts a uint16 (such as 0x1800) to a UUID.
func UUID16(i uint16) UUID {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, i)
	return UUID{b}
}

// ParseUUID parses a standard-format UUID string, such
// as "1800" or "34DA3AD1-7110-41A1-B1EF-4430F509CDE7".
func ParseUUID(s string) (UUID, error) {
	s = strings.Replace(s, "-", "", -1)
	b, err := hex.DecodeString(s)
	if err != nil {
		return UUID{}, fmt.Errorf("%w: %q: %w", ErrInvalidUUID, s, err)
	}
	return UUIDFromBytes(b, false)
}

// MustParseUUID parses a standard-format UUID string,
// like ParseUUID, but panics in case of error.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// UUIDFromBytes builds a UUID from 2 or 16 bytes in display order,
// or in wire order if reverse is set. The input is copied.
func UUIDFromBytes(b []byte, reverse bool) (UUID, error) {
	if err := lenErr(len(b)); err != nil {
		return UUID{}, err
	}
	var w []byte
	if reverse {
		w = append([]byte(nil), b...)
	} else {
		w = reverseBytes(b)
	}
	return UUID{contract(w)}, nil
}

// uuidFromWire is UUIDFromBytes for PDU payloads, which are always
// in wire order and already length checked.
func uuidFromWire(b []byte) UUID {
	return UUID{contract(append([]byte(nil), b...))}
}

// wireUUID is uuidFromWire for untrusted payloads.
func wireUUID(b []byte) (UUID, error) {
	if err := lenErr(len(b)); err != nil {
		return UUID{}, err
	}
	return uuidFromWire(b), nil
}

// contract shortens a 128-bit wire-order UUID on the Bluetooth base to its 16-bit alias.
func contract(w []byte) []byte {
	if len(w) != 16 {
		return w
	}
	if !bytes.Equal(w[:12], baseUUID[:12]) || !bytes.Equal(w[14:], baseUUID[14:]) {
		return w
	}
	return []byte{w[12], w[13]}
}

// lenErr returns an error if n is an invalid UUID length.
func lenErr(n int) error {
	switch n {
	case 2, 16:
		return nil
	}
	return fmt.Errorf("%w: UUIDs must have length 2 or 16, got %d", ErrInvalidUUID, n)
}

// Len returns the length of the UUID, in bytes.
// BLE UUIDs are either 2 or 16 bytes.
func (u UUID) Len() int {
	return len(u.b)
}

// Bytes returns a copy of the UUID in wire order.
func (u UUID) Bytes() []byte {
	return append([]byte(nil), u.b...)
}

// Expand returns the 16-byte wire form of u.
func (u UUID) Expand() []byte {
	if len(u.b) == 16 {
		return u.Bytes()
	}
	b := append([]byte(nil), baseUUID...)
	copy(b[12:], u.b)
	return b
}

// String hex-encodes a UUID in display order.
func (u UUID) String() string {
	return fmt.Sprintf("%x", reverseBytes(u.b))
}

// Equal returns a boolean reporting whether v represent the same UUID as u.
func (u UUID) Equal(v UUID) bool {
	return bytes.Equal(u.b, v.b)
}

// Name returns the name of a well-known UUID, or an empty string.
func (u UUID) Name() string {
	return knownUUID[u.String()]
}

// UUIDContains returns a boolean reporting whether u is in the slice s.
// A nil s contains every UUID.
func UUIDContains(s []UUID, u UUID) bool {
	if s == nil {
		return true
	}
	for _, a := range s {
		if a.Equal(u) {
			return true
		}
	}
	return false
}

// reverseBytes returns a reversed copy of u.
func reverseBytes(u []byte) []byte {
	// Special-case 16 bit UUIDS for speed.
	l := len(u)
	if l == 2 {
		return []byte{u[1], u[0]}
	}
	b := make([]byte, l)
	for i := 0; i < l; i++ {
		b[i] = u[l-i-1]
	}
	return b
}

var knownUUID = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",

	"2800": "Primary Service",
	"2801": "Secondary Service",
	"2802": "Include",
	"2803": "Characteristic",

	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Description",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",

	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
}
