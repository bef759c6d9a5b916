package util

import "encoding/binary"

type binaryOrder struct{ binary.ByteOrder }

// BinaryOrder is the byte order of every multi-byte ATT field.
var BinaryOrder = binaryOrder{binary.LittleEndian}

func (o binaryOrder) Uint8(b []byte) uint8 { return b[0] }

func (o binaryOrder) PutUint8(b []byte, v uint8) { b[0] = v }

// HandleRange decodes a (start, end) handle pair.
func (o binaryOrder) HandleRange(b []byte) (start, end uint16) {
	return o.Uint16(b), o.Uint16(b[2:])
}

func (o binaryOrder) PutHandleRange(b []byte, start, end uint16) {
	o.PutUint16(b, start)
	o.PutUint16(b[2:], end)
}

// AppendUint16 appends v to b in ATT byte order.
func (o binaryOrder) AppendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}
