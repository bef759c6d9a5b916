package gatt

import (
	"errors"
	"fmt"

	"github.com/xaionaro-go/netgatt/util"
)

var (
	ErrInvalidLength = errors.New("invalid length")
	ErrInvalidPDU    = errors.New("invalid PDU")
	ErrUnknownOpcode = errors.New("unknown opcode")
)

// A PDU is one complete ATT message.
type PDU interface {
	Opcode() byte
	Marshal() []byte
}

var order = util.BinaryOrder

// checkPDU validates the opcode and the length of b.
// A negative max means the PDU has a variable-length tail.
func checkPDU(b []byte, op byte, min, max int) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: empty PDU", ErrInvalidLength)
	}
	if b[0] != op {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidPDU, OpcodeName(op), OpcodeName(b[0]))
	}
	if len(b) < min || (max >= 0 && len(b) > max) {
		return fmt.Errorf("%w: %s of %d bytes", ErrInvalidLength, OpcodeName(op), len(b))
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	return append([]byte{}, b...)
}

// ErrorResp is the 5-byte Error Response.
type ErrorResp struct {
	ReqOp  byte
	Handle uint16
	Code   AttrECode
}

func (p ErrorResp) Opcode() byte { return attrOpError }

func (p ErrorResp) Marshal() []byte {
	// little-endian encoding for the handle
	return []byte{attrOpError, p.ReqOp, byte(p.Handle), byte(p.Handle >> 8), byte(p.Code)}
}

func (p *ErrorResp) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpError, 5, 5); err != nil {
		return err
	}
	p.ReqOp, p.Handle, p.Code = b[1], order.Uint16(b[2:]), AttrECode(b[4])
	return nil
}

// MTUReq is the Exchange MTU Request.
type MTUReq struct {
	MTU uint16
}

func (p MTUReq) Opcode() byte { return attrOpMtuReq }

func (p MTUReq) Marshal() []byte {
	return order.AppendUint16([]byte{attrOpMtuReq}, p.MTU)
}

func (p *MTUReq) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpMtuReq, 3, 3); err != nil {
		return err
	}
	p.MTU = order.Uint16(b[1:])
	return nil
}

// MTUResp is the Exchange MTU Response.
type MTUResp struct {
	MTU uint16
}

func (p MTUResp) Opcode() byte { return attrOpMtuResp }

func (p MTUResp) Marshal() []byte {
	return order.AppendUint16([]byte{attrOpMtuResp}, p.MTU)
}

func (p *MTUResp) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpMtuResp, 3, 3); err != nil {
		return err
	}
	p.MTU = order.Uint16(b[1:])
	return nil
}

// FindInfoReq is the Find Information Request.
type FindInfoReq struct {
	Start, End uint16
}

func (p FindInfoReq) Opcode() byte { return attrOpFindInfoReq }

func (p FindInfoReq) Marshal() []byte {
	b := make([]byte, 5)
	b[0] = attrOpFindInfoReq
	order.PutHandleRange(b[1:], p.Start, p.End)
	return b
}

func (p *FindInfoReq) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpFindInfoReq, 5, 5); err != nil {
		return err
	}
	p.Start, p.End = order.HandleRange(b[1:])
	return nil
}

// HandleUUID is one Find Information Response entry.
type HandleUUID struct {
	Handle uint16
	UUID   UUID
}

// FindInfoResp is the Find Information Response.
//
// Wide selects the 128-bit format. Decoding sets it from the format
// byte, so a 128-bit page keeps its width even when its UUIDs contract
// to 16-bit aliases.
type FindInfoResp struct {
	Wide    bool
	Entries []HandleUUID
}

func (p FindInfoResp) Opcode() byte { return attrOpFindInfoResp }

// Format returns the format byte. Any 128-bit entry forces the 128-bit
// format, in which every UUID is written in full.
func (p FindInfoResp) Format() byte {
	if p.wide() {
		return findInfoFormat128
	}
	return findInfoFormat16
}

func (p FindInfoResp) wide() bool {
	if p.Wide {
		return true
	}
	for _, e := range p.Entries {
		if e.UUID.Len() == 16 {
			return true
		}
	}
	return false
}

func (p FindInfoResp) Marshal() []byte {
	wide := p.wide()
	b := []byte{attrOpFindInfoResp, p.Format()}
	for _, e := range p.Entries {
		b = order.AppendUint16(b, e.Handle)
		if wide {
			b = append(b, e.UUID.Expand()...)
		} else {
			b = append(b, e.UUID.b...)
		}
	}
	return b
}

func (p *FindInfoResp) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpFindInfoResp, 6, -1); err != nil {
		return err
	}
	var l int
	switch f, rest := b[1], b[2:]; {
	case f == findInfoFormat16 && len(rest)%4 == 0:
		l = 4
	case f == findInfoFormat128 && len(rest)%18 == 0 && len(rest) > 0:
		l = 18
	default:
		return fmt.Errorf("%w: find information format %d with %d bytes of entries", ErrInvalidLength, f, len(rest))
	}
	p.Wide = l == 18
	p.Entries = p.Entries[:0]
	for rest := b[2:]; len(rest) != 0; rest = rest[l:] {
		p.Entries = append(p.Entries, HandleUUID{
			Handle: order.Uint16(rest),
			UUID:   uuidFromWire(rest[2:l]),
		})
	}
	return nil
}

// FindByTypeValueReq is the Find By Type Value Request. Type must be a 16-bit UUID.
type FindByTypeValueReq struct {
	Start, End uint16
	Type       UUID
	Value      []byte
}

func (p FindByTypeValueReq) Opcode() byte { return attrOpFindByTypeValueReq }

func (p FindByTypeValueReq) Marshal() []byte {
	b := make([]byte, 5, 7+len(p.Value))
	b[0] = attrOpFindByTypeValueReq
	order.PutHandleRange(b[1:], p.Start, p.End)
	b = append(b, p.Type.b...)
	return append(b, p.Value...)
}

func (p *FindByTypeValueReq) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpFindByTypeValueReq, 7, -1); err != nil {
		return err
	}
	p.Start, p.End = order.HandleRange(b[1:])
	p.Type = uuidFromWire(b[5:7])
	p.Value = cloneBytes(b[7:])
	return nil
}

// HandleGroup is one Find By Type Value Response entry.
type HandleGroup struct {
	Handle   uint16
	EndGroup uint16
}

// FindByTypeValueResp is the Find By Type Value Response.
type FindByTypeValueResp struct {
	Entries []HandleGroup
}

func (p FindByTypeValueResp) Opcode() byte { return attrOpFindByTypeValueResp }

func (p FindByTypeValueResp) Marshal() []byte {
	b := make([]byte, 1, 1+4*len(p.Entries))
	b[0] = attrOpFindByTypeValueResp
	for _, e := range p.Entries {
		b = order.AppendUint16(b, e.Handle)
		b = order.AppendUint16(b, e.EndGroup)
	}
	return b
}

func (p *FindByTypeValueResp) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpFindByTypeValueResp, 5, -1); err != nil {
		return err
	}
	if (len(b)-1)%4 != 0 {
		return fmt.Errorf("%w: %d bytes of handle groups", ErrInvalidLength, len(b)-1)
	}
	p.Entries = p.Entries[:0]
	for rest := b[1:]; len(rest) != 0; rest = rest[4:] {
		h, endh := order.HandleRange(rest)
		p.Entries = append(p.Entries, HandleGroup{Handle: h, EndGroup: endh})
	}
	return nil
}

// ReadByTypeReq is the Read By Type Request.
type ReadByTypeReq struct {
	Start, End uint16
	Type       UUID
}

func (p ReadByTypeReq) Opcode() byte { return attrOpReadByTypeReq }

func (p ReadByTypeReq) Marshal() []byte {
	return marshalTypedRange(attrOpReadByTypeReq, p.Start, p.End, p.Type)
}

func (p *ReadByTypeReq) Unmarshal(b []byte) error {
	var err error
	p.Start, p.End, p.Type, err = unmarshalTypedRange(attrOpReadByTypeReq, b)
	return err
}

// ReadByGroupReq is the Read By Group Type Request.
type ReadByGroupReq struct {
	Start, End uint16
	Type       UUID
}

func (p ReadByGroupReq) Opcode() byte { return attrOpReadByGroupReq }

func (p ReadByGroupReq) Marshal() []byte {
	return marshalTypedRange(attrOpReadByGroupReq, p.Start, p.End, p.Type)
}

func (p *ReadByGroupReq) Unmarshal(b []byte) error {
	var err error
	p.Start, p.End, p.Type, err = unmarshalTypedRange(attrOpReadByGroupReq, b)
	return err
}

func marshalTypedRange(op byte, start, end uint16, t UUID) []byte {
	b := make([]byte, 5, 5+t.Len())
	b[0] = op
	order.PutHandleRange(b[1:], start, end)
	return append(b, t.b...)
}

func unmarshalTypedRange(op byte, b []byte) (start, end uint16, t UUID, err error) {
	if err = checkPDU(b, op, 7, 21); err != nil {
		return
	}
	if len(b) != 7 && len(b) != 21 {
		err = fmt.Errorf("%w: %s of %d bytes", ErrInvalidLength, OpcodeName(op), len(b))
		return
	}
	start, end = order.HandleRange(b[1:])
	t = uuidFromWire(b[5:])
	return
}

// HandleValue is one Read By Type Response entry.
type HandleValue struct {
	Handle uint16
	Value  []byte
}

// ReadByTypeResp is the Read By Type Response.
// All values must have the same length.
type ReadByTypeResp struct {
	Entries []HandleValue
}

func (p ReadByTypeResp) Opcode() byte { return attrOpReadByTypeResp }

func (p ReadByTypeResp) Marshal() []byte {
	l := 2
	if len(p.Entries) > 0 {
		l += len(p.Entries[0].Value)
	}
	b := []byte{attrOpReadByTypeResp, byte(l)}
	for _, e := range p.Entries {
		b = order.AppendUint16(b, e.Handle)
		b = append(b, e.Value...)
	}
	return b
}

func (p *ReadByTypeResp) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpReadByTypeResp, 4, -1); err != nil {
		return err
	}
	l, rest := int(b[1]), b[2:]
	if l < 2 || len(rest)%l != 0 {
		return fmt.Errorf("%w: entries of %d bytes in %d bytes", ErrInvalidLength, l, len(rest))
	}
	p.Entries = p.Entries[:0]
	for ; len(rest) != 0; rest = rest[l:] {
		p.Entries = append(p.Entries, HandleValue{
			Handle: order.Uint16(rest),
			Value:  cloneBytes(rest[2:l]),
		})
	}
	return nil
}

// GroupValue is one Read By Group Type Response entry.
type GroupValue struct {
	Handle   uint16
	EndGroup uint16
	Value    []byte
}

// ReadByGroupResp is the Read By Group Type Response.
// All values must have the same length.
type ReadByGroupResp struct {
	Entries []GroupValue
}

func (p ReadByGroupResp) Opcode() byte { return attrOpReadByGroupResp }

func (p ReadByGroupResp) Marshal() []byte {
	l := 4
	if len(p.Entries) > 0 {
		l += len(p.Entries[0].Value)
	}
	b := []byte{attrOpReadByGroupResp, byte(l)}
	for _, e := range p.Entries {
		b = order.AppendUint16(b, e.Handle)
		b = order.AppendUint16(b, e.EndGroup)
		b = append(b, e.Value...)
	}
	return b
}

func (p *ReadByGroupResp) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpReadByGroupResp, 6, -1); err != nil {
		return err
	}
	l, rest := int(b[1]), b[2:]
	if l < 4 || len(rest)%l != 0 {
		return fmt.Errorf("%w: entries of %d bytes in %d bytes", ErrInvalidLength, l, len(rest))
	}
	p.Entries = p.Entries[:0]
	for ; len(rest) != 0; rest = rest[l:] {
		h, endh := order.HandleRange(rest)
		p.Entries = append(p.Entries, GroupValue{
			Handle:   h,
			EndGroup: endh,
			Value:    cloneBytes(rest[4:l]),
		})
	}
	return nil
}

// ReadReq is the Read Request.
type ReadReq struct {
	Handle uint16
}

func (p ReadReq) Opcode() byte { return attrOpReadReq }

func (p ReadReq) Marshal() []byte {
	return order.AppendUint16([]byte{attrOpReadReq}, p.Handle)
}

func (p *ReadReq) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpReadReq, 3, 3); err != nil {
		return err
	}
	p.Handle = order.Uint16(b[1:])
	return nil
}

// ReadResp is the Read Response.
type ReadResp struct {
	Value []byte
}

func (p ReadResp) Opcode() byte { return attrOpReadResp }

func (p ReadResp) Marshal() []byte {
	return append([]byte{attrOpReadResp}, p.Value...)
}

func (p *ReadResp) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpReadResp, 1, -1); err != nil {
		return err
	}
	p.Value = cloneBytes(b[1:])
	return nil
}

// ReadBlobReq is the Read Blob Request.
type ReadBlobReq struct {
	Handle uint16
	Offset uint16
}

func (p ReadBlobReq) Opcode() byte { return attrOpReadBlobReq }

func (p ReadBlobReq) Marshal() []byte {
	b := make([]byte, 5)
	b[0] = attrOpReadBlobReq
	order.PutHandleRange(b[1:], p.Handle, p.Offset)
	return b
}

func (p *ReadBlobReq) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpReadBlobReq, 5, 5); err != nil {
		return err
	}
	p.Handle, p.Offset = order.HandleRange(b[1:])
	return nil
}

// ReadBlobResp is the Read Blob Response.
type ReadBlobResp struct {
	Value []byte
}

func (p ReadBlobResp) Opcode() byte { return attrOpReadBlobResp }

func (p ReadBlobResp) Marshal() []byte {
	return append([]byte{attrOpReadBlobResp}, p.Value...)
}

func (p *ReadBlobResp) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpReadBlobResp, 1, -1); err != nil {
		return err
	}
	p.Value = cloneBytes(b[1:])
	return nil
}

// WriteReq is the Write Request.
type WriteReq struct {
	Handle uint16
	Value  []byte
}

func (p WriteReq) Opcode() byte { return attrOpWriteReq }

func (p WriteReq) Marshal() []byte {
	return marshalHandleValue(attrOpWriteReq, p.Handle, p.Value)
}

func (p *WriteReq) Unmarshal(b []byte) (err error) {
	p.Handle, p.Value, err = unmarshalHandleValue(attrOpWriteReq, b)
	return
}

// WriteResp is the Write Response.
type WriteResp struct{}

func (p WriteResp) Opcode() byte { return attrOpWriteResp }

func (p WriteResp) Marshal() []byte { return []byte{attrOpWriteResp} }

func (p *WriteResp) Unmarshal(b []byte) error {
	return checkPDU(b, attrOpWriteResp, 1, 1)
}

// WriteCmd is the Write Command.
type WriteCmd struct {
	Handle uint16
	Value  []byte
}

func (p WriteCmd) Opcode() byte { return attrOpWriteCmd }

func (p WriteCmd) Marshal() []byte {
	return marshalHandleValue(attrOpWriteCmd, p.Handle, p.Value)
}

func (p *WriteCmd) Unmarshal(b []byte) (err error) {
	p.Handle, p.Value, err = unmarshalHandleValue(attrOpWriteCmd, b)
	return
}

// SignatureLen is the length of the authentication signature of a
// Signed Write Command: a 4-byte sign counter and an 8-byte MAC.
const SignatureLen = 12

// SignedWriteCmd is the Signed Write Command.
type SignedWriteCmd struct {
	Handle    uint16
	Value     []byte
	Signature [SignatureLen]byte
}

func (p SignedWriteCmd) Opcode() byte { return attrOpSignedWriteCmd }

func (p SignedWriteCmd) Marshal() []byte {
	b := marshalHandleValue(attrOpSignedWriteCmd, p.Handle, p.Value)
	return append(b, p.Signature[:]...)
}

func (p *SignedWriteCmd) Unmarshal(b []byte) error {
	if err := checkPDU(b, attrOpSignedWriteCmd, 3+SignatureLen, -1); err != nil {
		return err
	}
	n := len(b) - SignatureLen
	p.Handle = order.Uint16(b[1:])
	p.Value = cloneBytes(b[3:n])
	copy(p.Signature[:], b[n:])
	return nil
}

// HandleValueNotification is the Handle Value Notification.
type HandleValueNotification struct {
	Handle uint16
	Value  []byte
}

func (p HandleValueNotification) Opcode() byte { return attrOpHandleNotify }

func (p HandleValueNotification) Marshal() []byte {
	return marshalHandleValue(attrOpHandleNotify, p.Handle, p.Value)
}

func (p *HandleValueNotification) Unmarshal(b []byte) (err error) {
	p.Handle, p.Value, err = unmarshalHandleValue(attrOpHandleNotify, b)
	return
}

// HandleValueIndication is the Handle Value Indication.
type HandleValueIndication struct {
	Handle uint16
	Value  []byte
}

func (p HandleValueIndication) Opcode() byte { return attrOpHandleInd }

func (p HandleValueIndication) Marshal() []byte {
	return marshalHandleValue(attrOpHandleInd, p.Handle, p.Value)
}

func (p *HandleValueIndication) Unmarshal(b []byte) (err error) {
	p.Handle, p.Value, err = unmarshalHandleValue(attrOpHandleInd, b)
	return
}

// HandleValueConfirmation is the Handle Value Confirmation.
type HandleValueConfirmation struct{}

func (p HandleValueConfirmation) Opcode() byte { return attrOpHandleCnf }

func (p HandleValueConfirmation) Marshal() []byte { return []byte{attrOpHandleCnf} }

func (p *HandleValueConfirmation) Unmarshal(b []byte) error {
	return checkPDU(b, attrOpHandleCnf, 1, 1)
}

func marshalHandleValue(op byte, h uint16, v []byte) []byte {
	b := make([]byte, 3, 3+len(v))
	b[0] = op
	order.PutUint16(b[1:], h)
	return append(b, v...)
}

func unmarshalHandleValue(op byte, b []byte) (uint16, []byte, error) {
	if err := checkPDU(b, op, 3, -1); err != nil {
		return 0, nil, err
	}
	return order.Uint16(b[1:]), cloneBytes(b[3:]), nil
}

type pduUnmarshaler interface {
	PDU
	Unmarshal([]byte) error
}

// ParsePDU decodes b into the PDU type its opcode names.
func ParsePDU(b []byte) (PDU, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty PDU", ErrInvalidLength)
	}
	var p pduUnmarshaler
	switch b[0] {
	case attrOpError:
		p = &ErrorResp{}
	case attrOpMtuReq:
		p = &MTUReq{}
	case attrOpMtuResp:
		p = &MTUResp{}
	case attrOpFindInfoReq:
		p = &FindInfoReq{}
	case attrOpFindInfoResp:
		p = &FindInfoResp{}
	case attrOpFindByTypeValueReq:
		p = &FindByTypeValueReq{}
	case attrOpFindByTypeValueResp:
		p = &FindByTypeValueResp{}
	case attrOpReadByTypeReq:
		p = &ReadByTypeReq{}
	case attrOpReadByTypeResp:
		p = &ReadByTypeResp{}
	case attrOpReadReq:
		p = &ReadReq{}
	case attrOpReadResp:
		p = &ReadResp{}
	case attrOpReadBlobReq:
		p = &ReadBlobReq{}
	case attrOpReadBlobResp:
		p = &ReadBlobResp{}
	case attrOpReadByGroupReq:
		p = &ReadByGroupReq{}
	case attrOpReadByGroupResp:
		p = &ReadByGroupResp{}
	case attrOpWriteReq:
		p = &WriteReq{}
	case attrOpWriteResp:
		p = &WriteResp{}
	case attrOpWriteCmd:
		p = &WriteCmd{}
	case attrOpSignedWriteCmd:
		p = &SignedWriteCmd{}
	case attrOpHandleNotify:
		p = &HandleValueNotification{}
	case attrOpHandleInd:
		p = &HandleValueIndication{}
	case attrOpHandleCnf:
		p = &HandleValueConfirmation{}
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, b[0])
	}
	if err := p.Unmarshal(b); err != nil {
		return nil, err
	}
	return p, nil
}
