package gatt

import (
	"bytes"
	"encoding/hex"
	"errors"
	"reflect"
	"testing"
)

func mustDecodeHex(t testing.TB, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

var testSvcUUID = MustParseUUID("09fc95c0-c111-11e3-9904-0002a5d5c51b")

func TestParsePDU(t *testing.T) {
	cases := []struct {
		name string
		wire string
		want PDU
	}{
		{
			name: "error response",
			wire: "010804000a",
			want: &ErrorResp{ReqOp: attrOpReadByTypeReq, Handle: 4, Code: AttrECodeAttrNotFound},
		},
		{
			name: "mtu request",
			wire: "028700",
			want: &MTUReq{MTU: 135},
		},
		{
			name: "mtu response",
			wire: "031700",
			want: &MTUResp{MTU: 23},
		},
		{
			name: "find info request",
			wire: "0401000a00",
			want: &FindInfoReq{Start: 1, End: 10},
		},
		{
			name: "find info response, 16-bit",
			wire: "050101000028020003280300002a",
			want: &FindInfoResp{Entries: []HandleUUID{
				{Handle: 1, UUID: UUID16(0x2800)},
				{Handle: 2, UUID: UUID16(0x2803)},
				{Handle: 3, UUID: UUID16(0x2a00)},
			}},
		},
		{
			name: "find info response, 128-bit",
			wire: "050207001bc5d5a502000499e31111c1c095fc09",
			want: &FindInfoResp{Wide: true, Entries: []HandleUUID{{Handle: 7, UUID: testSvcUUID}}},
		},
		{
			name: "find info response, 128-bit on the base UUID",
			wire: "05020100fb349b5f800000800010000002290000",
			want: &FindInfoResp{Wide: true, Entries: []HandleUUID{{Handle: 1, UUID: UUID16(0x2902)}}},
		},
		{
			name: "find info response, 128-bit mixing base and vendor UUIDs",
			wire: "05020100fb349b5f8000008000100000022900000200" + "1bc5d5a502000499e31111c1c095fc09",
			want: &FindInfoResp{Wide: true, Entries: []HandleUUID{
				{Handle: 1, UUID: UUID16(0x2902)},
				{Handle: 2, UUID: testSvcUUID},
			}},
		},
		{
			name: "find by type value request",
			wire: "0601000b0000280f18",
			want: &FindByTypeValueReq{Start: 1, End: 11, Type: UUID16(0x2800), Value: []byte{0x0f, 0x18}},
		},
		{
			name: "find by type value response",
			wire: "070700ffff",
			want: &FindByTypeValueResp{Entries: []HandleGroup{{Handle: 7, EndGroup: 0xffff}}},
		},
		{
			name: "read by type request",
			wire: "0801000500002a",
			want: &ReadByTypeReq{Start: 1, End: 5, Type: UUID16(0x2a00)},
		},
		{
			name: "read by type request, 128-bit",
			wire: "080100ffff1bc5d5a502000499e31111c1c095fc09",
			want: &ReadByTypeReq{Start: 1, End: 0xffff, Type: testSvcUUID},
		},
		{
			name: "read by type response",
			wire: "09070200020300002a",
			want: &ReadByTypeResp{Entries: []HandleValue{
				{Handle: 2, Value: []byte{0x02, 0x03, 0x00, 0x00, 0x2a}},
			}},
		},
		{
			name: "read by group request",
			wire: "10010003000028",
			want: &ReadByGroupReq{Start: 1, End: 3, Type: UUID16(0x2800)},
		},
		{
			name: "read by group response",
			wire: "1106010005000018060006000118",
			want: &ReadByGroupResp{Entries: []GroupValue{
				{Handle: 1, EndGroup: 5, Value: []byte{0x00, 0x18}},
				{Handle: 6, EndGroup: 6, Value: []byte{0x01, 0x18}},
			}},
		},
		{
			name: "read request",
			wire: "0a0300",
			want: &ReadReq{Handle: 3},
		},
		{
			name: "read response",
			wire: "0b68656c6c6f",
			want: &ReadResp{Value: []byte("hello")},
		},
		{
			name: "read blob request",
			wire: "0c03001600",
			want: &ReadBlobReq{Handle: 3, Offset: 22},
		},
		{
			name: "read blob response",
			wire: "0d6c6f",
			want: &ReadBlobResp{Value: []byte("lo")},
		},
		{
			name: "write request",
			wire: "1203000102",
			want: &WriteReq{Handle: 3, Value: []byte{0x01, 0x02}},
		},
		{
			name: "write response",
			wire: "13",
			want: &WriteResp{},
		},
		{
			name: "write command",
			wire: "5203000102",
			want: &WriteCmd{Handle: 3, Value: []byte{0x01, 0x02}},
		},
		{
			name: "signed write command",
			wire: "d2030001010000000102030405060708",
			want: &SignedWriteCmd{
				Handle:    3,
				Value:     []byte{0x01},
				Signature: [SignatureLen]byte{1, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		{
			name: "notification",
			wire: "1b03002a",
			want: &HandleValueNotification{Handle: 3, Value: []byte{0x2a}},
		},
		{
			name: "indication",
			wire: "1d030064",
			want: &HandleValueIndication{Handle: 3, Value: []byte{0x64}},
		},
		{
			name: "confirmation",
			wire: "1e",
			want: &HandleValueConfirmation{},
		},
	}

	for _, tt := range cases {
		wire := mustDecodeHex(t, tt.wire)
		got, err := ParsePDU(wire)
		if err != nil {
			t.Errorf("%s: ParsePDU(%s): %v", tt.name, tt.wire, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: ParsePDU(%s): got %+v, want %+v", tt.name, tt.wire, got, tt.want)
		}
		if got.Opcode() != wire[0] {
			t.Errorf("%s: Opcode(): got 0x%02x, want 0x%02x", tt.name, got.Opcode(), wire[0])
		}
		if b := tt.want.Marshal(); !bytes.Equal(b, wire) {
			t.Errorf("%s: Marshal(): got %x, want %s", tt.name, b, tt.wire)
		}
	}
}

func TestParsePDUErrors(t *testing.T) {
	cases := []struct {
		name string
		wire string
		want error
	}{
		{name: "empty", wire: "", want: ErrInvalidLength},
		{name: "unknown opcode", wire: "ff0102", want: ErrUnknownOpcode},
		{name: "read multiple is not decoded", wire: "0e01000200", want: ErrUnknownOpcode},
		{name: "short error response", wire: "0108", want: ErrInvalidLength},
		{name: "long error response", wire: "010804000a00", want: ErrInvalidLength},
		{name: "short mtu request", wire: "0217", want: ErrInvalidLength},
		{name: "read by type with a 3-byte uuid", wire: "08010005000102ff", want: ErrInvalidLength},
		{name: "ragged read by type response", wire: "090301000200", want: ErrInvalidLength},
		{name: "read by group response entry too short", wire: "1103010005", want: ErrInvalidLength},
		{name: "bad find info format", wire: "050301000028", want: ErrInvalidLength},
		{name: "ragged find by type value response", wire: "0707000800ff", want: ErrInvalidLength},
		{name: "short signed write", wire: "d20300", want: ErrInvalidLength},
		{name: "write response with payload", wire: "1300", want: ErrInvalidLength},
	}
	for _, tt := range cases {
		_, err := ParsePDU(mustDecodeHex(t, tt.wire))
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: ParsePDU(%s): got %v, want %v", tt.name, tt.wire, err, tt.want)
		}
	}
}

func TestUnmarshalWrongOpcode(t *testing.T) {
	var req ReadReq
	if err := req.Unmarshal([]byte{attrOpReadResp, 0x01, 0x00}); !errors.Is(err, ErrInvalidPDU) {
		t.Errorf("ReadReq.Unmarshal(read response): got %v, want %v", err, ErrInvalidPDU)
	}
}

func TestOpcodeClasses(t *testing.T) {
	cases := []struct {
		op                     byte
		request, resp, command bool
	}{
		{op: attrOpError},
		{op: attrOpMtuReq, request: true},
		{op: attrOpMtuResp, resp: true},
		{op: attrOpReadByGroupReq, request: true},
		{op: attrOpWriteResp, resp: true},
		{op: attrOpWriteCmd, command: true},
		{op: attrOpSignedWriteCmd, command: true},
		{op: attrOpHandleNotify},
		{op: attrOpHandleInd},
		{op: attrOpHandleCnf},
	}
	for _, tt := range cases {
		if got := IsRequest(tt.op); got != tt.request {
			t.Errorf("IsRequest(%s): got %t", OpcodeName(tt.op), got)
		}
		if got := IsResponse(tt.op); got != tt.resp {
			t.Errorf("IsResponse(%s): got %t", OpcodeName(tt.op), got)
		}
		if got := IsCommand(tt.op); got != tt.command {
			t.Errorf("IsCommand(%s): got %t", OpcodeName(tt.op), got)
		}
	}
}

func TestAttrECodeError(t *testing.T) {
	cases := []struct {
		code AttrECode
		want string
	}{
		{AttrECodeAttrNotFound, "attribute not found"},
		{AttrECodeUnlikely, "unlikely error"},
		{0x80, "application error"},
		{0x20, "reserved error code"},
		{0xfe, "profile or service error"},
	}
	for _, tt := range cases {
		if got := tt.code.Error(); got != tt.want {
			t.Errorf("AttrECode(0x%02x).Error(): got %q, want %q", byte(tt.code), got, tt.want)
		}
	}
}

func BenchmarkParseReadByTypeResp(b *testing.B) {
	wire := mustDecodeHex(b, "091502001a0300f0debc9a785634127856341278563412")
	for i := 0; i < b.N; i++ {
		if _, err := ParsePDU(wire); err != nil {
			b.Fatal(err)
		}
	}
}
