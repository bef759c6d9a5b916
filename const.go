package gatt

import (
	"fmt"
	"time"
)

// This file includes constants from the Bluetooth Core Specification.

var (
	attrGAPUUID = UUID16(0x1800)

	attrPrimaryServiceUUID = UUID16(0x2800)
	attrCharacteristicUUID = UUID16(0x2803)

	attrClientCharacteristicConfigUUID = UUID16(0x2902)

	attrDeviceNameUUID = UUID16(0x2A00)
)

const (
	// DefaultLEMTU is the ATT MTU every LE link starts with.
	DefaultLEMTU = 23

	// MaxStreamMTU is the largest PDU a 1-byte length prefix can frame.
	MaxStreamMTU = 0xff

	// DefaultTransactionTimeout bounds how long a client waits for a response.
	DefaultTransactionTimeout = 30 * time.Second
)

const (
	gattCCCNotifyFlag   = 0x0001
	gattCCCIndicateFlag = 0x0002
)

// Find Information response formats.
const (
	findInfoFormat16  = 0x01
	findInfoFormat128 = 0x02
)

const (
	attrOpError               = 0x01
	attrOpMtuReq              = 0x02
	attrOpMtuResp             = 0x03
	attrOpFindInfoReq         = 0x04
	attrOpFindInfoResp        = 0x05
	attrOpFindByTypeValueReq  = 0x06
	attrOpFindByTypeValueResp = 0x07
	attrOpReadByTypeReq       = 0x08
	attrOpReadByTypeResp      = 0x09
	attrOpReadReq             = 0x0a
	attrOpReadResp            = 0x0b
	attrOpReadBlobReq         = 0x0c
	attrOpReadBlobResp        = 0x0d
	attrOpReadMultiReq        = 0x0e
	attrOpReadMultiResp       = 0x0f
	attrOpReadByGroupReq      = 0x10
	attrOpReadByGroupResp     = 0x11
	attrOpWriteReq            = 0x12
	attrOpWriteResp           = 0x13
	attrOpWriteCmd            = 0x52
	attrOpPrepWriteReq        = 0x16
	attrOpPrepWriteResp       = 0x17
	attrOpExecWriteReq        = 0x18
	attrOpExecWriteResp       = 0x19
	attrOpHandleNotify        = 0x1b
	attrOpHandleInd           = 0x1d
	attrOpHandleCnf           = 0x1e
	attrOpSignedWriteCmd      = 0xd2

	attrOpCommandFlag = 0x40
)

var attrOpName = map[byte]string{
	attrOpError:               "Error Response",
	attrOpMtuReq:              "Exchange MTU Request",
	attrOpMtuResp:             "Exchange MTU Response",
	attrOpFindInfoReq:         "Find Information Request",
	attrOpFindInfoResp:        "Find Information Response",
	attrOpFindByTypeValueReq:  "Find By Type Value Request",
	attrOpFindByTypeValueResp: "Find By Type Value Response",
	attrOpReadByTypeReq:       "Read By Type Request",
	attrOpReadByTypeResp:      "Read By Type Response",
	attrOpReadReq:             "Read Request",
	attrOpReadResp:            "Read Response",
	attrOpReadBlobReq:         "Read Blob Request",
	attrOpReadBlobResp:        "Read Blob Response",
	attrOpReadMultiReq:        "Read Multiple Request",
	attrOpReadMultiResp:       "Read Multiple Response",
	attrOpReadByGroupReq:      "Read By Group Type Request",
	attrOpReadByGroupResp:     "Read By Group Type Response",
	attrOpWriteReq:            "Write Request",
	attrOpWriteResp:           "Write Response",
	attrOpWriteCmd:            "Write Command",
	attrOpPrepWriteReq:        "Prepare Write Request",
	attrOpPrepWriteResp:       "Prepare Write Response",
	attrOpExecWriteReq:        "Execute Write Request",
	attrOpExecWriteResp:       "Execute Write Response",
	attrOpHandleNotify:        "Handle Value Notification",
	attrOpHandleInd:           "Handle Value Indication",
	attrOpHandleCnf:           "Handle Value Confirmation",
	attrOpSignedWriteCmd:      "Signed Write Command",
}

// OpcodeName returns a human readable name of an ATT opcode.
func OpcodeName(op byte) string {
	if name, ok := attrOpName[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode 0x%02x", op)
}

// Property is the characteristic properties bit field.
type Property int

// Characteristic property flags (Core Vol 3 Part G 3.3.1.1)
const (
	CharBroadcast   Property = 0x01 // may be brocasted
	CharRead        Property = 0x02 // may be read
	CharWriteNR     Property = 0x04 // may be written to, with no reply
	CharWrite       Property = 0x08 // may be written to, with a reply
	CharNotify      Property = 0x10 // supports notifications
	CharIndicate    Property = 0x20 // supports Indications
	CharSignedWrite Property = 0x40 // supports signed write
	CharExtended    Property = 0x80 // supports extended properties
)

func (p Property) String() (result string) {
	for _, f := range []struct {
		p    Property
		name string
	}{
		{CharBroadcast, "broadcast"},
		{CharRead, "read"},
		{CharWriteNR, "writeWithoutResponse"},
		{CharWrite, "write"},
		{CharNotify, "notify"},
		{CharIndicate, "indicate"},
		{CharSignedWrite, "authenticatedSignedWrites"},
		{CharExtended, "extendedProperties"},
	} {
		if p&f.p == 0 {
			continue
		}
		if result != "" {
			result += "|"
		}
		result += f.name
	}
	return
}

type AttrECode byte

const (
	AttrECodeSuccess           AttrECode = 0x00 // Success
	AttrECodeInvalidHandle     AttrECode = 0x01 // The attribute handle given was not valid on this server.
	AttrECodeReadNotPerm       AttrECode = 0x02 // The attribute cannot be read.
	AttrECodeWriteNotPerm      AttrECode = 0x03 // The attribute cannot be written.
	AttrECodeInvalidPDU        AttrECode = 0x04 // The attribute PDU was invalid.
	AttrECodeAuthentication    AttrECode = 0x05 // The attribute requires authentication before it can be read or written.
	AttrECodeReqNotSupp        AttrECode = 0x06 // Attribute server does not support the request received from the client.
	AttrECodeInvalidOffset     AttrECode = 0x07 // Offset specified was past the end of the attribute.
	AttrECodeAuthorization     AttrECode = 0x08 // The attribute requires authorization before it can be read or written.
	AttrECodePrepQueueFull     AttrECode = 0x09 // Too many prepare writes have been queued.
	AttrECodeAttrNotFound      AttrECode = 0x0a // No attribute found within the given attribute handle range.
	AttrECodeAttrNotLong       AttrECode = 0x0b // The attribute cannot be read or written using the Read Blob Request.
	AttrECodeInsuffEncrKeySize AttrECode = 0x0c // The Encryption Key Size used for encrypting this link is insufficient.
	AttrECodeInvalAttrValueLen AttrECode = 0x0d // The attribute value length is invalid for the operation.
	AttrECodeUnlikely          AttrECode = 0x0e // The attribute request that was requested has encountered an error that was unlikely, and therefore could not be completed as requested.
	AttrECodeInsuffEnc         AttrECode = 0x0f // The attribute requires encryption before it can be read or written.
	AttrECodeUnsuppGrpType     AttrECode = 0x10 // The attribute type is not a supported grouping attribute as defined by a higher layer specification.
	AttrECodeInsuffResources   AttrECode = 0x11 // Insufficient Resources to complete the request.
)

func (a AttrECode) Error() string {
	switch i := int(a); {
	case i <= 0x11:
		return AttrECodeName[a]
	case i >= 0x12 && i <= 0x7F: // Reserved for future use
		return "reserved error code"
	case i >= 0x80 && i <= 0x9F: // Application Error, defined by higher level
		return "application error"
	case i >= 0xA0 && i <= 0xDF: // Reserved for future use
		return "reserved error code"
	default: // Common profile and service error codes
		return "profile or service error"
	}
}

var AttrECodeName = map[AttrECode]string{
	AttrECodeSuccess:           "success",
	AttrECodeInvalidHandle:     "invalid handle",
	AttrECodeReadNotPerm:       "read not permitted",
	AttrECodeWriteNotPerm:      "write not permitted",
	AttrECodeInvalidPDU:        "invalid PDU",
	AttrECodeAuthentication:    "insufficient authentication",
	AttrECodeReqNotSupp:        "request not supported",
	AttrECodeInvalidOffset:     "invalid offset",
	AttrECodeAuthorization:     "insufficient authorization",
	AttrECodePrepQueueFull:     "prepare queue full",
	AttrECodeAttrNotFound:      "attribute not found",
	AttrECodeAttrNotLong:       "attribute not long",
	AttrECodeInsuffEncrKeySize: "insufficient encryption key size",
	AttrECodeInvalAttrValueLen: "invalid attribute value length",
	AttrECodeUnlikely:          "unlikely error",
	AttrECodeInsuffEnc:         "insufficient encryption",
	AttrECodeUnsuppGrpType:     "unsupported group type",
	AttrECodeInsuffResources:   "insufficient resources",
}

func attErrorResp(op byte, h uint16, s AttrECode) []byte {
	return ErrorResp{ReqOp: op, Handle: h, Code: s}.Marshal()
}

// attRespFor maps from att request
// codes to att response codes.
var attRespFor = map[byte]byte{
	attrOpMtuReq:             attrOpMtuResp,
	attrOpFindInfoReq:        attrOpFindInfoResp,
	attrOpFindByTypeValueReq: attrOpFindByTypeValueResp,
	attrOpReadByTypeReq:      attrOpReadByTypeResp,
	attrOpReadReq:            attrOpReadResp,
	attrOpReadBlobReq:        attrOpReadBlobResp,
	attrOpReadMultiReq:       attrOpReadMultiResp,
	attrOpReadByGroupReq:     attrOpReadByGroupResp,
	attrOpWriteReq:           attrOpWriteResp,
	attrOpPrepWriteReq:       attrOpPrepWriteResp,
	attrOpExecWriteReq:       attrOpExecWriteResp,
}

// IsRequest reports whether op expects a response.
func IsRequest(op byte) bool {
	_, ok := attRespFor[op]
	return ok
}

// IsResponse reports whether op answers a request. Error responses are not included.
func IsResponse(op byte) bool {
	switch op {
	case attrOpMtuResp, attrOpFindInfoResp, attrOpFindByTypeValueResp,
		attrOpReadByTypeResp, attrOpReadResp, attrOpReadBlobResp,
		attrOpReadMultiResp, attrOpReadByGroupResp, attrOpWriteResp,
		attrOpPrepWriteResp, attrOpExecWriteResp:
		return true
	}
	return false
}

// IsCommand reports whether op carries the command flag; commands are never answered.
func IsCommand(op byte) bool {
	return op&attrOpCommandFlag != 0
}
