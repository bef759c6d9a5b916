package gatt

import (
	"bytes"
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// handlePacket dispatches a PDU from the peer's client to an
// appropriate handler, based on its opcode.
func (s *Server) handlePacket(ctx context.Context, pdu []byte) []byte {
	switch op := pdu[0]; op {
	case attrOpFindInfoReq:
		return s.handleFindInfo(pdu)
	case attrOpFindByTypeValueReq:
		return s.handleFindByTypeValue(ctx, pdu)
	case attrOpReadByTypeReq:
		return s.handleReadByType(ctx, pdu)
	case attrOpReadReq:
		return s.handleRead(ctx, pdu)
	case attrOpReadBlobReq:
		return s.handleReadBlob(ctx, pdu)
	case attrOpReadByGroupReq:
		return s.handleReadByGroup(pdu)
	case attrOpWriteReq, attrOpWriteCmd:
		return s.handleWrite(ctx, pdu)
	case attrOpSignedWriteCmd:
		s.handleSignedWrite(ctx, pdu)
		return nil
	case attrOpHandleCnf:
		s.handleConfirmation(ctx)
		return nil
	case attrOpError:
		logger.Warnf(ctx, "ignoring an error response nothing asked for: % X", pdu)
		return nil
	default:
		if IsCommand(op) {
			logger.Debugf(ctx, "dropping unsupported %s", OpcodeName(op))
			return nil
		}
		return attErrorResp(op, 0x0000, AttrECodeReqNotSupp)
	}
}

// subrange returns a copy of the attributes in [start, end].
func (s *Server) subrange(start, end uint16) []attr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]attr(nil), s.attrs.Subrange(start, end)...)
}

func (s *Server) at(h uint16) (attr, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attrs.At(h)
}

func (s *Server) sendMTU() uint16 {
	return s.conn.SendMTU()
}

// checkRange validates a request's handle range.
func checkRange(op byte, start, end uint16) []byte {
	if start == 0 || start > end {
		return attErrorResp(op, start, AttrECodeInvalidHandle)
	}
	return nil
}

// readAttr returns the full value of a. Handlers run without the lock held.
func (s *Server) readAttr(ctx context.Context, a attr) ([]byte, AttrECode) {
	var h ReadHandler
	var v []byte
	s.mu.RLock()
	switch a.kind {
	case attrKindService:
		v = a.svc.uuid.Bytes()
	case attrKindCharDecl:
		v = a.char.declaration()
	case attrKindCharValue:
		h, v = a.char.rhandler, a.char.value
	case attrKindCCCD:
		v = order.AppendUint16(nil, a.char.ccc)
	case attrKindDescriptor:
		h, v = a.desc.rhandler, a.desc.value
	}
	s.mu.RUnlock()

	if h != nil {
		return serveRead(ctx, h, &ReadRequest{Request: s.request(a.h), Cap: maxAttrValueLen})
	}
	if v == nil {
		return nil, AttrECodeReadNotPerm
	}
	return v, AttrECodeSuccess
}

// writeAttr stores v into a through its handler, or as its new static
// value for a descriptor without one.
func (s *Server) writeAttr(ctx context.Context, a attr, v []byte) AttrECode {
	switch a.kind {
	case attrKindCharValue:
		s.mu.RLock()
		h := a.char.whandler
		s.mu.RUnlock()
		if h == nil {
			return AttrECodeWriteNotPerm
		}
		return serveWrite(ctx, h, s.request(a.h), v)
	case attrKindCCCD:
		return s.writeCCCD(ctx, a.char, v)
	case attrKindDescriptor:
		s.mu.Lock()
		h := a.desc.whandler
		if h == nil && a.desc.value != nil {
			a.desc.value = cloneBytes(v)
			s.mu.Unlock()
			return AttrECodeSuccess
		}
		s.mu.Unlock()
		if h == nil {
			return AttrECodeWriteNotPerm
		}
		return serveWrite(ctx, h, s.request(a.h), v)
	}
	return AttrECodeWriteNotPerm
}

// writeCCCD applies a 2-byte CCCD write. Bits for deliveries the
// characteristic does not support are dropped. The subscribe callback
// fires on a none-to-some transition and the unsubscribe callback on
// some-to-none.
func (s *Server) writeCCCD(ctx context.Context, c *Characteristic, v []byte) AttrECode {
	if len(v) != 2 {
		return AttrECodeInvalAttrValueLen
	}
	flags := order.Uint16(v)

	s.mu.Lock()
	var allowed uint16
	if c.props&CharNotify != 0 {
		allowed |= gattCCCNotifyFlag
	}
	if c.props&CharIndicate != 0 {
		allowed |= gattCCCIndicateFlag
	}
	flags &= allowed
	old := c.ccc
	c.ccc = flags
	onSubscribe, onUnsubscribe := c.onSubscribe, c.onUnsubscribe
	s.mu.Unlock()

	logger.Debugf(ctx, "CCCD of %s: 0x%04X -> 0x%04X", c.uuid, old, flags)
	switch {
	case old == 0 && flags != 0 && onSubscribe != nil:
		callSafely(ctx, "subscribe callback", func() { onSubscribe(ctx, flags) })
	case old != 0 && flags == 0 && onUnsubscribe != nil:
		callSafely(ctx, "unsubscribe callback", func() { onUnsubscribe(ctx) })
	}
	return AttrECodeSuccess
}

// REQ: FindInfoReq(0x04), StartHandle, EndHandle
// RSP: FindInfoRsp(0x05), UUIDFormat, Handle, UUID, Handle, UUID, ...
func (s *Server) handleFindInfo(pdu []byte) []byte {
	var req FindInfoReq
	if err := req.Unmarshal(pdu); err != nil {
		return attErrorResp(attrOpFindInfoReq, 0x0000, AttrECodeInvalidPDU)
	}
	if resp := checkRange(attrOpFindInfoReq, req.Start, req.End); resp != nil {
		return resp
	}

	w := newPDUWriter(s.sendMTU())
	w.WriteByteFit(attrOpFindInfoResp)
	uuidLen := -1
	for _, a := range s.subrange(req.Start, req.End) {
		if uuidLen == -1 {
			uuidLen = a.typ.Len()
			format := byte(findInfoFormat16)
			if uuidLen == 16 {
				format = findInfoFormat128
			}
			w.WriteByteFit(format)
		}
		if a.typ.Len() != uuidLen {
			break
		}
		w.Chunk()
		w.WriteUint16Fit(a.h)
		w.WriteUUIDFit(a.typ)
		if ok := w.Commit(); !ok {
			break
		}
	}
	if uuidLen == -1 {
		return attErrorResp(attrOpFindInfoReq, req.Start, AttrECodeAttrNotFound)
	}
	return w.Bytes()
}

// REQ: FindByTypeValueReq(0x06), StartHandle, EndHandle, Type(UUID), Value
// RSP: FindByTypeValueRsp(0x07), AttrHandle, GroupEndHandle, AttrHandle, GroupEndHandle, ...
func (s *Server) handleFindByTypeValue(ctx context.Context, pdu []byte) []byte {
	var req FindByTypeValueReq
	if err := req.Unmarshal(pdu); err != nil {
		return attErrorResp(attrOpFindByTypeValueReq, 0x0000, AttrECodeInvalidPDU)
	}
	if resp := checkRange(attrOpFindByTypeValueReq, req.Start, req.End); resp != nil {
		return resp
	}

	w := newPDUWriter(s.sendMTU())
	w.WriteByteFit(attrOpFindByTypeValueResp)
	var wrote bool
	for _, a := range s.subrange(req.Start, req.End) {
		if !a.typ.Equal(req.Type) {
			continue
		}
		v, status := s.readAttr(ctx, a)
		if status != AttrECodeSuccess || !bytes.Equal(v, req.Value) {
			continue
		}
		s.mu.RLock()
		endh := a.endGroup()
		s.mu.RUnlock()
		w.Chunk()
		w.WriteUint16Fit(a.h)
		w.WriteUint16Fit(endh)
		if ok := w.Commit(); !ok {
			break
		}
		wrote = true
	}
	if !wrote {
		return attErrorResp(attrOpFindByTypeValueReq, req.Start, AttrECodeAttrNotFound)
	}
	return w.Bytes()
}

// REQ: ReadByType(0x08), StartHandle, EndHandle, Type(UUID)
// RSP: ReadByType(0x09), LenOfEachDataField, DataField, DataField, ...
func (s *Server) handleReadByType(ctx context.Context, pdu []byte) []byte {
	var req ReadByTypeReq
	if err := req.Unmarshal(pdu); err != nil {
		return attErrorResp(attrOpReadByTypeReq, 0x0000, AttrECodeInvalidPDU)
	}
	if resp := checkRange(attrOpReadByTypeReq, req.Start, req.End); resp != nil {
		return resp
	}

	mtu := s.sendMTU()
	w := newPDUWriter(mtu)
	w.WriteByteFit(attrOpReadByTypeResp)
	valueLen := -1
	for _, a := range s.subrange(req.Start, req.End) {
		if !a.typ.Equal(req.Type) {
			continue
		}
		v, status := s.readAttr(ctx, a)
		if status != AttrECodeSuccess {
			return attErrorResp(attrOpReadByTypeReq, a.h, status)
		}
		if valueLen == -1 {
			// a value too long for one entry is cut to fit
			valueLen = min(len(v), int(mtu)-4, 0xff-2)
			v = v[:valueLen]
			w.WriteByteFit(byte(valueLen + 2))
		}
		if len(v) != valueLen {
			break
		}
		w.Chunk()
		w.WriteUint16Fit(a.h)
		w.WriteFit(v)
		if ok := w.Commit(); !ok {
			break
		}
	}
	if valueLen == -1 {
		return attErrorResp(attrOpReadByTypeReq, req.Start, AttrECodeAttrNotFound)
	}
	return w.Bytes()
}

// REQ: ReadByGroupReq(0x10), StartHandle, EndHandle, Type(UUID)
// RSP: ReadByGroupRsp(0x11), LenOfEachDataField, Handle, EndGroupHandle, Value, ...
func (s *Server) handleReadByGroup(pdu []byte) []byte {
	var req ReadByGroupReq
	if err := req.Unmarshal(pdu); err != nil {
		return attErrorResp(attrOpReadByGroupReq, 0x0000, AttrECodeInvalidPDU)
	}
	if resp := checkRange(attrOpReadByGroupReq, req.Start, req.End); resp != nil {
		return resp
	}
	// Primary services are the only grouping attribute this server has.
	if !req.Type.Equal(attrPrimaryServiceUUID) {
		return attErrorResp(attrOpReadByGroupReq, req.Start, AttrECodeUnsuppGrpType)
	}

	w := newPDUWriter(s.sendMTU())
	w.WriteByteFit(attrOpReadByGroupResp)
	uuidLen := -1
	for _, a := range s.subrange(req.Start, req.End) {
		if a.kind != attrKindService {
			continue
		}
		s.mu.RLock()
		endh := a.endGroup()
		s.mu.RUnlock()
		v := a.svc.uuid.b
		if uuidLen == -1 {
			uuidLen = len(v)
			w.WriteByteFit(byte(uuidLen + 4))
		}
		if len(v) != uuidLen {
			break
		}
		w.Chunk()
		w.WriteUint16Fit(a.h)
		w.WriteUint16Fit(endh)
		w.WriteFit(v)
		if ok := w.Commit(); !ok {
			break
		}
	}
	if uuidLen == -1 {
		return attErrorResp(attrOpReadByGroupReq, req.Start, AttrECodeAttrNotFound)
	}
	return w.Bytes()
}

// REQ: ReadReq(0x0A), Handle
// RSP: ReadRsp(0x0B), Value
func (s *Server) handleRead(ctx context.Context, pdu []byte) []byte {
	var req ReadReq
	if err := req.Unmarshal(pdu); err != nil {
		return attErrorResp(attrOpReadReq, 0x0000, AttrECodeInvalidPDU)
	}
	a, ok := s.at(req.Handle)
	if !ok {
		return attErrorResp(attrOpReadReq, req.Handle, AttrECodeInvalidHandle)
	}
	v, status := s.readAttr(ctx, a)
	if status != AttrECodeSuccess {
		return attErrorResp(attrOpReadReq, req.Handle, status)
	}

	w := newPDUWriter(s.sendMTU())
	w.WriteByteFit(attrOpReadResp)
	w.Chunk()
	w.WriteFit(v)
	w.CommitFit()
	return w.Bytes()
}

// REQ: ReadBlobReq(0x0C), Handle, Offset
// RSP: ReadBlobRsp(0x0D), Value[Offset:]
func (s *Server) handleReadBlob(ctx context.Context, pdu []byte) []byte {
	var req ReadBlobReq
	if err := req.Unmarshal(pdu); err != nil {
		return attErrorResp(attrOpReadBlobReq, 0x0000, AttrECodeInvalidPDU)
	}
	a, ok := s.at(req.Handle)
	if !ok {
		return attErrorResp(attrOpReadBlobReq, req.Handle, AttrECodeInvalidHandle)
	}
	v, status := s.readAttr(ctx, a)
	if status != AttrECodeSuccess {
		return attErrorResp(attrOpReadBlobReq, req.Handle, status)
	}

	w := newPDUWriter(s.sendMTU())
	w.WriteByteFit(attrOpReadBlobResp)
	w.Chunk()
	w.WriteFit(v)
	if ok := w.ChunkSeek(req.Offset); !ok {
		return attErrorResp(attrOpReadBlobReq, req.Handle, AttrECodeInvalidOffset)
	}
	w.CommitFit()
	return w.Bytes()
}

// REQ: WriteReq(0x12) or WriteCmd(0x52), Handle, Value
// RSP: WriteRsp(0x13) for a request, nothing for a command
func (s *Server) handleWrite(ctx context.Context, pdu []byte) []byte {
	op := pdu[0]
	noResp := op == attrOpWriteCmd
	h, v, err := unmarshalHandleValue(op, pdu)
	if err != nil {
		if noResp {
			logger.Debugf(ctx, "dropping a malformed write command: %v", err)
			return nil
		}
		return attErrorResp(op, 0x0000, AttrECodeInvalidPDU)
	}

	a, ok := s.at(h)
	if !ok {
		if noResp {
			logger.Debugf(ctx, "dropping a write command to invalid handle 0x%04X", h)
			return nil
		}
		return attErrorResp(op, h, AttrECodeInvalidHandle)
	}

	status := s.writeAttr(ctx, a, v)
	if noResp {
		if status != AttrECodeSuccess {
			logger.Debugf(ctx, "write command to 0x%04X failed: %v", h, status)
		}
		return nil
	}
	if status != AttrECodeSuccess {
		return attErrorResp(op, h, status)
	}
	return WriteResp{}.Marshal()
}

// handleSignedWrite applies a Signed Write Command to a characteristic
// that allows signed writes. Anything that does not verify is dropped.
func (s *Server) handleSignedWrite(ctx context.Context, pdu []byte) {
	var cmd SignedWriteCmd
	if err := cmd.Unmarshal(pdu); err != nil {
		logger.Debugf(ctx, "dropping a malformed signed write: %v", err)
		return
	}
	s.mu.RLock()
	sg := s.signer
	s.mu.RUnlock()
	if sg == nil {
		logger.Warnf(ctx, "dropping a signed write to 0x%04X: no signing key", cmd.Handle)
		return
	}
	a, ok := s.at(cmd.Handle)
	if !ok || a.kind != attrKindCharValue || a.char.Properties()&CharSignedWrite == 0 {
		logger.Warnf(ctx, "dropping a signed write to 0x%04X: not a signed-writable value", cmd.Handle)
		return
	}
	if err := sg.verify(attrOpSignedWriteCmd, cmd.Handle, cmd.Value, cmd.Signature); err != nil {
		logger.Warnf(ctx, "dropping a signed write to 0x%04X: %v", cmd.Handle, err)
		return
	}
	if status := s.writeAttr(ctx, a, cmd.Value); status != AttrECodeSuccess {
		logger.Debugf(ctx, "signed write to 0x%04X failed: %v", cmd.Handle, status)
	}
}

// handleConfirmation completes the oldest pending indication.
func (s *Server) handleConfirmation(ctx context.Context) {
	s.indMu.Lock()
	if len(s.pending) == 0 {
		s.indMu.Unlock()
		logger.Debugf(ctx, "ignoring a confirmation with no indication pending")
		return
	}
	f := s.pending[0]
	s.pending = s.pending[1:]
	s.indMu.Unlock()
	if f != nil {
		callSafely(ctx, "indication confirmation callback", f)
	}
}
