package gatt

// pduWriter builds a response PDU that must fit in the peer's MTU.
// Multi-entry responses write each entry as a chunk, which is either
// committed whole or dropped, so a page never carries a partial entry.
type pduWriter struct {
	mtu     int
	b       []byte
	chunk   []byte
	chunked bool
}

func newPDUWriter(mtu uint16) *pduWriter {
	return &pduWriter{mtu: int(mtu), b: make([]byte, 0, mtu)}
}

// Chunk starts a new chunk. It panics if a chunk is already open.
func (w *pduWriter) Chunk() {
	if w.chunked {
		panic("pduWriter: Chunk called with an open chunk")
	}
	w.chunked = true
	w.chunk = w.chunk[:0]
}

// Commit appends the open chunk if it fits entirely and reports whether it did.
// It panics if no chunk is open.
func (w *pduWriter) Commit() bool {
	if !w.chunked {
		panic("pduWriter: Commit called without an open chunk")
	}
	w.chunked = false
	if len(w.b)+len(w.chunk) > w.mtu {
		return false
	}
	w.b = append(w.b, w.chunk...)
	return true
}

// CommitFit appends as much of the open chunk as fits.
// It panics if no chunk is open.
func (w *pduWriter) CommitFit() {
	if !w.chunked {
		panic("pduWriter: CommitFit called without an open chunk")
	}
	w.chunked = false
	n := w.Avail()
	if n > len(w.chunk) {
		n = len(w.chunk)
	}
	w.b = append(w.b, w.chunk[:n]...)
}

// ChunkSeek drops the first offset bytes of the open chunk.
// It reports false if the chunk is shorter than offset.
func (w *pduWriter) ChunkSeek(offset uint16) bool {
	if !w.chunked {
		panic("pduWriter: ChunkSeek called without an open chunk")
	}
	if int(offset) > len(w.chunk) {
		w.chunk = w.chunk[:0]
		return false
	}
	w.chunk = w.chunk[offset:]
	return true
}

// WriteFit writes as much of b as fits. Inside a chunk everything is
// buffered and the fit is decided by Commit.
// It reports whether b was written without truncation.
func (w *pduWriter) WriteFit(b []byte) bool {
	if w.chunked {
		w.chunk = append(w.chunk, b...)
		return true
	}
	n := w.Avail()
	if n >= len(b) {
		w.b = append(w.b, b...)
		return true
	}
	w.b = append(w.b, b[:n]...)
	return false
}

func (w *pduWriter) WriteByteFit(b byte) bool {
	return w.WriteFit([]byte{b})
}

func (w *pduWriter) WriteUint16Fit(v uint16) bool {
	return w.WriteFit(order.AppendUint16(nil, v))
}

// WriteUUIDFit writes u in wire order.
func (w *pduWriter) WriteUUIDFit(u UUID) bool {
	return w.WriteFit(u.b)
}

// Len returns the number of committed bytes.
func (w *pduWriter) Len() int {
	return len(w.b)
}

// Avail returns how many more bytes fit into the PDU.
func (w *pduWriter) Avail() int {
	if n := w.mtu - len(w.b); n > 0 {
		return n
	}
	return 0
}

// Bytes returns the committed bytes without copying.
// It panics while a chunk is open.
func (w *pduWriter) Bytes() []byte {
	if w.chunked {
		panic("pduWriter: Bytes called with an open chunk")
	}
	return w.b
}
