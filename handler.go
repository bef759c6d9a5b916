package gatt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// maxAttrValueLen is the longest attribute value ATT can carry.
const maxAttrValueLen = 512

// Request describes the attribute access a handler is serving.
type Request struct {
	Server *Server
	Handle uint16
	MTU    int // send MTU of the connection
}

// ReadRequest is a read of a characteristic value or descriptor.
// The handler always serves the whole value; the server cuts it to
// the requested offset and to the MTU.
type ReadRequest struct {
	Request
	Cap int // maximum value length the handler may write
}

type ResponseWriter interface {
	// Write writes data to return as the attribute value.
	Write([]byte) (int, error)

	// SetStatus reports the result of the read operation.
	SetStatus(AttrECode)
}

// responseWriter is the default implementation of ResponseWriter.
type responseWriter struct {
	capacity int
	buf      *bytes.Buffer
	status   AttrECode
}

func newResponseWriter(c int) *responseWriter {
	return &responseWriter{
		capacity: c,
		buf:      new(bytes.Buffer),
		status:   AttrECodeSuccess,
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if avail := w.capacity - w.buf.Len(); avail < len(b) {
		return 0, fmt.Errorf("requested write %d bytes, %d available", len(b), avail)
	}
	return w.buf.Write(b)
}

func (w *responseWriter) SetStatus(status AttrECode) { w.status = status }
func (w *responseWriter) bytes() []byte              { return w.buf.Bytes() }

// A ReadHandler handles GATT read requests.
type ReadHandler interface {
	ServeRead(ctx context.Context, resp ResponseWriter, req *ReadRequest)
}

// ReadHandlerFunc is an adapter to allow the use of
// ordinary functions as ReadHandlers. If f is a function
// with the appropriate signature, ReadHandlerFunc(f) is a
// ReadHandler that calls f.
type ReadHandlerFunc func(ctx context.Context, resp ResponseWriter, req *ReadRequest)

// ServeRead calls f(ctx, resp, req).
func (f ReadHandlerFunc) ServeRead(ctx context.Context, resp ResponseWriter, req *ReadRequest) {
	f(ctx, resp, req)
}

// A WriteHandler handles GATT write requests.
// Write requests, write commands and signed writes are presented
// identically; the server sends a response only when one is due.
type WriteHandler interface {
	ServeWrite(ctx context.Context, r Request, data []byte) AttrECode
}

// WriteHandlerFunc is an adapter to allow the use of
// ordinary functions as WriteHandlers.
type WriteHandlerFunc func(ctx context.Context, r Request, data []byte) AttrECode

// ServeWrite returns f(ctx, r, data).
func (f WriteHandlerFunc) ServeWrite(ctx context.Context, r Request, data []byte) AttrECode {
	return f(ctx, r, data)
}

// serveRead runs h and maps a panic to AttrECodeUnlikely.
func serveRead(ctx context.Context, h ReadHandler, req *ReadRequest) (v []byte, status AttrECode) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf(ctx, "read handler for handle 0x%04X panicked: %v", req.Handle, r)
			v, status = nil, AttrECodeUnlikely
		}
	}()
	resp := newResponseWriter(req.Cap)
	h.ServeRead(ctx, resp, req)
	return resp.bytes(), resp.status
}

// serveWrite runs h and maps a panic to AttrECodeUnlikely.
func serveWrite(ctx context.Context, h WriteHandler, r Request, data []byte) (status AttrECode) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf(ctx, "write handler for handle 0x%04X panicked: %v", r.Handle, rec)
			status = AttrECodeUnlikely
		}
	}()
	return h.ServeWrite(ctx, r, data)
}

// callSafely runs a user callback on the receive loop; a panic is logged
// instead of tearing the loop down.
func callSafely(ctx context.Context, what string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf(ctx, "%s panicked: %v", what, r)
		}
	}()
	f()
}
