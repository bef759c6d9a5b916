package gatt

import (
	"errors"
	"fmt"
)

var (
	// ErrNoResponse is wrapped by every transaction that ended without a response.
	ErrNoResponse = errors.New("no response")

	// ErrDisconnected is wrapped together with ErrNoResponse once the
	// connection is down.
	ErrDisconnected = errors.New("disconnected")

	ErrSubscribeNotPermitted = errors.New("characteristic supports neither notifications nor indications")
	ErrCCCDNotDiscovered     = errors.New("client characteristic configuration descriptor is not discovered")
	ErrReadNotPermitted      = errors.New("characteristic is not readable")
	ErrWriteNotPermitted     = errors.New("characteristic is not writable")
	ErrUnexpectedResponse    = errors.New("unexpected response")
	ErrNoSigningKey          = errors.New("no signing key")
)

// ClientError is an Error Response received for a client request.
type ClientError struct {
	Op     byte
	Handle uint16
	Code   AttrECode
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s on handle 0x%04X failed: %v (0x%02X)", OpcodeName(e.Op), e.Handle, e.Code, byte(e.Code))
}

// Unwrap lets errors.Is match the ATT error code.
func (e *ClientError) Unwrap() error {
	return e.Code
}

// IsNoResponse reports whether err means a transaction got no response.
func IsNoResponse(err error) bool {
	return errors.Is(err, ErrNoResponse)
}

// IsClientError reports whether err carries an ATT error code, and returns it.
func IsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	ok := errors.As(err, &ce)
	return ce, ok
}
