package transport

import (
	"io"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// DefaultBaud is the serial line speed used unless WithBaud says otherwise.
const DefaultBaud = 115200

// OpenSerial opens the UART at name. A serial line has no message
// boundaries, so it always carries the stream framing.
func OpenSerial(name string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name: name,
		Baud: baud,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open serial port %s", name)
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "unable to flush serial port %s", name)
	}
	return port, nil
}
