// Package transport opens the reliable links a gatt.Conn runs over.
package transport

import (
	"context"
	"io"
	"net"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/pkg/errors"
)

// Supported networks.
const (
	NetworkTCP        = "tcp"
	NetworkUnix       = "unix"
	NetworkUnixPacket = "unixpacket"
	NetworkSerial     = "serial"
)

var (
	ErrUnknownNetwork = errors.New("unknown network")
	ErrNotListenable  = errors.New("network cannot accept connections")
)

// IsStream reports whether network needs the length-prefixed stream
// framing. unixpacket keeps message boundaries and carries one PDU per
// message.
func IsStream(network string) (bool, error) {
	switch network {
	case NetworkTCP, NetworkUnix, NetworkSerial:
		return true, nil
	case NetworkUnixPacket:
		return false, nil
	}
	return false, errors.Wrapf(ErrUnknownNetwork, "%q", network)
}

// Networks lists the supported networks.
func Networks() []string {
	return []string{NetworkTCP, NetworkUnix, NetworkUnixPacket, NetworkSerial}
}

type config struct {
	baud int
}

// Option is an optional dial parameter.
type Option func(*config)

// WithBaud sets the serial line speed.
func WithBaud(baud int) Option {
	return func(c *config) {
		if baud > 0 {
			c.baud = baud
		}
	}
}

// Dial opens a link to address. For NetworkSerial the address is the
// device path.
func Dial(ctx context.Context, network, address string, opts ...Option) (io.ReadWriteCloser, error) {
	cfg := config{baud: DefaultBaud}
	for _, opt := range opts {
		opt(&cfg)
	}
	if _, err := IsStream(network); err != nil {
		return nil, err
	}
	logger.Debugf(ctx, "dialing %s %s", network, address)
	if network == NetworkSerial {
		return OpenSerial(address, cfg.baud)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to dial %s %s", network, address)
	}
	return conn, nil
}

// Listen accepts links on address.
func Listen(ctx context.Context, network, address string) (net.Listener, error) {
	if _, err := IsStream(network); err != nil {
		return nil, err
	}
	if network == NetworkSerial {
		return nil, errors.Wrapf(ErrNotListenable, "%s", network)
	}
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to listen on %s %s", network, address)
	}
	logger.Debugf(ctx, "listening on %s %s", network, l.Addr())
	return l, nil
}
