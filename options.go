package gatt

import (
	"fmt"
	"time"
)

// An Option is a self-referential function, which sets the option specified.
// See http://commandcenter.blogspot.com.au/2014/01/self-referential-functions-and-design.html for more discussion.
type Option func(*Conn) error

// OptionMTU sets the initial send MTU and the receive MTU announced to the peer.
// Both must be at least DefaultLEMTU.
func OptionMTU(send, recv uint16) Option {
	return func(c *Conn) error {
		if send < DefaultLEMTU || recv < DefaultLEMTU {
			return fmt.Errorf("MTU %d/%d is below the minimum of %d", send, recv, DefaultLEMTU)
		}
		c.sendMTU, c.recvMTU = send, recv
		return nil
	}
}

// OptionMaxMTU caps the send MTU a peer may negotiate. It also sizes
// the datagram receive buffers.
func OptionMaxMTU(mtu uint16) Option {
	return func(c *Conn) error {
		if mtu < DefaultLEMTU {
			return fmt.Errorf("max MTU %d is below the minimum of %d", mtu, DefaultLEMTU)
		}
		c.maxMTU = mtu
		return nil
	}
}

// A ClientOption sets an option of a Client.
type ClientOption func(*Client) error

// ClientTimeout bounds how long a transaction waits for its response.
func ClientTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("non-positive transaction timeout %s", d)
		}
		c.timeout = d
		return nil
	}
}

// ClientSigningKey sets the CSRK used by SignedWrite.
func ClientSigningKey(csrk [16]byte) ClientOption {
	return func(c *Client) error {
		s, err := newSigner(csrk)
		if err != nil {
			return err
		}
		c.signer = s
		return nil
	}
}
