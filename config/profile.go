// Package config keeps named connection profiles for the netgatt tool.
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/xaionaro-go/netgatt/transport"
)

var (
	ErrNoName          = errors.New("profile has no name")
	ErrNoAddress       = errors.New("profile has no address")
	ErrProfileNotFound = errors.New("connection profile not found")
)

// Profile describes how to reach a peer. The framing follows from the
// network, see transport.IsStream.
type Profile struct {
	Name    string `json:"name" structs:"name"`
	Network string `json:"network" structs:"network"`
	Address string `json:"address" structs:"address"`

	SendMTU uint16 `json:"send_mtu,omitempty" structs:"send_mtu,omitempty"`
	RecvMTU uint16 `json:"recv_mtu,omitempty" structs:"recv_mtu,omitempty"`

	// Timeout is a Go duration ("10s") or a number of seconds.
	Timeout string `json:"timeout,omitempty" structs:"timeout,omitempty"`
	Baud    int    `json:"baud,omitempty" structs:"baud,omitempty"`

	// SigningKey is the hex encoded CSRK for signed writes.
	SigningKey string `json:"signing_key,omitempty" structs:"signing_key,omitempty"`
}

func (p *Profile) String() string {
	return fmt.Sprintf("name=%s network=%s address=%s", p.Name, p.Network, p.Address)
}

// Validate checks that p can be dialed.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return ErrNoName
	}
	if p.Address == "" {
		return errors.Wrapf(ErrNoAddress, "profile %s", p.Name)
	}
	if _, err := transport.IsStream(p.Network); err != nil {
		return errors.Wrapf(err, "profile %s", p.Name)
	}
	if _, err := p.TransactionTimeout(); err != nil {
		return err
	}
	if _, _, err := p.CSRK(); err != nil {
		return err
	}
	return nil
}

// TransactionTimeout parses Timeout. A bare number counts seconds.
// It returns 0 when the profile leaves the timeout unset.
func (p *Profile) TransactionTimeout() (time.Duration, error) {
	if p.Timeout == "" {
		return 0, nil
	}
	if secs, err := cast.ToFloat64E(p.Timeout); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := cast.ToDurationE(p.Timeout)
	if err != nil {
		return 0, errors.Wrapf(err, "profile %s: invalid timeout %q", p.Name, p.Timeout)
	}
	return d, nil
}

// CSRK decodes SigningKey. ok is false when the profile has no key.
func (p *Profile) CSRK() (csrk [16]byte, ok bool, err error) {
	if p.SigningKey == "" {
		return csrk, false, nil
	}
	b, err := hex.DecodeString(p.SigningKey)
	if err != nil {
		return csrk, false, errors.Wrapf(err, "profile %s: invalid signing key", p.Name)
	}
	if len(b) != len(csrk) {
		return csrk, false, errors.Errorf("profile %s: signing key is %d bytes, want %d", p.Name, len(b), len(csrk))
	}
	copy(csrk[:], b)
	return csrk, true, nil
}
