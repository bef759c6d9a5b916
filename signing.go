package gatt

import (
	"crypto/aes"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
	"sync"

	"github.com/aead/cmac"
)

var (
	ErrBadSignature      = errors.New("bad signature")
	ErrReplayedSignature = errors.New("replayed sign counter")
)

// signer authenticates Signed Write Commands with a CSRK.
// The signature is the sign counter followed by the 64 most
// significant bits of AES-CMAC(csrk, op || handle || value || counter),
// all in little-endian order.
type signer struct {
	mu      sync.Mutex
	mac     hash.Hash
	counter uint32
	seen    bool
}

func newSigner(csrk [16]byte) (*signer, error) {
	block, err := aes.NewCipher(reverseBytes(csrk[:]))
	if err != nil {
		return nil, fmt.Errorf("unable to initialize AES with the signing key: %w", err)
	}
	mac, err := cmac.New(block)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize CMAC: %w", err)
	}
	return &signer{mac: mac}, nil
}

// sum must be called with s.mu held.
func (s *signer) sum(op byte, h uint16, value []byte, counter uint32) []byte {
	msg := marshalHandleValue(op, h, value)
	msg = append(msg, byte(counter), byte(counter>>8), byte(counter>>16), byte(counter>>24))
	s.mac.Reset()
	s.mac.Write(reverseBytes(msg))
	return reverseBytes(s.mac.Sum(nil))[8:]
}

// sign returns the signature for the next outgoing command.
func (s *signer) sign(op byte, h uint16, value []byte) [SignatureLen]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sig [SignatureLen]byte
	order.PutUint32(sig[:4], s.counter)
	copy(sig[4:], s.sum(op, h, value, s.counter))
	s.counter++
	return sig
}

// verify checks sig and accepts only counters above the last accepted one.
func (s *signer) verify(op byte, h uint16, value []byte, sig [SignatureLen]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter := order.Uint32(sig[:4])
	if s.seen && counter <= s.counter {
		return fmt.Errorf("%w: %d, last accepted %d", ErrReplayedSignature, counter, s.counter)
	}
	if subtle.ConstantTimeCompare(s.sum(op, h, value, counter), sig[4:]) != 1 {
		return ErrBadSignature
	}
	s.counter, s.seen = counter, true
	return nil
}
