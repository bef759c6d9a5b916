package gatt

import (
	"errors"
	"testing"
)

var testCSRK = [16]byte{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
}

func TestSignerRoundTrip(t *testing.T) {
	tx, err := newSigner(testCSRK)
	if err != nil {
		t.Fatal(err)
	}
	rx, err := newSigner(testCSRK)
	if err != nil {
		t.Fatal(err)
	}

	first := tx.sign(attrOpSignedWriteCmd, 0x0003, []byte("on"))
	second := tx.sign(attrOpSignedWriteCmd, 0x0003, []byte("off"))
	if order.Uint32(first[:4]) != 0 || order.Uint32(second[:4]) != 1 {
		t.Errorf("sign counters: got %d, %d want 0, 1", order.Uint32(first[:4]), order.Uint32(second[:4]))
	}

	if err := rx.verify(attrOpSignedWriteCmd, 0x0003, []byte("on"), first); err != nil {
		t.Errorf("verify first: %v", err)
	}
	if err := rx.verify(attrOpSignedWriteCmd, 0x0003, []byte("on"), first); !errors.Is(err, ErrReplayedSignature) {
		t.Errorf("verify replay: got %v want %v", err, ErrReplayedSignature)
	}
	if err := rx.verify(attrOpSignedWriteCmd, 0x0003, []byte("tampered"), second); !errors.Is(err, ErrBadSignature) {
		t.Errorf("verify tampered: got %v want %v", err, ErrBadSignature)
	}
	if err := rx.verify(attrOpSignedWriteCmd, 0x0003, []byte("off"), second); err != nil {
		t.Errorf("verify second: %v", err)
	}
}

func TestSignerWrongKey(t *testing.T) {
	tx, _ := newSigner(testCSRK)
	other := testCSRK
	other[0] ^= 0xff
	rx, _ := newSigner(other)

	sig := tx.sign(attrOpSignedWriteCmd, 0x0010, []byte{1, 2, 3})
	if err := rx.verify(attrOpSignedWriteCmd, 0x0010, []byte{1, 2, 3}, sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("verify with another key: got %v want %v", err, ErrBadSignature)
	}
}
