package util

import (
	"bytes"
	"testing"
)

func TestBinaryOrderHandleRange(t *testing.T) {
	b := make([]byte, 4)
	BinaryOrder.PutHandleRange(b, 0x0001, 0xffff)
	if want := []byte{0x01, 0x00, 0xff, 0xff}; !bytes.Equal(b, want) {
		t.Errorf("PutHandleRange: got %x want %x", b, want)
	}
	start, end := BinaryOrder.HandleRange(b)
	if start != 0x0001 || end != 0xffff {
		t.Errorf("HandleRange(%x): got %d, %d want 1, 65535", b, start, end)
	}
	if got := BinaryOrder.AppendUint16([]byte{0x0a}, 0x1234); !bytes.Equal(got, []byte{0x0a, 0x34, 0x12}) {
		t.Errorf("AppendUint16: got %x", got)
	}
}

func TestBytePool(t *testing.T) {
	p := NewBytePool(8, 1)
	b := p.Get()
	if len(b) != 8 {
		t.Fatalf("Get: got len %d want 8", len(b))
	}
	b[0] = 0xaa
	p.Put(b[:2])
	if got := p.Get(); len(got) != 8 || got[0] != 0xaa {
		t.Errorf("Get after Put: got %x, want the recycled buffer", got)
	}
	p.Put(make([]byte, 3))
	p.Close()
	p.Close()
	if got := p.Get(); len(got) != 8 {
		t.Errorf("Get after Close: got len %d want 8", len(got))
	}
	p.Put(make([]byte, 8))
}
