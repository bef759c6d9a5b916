package gatt

import (
	"bytes"
	"testing"
)

func TestPDUWriterChunk(t *testing.T) {
	cases := []struct {
		mtu   uint16
		head  int
		chunk int
		ok    bool
	}{
		{mtu: 5, head: 0, chunk: 4, ok: true},
		{mtu: 5, head: 0, chunk: 5, ok: true},
		{mtu: 5, head: 0, chunk: 6, ok: false},
		{mtu: 5, head: 1, chunk: 3, ok: true},
		{mtu: 5, head: 1, chunk: 4, ok: true},
		{mtu: 5, head: 1, chunk: 5, ok: false},
	}

	for _, tt := range cases {
		w := newPDUWriter(tt.mtu)
		var want []byte
		for i := 0; i < tt.head; i++ {
			w.WriteByteFit(byte(i))
			want = append(want, byte(i))
		}
		w.Chunk()
		for i := 0; i < tt.chunk; i++ {
			w.WriteByteFit(byte(i))
			if tt.ok {
				want = append(want, byte(i))
			}
		}
		ok := w.Commit()
		if ok != tt.ok {
			t.Errorf("Chunk(%d %d %d) commit: got %t want %t", tt.mtu, tt.head, tt.chunk, ok, tt.ok)
			continue
		}
		if !bytes.Equal(want, w.Bytes()) {
			t.Errorf("Chunk(%d %d %d) write: got %x want %x", tt.mtu, tt.head, tt.chunk, w.Bytes(), want)
		}
	}
}

func TestPDUWriterFit(t *testing.T) {
	w := newPDUWriter(4)
	if !w.WriteUint16Fit(0x0201) {
		t.Fatalf("WriteUint16Fit: truncated")
	}
	if w.WriteFit([]byte{3, 4, 5}) {
		t.Errorf("WriteFit past the MTU: got true want false")
	}
	if got, want := w.Bytes(), []byte{1, 2, 3, 4}; !bytes.Equal(got, want) {
		t.Errorf("Bytes: got %x want %x", got, want)
	}
	if w.Avail() != 0 {
		t.Errorf("Avail: got %d want 0", w.Avail())
	}
}

func TestPDUWriterChunkSeek(t *testing.T) {
	cases := []struct {
		value  string
		offset uint16
		ok     bool
		want   string
	}{
		{value: "abcdef", offset: 0, ok: true, want: "xabcd"},
		{value: "abcdef", offset: 2, ok: true, want: "xcdef"},
		{value: "abcdef", offset: 6, ok: true, want: "x"},
		{value: "abcdef", offset: 7, ok: false, want: "x"},
	}
	for _, tt := range cases {
		w := newPDUWriter(5)
		w.WriteByteFit('x')
		w.Chunk()
		w.WriteFit([]byte(tt.value))
		if ok := w.ChunkSeek(tt.offset); ok != tt.ok {
			t.Errorf("ChunkSeek(%q, %d): got %t want %t", tt.value, tt.offset, ok, tt.ok)
		}
		w.CommitFit()
		if got := string(w.Bytes()); got != tt.want {
			t.Errorf("ChunkSeek(%q, %d) write: got %q want %q", tt.value, tt.offset, got, tt.want)
		}
	}
}

func TestPDUWriterPanicDoubleChunk(t *testing.T) {
	defer func() { recover() }()
	w := newPDUWriter(5)
	w.Chunk()
	w.Chunk()
	t.Errorf("pduWriter should panic on double-chunk")
}

func TestPDUWriterPanicCommitBeforeChunk(t *testing.T) {
	defer func() { recover() }()
	w := newPDUWriter(5)
	w.Commit()
	t.Errorf("pduWriter should panic on commit-before-chunk")
}

func TestPDUWriterPanicDoubleCommit(t *testing.T) {
	defer func() { recover() }()
	w := newPDUWriter(5)
	w.Chunk()
	w.Commit()
	w.Commit()
	t.Errorf("pduWriter should panic on double-commit")
}

func TestPDUWriterPanicBytesInChunk(t *testing.T) {
	defer func() { recover() }()
	w := newPDUWriter(5)
	w.Chunk()
	w.Bytes()
	t.Errorf("pduWriter should panic on Bytes with an open chunk")
}

func BenchmarkWriteUint16(b *testing.B) {
	for i := 0; i < b.N; i++ {
		w := newPDUWriter(17)
		w.WriteUint16Fit(0)
	}
}
