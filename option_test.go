package gatt

import (
	"context"
	"net"
	"testing"
	"time"
)

func ExampleOptionMTU() {
	// Announce a receive MTU of 185 on a fresh connection.
	c, _ := NewConn(OptionMTU(DefaultLEMTU, 185))
	a, _ := net.Pipe()
	c.Bind(context.Background(), a, false)
}

func ExampleOptionMaxMTU() {
	// Never let the peer grow the send MTU past 100.
	NewConn(OptionMaxMTU(100))
}

func ExampleClientTimeout() {
	c, _ := NewConn()
	NewClient(c, ClientTimeout(5*time.Second))
}

func ExampleClientSigningKey() {
	var csrk [16]byte
	c, _ := NewConn()
	NewClient(c, ClientSigningKey(csrk))
}

func TestOptionErrors(t *testing.T) {
	for _, opt := range []Option{
		OptionMTU(22, DefaultLEMTU),
		OptionMTU(DefaultLEMTU, 0),
		OptionMaxMTU(10),
	} {
		if _, err := NewConn(opt); err == nil {
			t.Error("NewConn: expected an error for an MTU below the minimum")
		}
	}

	c, err := NewConn()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewClient(c, ClientTimeout(0)); err == nil {
		t.Error("NewClient: expected an error for a zero timeout")
	}
}

func TestOptionStreamCap(t *testing.T) {
	c, err := NewConn(OptionMTU(300, 400), OptionMaxMTU(DefaultMaxMTU))
	if err != nil {
		t.Fatal(err)
	}
	if c.sendMTU != 300 || c.recvMTU != 400 {
		t.Fatalf("got %d/%d, want 300/400", c.sendMTU, c.recvMTU)
	}
	a, b := net.Pipe()
	if err := c.Bind(context.Background(), a, true); err != nil {
		t.Fatal(err)
	}
	c.sendMu.Lock()
	send, recv, maxMTU := c.sendMTU, c.recvMTU, c.maxMTU
	c.sendMu.Unlock()
	b.Close()
	c.Close()
	if send != MaxStreamMTU || recv != MaxStreamMTU || maxMTU != MaxStreamMTU {
		t.Errorf("stream MTUs not capped: %d/%d/%d", send, recv, maxMTU)
	}
}
