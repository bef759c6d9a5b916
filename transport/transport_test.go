package transport_test

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"

	gatt "github.com/xaionaro-go/netgatt"
	"github.com/xaionaro-go/netgatt/transport"
)

func TestIsStream(t *testing.T) {
	cases := []struct {
		network string
		stream  bool
		err     error
	}{
		{transport.NetworkTCP, true, nil},
		{transport.NetworkUnix, true, nil},
		{transport.NetworkSerial, true, nil},
		{transport.NetworkUnixPacket, false, nil},
		{"udp", false, transport.ErrUnknownNetwork},
		{"", false, transport.ErrUnknownNetwork},
	}
	for _, tt := range cases {
		stream, err := transport.IsStream(tt.network)
		if stream != tt.stream || !errors.Is(err, tt.err) {
			t.Errorf("IsStream(%q): got %t, %v; want %t, %v", tt.network, stream, err, tt.stream, tt.err)
		}
	}
	for _, n := range transport.Networks() {
		if _, err := transport.IsStream(n); err != nil {
			t.Errorf("IsStream(%q): %v", n, err)
		}
	}
}

func TestDialErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := transport.Dial(ctx, "udp", "127.0.0.1:1"); !errors.Is(err, transport.ErrUnknownNetwork) {
		t.Errorf("Dial(udp): got %v, want %v", err, transport.ErrUnknownNetwork)
	}
	if _, err := transport.Listen(ctx, transport.NetworkSerial, "/dev/null"); !errors.Is(err, transport.ErrNotListenable) {
		t.Errorf("Listen(serial): got %v, want %v", err, transport.ErrNotListenable)
	}
	if _, err := transport.Dial(ctx, transport.NetworkSerial, filepath.Join(t.TempDir(), "tty"), transport.WithBaud(9600)); err == nil {
		t.Errorf("Dial(serial) of a missing device succeeded")
	}
	if _, err := transport.Dial(ctx, transport.NetworkUnix, filepath.Join(t.TempDir(), "absent.sock")); err == nil {
		t.Errorf("Dial(unix) of a missing socket succeeded")
	}
}

// serveGAP accepts one link on l and serves a GAP service on it.
func serveGAP(t *testing.T, l net.Listener, stream bool) {
	t.Helper()
	ctx := context.Background()
	done := make(chan *gatt.Conn, 1)
	go func() {
		rwc, err := l.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			close(done)
			return
		}
		c, err := gatt.NewConn()
		if err != nil {
			t.Errorf("NewConn: %v", err)
			close(done)
			return
		}
		s, err := gatt.NewServer(c)
		if err == nil {
			err = s.AddGAPService("netgatt")
		}
		if err == nil {
			err = c.Bind(ctx, rwc, stream)
		}
		if err != nil {
			t.Errorf("serving: %v", err)
		}
		done <- c
	}()
	t.Cleanup(func() {
		if c := <-done; c != nil {
			c.Close()
		}
	})
}

// readDeviceName runs discovery over rwc and reads the device name.
func readDeviceName(t *testing.T, rwc io.ReadWriteCloser, stream bool) string {
	t.Helper()
	ctx := context.Background()
	c, err := gatt.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	cl, err := gatt.NewClient(c)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Bind(ctx, rwc, stream); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ss, err := cl.DiscoverServices(ctx)
	if err != nil {
		t.Fatalf("DiscoverServices: %v", err)
	}
	if len(ss) != 1 || !ss[0].UUID().Equal(gatt.UUID16(0x1800)) {
		t.Fatalf("services: %v", ss)
	}
	cc, err := ss[0].DiscoverCharacteristics(ctx)
	if err != nil || len(cc) != 1 {
		t.Fatalf("DiscoverCharacteristics: %v, %v", cc, err)
	}
	v, err := cc[0].Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return string(v)
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	for _, tt := range []struct {
		network string
		address string
	}{
		{transport.NetworkTCP, "127.0.0.1:0"},
		{transport.NetworkUnix, filepath.Join(dir, "stream.sock")},
		{transport.NetworkUnixPacket, filepath.Join(dir, "packet.sock")},
	} {
		t.Run(tt.network, func(t *testing.T) {
			ctx := context.Background()
			stream, err := transport.IsStream(tt.network)
			if err != nil {
				t.Fatal(err)
			}
			l, err := transport.Listen(ctx, tt.network, tt.address)
			if err != nil {
				t.Fatal(err)
			}
			defer l.Close()
			serveGAP(t, l, stream)

			rwc, err := transport.Dial(ctx, tt.network, l.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			if name := readDeviceName(t, rwc, stream); name != "netgatt" {
				t.Errorf("device name: got %q, want %q", name, "netgatt")
			}
		})
	}
}
