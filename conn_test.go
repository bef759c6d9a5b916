package gatt

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"
)

const testWait = time.Second

// pipePeer is the remote end of a Conn under test.
type pipePeer struct {
	t      testing.TB
	c      net.Conn
	stream bool
}

// newPipeConn returns a Conn bound to one end of a net.Pipe and the
// peer holding the other end. Each pipe Read returns at most one Write,
// so the pipe serves both framings.
func newPipeConn(t testing.TB, stream bool, opts ...Option) (*Conn, *pipePeer) {
	t.Helper()
	local, remote := net.Pipe()
	c, err := NewConn(opts...)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	if err := c.Bind(context.Background(), local, stream); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	t.Cleanup(func() {
		remote.Close()
		c.Close()
	})
	return c, &pipePeer{t: t, c: remote, stream: stream}
}

func (p *pipePeer) send(b []byte) {
	p.t.Helper()
	frame := b
	if p.stream {
		frame = append([]byte{byte(len(b))}, b...)
	}
	p.c.SetWriteDeadline(time.Now().Add(testWait))
	if _, err := p.c.Write(frame); err != nil {
		p.t.Fatalf("peer write % X: %v", b, err)
	}
}

func (p *pipePeer) recv() []byte {
	p.t.Helper()
	b, err := p.tryRecv(testWait)
	if err != nil {
		p.t.Fatalf("peer read: %v", err)
	}
	return b
}

func (p *pipePeer) tryRecv(d time.Duration) ([]byte, error) {
	p.c.SetReadDeadline(time.Now().Add(d))
	if p.stream {
		var hdr [1]byte
		if _, err := io.ReadFull(p.c, hdr[:]); err != nil {
			return nil, err
		}
		b := make([]byte, hdr[0])
		_, err := io.ReadFull(p.c, b)
		return b, err
	}
	b := make([]byte, 1024)
	n, err := p.c.Read(b)
	return b[:n], err
}

func (p *pipePeer) sendHex(s string) {
	p.t.Helper()
	p.send(mustDecodeHex(p.t, s))
}

func (p *pipePeer) recvHex() string {
	p.t.Helper()
	return hex.EncodeToString(p.recv())
}

// expectNothing fails if the Conn sends anything within a short delay.
func (p *pipePeer) expectNothing() {
	p.t.Helper()
	b, err := p.tryRecv(50 * time.Millisecond)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		p.t.Fatalf("expected silence, got % X (%v)", b, err)
	}
}

func waitDone(t testing.TB, c *Conn) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(testWait):
		t.Fatalf("the connection was not torn down")
	}
}

func TestConnMTUExchange(t *testing.T) {
	for _, tt := range []struct {
		name   string
		stream bool
		req    string
		want   uint16
	}{
		{name: "datagram", req: "028700", want: 135},
		{name: "datagram, above max", req: "020004", want: DefaultMaxMTU},
		{name: "datagram, below min", req: "021000", want: DefaultLEMTU},
		{name: "stream", stream: true, req: "028700", want: 135},
		{name: "stream, capped by the length prefix", stream: true, req: "02ff01", want: MaxStreamMTU},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c, p := newPipeConn(t, tt.stream, OptionMTU(DefaultLEMTU, 100))
			p.sendHex(tt.req)
			if got, want := p.recvHex(), "036400"; got != want {
				t.Errorf("MTU response: got %s, want %s", got, want)
			}
			if got := c.SendMTU(); got != tt.want {
				t.Errorf("SendMTU(): got %d, want %d", got, tt.want)
			}
			if got := c.RecvMTU(); got != 100 {
				t.Errorf("RecvMTU(): got %d, want 100", got)
			}
		})
	}
}

func TestConnNoServer(t *testing.T) {
	_, p := newPipeConn(t, false)

	p.sendHex("0a0100")
	if got, want := p.recvHex(), "010a000006"; got != want {
		t.Errorf("read request: got %s, want %s", got, want)
	}

	// commands, confirmations and unsolicited responses are dropped
	for _, s := range []string{"520100ff", "1e", "0b00", "1b0100ff"} {
		p.sendHex(s)
		p.expectNothing()
	}
}

func TestConnStreamFraming(t *testing.T) {
	c, p := newPipeConn(t, true)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Send(context.Background(), []byte("\x0bhello")) }()

	raw := make([]byte, 7)
	p.c.SetReadDeadline(time.Now().Add(testWait))
	if _, err := io.ReadFull(p.c, raw); err != nil {
		t.Fatal(err)
	}
	if got, want := hex.EncodeToString(raw), "060b68656c6c6f"; got != want {
		t.Errorf("frame: got %s, want %s", got, want)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Send: %v", err)
	}
}

func TestConnTruncatesToSendMTU(t *testing.T) {
	c, p := newPipeConn(t, false)
	pdu := ReadResp{Value: make([]byte, 40)}.Marshal()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Send(context.Background(), pdu) }()

	if got := p.recv(); len(got) != DefaultLEMTU {
		t.Errorf("sent %d bytes, want %d", len(got), DefaultLEMTU)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Send: %v", err)
	}
}

func TestConnPeerTeardownFrame(t *testing.T) {
	c, p := newPipeConn(t, true)
	p.c.SetWriteDeadline(time.Now().Add(testWait))
	if _, err := p.c.Write([]byte{0}); err != nil {
		t.Fatal(err)
	}
	waitDone(t, c)
	if err := c.Err(); err != nil {
		t.Errorf("Err(): got %v, want nil", err)
	}
	if err := c.Send(context.Background(), []byte{attrOpHandleCnf}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after teardown: got %v, want %v", err, ErrClosed)
	}
}

func TestConnPeerClose(t *testing.T) {
	c, p := newPipeConn(t, false)
	p.c.Close()
	waitDone(t, c)
	if err := c.Err(); !errors.Is(err, io.EOF) {
		t.Errorf("Err(): got %v, want %v", err, io.EOF)
	}
}

func TestConnClose(t *testing.T) {
	c, p := newPipeConn(t, true)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Close() }()

	b, err := p.tryRecv(testWait)
	if err != nil || len(b) != 0 {
		t.Fatalf("expected the teardown frame, got % X (%v)", b, err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Close: %v", err)
	}
	waitDone(t, c)
	if err := c.Err(); err != nil {
		t.Errorf("Err(): got %v, want nil", err)
	}
	if _, err := p.tryRecv(testWait); !errors.Is(err, io.EOF) {
		t.Errorf("the transport is still open: %v", err)
	}
}

func TestConnDisconnectNotifiesOnce(t *testing.T) {
	c, p := newPipeConn(t, false)
	s, err := NewServer(c)
	if err != nil {
		t.Fatal(err)
	}
	cl, err := NewClient(c)
	if err != nil {
		t.Fatal(err)
	}
	serverCh := make(chan error, 2)
	clientCh := make(chan error, 2)
	s.OnDisconnect(func(_ context.Context, err error) { serverCh <- err })
	cl.OnDisconnect(func(_ context.Context, err error) { clientCh <- err })

	p.c.Close()
	waitDone(t, c)
	c.Close()

	for name, ch := range map[string]chan error{"server": serverCh, "client": clientCh} {
		select {
		case err := <-ch:
			if !errors.Is(err, io.EOF) {
				t.Errorf("%s: got %v, want %v", name, err, io.EOF)
			}
		case <-time.After(testWait):
			t.Fatalf("%s was not notified", name)
		}
		select {
		case err := <-ch:
			t.Errorf("%s notified twice: %v", name, err)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestConnBind(t *testing.T) {
	ctx := context.Background()
	c, err := NewConn()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Send(ctx, []byte{attrOpHandleCnf}); !errors.Is(err, ErrNotBound) {
		t.Errorf("Send before Bind: got %v, want %v", err, ErrNotBound)
	}

	a, b := net.Pipe()
	defer b.Close()
	if err := c.Bind(ctx, a, false); err != nil {
		t.Fatal(err)
	}
	if err := c.Bind(ctx, a, false); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("second Bind: got %v, want %v", err, ErrAlreadyBound)
	}
	c.Close()
	if err := c.Bind(ctx, a, false); !errors.Is(err, ErrClosed) {
		t.Errorf("Bind after Close: got %v, want %v", err, ErrClosed)
	}
}

func TestConnRoleBound(t *testing.T) {
	c, err := NewConn()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewServer(c); err != nil {
		t.Fatal(err)
	}
	if _, err := NewServer(c); !errors.Is(err, ErrRoleBound) {
		t.Errorf("second server: got %v, want %v", err, ErrRoleBound)
	}
	if _, err := NewClient(c); err != nil {
		t.Fatal(err)
	}
	if _, err := NewClient(c); !errors.Is(err, ErrRoleBound) {
		t.Errorf("second client: got %v, want %v", err, ErrRoleBound)
	}
}
