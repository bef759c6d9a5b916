package transport_test

import (
	"context"
	"testing"

	gatt "github.com/xaionaro-go/netgatt"
	"github.com/xaionaro-go/netgatt/transport"
)

func TestSeqPacketPairKeepsBoundaries(t *testing.T) {
	a, b, err := transport.SeqPacketPair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()

	for _, m := range []string{"\x0a\x03\x00", "\x1e"} {
		if _, err := a.Write([]byte(m)); err != nil {
			t.Fatal(err)
		}
	}
	buf := make([]byte, 64)
	for _, want := range []string{"\x0a\x03\x00", "\x1e"} {
		n, err := b.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		if got := string(buf[:n]); got != want {
			t.Errorf("Read: got % X, want % X", got, want)
		}
	}
}

func TestSeqPacketPairCarriesGATT(t *testing.T) {
	ctx := context.Background()
	a, b, err := transport.SeqPacketPair()
	if err != nil {
		t.Fatal(err)
	}
	sc, err := gatt.NewConn(gatt.OptionMTU(gatt.DefaultLEMTU, gatt.DefaultMaxMTU))
	if err != nil {
		t.Fatal(err)
	}
	s, err := gatt.NewServer(sc)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddGAPService("seqpacket"); err != nil {
		t.Fatal(err)
	}
	if err := sc.Bind(ctx, a, false); err != nil {
		t.Fatal(err)
	}
	defer sc.Close()

	// above the stream cap of 255
	const mtu = 400
	cc, err := gatt.NewConn()
	if err != nil {
		t.Fatal(err)
	}
	cl, err := gatt.NewClient(cc)
	if err != nil {
		t.Fatal(err)
	}
	if err := cc.Bind(ctx, b, false); err != nil {
		t.Fatal(err)
	}
	defer cc.Close()
	got, err := cl.ExchangeMTU(ctx, mtu)
	if err != nil {
		t.Fatal(err)
	}
	if got != gatt.DefaultMaxMTU || sc.SendMTU() != mtu {
		t.Errorf("MTUs: client send %d, server send %d", got, sc.SendMTU())
	}
}
