package transport

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SeqPacketPair returns two connected SOCK_SEQPACKET sockets. Every
// Write on one side is read whole by a single Read on the other, which
// suits the datagram framing.
func SeqPacketPair() (net.Conn, net.Conn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to create a seqpacket socket pair")
	}
	a, err := fileConn(fds[0], "seqpacket-a")
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := fileConn(fds[1], "seqpacket-b")
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, b, nil
}

// fileConn wraps fd into a net.Conn. net.FileConn duplicates the
// descriptor, so the original is closed either way.
func fileConn(fd int, name string) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to wrap %s", name)
	}
	return c, nil
}
