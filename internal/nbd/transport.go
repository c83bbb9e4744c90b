package nbd

import (
	"net"
	"sync"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// TuneSocket applies TCP_NODELAY and SO_KEEPALIVE to the raw fd backing
// conn. A kernel-mode NBD initiator configures these before entering the
// transmission phase so that small request/reply headers are not delayed
// by Nagle's algorithm and a half-open peer is detected.
func TuneSocket(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	fd := netfd.GetFdFromConn(tcpConn)
	if fd < 0 {
		return nil
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
}

// GuardedConn wraps a net.Conn so that repeated teardown attempts from the
// monitor task and a worker noticing its own transport error race safely:
// only the first Close actually tears down the socket. Close takes no lock
// shared with writers: a write that races with or follows Close fails with
// the underlying connection's error, which the request worker reports as a
// transport error.
type GuardedConn struct {
	net.Conn
	once sync.Once
	err  error
}

// NewGuardedConn wraps conn.
func NewGuardedConn(conn net.Conn) *GuardedConn {
	return &GuardedConn{Conn: conn}
}

// Close tears down the underlying connection exactly once.
func (g *GuardedConn) Close() error {
	g.once.Do(func() { g.err = g.Conn.Close() })
	return g.err
}
