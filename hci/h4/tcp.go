package h4

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

const defaultTCPTimeout = time.Second

// connWithTimeout puts a deadline on every read and write. A read that times
// out returns no data and no error, so the pump gets to check its context.
type connWithTimeout struct {
	c       net.Conn
	timeout time.Duration
}

// DialTCP connects to a controller that exposes H4 over TCP, such as an
// emulator or a serial-to-network bridge.
func DialTCP(addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	if timeout <= 0 {
		timeout = defaultTCPTimeout
	}
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "can't dial %s", addr)
	}
	return &connWithTimeout{c: c, timeout: timeout}, nil
}

func (cwt *connWithTimeout) Read(b []byte) (int, error) {
	// with deadline
	if err := cwt.c.SetReadDeadline(time.Now().Add(cwt.timeout)); err != nil {
		return 0, err
	}
	n, err := cwt.c.Read(b)
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return n, nil
	}
	return n, err
}

func (cwt *connWithTimeout) Write(b []byte) (int, error) {
	// with deadline
	if err := cwt.c.SetWriteDeadline(time.Now().Add(cwt.timeout)); err != nil {
		return 0, err
	}
	return cwt.c.Write(b)
}

func (cwt *connWithTimeout) Close() error {
	return cwt.c.Close()
}
