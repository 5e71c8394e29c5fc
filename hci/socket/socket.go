//go:build linux
// +build linux

// Package socket opens a Linux HCI user channel. The channel carries H4
// framed packets, so it runs under an h4.Pump like a UART.
package socket

import (
	"io"
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"golang.org/x/sys/unix"
)

func ioR(t, nr, size uintptr) uintptr {
	return (2 << 30) | (t << 8) | nr | (size << 16)
}

func ioW(t, nr, size uintptr) uintptr {
	return (1 << 30) | (t << 8) | nr | (size << 16)
}

func ioctl(fd, op, arg uintptr) error {
	if _, _, ep := unix.Syscall(unix.SYS_IOCTL, fd, op, arg); ep != 0 {
		return ep
	}
	return nil
}

const (
	ioctlSize      = 4
	hciMaxDevices  = 16
	typHCI         = 72 // 'H'
	readTimeout    = 1000
	openRetryFor   = 60 * time.Second
	unixPollErrors = int16(unix.POLLHUP | unix.POLLNVAL | unix.POLLERR)
	unixPollDataIn = int16(unix.POLLIN)
)

var (
	hciDownDevice    = ioW(typHCI, 202, ioctlSize) // HCIDEVDOWN
	hciGetDeviceList = ioR(typHCI, 210, ioctlSize) // HCIGETDEVLIST
)

type devListRequest struct {
	devNum     uint16
	devRequest [hciMaxDevices]struct {
		id  uint16
		opt uint32
	}
}

// Socket implements a HCI User Channel as ReadWriteCloser.
type Socket struct {
	fd     int
	logger blehost.Logger
	rmu    sync.Mutex
	wmu    sync.Mutex
	cmu    sync.Mutex
	done   chan struct{}
}

// Open returns a HCI User Channel of the given device id. If id is -1, the
// first available HCI device is used.
func Open(id int, logger blehost.Logger) (*Socket, error) {
	if logger == nil {
		logger = blehost.GetLogger()
	}
	logger = logger.ChildLogger(map[string]interface{}{"transport": "socket"})

	if id != -1 {
		var err error
		deadline := time.Now().Add(openRetryFor)
		for time.Now().Before(deadline) {
			var s *Socket
			if s, err = openDev(id, logger); err == nil {
				return s, nil
			}
			logger.Debugf("hci%d: %v, retrying", id, err)
			<-time.After(time.Second)
		}
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "can't create socket")
	}
	req := devListRequest{devNum: hciMaxDevices}
	err = ioctl(uintptr(fd), hciGetDeviceList, uintptr(unsafe.Pointer(&req)))
	unix.Close(fd)
	if err != nil {
		return nil, errors.Wrap(err, "can't get device list")
	}

	var msg string
	for i := 0; i < int(req.devNum); i++ {
		s, err := openDev(int(req.devRequest[i].id), logger)
		if err == nil {
			return s, nil
		}
		msg += errors.Wrapf(err, "(hci%d)", req.devRequest[i].id).Error() + " "
	}
	return nil, errors.Errorf("no devices available: %s", msg)
}

func openDev(id int, logger blehost.Logger) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "can't create socket")
	}

	// HCI User Channel requires exclusive access to the device.
	// The device has to be down at the time of binding.
	if err := ioctl(uintptr(fd), hciDownDevice, uintptr(id)); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't down device")
	}

	sa := unix.SockaddrHCI{Dev: uint16(id), Channel: unix.HCI_CHANNEL_USER}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't bind socket to hci user channel")
	}

	// discard anything the kernel queued before the bind
	pfds := []unix.PollFd{{Fd: int32(fd), Events: unixPollDataIn}}
	_, _ = unix.Poll(pfds, 20)
	switch evts := pfds[0].Revents; {
	case evts&unixPollErrors != 0:
		unix.Close(fd)
		return nil, io.EOF
	case evts&unixPollDataIn != 0:
		b := make([]byte, 2048)
		_, _ = unix.Read(fd, b)
	}

	logger.Infof("opened hci%d user channel", id)
	return &Socket{fd: fd, logger: logger, done: make(chan struct{})}, nil
}

// Read waits up to a second for data; on timeout it returns 0, nil.
func (s *Socket) Read(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, io.EOF
	}

	s.rmu.Lock()
	defer s.rmu.Unlock()

	// dont need to add unixPollErrors, they are always returned
	pfds := []unix.PollFd{{Fd: int32(s.fd), Events: unixPollDataIn}}
	_, _ = unix.Poll(pfds, readTimeout)
	evts := pfds[0].Revents

	var (
		n   int
		err error
	)
	switch {
	case evts&unixPollErrors != 0:
		s.logger.Errorf("hci socket error: poll events 0x%04x", evts)
		return 0, io.EOF
	case evts&unixPollDataIn != 0:
		n, err = unix.Read(s.fd, p)
	default:
		return 0, nil
	}

	if !s.isOpen() {
		return 0, io.EOF
	}
	return n, errors.Wrap(err, "can't read hci socket")
}

func (s *Socket) Write(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, io.EOF
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := unix.Write(s.fd, p)
	return n, errors.Wrap(err, "can't write hci socket")
}

func (s *Socket) Close() error {
	s.cmu.Lock()
	defer s.cmu.Unlock()

	select {
	case <-s.done:
		return nil
	default:
	}

	close(s.done)
	s.logger.Info("closing hci socket")
	s.rmu.Lock()
	err := unix.Close(s.fd)
	s.rmu.Unlock()
	return errors.Wrap(err, "can't close hci socket")
}

func (s *Socket) isOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
