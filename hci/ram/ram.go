// Package ram is the in-process HCI transport: the host and the link layer
// run in one program and hand each other pool buffers directly.
package ram

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci"
	"github.com/rigado/blehost/hci/evt"
)

var (
	ErrNoReceiver  = errors.New("ram: no receiver")
	ErrCommandBusy = errors.New("ram: host command outstanding")
	ErrWrongSide   = errors.New("ram: packet type not sent from this side")
)

// Link joins one host and one link layer. The host may have a single
// command outstanding; the slot frees when the link layer sends Command
// Complete or Command Status.
type Link struct {
	pool   *hci.Pool
	logger blehost.Logger

	mu   sync.RWMutex
	host hci.Receiver
	ll   hci.Receiver

	cmdSlot chan struct{}
}

// New creates a link whose buffers come from pool.
func New(pool *hci.Pool, logger blehost.Logger) (*Link, error) {
	if pool == nil {
		return nil, errors.New("ram: nil pool")
	}
	if logger == nil {
		logger = blehost.GetLogger()
	}

	l := &Link{
		pool:    pool,
		logger:  logger.ChildLogger(map[string]interface{}{"transport": "ram"}),
		cmdSlot: make(chan struct{}, 1),
	}
	l.cmdSlot <- struct{}{}
	return l, nil
}

// Pool returns the buffer pool shared by both sides.
func (l *Link) Pool() *hci.Pool {
	return l.pool
}

// SetHostReceiver registers the host, which gets events and ACL data.
func (l *Link) SetHostReceiver(r hci.Receiver) {
	l.mu.Lock()
	l.host = r
	l.mu.Unlock()
}

// SetControllerReceiver registers the link layer, which gets commands and
// ACL data.
func (l *Link) SetControllerReceiver(r hci.Receiver) {
	l.mu.Lock()
	l.ll = r
	l.mu.Unlock()
}

// Host is the transport the host sends through.
func (l *Link) Host() hci.Transport {
	return hostSide{l}
}

// Controller is the transport the link layer sends through.
func (l *Link) Controller() hci.Transport {
	return controllerSide{l}
}

func (l *Link) receivers() (host, ll hci.Receiver) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.host, l.ll
}

func (l *Link) freeSlot() {
	select {
	case l.cmdSlot <- struct{}{}:
	default:
	}
}

func deliver(b *hci.Buffer, r hci.Receiver, fn func(hci.Receiver, *hci.Buffer) error) error {
	if r == nil {
		_ = b.Release()
		return ErrNoReceiver
	}
	if err := fn(r, b); err != nil {
		_ = b.Release()
		return err
	}
	return nil
}

func recvCommand(r hci.Receiver, b *hci.Buffer) error { return r.ReceiveCommand(b) }
func recvACL(r hci.Receiver, b *hci.Buffer) error     { return r.ReceiveACL(b) }

type hostSide struct{ l *Link }

func (s hostSide) SendCommand(b *hci.Buffer) error {
	select {
	case <-s.l.cmdSlot:
	default:
		_ = b.Release()
		return ErrCommandBusy
	}

	_, ll := s.l.receivers()
	if err := deliver(b, ll, recvCommand); err != nil {
		s.l.freeSlot()
		return err
	}
	return nil
}

func (s hostSide) SendEvent(b *hci.Buffer) error {
	_ = b.Release()
	return ErrWrongSide
}

func (s hostSide) SendACL(b *hci.Buffer) error {
	_, ll := s.l.receivers()
	return deliver(b, ll, recvACL)
}

type controllerSide struct{ l *Link }

func (s controllerSide) SendCommand(b *hci.Buffer) error {
	_ = b.Release()
	return ErrWrongSide
}

func (s controllerSide) SendEvent(b *hci.Buffer) error {
	if bs := b.Bytes(); len(bs) > 0 && (bs[0] == evt.CommandCompleteCode || bs[0] == evt.CommandStatusCode) {
		s.l.freeSlot()
	}

	host, _ := s.l.receivers()
	return deliver(b, host, recvCommand)
}

func (s controllerSide) SendACL(b *hci.Buffer) error {
	host, _ := s.l.receivers()
	return deliver(b, host, recvACL)
}
