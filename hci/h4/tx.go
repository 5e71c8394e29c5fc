package h4

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rigado/blehost/hci"
)

// ErrQueueFull is returned when the outbound queue cannot take another frame.
var ErrQueueFull = errors.New("h4: outbound queue full")

// SubmitOutbound queues a complete packet for transmission. On any error the
// buffer is released.
func (f *Framer) SubmitOutbound(b *hci.Buffer) error {
	if b == nil {
		return errors.New("h4: nil buffer")
	}

	hl := headerLen(b.Type)
	if hl == 0 {
		_ = b.Release()
		return errors.Wrapf(ErrBadType, "%v", b.Type)
	}
	if b.Len() < hl {
		_ = b.Release()
		return errors.Errorf("h4: short %v packet (%d bytes)", b.Type, b.Len())
	}

	select {
	case f.txQueue <- b:
	default:
		atomic.AddUint64(&f.stats.queueFull, 1)
		_ = b.Release()
		return ErrQueueFull
	}

	f.TxReady()
	return nil
}

// SendCommand, SendEvent and SendACL implement hci.Transport.
func (f *Framer) SendCommand(b *hci.Buffer) error { return f.SubmitOutbound(b) }
func (f *Framer) SendEvent(b *hci.Buffer) error   { return f.SubmitOutbound(b) }
func (f *Framer) SendACL(b *hci.Buffer) error     { return f.SubmitOutbound(b) }

// TxReady signals the transmit driver that data is waiting. Repeated calls
// before the driver wakes collapse into one.
func (f *Framer) TxReady() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Kick is signalled by TxReady.
func (f *Framer) Kick() <-chan struct{} {
	return f.kick
}

// NextOutboundByte returns the next octet to put on the wire. The packet type
// octet precedes each packet; the buffer is released after its last octet.
func (f *Framer) NextOutboundByte() (byte, bool) {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	if f.txCur == nil {
		select {
		case b := <-f.txQueue:
			f.txCur = b
			f.txPos = 0
			return byte(b.Type), true
		default:
			return 0, false
		}
	}

	b := f.txCur
	c := b.Bytes()[f.txPos]
	f.txPos++

	if f.txPos == b.Len() {
		f.txCur = nil
		f.txPos = 0
		atomic.AddUint64(&f.stats.txFrames, 1)
		_ = b.Release()
	}
	return c, true
}

// Drain fills p with pending outbound octets and returns the count.
func (f *Framer) Drain(p []byte) int {
	n := 0
	for n < len(p) {
		c, ok := f.NextOutboundByte()
		if !ok {
			break
		}
		p[n] = c
		n++
	}
	return n
}
