package h4

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rigado/blehost/hci"
)

// Status is the outcome of feeding one received octet to the framer.
type Status int

const (
	StatusPending Status = iota
	StatusFrameComplete
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFrameComplete:
		return "frame complete"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	ErrBadType      = errors.New("unknown h4 packet type")
	ErrFrameTooLong = errors.New("frame exceeds buffer capacity")
)

// rxState is the receive half of a framer session. It is only touched from
// the goroutine calling OnByteReceived.
type rxState struct {
	typ hci.PacketType
	buf *hci.Buffer
	len int // total frame length once the header is complete, else 0

	// drop-until-resync: the header is still parsed so that exactly one frame
	// worth of octets is discarded.
	dropping bool
	hdr      [hci.ACLHeaderLen]byte
	seen     int
}

func headerLen(t hci.PacketType) int {
	switch t {
	case hci.PktTypeCommand:
		return hci.CmdHeaderLen
	case hci.PktTypeEvent:
		return hci.EvtHeaderLen
	case hci.PktTypeACLData:
		return hci.ACLHeaderLen
	default:
		return 0
	}
}

// paramLen extracts the header-declared payload length.
func paramLen(t hci.PacketType, hdr []byte) int {
	switch t {
	case hci.PktTypeCommand:
		return int(hdr[2])
	case hci.PktTypeEvent:
		return int(hdr[1])
	case hci.PktTypeACLData:
		return int(binary.LittleEndian.Uint16(hdr[2:4]))
	default:
		return 0
	}
}

// OnByteReceived feeds one octet of the incoming stream into the reassembly
// state machine. Completed frames are handed to the registered receiver and
// the assembler returns to idle.
func (f *Framer) OnByteReceived(c byte) Status {
	r := &f.rx

	switch {
	case r.typ == hci.PktTypeNone:
		return f.rxStart(c)
	case r.dropping:
		return f.rxDrop(c)
	default:
		return f.rxAppend(c)
	}
}

func (f *Framer) rxStart(c byte) Status {
	r := &f.rx
	t := hci.PacketType(c)

	switch t {
	case hci.PktTypeCommand, hci.PktTypeEvent, hci.PktTypeACLData:
	default:
		f.setErr(errors.Wrapf(ErrBadType, "0x%02x", c))
		return StatusError
	}

	r.typ = t
	buf, err := f.pool.Get(t)
	if err != nil {
		f.logger.Warnf("h4: no %v buffer, dropping frame", t)
		f.setErr(err)
		f.startDrop(nil)
		f.stall(t)
		return StatusError
	}

	r.buf = buf
	r.len = 0
	return StatusPending
}

func (f *Framer) rxAppend(c byte) Status {
	r := &f.rx

	if err := r.buf.Append(c); err != nil {
		seen := append(append([]byte{}, r.buf.Bytes()...), c)
		_ = r.buf.Release()
		r.buf = nil
		f.setErr(errors.Wrap(ErrFrameTooLong, err.Error()))
		f.startDrop(seen)
		return StatusError
	}

	hl := headerLen(r.typ)
	n := r.buf.Len()
	if n < hl {
		return StatusPending
	}

	if n == hl {
		pl := paramLen(r.typ, r.buf.Bytes())
		r.len = hl + pl

		if r.typ == hci.PktTypeACLData && pl > f.pool.ACLMax() {
			f.logger.Warnf("h4: acl length %d > %d, dropping frame", pl, f.pool.ACLMax())
			seen := append([]byte{}, r.buf.Bytes()...)
			_ = r.buf.Release()
			r.buf = nil
			f.setErr(errors.Wrapf(ErrFrameTooLong, "acl length %d", pl))
			f.startDrop(seen)
			return StatusError
		}
	}

	if n < r.len {
		return StatusPending
	}

	buf := r.buf
	f.resetRx()
	atomic.AddUint64(&f.stats.rxFrames, 1)

	var err error
	if buf.Type == hci.PktTypeACLData {
		err = f.receiver().ReceiveACL(buf)
	} else {
		err = f.receiver().ReceiveCommand(buf)
	}
	if err != nil {
		f.logger.Debugf("h4: receiver rejected %v frame: %v", buf.Type, err)
		_ = buf.Release()
	}

	return StatusFrameComplete
}

// startDrop switches to discard mode; seen holds the octets of the current
// frame already consumed after the type octet.
func (f *Framer) startDrop(seen []byte) {
	r := &f.rx
	r.dropping = true
	r.len = 0
	r.seen = 0
	for _, c := range seen {
		f.dropOne(c)
		if !r.dropping {
			return
		}
	}
}

func (f *Framer) rxDrop(c byte) Status {
	f.dropOne(c)
	return StatusPending
}

func (f *Framer) dropOne(c byte) {
	r := &f.rx
	hl := headerLen(r.typ)

	if r.seen < hl {
		r.hdr[r.seen] = c
	}
	r.seen++
	if r.seen == hl {
		r.len = hl + paramLen(r.typ, r.hdr[:hl])
	}

	if r.len != 0 && r.seen >= r.len {
		f.endDrop()
	}
}

func (f *Framer) endDrop() {
	atomic.AddUint64(&f.stats.rxDropped, 1)
	f.resetRx()
	f.unstallIfFree()
}

func (f *Framer) resetRx() {
	f.rx = rxState{}
}
