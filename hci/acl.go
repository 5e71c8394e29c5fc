package hci

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// packet is an HCI ACL data packet without the H4 type octet.
type packet []byte

func (a packet) handle() uint16 { return uint16(a[0]) | (uint16(a[1]&0x0f) << 8) }
func (a packet) pbf() int       { return (int(a[1]) >> 4) & 0x3 }
func (a packet) dlen() int      { return int(a[2]) | (int(a[3]) << 8) }
func (a packet) data() []byte   { return a[4:] }

// handleACL routes a complete basic-mode L2CAP frame to its fixed channel.
// Fragmented SDUs are not reassembled: SM PDUs always fit the LE minimum
// ACL payload.
func (h *HCI) handleACL(b []byte) error {
	if len(b) < ACLHeaderLen {
		return errors.Errorf("short acl packet: % X", b)
	}

	p := packet(b)
	if p.dlen() != len(p.data()) {
		return errors.Errorf("acl length mismatch %d != %d", p.dlen(), len(p.data()))
	}
	if p.pbf() == PbfContinuing {
		h.logger.Debugf("conn %d: dropping continuation fragment", p.handle())
		return nil
	}

	d := p.data()
	if len(d) < l2capHeaderLen {
		return errors.Errorf("short l2cap frame: % X", d)
	}
	l2len := int(binary.LittleEndian.Uint16(d))
	cid := binary.LittleEndian.Uint16(d[2:])
	if l2len != len(d)-l2capHeaderLen {
		h.logger.Debugf("conn %d: dropping fragmented sdu, %d of %d bytes", p.handle(), len(d)-l2capHeaderLen, l2len)
		return nil
	}

	if _, err := h.Conn(p.handle()); err != nil {
		h.logger.Warnf("invalid connection handle on ACL packet: %04X", p.handle())
		return nil
	}

	switch cid {
	case CidSMP:
		if err := h.sm.Handle(p.handle(), d[l2capHeaderLen:]); err != nil {
			h.logger.Warnf("conn %d: smp: %v", p.handle(), err)
		}
	default:
		h.logger.Debugf("conn %d: no handler for cid 0x%04x", p.handle(), cid)
	}
	return nil
}

// writeL2CAP sends one basic-mode L2CAP frame on handle.
func (h *HCI) writeL2CAP(handle uint16, cid uint16, payload []byte) error {
	if len(payload)+l2capHeaderLen > h.pool.ACLMax() {
		return errors.Errorf("l2cap payload too long: %d", len(payload))
	}

	b, err := h.pool.Get(PktTypeACLData)
	if err != nil {
		return errors.Wrap(err, "can't get acl buffer")
	}

	dlen := uint16(len(payload) + l2capHeaderLen)
	hf := handle&0x0fff | uint16(PbfHostToControllerStart)<<12

	hdr := make([]byte, ACLHeaderLen+l2capHeaderLen)
	binary.LittleEndian.PutUint16(hdr[0:], hf)
	binary.LittleEndian.PutUint16(hdr[2:], dlen)
	binary.LittleEndian.PutUint16(hdr[4:], uint16(len(payload)))
	binary.LittleEndian.PutUint16(hdr[6:], cid)

	if err := b.Append(hdr...); err != nil {
		_ = b.Release()
		return err
	}
	if err := b.Append(payload...); err != nil {
		_ = b.Release()
		return err
	}
	return h.transport.SendACL(b)
}
