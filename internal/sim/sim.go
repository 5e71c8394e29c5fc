// Package sim is a two-device link layer for in-process hosts. It joins a
// central and a peripheral host, each attached through a ram.Link, over one
// simulated connection.
package sim

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci"
	"github.com/rigado/blehost/hci/evt"
	"github.com/rigado/blehost/hci/ram"
)

// HCI status codes the simulator reports [Vol 1, Part F].
const (
	statusSuccess    = 0x00
	statusKeyMissing = 0x06
	statusDisallowed = 0x0c
	statusMICFailure = 0x3d
)

const (
	central    = 0
	peripheral = 1
)

// Sim relays ACL data between the two hosts and plays the controller part of
// link encryption.
type Sim struct {
	logger blehost.Logger

	mu        sync.Mutex
	nodes     [2]*node
	handle    uint16
	connected bool
	encLTK    [16]byte
	encStart  bool
}

type node struct {
	sim  *Sim
	idx  int
	link *ram.Link
	addr blehost.Addr
}

// New attaches the simulator as the link layer of both links.
func New(c, p *ram.Link, cAddr, pAddr blehost.Addr, logger blehost.Logger) *Sim {
	if logger == nil {
		logger = blehost.GetLogger()
	}
	s := &Sim{logger: logger.ChildLogger(map[string]interface{}{"layer": "sim"})}
	s.nodes[central] = &node{sim: s, idx: central, link: c, addr: cAddr}
	s.nodes[peripheral] = &node{sim: s, idx: peripheral, link: p, addr: pAddr}

	c.SetControllerReceiver(s.nodes[central])
	p.SetControllerReceiver(s.nodes[peripheral])
	return s
}

func (s *Sim) peer(n *node) *node {
	return s.nodes[1-n.idx]
}

// Connect reports a new connection on handle to both hosts.
func (s *Sim) Connect(handle uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return errors.New("sim: already connected")
	}
	s.handle = handle
	s.connected = true
	s.encStart = false

	for _, n := range s.nodes {
		role := byte(hci.RoleMaster)
		if n.idx == peripheral {
			role = hci.RoleSlave
		}
		pa := s.peer(n).addr

		p := make([]byte, 0, 19)
		p = append(p, evt.LEConnectionCompleteSubCode, statusSuccess)
		p = append(p, le16(handle)...)
		p = append(p, role, pa.Type)
		p = append(p, pa.Bytes[:]...)
		p = append(p, 0x18, 0x00, 0x00, 0x00, 0x48, 0x00, 0x00)
		if err := n.event(evt.LEMetaCode, p); err != nil {
			return err
		}
	}
	s.logger.Infof("connected %v -> %v, handle %04x", s.nodes[central].addr, s.nodes[peripheral].addr, handle)
	return nil
}

// Disconnect ends the connection on both sides.
func (s *Sim) Disconnect(reason uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return errors.New("sim: not connected")
	}
	s.connected = false

	p := append([]byte{statusSuccess}, le16(s.handle)...)
	p = append(p, reason)
	for _, n := range s.nodes {
		if err := n.event(evt.DisconnectionCompleteCode, p); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveCommand implements hci.Receiver for commands from one host.
func (n *node) ReceiveCommand(b *hci.Buffer) error {
	defer b.Release()

	bs := b.Bytes()
	if len(bs) < hci.CmdHeaderLen || int(bs[2]) != len(bs)-hci.CmdHeaderLen {
		return errors.Errorf("sim: malformed command % X", bs)
	}

	s := n.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	s.command(n, binary.LittleEndian.Uint16(bs), bs[hci.CmdHeaderLen:])
	return nil
}

// ReceiveACL implements hci.Receiver for data from one host.
func (n *node) ReceiveACL(b *hci.Buffer) error {
	defer b.Release()

	s := n.sim
	s.mu.Lock()
	defer s.mu.Unlock()

	bs := b.Bytes()
	if !s.connected || len(bs) < hci.ACLHeaderLen {
		s.logger.Debugf("dropping acl % X", bs)
		return nil
	}

	to := s.peer(n)
	out, err := to.link.Pool().Get(hci.PktTypeACLData)
	if err != nil {
		s.logger.Warnf("no acl buffer for %v: %v", to.addr, err)
		return nil
	}

	hdr := []byte{bs[0], bs[1]&0xcf | hci.PbfControllerToHostStart<<4, bs[2], bs[3]}
	if err := out.Append(hdr...); err != nil {
		_ = out.Release()
		return nil
	}
	if err := out.Append(bs[hci.ACLHeaderLen:]...); err != nil {
		_ = out.Release()
		return nil
	}
	if err := to.link.Controller().SendACL(out); err != nil {
		s.logger.Warnf("can't deliver acl to %v: %v", to.addr, err)
	}
	return nil
}

func (s *Sim) command(from *node, op uint16, p []byte) {
	switch op {
	case hci.OpLEStartEncryption:
		if from.idx != central || len(p) != 28 || !s.connected {
			from.commandStatus(op, statusDisallowed)
			return
		}
		copy(s.encLTK[:], p[12:28])
		s.encStart = true
		from.commandStatus(op, statusSuccess)

		// handle, rand and ediv go to the peripheral as they came
		req := append([]byte{evt.LELongTermKeyRequestSubCode}, p[:12]...)
		s.logEvt(s.peer(from).event(evt.LEMetaCode, req))

	case hci.OpLELongTermKeyRequestReply:
		if from.idx != peripheral || len(p) != 18 || !s.encStart {
			from.commandComplete(op, statusDisallowed, p[:2]...)
			return
		}
		s.encStart = false
		from.commandComplete(op, statusSuccess, p[:2]...)

		var ltk [16]byte
		copy(ltk[:], p[2:])
		if ltk == s.encLTK {
			s.encryptionChange(statusSuccess, 0x01, s.nodes[:]...)
		} else {
			s.encryptionChange(statusMICFailure, 0x00, s.nodes[:]...)
		}

	case hci.OpLELongTermKeyRequestNeg:
		if from.idx != peripheral || len(p) != 2 || !s.encStart {
			from.commandComplete(op, statusDisallowed, p...)
			return
		}
		s.encStart = false
		from.commandComplete(op, statusSuccess, p...)
		s.encryptionChange(statusKeyMissing, 0x00, s.nodes[central])

	default:
		from.commandComplete(op, statusSuccess)
	}
}

func (s *Sim) encryptionChange(status, enabled uint8, to ...*node) {
	p := append([]byte{status}, le16(s.handle)...)
	p = append(p, enabled)
	for _, n := range to {
		s.logEvt(n.event(evt.EncryptionChangeCode, p))
	}
}

func (s *Sim) logEvt(err error) {
	if err != nil {
		s.logger.Warnf("%v", err)
	}
}

func (n *node) commandComplete(op uint16, status uint8, rp ...byte) {
	p := append([]byte{0x01}, le16(op)...)
	p = append(p, status)
	p = append(p, rp...)
	n.sim.logEvt(n.event(evt.CommandCompleteCode, p))
}

func (n *node) commandStatus(op uint16, status uint8) {
	p := append([]byte{status, 0x01}, le16(op)...)
	n.sim.logEvt(n.event(evt.CommandStatusCode, p))
}

func (n *node) event(code uint8, params []byte) error {
	b, err := n.link.Pool().Get(hci.PktTypeEvent)
	if err != nil {
		return errors.Wrapf(err, "sim: no event buffer for %v", n.addr)
	}
	if err := b.Append(code, byte(len(params))); err != nil {
		_ = b.Release()
		return err
	}
	if err := b.Append(params...); err != nil {
		_ = b.Release()
		return err
	}
	return errors.Wrapf(n.link.Controller().SendEvent(b), "sim: event 0x%02x to %v", code, n.addr)
}

func le16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}
