package smp

import (
	"time"

	"github.com/google/uuid"
	"github.com/rigado/blehost"
)

type procFlags uint16

const (
	flagInitiator procFlags = 1 << iota
	flagSC
	flagAuthenticated
	flagIOInjected
	flagAdvanceOnIO
	flagBonding
	flagRestore
)

// proc is one in-flight pairing or encryption procedure.
type proc struct {
	id      uuid.UUID
	handle  uint16
	state   State
	flags   procFlags
	expires time.Time
	logger  blehost.Logger

	// initiator and responder addresses, as used by f5 and f6
	ia blehost.Addr
	ra blehost.Addr

	req PairCmd
	rsp PairCmd

	action IOAction
	alg    Algorithm

	tk          [16]byte
	peerPub     PublicKey
	dhkey       [32]byte
	ourRand     [16]byte
	peerRand    [16]byte
	confirmPeer [16]byte
	macKey      [16]byte
	ltk         [16]byte
	ri          uint8
	passkeyBits int

	// stored bond used by encryption restore
	ediv uint16
	rand uint64

	ourKeys  KeyRecord
	peerKeys KeyRecord
}

func newProc(handle uint16, initiator bool, state State, logger blehost.Logger) *proc {
	p := &proc{
		id:     uuid.New(),
		handle: handle,
		state:  state,
	}
	if initiator {
		p.flags |= flagInitiator
	}
	p.logger = logger.ChildLogger(map[string]interface{}{
		"conn": handle,
		"proc": p.id.String(),
	})
	return p
}

func (p *proc) initiator() bool {
	return p.flags&flagInitiator != 0
}

func (p *proc) has(f procFlags) bool {
	return p.flags&f != 0
}

func (p *proc) ourAddr() blehost.Addr {
	if p.initiator() {
		return p.ia
	}
	return p.ra
}

func (p *proc) peerAddr() blehost.Addr {
	if p.initiator() {
		return p.ra
	}
	return p.ia
}

// randM and randS are the initiator and responder nonces.
func (p *proc) randM() [16]byte {
	if p.initiator() {
		return p.ourRand
	}
	return p.peerRand
}

func (p *proc) randS() [16]byte {
	if p.initiator() {
		return p.peerRand
	}
	return p.ourRand
}

// ourCmd is the pairing command this side sent.
func (p *proc) ourCmd() PairCmd {
	if p.initiator() {
		return p.req
	}
	return p.rsp
}

func (p *proc) peerCmd() PairCmd {
	if p.initiator() {
		return p.rsp
	}
	return p.req
}

// canAdvance reports whether the procedure may leave its current state
// without waiting for user input.
func (p *proc) canAdvance() bool {
	return pkactState(p.action) != p.state || p.has(flagIOInjected)
}

// wipe clears all key material held by the procedure.
func (p *proc) wipe() {
	wipe(p.tk[:])
	wipe(p.dhkey[:])
	wipe(p.ourRand[:])
	wipe(p.peerRand[:])
	wipe(p.confirmPeer[:])
	wipe(p.macKey[:])
	wipe(p.ltk[:])
	p.ourKeys.wipe()
	p.peerKeys.wipe()
}

const anyRole = -1

// procStore holds at most one procedure per connection handle. Callers
// serialize access.
type procStore struct {
	procs map[uint16]*proc
}

func newProcStore() *procStore {
	return &procStore{procs: make(map[uint16]*proc)}
}

// find returns the procedure for handle if it is in state and has the given
// role. StateNone and anyRole match anything.
func (s *procStore) find(handle uint16, state State, initiator int) *proc {
	p, ok := s.procs[handle]
	if !ok {
		return nil
	}
	if state != StateNone && p.state != state {
		return nil
	}
	if initiator != anyRole && p.initiator() != (initiator == 1) {
		return nil
	}
	return p
}

func (s *procStore) insert(p *proc) error {
	if _, ok := s.procs[p.handle]; ok {
		return ErrBusy
	}
	s.procs[p.handle] = p
	return nil
}

func (s *procStore) remove(handle uint16) *proc {
	p, ok := s.procs[handle]
	if !ok {
		return nil
	}
	delete(s.procs, handle)
	return p
}

// expired removes and returns every procedure whose deadline is before now.
func (s *procStore) expired(now time.Time) []*proc {
	var out []*proc
	for h, p := range s.procs {
		if !p.expires.IsZero() && now.After(p.expires) {
			delete(s.procs, h)
			out = append(out, p)
		}
	}
	return out
}

func (s *procStore) len() int {
	return len(s.procs)
}
