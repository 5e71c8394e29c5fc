package smp

import (
	"github.com/pkg/errors"
)

// Secure Connections steps. The go steps run under the manager lock from
// exec; the rx steps are called with the lock held by the driver, except
// publicKeyRx which computes the DH key first.

func (m *Manager) scPublicKeyGo(p *proc, res *result) {
	kp := m.localKeys()
	if kp == nil {
		res.fail(errors.New("no local key pair"), ReasonUnspecified)
		return
	}

	var cmd PairingPublicKey
	copy(cmd.X[:], kp.Public.X())
	copy(cmd.Y[:], kp.Public.Y())
	if err := m.send(p, cmd); err != nil {
		res.fail(err, ReasonUnspecified)
		return
	}

	if pkactState(p.action) == StateConfirm {
		res.action.Action = p.action
	}

	if !p.initiator() {
		p.state = StateConfirm
		if p.canAdvance() && !initiatorTxesConfirm(p) {
			res.execute = true
		}
	}
}

func (m *Manager) scPublicKeyRx(handle uint16, cmd PairingPublicKey) result {
	var res result

	var peer PublicKey
	copy(peer[:32], cmd.X[:])
	copy(peer[32:], cmd.Y[:])

	kp := m.localKeys()
	if kp == nil {
		res.fail(errors.New("no local key pair"), ReasonUnspecified)
		return res
	}
	dhkey, dhErr := m.crypto.DHKey(peer, kp)

	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.procs.find(handle, StatePublicKey, anyRole)
	switch {
	case p == nil:
		res.err = ErrNotFound
	case peer == kp.Public:
		p.logger.Warn("peer public key equals ours")
		res.fail(Error{Reason: ReasonUnspecified}, ReasonUnspecified)
	case dhErr != nil:
		res.fail(errors.Wrapf(Error{Reason: ReasonDHKeyCheckFailed}, "dhkey: %v", dhErr), ReasonDHKeyCheckFailed)
	default:
		p.peerPub = peer
		p.dhkey = dhkey
		if p.initiator() {
			p.state = StateConfirm
			if p.canAdvance() && initiatorTxesConfirm(p) {
				res.execute = true
			}
		} else {
			res.execute = true
		}
	}
	wipe(dhkey[:])
	return res
}

// genRi picks the f4 Z input for the next confirm.
func (m *Manager) genRi(p *proc) error {
	switch p.alg {
	case JustWorks, NumericComparison:
		p.ri = 0
	case Passkey:
		// one passkey bit per round, least significant first
		b := p.passkeyBits
		p.ri = 0x80 | (p.tk[b/8]>>uint(b%8))&0x01
		p.passkeyBits++
	case OOB:
		var r [1]byte
		if err := m.crypto.Rand(r[:]); err != nil {
			return err
		}
		p.ri = r[0]
	default:
		return errors.Errorf("unknown algorithm %v", p.alg)
	}
	return nil
}

func (m *Manager) scConfirmGo(p *proc, res *result) {
	if err := m.genRi(p); err != nil {
		res.fail(err, ReasonUnspecified)
		return
	}

	kp := m.localKeys()
	c, err := m.crypto.F4(kp.Public.X(), p.peerPub.X(), p.ourRand, p.ri)
	if err != nil {
		res.fail(err, ReasonUnspecified)
		return
	}

	if err := m.send(p, PairingConfirm{Value: c}); err != nil {
		res.fail(err, ReasonUnspecified)
		return
	}

	if !p.initiator() {
		p.state = StateRandom
	}
}

func (m *Manager) genNumcmp(p *proc) (uint32, error) {
	pka := m.localKeys().Public.X()
	pkb := p.peerPub.X()
	if !p.initiator() {
		pka, pkb = pkb, pka
	}
	return m.crypto.G2(pka, pkb, p.randM(), p.randS())
}

// randomAdvance moves on after a random exchange: another passkey round,
// or the DHKey check.
func (m *Manager) randomAdvance(p *proc) error {
	if p.alg != Passkey || p.passkeyBits >= passkeyBits {
		p.state = StateDHKeyCheck
		return nil
	}

	p.state = StateConfirm
	return m.crypto.Rand(p.ourRand[:])
}

// reportNumcmp fills in the user action if the procedure is waiting on it.
func (m *Manager) reportNumcmp(p *proc, res *result) bool {
	if pkactState(p.action) != p.state || p.has(flagIOInjected) {
		return false
	}

	res.action.Action = p.action
	if p.action == IONumCmp {
		n, err := m.genNumcmp(p)
		if err != nil {
			res.fail(err, ReasonUnspecified)
			return true
		}
		res.action.NumCmp = n
	}
	return true
}

func (m *Manager) scRandomGo(p *proc, res *result) {
	if err := m.send(p, PairingRandom{Value: p.ourRand}); err != nil {
		res.fail(err, ReasonUnspecified)
		return
	}

	if !p.initiator() {
		if err := m.randomAdvance(p); err != nil {
			res.fail(err, ReasonUnspecified)
			return
		}
		m.reportNumcmp(p, res)
	}
}

func (m *Manager) scRandomRx(p *proc, res *result) {
	kp := m.localKeys()

	if p.initiator() || responderVerifiesRandom(p) {
		c, err := m.crypto.F4(p.peerPub.X(), kp.Public.X(), p.peerRand, p.ri)
		if err != nil {
			res.fail(err, ReasonUnspecified)
			return
		}
		if c != p.confirmPeer {
			p.logger.Warn("peer confirm does not match its random")
			res.fail(Error{Reason: ReasonConfirmValueFailed}, ReasonUnspecified)
			return
		}
	}

	mk, ltk, err := m.crypto.F5(p.dhkey, p.randM(), p.randS(), p.ia, p.ra)
	if err != nil {
		res.fail(err, ReasonUnspecified)
		return
	}
	p.macKey = mk
	p.ltk = ltk

	// held by the procedure until encryption succeeds
	for _, k := range []*KeyRecord{&p.ourKeys, &p.peerKeys} {
		k.LTK = ltk
		k.LTKValid = true
		k.EDiv = 0
		k.Rand = 0
		k.EDivRandValid = true
		k.Authenticated = p.has(flagAuthenticated)
		k.SC = true
	}

	if !p.initiator() {
		res.execute = true
		return
	}

	if err := m.randomAdvance(p); err != nil {
		res.fail(err, ReasonUnspecified)
		return
	}
	if !m.reportNumcmp(p, res) {
		res.execute = true
	}
}

func (m *Manager) scDHKeyCheckGo(p *proc, res *result) {
	v, err := m.crypto.F6(p.macKey, p.ourRand, p.peerRand, p.tk,
		p.ourCmd().ioCapField(), p.ourAddr(), p.peerAddr())
	if err != nil {
		res.fail(err, ReasonUnspecified)
		return
	}

	if err := m.send(p, PairingDHKeyCheck{Value: v}); err != nil {
		res.fail(err, ReasonUnspecified)
		return
	}

	if !p.initiator() {
		p.state = StateLTKStart
	}
}

func (m *Manager) scDHKeyCheckRx(handle uint16, cmd PairingDHKeyCheck) result {
	var res result

	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.procs.find(handle, StateDHKeyCheck, anyRole)
	if p == nil {
		res.err = ErrNotFound
		return res
	}

	exp, err := m.crypto.F6(p.macKey, p.peerRand, p.ourRand, p.tk,
		p.peerCmd().ioCapField(), p.peerAddr(), p.ourAddr())
	if err != nil {
		res.fail(err, ReasonUnspecified)
		return res
	}

	if exp != cmd.Value {
		p.logger.Warn("dhkey check mismatch")
		res.fail(Error{Reason: ReasonDHKeyCheckFailed}, ReasonDHKeyCheckFailed)
		return res
	}

	if pkactState(p.action) == p.state {
		p.flags |= flagAdvanceOnIO
	}

	if p.canAdvance() {
		if p.initiator() {
			p.state = StateEncStart
		}
		res.execute = true
	}
	return res
}
