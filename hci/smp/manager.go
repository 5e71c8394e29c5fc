package smp

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
)

const defaultTimeout = 30 * time.Second

// Sender transmits an SM PDU on the connection's SMP channel. It must not
// call back into the Manager before returning.
type Sender interface {
	SendSMP(handle uint16, pdu []byte) error
}

// Encrypter issues the link-layer encryption commands.
type Encrypter interface {
	StartEncryption(handle uint16, ltk [16]byte, ediv uint16, rand uint64) error
	LTKReply(handle uint16, ltk [16]byte) error
	LTKNegReply(handle uint16) error
}

// ConnDesc describes one LE connection from the local side.
type ConnDesc struct {
	Handle uint16
	Local  blehost.Addr
	Peer   blehost.Addr
	Master bool
}

// ConnInfo looks up connections by handle.
type ConnInfo interface {
	Conn(handle uint16) (ConnDesc, error)
}

// Host is the HCI side of the Security Manager.
type Host interface {
	Sender
	Encrypter
	ConnInfo
}

// EncEvent reports the end of a pairing or encryption procedure.
type EncEvent struct {
	Handle        uint16
	Peer          blehost.Addr
	Err           error
	Restored      bool
	Bonded        bool
	Authenticated bool
	Alg           Algorithm
}

// Handler receives application events. Calls are made without any Manager
// lock held, so handlers may call InjectIO.
type Handler interface {
	PasskeyAction(a PasskeyAction)
	PairingComplete(e EncEvent)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	OnPasskeyAction   func(a PasskeyAction)
	OnPairingComplete func(e EncEvent)
}

func (h HandlerFuncs) PasskeyAction(a PasskeyAction) {
	if h.OnPasskeyAction != nil {
		h.OnPasskeyAction(a)
	}
}

func (h HandlerFuncs) PairingComplete(e EncEvent) {
	if h.OnPairingComplete != nil {
		h.OnPairingComplete(e)
	}
}

// IO is user input for a procedure waiting on a passkey action.
type IO struct {
	Action       IOAction
	Passkey      uint32
	OOB          [16]byte
	NumCmpAccept bool
}

// Manager runs the Security Manager for every connection of one host.
type Manager struct {
	cfg     blehost.SecurityConfig
	timeout time.Duration
	host    Host
	crypto  Crypto
	store   KeyStore
	handler Handler
	logger  blehost.Logger
	now     func() time.Time

	keyMu   sync.RWMutex
	keyPair *KeyPair

	mu    sync.Mutex
	procs *procStore
}

// Option configures a Manager.
type Option func(*Manager)

// OptCrypto replaces the default crypto implementation.
func OptCrypto(c Crypto) Option {
	return func(m *Manager) { m.crypto = c }
}

// OptKeyStore sets where bonds are saved and looked up.
func OptKeyStore(ks KeyStore) Option {
	return func(m *Manager) { m.store = ks }
}

func OptHandler(h Handler) Option {
	return func(m *Manager) { m.handler = h }
}

func OptLogger(l blehost.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// OptClock overrides time.Now for procedure deadlines.
func OptClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Security Manager on top of host.
func NewManager(cfg blehost.SecurityConfig, host Host, opts ...Option) (*Manager, error) {
	if host == nil {
		return nil, errors.New("smp: nil host")
	}
	if cfg.IoCap >= ioCapReservedStart {
		return nil, errors.Errorf("smp: invalid io capability 0x%02x", cfg.IoCap)
	}
	if !cfg.SC {
		return nil, errors.New("smp: legacy pairing is not supported")
	}
	if cfg.MaxKeySize < keySizeMin || cfg.MaxKeySize > keySizeMax {
		return nil, errors.Errorf("smp: invalid max key size %d", cfg.MaxKeySize)
	}

	m := &Manager{
		cfg:     cfg,
		timeout: cfg.Timeout,
		host:    host,
		crypto:  NewCrypto(),
		store:   nopStore{},
		handler: HandlerFuncs{},
		now:     time.Now,
		procs:   newProcStore(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.store == nil {
		m.store = nopStore{}
	}
	if m.handler == nil {
		m.handler = HandlerFuncs{}
	}
	if m.crypto == nil {
		m.crypto = NewCrypto()
	}
	if m.timeout <= 0 {
		m.timeout = defaultTimeout
	}
	if m.logger == nil {
		m.logger = blehost.GetLogger()
	}
	m.logger = m.logger.ChildLogger(map[string]interface{}{"layer": "smp"})

	return m, nil
}

// RegenerateKeys replaces the local SC key pair. Procedures already past
// the public key exchange will fail.
func (m *Manager) RegenerateKeys() error {
	kp, err := m.crypto.GenerateKeys()
	if err != nil {
		return errors.Wrap(err, "can't generate local key pair")
	}

	m.keyMu.Lock()
	m.keyPair = kp
	m.keyMu.Unlock()
	return nil
}

// ensureKeys generates the local key pair on first use. It must not be
// called with mu held.
func (m *Manager) ensureKeys() (*KeyPair, error) {
	if kp := m.localKeys(); kp != nil {
		return kp, nil
	}

	kp, err := m.crypto.GenerateKeys()
	if err != nil {
		return nil, errors.Wrap(err, "can't generate local key pair")
	}

	m.keyMu.Lock()
	defer m.keyMu.Unlock()
	if m.keyPair == nil {
		m.keyPair = kp
	}
	return m.keyPair, nil
}

func (m *Manager) localKeys() *KeyPair {
	m.keyMu.RLock()
	defer m.keyMu.RUnlock()
	return m.keyPair
}

// State returns the state of the procedure on handle, if any.
func (m *Manager) State(handle uint16) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.procs.find(handle, StateNone, anyRole)
	if p == nil {
		return StateNone, false
	}
	return p.state, true
}

func (m *Manager) send(p *proc, cmd PDU) error {
	p.logger.Debugf("tx %T", cmd)
	return m.host.SendSMP(p.handle, cmd.Marshal())
}

func (m *Manager) sendFailed(handle uint16, r Reason) {
	m.logger.Debugf("conn %d: tx pairing failed: %v", handle, r)
	if err := m.host.SendSMP(handle, PairingFailed{Reason: r}.Marshal()); err != nil {
		m.logger.Warnf("conn %d: can't send pairing failed: %v", handle, err)
	}
}

// pairCmd builds the local pairing request or response.
func (m *Manager) pairCmd() PairCmd {
	c := PairCmd{
		IoCap:      m.cfg.IoCap,
		MaxKeySize: m.cfg.MaxKeySize,
		AuthReq:    authReqSC,
	}
	if m.cfg.OOB {
		c.OobFlag = oobDataPreset
	}
	if m.cfg.Bonding {
		c.AuthReq |= authReqBond
	}
	if m.cfg.MITM {
		c.AuthReq |= authReqMITM
	}
	return c
}

func (m *Manager) newProc(c ConnDesc, initiator bool, state State) *proc {
	p := newProc(c.Handle, initiator, state, m.logger)
	if initiator {
		p.ia, p.ra = c.Local, c.Peer
	} else {
		p.ia, p.ra = c.Peer, c.Local
	}
	p.expires = m.now().Add(m.timeout)
	return p
}

// Pair starts pairing as initiator on handle. Only the master of a
// connection may initiate.
func (m *Manager) Pair(handle uint16) error {
	if _, err := m.ensureKeys(); err != nil {
		return err
	}

	c, err := m.host.Conn(handle)
	if err != nil {
		return errors.Wrapf(ErrNotConnected, "conn %d: %v", handle, err)
	}

	res, err := m.startPair(c)
	if err != nil {
		return err
	}
	m.process(handle, res)
	return nil
}

func (m *Manager) startPair(c ConnDesc) (result, error) {
	if !c.Master {
		return result{}, errors.Wrap(ErrInvalidParams, "only the master initiates pairing")
	}

	p := m.newProc(c, true, StatePair)
	p.req = m.pairCmd()
	if err := m.crypto.Rand(p.ourRand[:]); err != nil {
		return result{}, err
	}

	m.mu.Lock()
	err := m.procs.insert(p)
	m.mu.Unlock()
	if err != nil {
		return result{}, err
	}

	p.logger.Infof("pairing started, %v", p.req)
	return result{execute: true}, nil
}

// checkPairCmd validates the peer's pairing parameters.
func checkPairCmd(c PairCmd) Reason {
	switch {
	case c.IoCap >= ioCapReservedStart:
		return ReasonInvalidParameters
	case c.MaxKeySize < keySizeMin || c.MaxKeySize > keySizeMax:
		return ReasonEncryptionKeySize
	case !isSC(c.AuthReq):
		return ReasonAuthenticationRequirements
	}
	return 0
}

// negotiate settles the algorithm once both pairing commands are known.
func (m *Manager) negotiate(p *proc, res *result) bool {
	if r := checkPairCmd(p.peerCmd()); r != 0 {
		res.fail(Error{Reason: r}, r)
		return false
	}

	p.flags |= flagSC
	if isBonding(p.req.AuthReq) && isBonding(p.rsp.AuthReq) {
		p.flags |= flagBonding
	}

	passkeyAction(p)
	if m.cfg.MITM && p.alg == JustWorks {
		res.fail(Error{Reason: ReasonAuthenticationRequirements}, ReasonAuthenticationRequirements)
		return false
	}

	p.logger.Infof("negotiated %v, action %v", p.alg, p.action)
	return true
}

func (m *Manager) pairReqRx(handle uint16, cmd PairingRequest) result {
	var res result

	c, err := m.host.Conn(handle)
	if err != nil {
		res.err = errors.Wrapf(ErrNotFound, "conn %d: %v", handle, err)
		return res
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Master {
		res.fail(Error{Reason: ReasonCommandNotSupported}, ReasonCommandNotSupported)
		return res
	}

	if old := m.procs.remove(handle); old != nil {
		old.logger.Info("replaced by a new pairing request")
		old.wipe()
	}

	p := m.newProc(c, false, StatePair)
	p.req = cmd.PairCmd
	p.rsp = m.pairCmd()
	if err := m.procs.insert(p); err != nil {
		res.err = err
		return res
	}

	if !m.negotiate(p, &res) {
		return res
	}

	if err := m.crypto.Rand(p.ourRand[:]); err != nil {
		res.fail(err, ReasonUnspecified)
		return res
	}

	res.execute = true
	return res
}

func (m *Manager) pairRspRx(handle uint16, cmd PairingResponse) result {
	var res result

	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.procs.find(handle, StatePair, 1)
	if p == nil {
		res.err = ErrNotFound
		return res
	}

	p.rsp = cmd.PairCmd
	if !m.negotiate(p, &res) {
		return res
	}

	p.state = StatePublicKey
	res.execute = true
	return res
}

func (m *Manager) confirmRx(handle uint16, cmd PairingConfirm) result {
	var res result

	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.procs.find(handle, StateConfirm, anyRole)
	if p == nil {
		res.err = ErrNotFound
		return res
	}

	p.confirmPeer = cmd.Value
	if p.initiator() {
		p.state = StateRandom
		res.execute = true
		return res
	}

	if pkactState(p.action) == p.state {
		p.flags |= flagAdvanceOnIO
	}
	if p.canAdvance() {
		res.execute = true
	}
	return res
}

func (m *Manager) randomRx(handle uint16, cmd PairingRandom) result {
	var res result

	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.procs.find(handle, StateRandom, anyRole)
	if p == nil {
		res.err = ErrNotFound
		return res
	}

	p.peerRand = cmd.Value
	m.scRandomRx(p, &res)
	return res
}

func (m *Manager) pairingFailedRx(handle uint16, cmd PairingFailed) {
	m.mu.Lock()
	p := m.procs.remove(handle)
	m.mu.Unlock()

	if p == nil {
		return
	}

	err := Error{Reason: cmd.Reason, Remote: true}
	p.logger.Warn(err)
	p.wipe()
	m.handler.PairingComplete(EncEvent{
		Handle: handle,
		Peer:   p.peerAddr(),
		Err:    err,
		Alg:    p.alg,
	})
}

func (m *Manager) securityRequestRx(handle uint16, cmd SecurityRequest) result {
	var res result

	c, err := m.host.Conn(handle)
	if err != nil {
		res.err = errors.Wrapf(ErrNotFound, "conn %d: %v", handle, err)
		return res
	}
	if !c.Master {
		res.fail(Error{Reason: ReasonCommandNotSupported}, ReasonCommandNotSupported)
		return res
	}

	m.mu.Lock()
	busy := m.procs.find(handle, StateNone, anyRole) != nil
	m.mu.Unlock()
	if busy {
		return res
	}

	k, err := m.store.Find(c.Peer)
	if err == nil && k.LTKValid && (!isMITM(cmd.AuthReq) || k.Authenticated) {
		p := m.newProc(c, true, StateEncStart)
		p.flags |= flagRestore
		if k.Authenticated {
			p.flags |= flagAuthenticated
		}
		p.ltk = k.LTK
		p.ediv = k.EDiv
		p.rand = k.Rand

		m.mu.Lock()
		err = m.procs.insert(p)
		m.mu.Unlock()
		if err != nil {
			return res
		}
		p.logger.Info("restoring encryption from bond")
		res.execute = true
		return res
	}

	res, err = m.startPair(c)
	if err != nil {
		m.logger.Warnf("conn %d: can't pair on security request: %v", handle, err)
		res.err = errors.Wrap(ErrNotFound, err.Error())
	}
	return res
}

// InjectIO supplies the user input a procedure is waiting on.
func (m *Manager) InjectIO(handle uint16, io IO) error {
	var res result

	m.mu.Lock()
	p := m.procs.find(handle, StateNone, anyRole)
	switch {
	case p == nil:
		m.mu.Unlock()
		return ErrNotFound
	case p.has(flagIOInjected):
		m.mu.Unlock()
		return ErrAlreadyInjected
	case io.Action != p.action:
		m.mu.Unlock()
		return errors.Wrapf(ErrInvalidParams, "expected %v, got %v", p.action, io.Action)
	case !ioReady(p, io.Action):
		m.mu.Unlock()
		return errors.Wrapf(ErrInvalidParams, "not ready for input in state %v", p.state)
	}

	// input taken early is consumed once the procedure reaches its state
	advance := p.state == pkactState(io.Action) && (p.initiator() || p.has(flagAdvanceOnIO))

	switch io.Action {
	case IOInput, IODisplay:
		if io.Passkey > passkeyMax {
			m.mu.Unlock()
			return errors.Wrapf(ErrInvalidParams, "passkey %d", io.Passkey)
		}
		p.tk = [16]byte{}
		binary.LittleEndian.PutUint32(p.tk[:4], io.Passkey)
		p.flags |= flagIOInjected
		res.execute = advance

	case IOOOB:
		p.tk = io.OOB
		p.flags |= flagIOInjected
		res.execute = advance

	case IONumCmp:
		if !io.NumCmpAccept {
			res.fail(Error{Reason: ReasonNumericComparisonFailed}, ReasonNumericComparisonFailed)
			break
		}
		p.flags |= flagIOInjected
		res.execute = advance
	}
	m.mu.Unlock()

	m.process(handle, res)
	return nil
}

// ioReady reports whether input for a can be taken now. Passkey and OOB
// data may come as soon as the action is known; a numeric comparison answer
// only once the value has been shown.
func ioReady(p *proc, a IOAction) bool {
	st := pkactState(a)
	if a == IONumCmp {
		return p.state == st
	}
	return p.state >= StatePublicKey && p.state <= st
}

// LTKRequest handles the controller asking for the key of a connection
// where we are slave.
func (m *Manager) LTKRequest(handle uint16, ediv uint16, rand uint64) error {
	var res result

	m.mu.Lock()
	p := m.procs.find(handle, StateNone, anyRole)
	switch {
	case p == nil:
		m.mu.Unlock()
		c, err := m.host.Conn(handle)
		if err != nil {
			return errors.Wrapf(ErrNotConnected, "conn %d: %v", handle, err)
		}
		p = m.newProc(c, false, StateLTKRestore)
		p.flags |= flagRestore
		p.ediv = ediv
		p.rand = rand

		m.mu.Lock()
		err = m.procs.insert(p)
		m.mu.Unlock()
		if err != nil {
			return err
		}
		res.execute = true

	case p.state == StateLTKStart && !p.initiator():
		m.mu.Unlock()
		res.execute = true

	default:
		st := p.state
		m.mu.Unlock()
		if err := m.host.LTKNegReply(handle); err != nil {
			m.logger.Warnf("conn %d: ltk negative reply: %v", handle, err)
		}
		res.err = errors.Wrapf(ErrInvalidParams, "ltk request in state %v", st)
		res.encCB = true
	}

	m.process(handle, res)
	return nil
}

// EncryptionChanged ends the procedure waiting on link encryption.
func (m *Manager) EncryptionChanged(handle uint16, status uint8, enabled bool) {
	var res result

	m.mu.Lock()
	p := m.procs.find(handle, StateEncStart, anyRole)
	if p == nil {
		m.mu.Unlock()
		m.logger.Debugf("conn %d: encryption change without procedure", handle)
		return
	}

	if status == 0 && enabled {
		p.state = StateNone
		res.encCB = true
	} else {
		res.err = errors.Wrapf(Error{Reason: ReasonUnspecified}, "encryption change status 0x%02x", status)
		res.encCB = true
	}
	m.mu.Unlock()

	m.process(handle, res)
}

// ConnBroken discards the procedure of a closed connection.
func (m *Manager) ConnBroken(handle uint16) {
	m.mu.Lock()
	p := m.procs.remove(handle)
	m.mu.Unlock()

	if p == nil {
		return
	}

	p.logger.Info("connection broken")
	p.wipe()
	m.handler.PairingComplete(EncEvent{
		Handle: handle,
		Peer:   p.peerAddr(),
		Err:    ErrConnBroken,
		Alg:    p.alg,
	})
}

// Expire fails every procedure whose SMP timer ran out before now.
func (m *Manager) Expire(now time.Time) {
	m.mu.Lock()
	expired := m.procs.expired(now)
	m.mu.Unlock()

	for _, p := range expired {
		p.logger.Warn("pairing timed out")
		p.wipe()
		m.handler.PairingComplete(EncEvent{
			Handle: p.handle,
			Peer:   p.peerAddr(),
			Err:    ErrTimeout,
			Alg:    p.alg,
		})
	}
}

// process applies a step result: it runs the current state's go step while
// the result asks for it, removes finished or failed procedures, and
// reports to the application outside the lock.
func (m *Manager) process(handle uint16, res result) {
	for {
		var (
			ev      *EncEvent
			save    bool
			peer    blehost.Addr
			ourK    KeyRecord
			peerK   KeyRecord
			removed bool
		)

		m.mu.Lock()
		p := m.procs.find(handle, StateNone, anyRole)
		if p != nil {
			if res.execute {
				res = result{}
				m.exec(p, &res)
			}

			if res.err != nil || p.state == StateNone {
				m.procs.remove(handle)
				removed = true
			} else {
				p.expires = m.now().Add(m.timeout)
			}

			if res.encCB {
				ev = &EncEvent{
					Handle:        handle,
					Peer:          p.peerAddr(),
					Err:           res.err,
					Restored:      p.has(flagRestore),
					Authenticated: p.has(flagAuthenticated),
					Alg:           p.alg,
				}
			}

			if removed {
				if res.err == nil && p.has(flagBonding) && !p.has(flagRestore) {
					save = true
					peer = p.peerAddr()
					ourK, peerK = p.ourKeys, p.peerKeys
				}
				p.wipe()
			}
		}

		if res.smErr != 0 {
			m.sendFailed(handle, res.smErr)
		}
		m.mu.Unlock()

		if p == nil {
			return
		}

		if res.err != nil {
			p.logger.Warnf("pairing failed: %v", res.err)
		}

		if save {
			if err := m.store.Save(peer, ourK, peerK); err != nil {
				p.logger.Errorf("can't save bond: %v", err)
			} else if ev != nil {
				ev.Bonded = true
			}
			ourK.wipe()
			peerK.wipe()
		}

		if ev != nil {
			if ev.Err == nil {
				p.logger.Infof("encryption enabled, %v", ev.Alg)
			}
			m.handler.PairingComplete(*ev)
		}

		if res.action.Action != IONone {
			a := res.action
			a.Handle = handle
			m.handler.PasskeyAction(a)
		}

		if !res.execute {
			return
		}
	}
}

func (m *Manager) exec(p *proc, res *result) {
	if _, err := m.host.Conn(p.handle); err != nil {
		res.err = ErrNotConnected
		return
	}

	step, ok := stateDispatch[p.state]
	if !ok {
		res.fail(errors.Errorf("no step for state %v", p.state), ReasonUnspecified)
		return
	}
	step(m, p, res)
}

func (m *Manager) pairGo(p *proc, res *result) {
	var cmd PDU = PairingResponse{PairCmd: p.rsp}
	if p.initiator() {
		cmd = PairingRequest{PairCmd: p.req}
	}

	if err := m.send(p, cmd); err != nil {
		res.fail(err, ReasonUnspecified)
		return
	}

	if !p.initiator() {
		p.state = StatePublicKey
	}
}

func (m *Manager) ltkStartGo(p *proc, res *result) {
	if err := m.host.LTKReply(p.handle, p.ltk); err != nil {
		res.fail(err, ReasonUnspecified)
		return
	}
	p.state = StateEncStart
}

func (m *Manager) ltkRestoreGo(p *proc, res *result) {
	k, err := m.store.Find(p.peerAddr())
	if err == nil && (!k.LTKValid || k.EDiv != p.ediv || k.Rand != p.rand) {
		err = errors.New("stored key does not match request")
	}
	if err != nil {
		if nerr := m.host.LTKNegReply(p.handle); nerr != nil {
			p.logger.Warnf("ltk negative reply: %v", nerr)
		}
		res.err = errors.Wrap(ErrNotFound, "no bond for peer")
		res.encCB = true
		return
	}

	p.ltk = k.LTK
	if k.Authenticated {
		p.flags |= flagAuthenticated
	}
	if err := m.host.LTKReply(p.handle, p.ltk); err != nil {
		res.fail(err, ReasonUnspecified)
		return
	}
	p.state = StateEncStart
}

func (m *Manager) encStartGo(p *proc, res *result) {
	if !p.initiator() {
		return
	}
	if err := m.host.StartEncryption(p.handle, p.ltk, p.ediv, p.rand); err != nil {
		res.fail(err, ReasonUnspecified)
	}
}

// nopStore keeps no bonds.
type nopStore struct{}

func (nopStore) Save(blehost.Addr, KeyRecord, KeyRecord) error { return nil }
func (nopStore) Find(blehost.Addr) (KeyRecord, error)          { return KeyRecord{}, ErrNotFound }
func (nopStore) Delete(blehost.Addr) error                     { return nil }
