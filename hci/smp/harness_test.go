package smp

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/stretchr/testify/require"
)

const testHandle = 0x0040

func secCfg(ioCap uint8, mitm bool) blehost.SecurityConfig {
	return blehost.SecurityConfig{
		IoCap:      ioCap,
		Bonding:    true,
		MITM:       mitm,
		SC:         true,
		MaxKeySize: 16,
		Timeout:    30 * time.Second,
	}
}

// memStore is a KeyStore for one peer set.
type memStore struct {
	mu    sync.Mutex
	saves int
	bonds map[string][2]KeyRecord
}

func newMemStore() *memStore {
	return &memStore{bonds: make(map[string][2]KeyRecord)}
}

func (s *memStore) Save(peer blehost.Addr, our, their KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.bonds[peer.Key()] = [2]KeyRecord{our, their}
	return nil
}

func (s *memStore) Find(peer blehost.Addr) (KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bonds[peer.Key()]
	if !ok {
		return KeyRecord{}, ErrNotFound
	}
	return b[0], nil
}

func (s *memStore) Delete(peer blehost.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bonds, peer.Key())
	return nil
}

type recorder struct {
	actions []PasskeyAction
	events  []EncEvent

	// onAction, if set, runs after an action is recorded
	onAction func(a PasskeyAction)
}

func (r *recorder) PasskeyAction(a PasskeyAction) {
	r.actions = append(r.actions, a)
	if r.onAction != nil {
		r.onAction(a)
	}
}

func (r *recorder) PairingComplete(e EncEvent) { r.events = append(r.events, e) }

type msgKind int

const (
	msgSMP msgKind = iota
	msgStartEnc
	msgLTKReply
	msgLTKNeg
)

type msg struct {
	kind msgKind
	from *side
	pdu  []byte
	ltk  [16]byte
	ediv uint16
	rand uint64
}

// side is one host of a simulated connection. Everything it sends is
// queued on the network and delivered by run.
type side struct {
	name      string
	net       *testNet
	desc      ConnDesc
	connected bool

	m     *Manager
	rec   *recorder
	store *memStore

	sent   map[byte]int
	encLTK [16]byte
}

func (s *side) SendSMP(handle uint16, pdu []byte) error {
	s.sent[pdu[0]]++
	s.net.push(msg{kind: msgSMP, from: s, pdu: append([]byte{}, pdu...)})
	return nil
}

func (s *side) StartEncryption(handle uint16, ltk [16]byte, ediv uint16, rand uint64) error {
	s.encLTK = ltk
	s.net.push(msg{kind: msgStartEnc, from: s, ltk: ltk, ediv: ediv, rand: rand})
	return nil
}

func (s *side) LTKReply(handle uint16, ltk [16]byte) error {
	s.net.push(msg{kind: msgLTKReply, from: s, ltk: ltk})
	return nil
}

func (s *side) LTKNegReply(handle uint16) error {
	s.net.push(msg{kind: msgLTKNeg, from: s})
	return nil
}

func (s *side) Conn(handle uint16) (ConnDesc, error) {
	if !s.connected || handle != s.desc.Handle {
		return ConnDesc{}, errors.New("unknown handle")
	}
	return s.desc, nil
}

type testNet struct {
	t     *testing.T
	queue []msg

	central    *side
	peripheral *side

	// mutate, if set, may change or drop (return nil) SM PDUs in flight
	mutate func(from *side, pdu []byte) []byte
}

func (n *testNet) push(m msg) {
	n.queue = append(n.queue, m)
}

func (n *testNet) other(s *side) *side {
	if s == n.central {
		return n.peripheral
	}
	return n.central
}

// run delivers queued messages until the network is quiet.
func (n *testNet) run() {
	for i := 0; len(n.queue) > 0; i++ {
		require.True(n.t, i < 1000, "message loop")

		m := n.queue[0]
		n.queue = n.queue[1:]

		switch m.kind {
		case msgSMP:
			pdu := m.pdu
			if n.mutate != nil {
				pdu = n.mutate(m.from, pdu)
			}
			if pdu == nil {
				continue
			}
			to := n.other(m.from)
			_ = to.m.Handle(to.desc.Handle, pdu)

		case msgStartEnc:
			require.NoError(n.t, n.peripheral.m.LTKRequest(n.peripheral.desc.Handle, m.ediv, m.rand))

		case msgLTKReply:
			if m.ltk == n.central.encLTK {
				n.central.m.EncryptionChanged(n.central.desc.Handle, 0x00, true)
				n.peripheral.m.EncryptionChanged(n.peripheral.desc.Handle, 0x00, true)
			} else {
				// MIC failure
				n.central.m.EncryptionChanged(n.central.desc.Handle, 0x3d, false)
				n.peripheral.m.EncryptionChanged(n.peripheral.desc.Handle, 0x3d, false)
			}

		case msgLTKNeg:
			n.central.m.EncryptionChanged(n.central.desc.Handle, 0x06, false)
		}
	}
}

func newSide(t *testing.T, n *testNet, name string, cfg blehost.SecurityConfig, desc ConnDesc, opts ...Option) *side {
	s := &side{
		name:      name,
		net:       n,
		desc:      desc,
		connected: true,
		rec:       &recorder{},
		store:     newMemStore(),
		sent:      make(map[byte]int),
	}

	all := append([]Option{OptHandler(s.rec), OptKeyStore(s.store)}, opts...)
	m, err := NewManager(cfg, s, all...)
	require.NoError(t, err)
	s.m = m
	return s
}

var (
	centralAddr    = blehost.MustParseAddr("11:22:33:44:55:66", blehost.AddrTypePublic)
	peripheralAddr = blehost.MustParseAddr("c0:de:00:00:00:01", blehost.AddrTypeRandom)
)

func newTestNet(t *testing.T, central, peripheral blehost.SecurityConfig) *testNet {
	return newTestNetWith(t, central, peripheral, nil, nil)
}

func newTestNetWith(t *testing.T, central, peripheral blehost.SecurityConfig, cOpts, pOpts []Option) *testNet {
	n := &testNet{t: t}
	n.central = newSide(t, n, "central", central, ConnDesc{
		Handle: testHandle,
		Local:  centralAddr,
		Peer:   peripheralAddr,
		Master: true,
	}, cOpts...)
	n.peripheral = newSide(t, n, "peripheral", peripheral, ConnDesc{
		Handle: testHandle,
		Local:  peripheralAddr,
		Peer:   centralAddr,
	}, pOpts...)
	return n
}
