package hci

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci/evt"
	"github.com/rigado/blehost/hci/smp"
)

const (
	defaultEventQueueSize = 32
	defaultExpireInterval = time.Second
)

// ErrQueueFull is returned to the transport when the host loop is behind.
var ErrQueueFull = errors.New("hci: event queue full")

type handlerFn func(b []byte) error

// HCI is the host side of the HCI. Transports deliver packets through its
// Receiver methods; Run processes them and drives the Security Manager.
type HCI struct {
	logger    blehost.Logger
	pool      *Pool
	transport Transport

	addr     blehost.Addr
	security blehost.SecurityConfig
	store    smp.KeyStore
	handler  smp.Handler
	sm       *smp.Manager

	queueSize   int
	queue       chan *Buffer
	expireEvery time.Duration

	// evtHub
	evth map[int]handlerFn
	subh map[int]handlerFn

	muSent sync.Mutex
	sent   map[int]Command

	muConns      sync.Mutex
	conns        map[uint16]smp.ConnDesc
	chMasterConn chan smp.ConnDesc // Dial returns master connections.
	chSlaveConn  chan smp.ConnDesc // Accept returns slave connections.
}

// NewHCI returns a host sending through t and allocating from pool.
func NewHCI(pool *Pool, t Transport, opts ...blehost.Option) (*HCI, error) {
	if pool == nil || t == nil {
		return nil, errors.New("hci: nil pool or transport")
	}

	h := &HCI{
		logger:      blehost.GetLogger(),
		pool:        pool,
		transport:   t,
		security:    blehost.DefaultConfig().Security,
		queueSize:   defaultEventQueueSize,
		expireEvery: defaultExpireInterval,

		evth: map[int]handlerFn{},
		subh: map[int]handlerFn{},
		sent: make(map[int]Command),

		conns:        make(map[uint16]smp.ConnDesc),
		chMasterConn: make(chan smp.ConnDesc, 4),
		chSlaveConn:  make(chan smp.ConnDesc, 4),
	}
	if err := h.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}
	h.logger = h.logger.ChildLogger(map[string]interface{}{"hci": h.addr.String()})
	h.queue = make(chan *Buffer, h.queueSize)

	smOpts := []smp.Option{smp.OptLogger(h.logger)}
	if h.store != nil {
		smOpts = append(smOpts, smp.OptKeyStore(h.store))
	}
	if h.handler != nil {
		smOpts = append(smOpts, smp.OptHandler(h.handler))
	}
	sm, err := smp.NewManager(h.security, h, smOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "can't create security manager")
	}
	h.sm = sm

	h.evth[evt.LEMetaCode] = h.handleLEMeta
	h.evth[evt.CommandCompleteCode] = h.handleCommandComplete
	h.evth[evt.CommandStatusCode] = h.handleCommandStatus
	h.evth[evt.DisconnectionCompleteCode] = h.handleDisconnectionComplete
	h.evth[evt.EncryptionChangeCode] = h.handleEncryptionChange

	h.subh[evt.LEConnectionCompleteSubCode] = h.handleLEConnectionComplete
	h.subh[evt.LELongTermKeyRequestSubCode] = h.handleLELongTermKeyRequest

	return h, nil
}

// Option sets the options specified.
func (h *HCI) Option(opts ...blehost.Option) error {
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return err
		}
	}
	return nil
}

// SM returns the host's Security Manager.
func (h *HCI) SM() *smp.Manager {
	return h.sm
}

// Addr is the local identity address.
func (h *HCI) Addr() blehost.Addr {
	return h.addr
}

// Init resets the controller and unmasks the events the host handles.
func (h *HCI) Init() error {
	h.logger.Info("hci reset")
	if err := h.Send(&Reset{}); err != nil {
		return err
	}
	// default mask plus encryption change and LE meta
	if err := h.Send(&SetEventMask{EventMask: 0x3dbff807fffbffff}); err != nil {
		return err
	}
	// connection complete, ltk request
	return h.Send(&LESetEventMask{LEEventMask: 0x000000000000001F})
}

// Pair starts pairing on a connection where the host is master.
func (h *HCI) Pair(handle uint16) error {
	return h.sm.Pair(handle)
}

// Dial waits for the next connection in which the host is master.
func (h *HCI) Dial(ctx context.Context) (smp.ConnDesc, error) {
	select {
	case c := <-h.chMasterConn:
		return c, nil
	case <-ctx.Done():
		return smp.ConnDesc{}, ctx.Err()
	}
}

// Accept waits for the next connection in which the host is slave.
func (h *HCI) Accept(ctx context.Context) (smp.ConnDesc, error) {
	select {
	case c := <-h.chSlaveConn:
		return c, nil
	case <-ctx.Done():
		return smp.ConnDesc{}, ctx.Err()
	}
}

// ReceiveCommand queues an event from the controller. The host never
// accepts command packets.
func (h *HCI) ReceiveCommand(b *Buffer) error {
	if b.Type != PktTypeEvent {
		return errors.Errorf("hci: host can't take %v packets", b.Type)
	}
	return h.enqueue(b)
}

// ReceiveACL queues inbound ACL data.
func (h *HCI) ReceiveACL(b *Buffer) error {
	return h.enqueue(b)
}

func (h *HCI) enqueue(b *Buffer) error {
	select {
	case h.queue <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes received packets and pairing timeouts until ctx is done.
func (h *HCI) Run(ctx context.Context) error {
	t := time.NewTicker(h.expireEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.drain()
			return nil
		case b := <-h.queue:
			if err := h.handlePkt(b); err != nil {
				h.logger.Warnf("%v", err)
			}
			_ = b.Release()
		case now := <-t.C:
			h.sm.Expire(now)
		}
	}
}

func (h *HCI) drain() {
	for {
		select {
		case b := <-h.queue:
			_ = b.Release()
		default:
			return
		}
	}
}

func (h *HCI) handlePkt(b *Buffer) error {
	switch b.Type {
	case PktTypeACLData:
		return h.handleACL(b.Bytes())
	case PktTypeEvent:
		return h.handleEvt(b.Bytes())
	default:
		return errors.Errorf("unsupported %v packet: % X", b.Type, b.Bytes())
	}
}

func (h *HCI) handleEvt(b []byte) error {
	if len(b) < EvtHeaderLen {
		return errors.Errorf("short event packet: % X", b)
	}
	code, plen := int(b[0]), int(b[1])
	if plen != len(b[2:]) {
		return errors.Errorf("invalid event packet: % X", b)
	}

	if f := h.evth[code]; f != nil {
		return f(b[2:])
	}
	if code == 0xff { // Ignore vendor events
		return nil
	}
	return errors.Errorf("unsupported event packet: % X", b)
}

func (h *HCI) handleLEMeta(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty LE meta event")
	}
	subcode := int(b[0])
	if f := h.subh[subcode]; f != nil {
		return f(b)
	}
	h.logger.Debugf("unhandled LE event: % X", b)
	return nil
}

// Send writes a command to the controller. Completion is reported
// asynchronously through Command Complete or Command Status.
func (h *HCI) Send(c Command) error {
	b, err := h.pool.Get(PktTypeCommand)
	if err != nil {
		return errors.Wrap(err, "can't get command buffer")
	}

	op := c.OpCode()
	params := make([]byte, c.Len())
	if err := c.Marshal(params); err != nil {
		_ = b.Release()
		return errors.Wrapf(err, "can't marshal %v", c)
	}
	if err := b.Append(byte(op), byte(op>>8), byte(c.Len())); err != nil {
		_ = b.Release()
		return err
	}
	if err := b.Append(params...); err != nil {
		_ = b.Release()
		return err
	}

	h.muSent.Lock()
	h.sent[op] = c
	h.muSent.Unlock()

	if err := h.transport.SendCommand(b); err != nil {
		h.muSent.Lock()
		delete(h.sent, op)
		h.muSent.Unlock()
		return errors.Wrapf(err, "can't send %v", c)
	}
	return nil
}

func (h *HCI) pending(op int) (Command, bool) {
	h.muSent.Lock()
	defer h.muSent.Unlock()
	c, ok := h.sent[op]
	if ok {
		delete(h.sent, op)
	}
	return c, ok
}

func (h *HCI) handleCommandComplete(b []byte) error {
	e := evt.CommandComplete(b)
	op, err := e.CommandOpcodeWErr()
	if err != nil {
		return errors.Wrap(err, "command complete")
	}

	// NOP command, used for flow control purpose [Vol 2, Part E, 4.4]
	if op == 0x0000 {
		return nil
	}

	c, ok := h.pending(int(op))
	if !ok {
		h.logger.Debugf("command complete for unsent opcode 0x%04x", op)
		return nil
	}
	if rp := e.ReturnParameters(); len(rp) > 0 && rp[0] != 0x00 {
		h.logger.Warnf("%v failed: status 0x%02x", c, rp[0])
	}
	return nil
}

func (h *HCI) handleCommandStatus(b []byte) error {
	e := evt.CommandStatus(b)
	op, err := e.CommandOpcodeWErr()
	if err != nil {
		return errors.Wrap(err, "command status")
	}

	c, ok := h.pending(int(op))
	if !ok {
		h.logger.Debugf("command status for unsent opcode 0x%04x", op)
		return nil
	}
	if st := e.Status(); st != 0x00 {
		h.logger.Warnf("%v failed: status 0x%02x", c, st)
	}
	return nil
}

func (h *HCI) handleLEConnectionComplete(b []byte) error {
	e := evt.LEConnectionComplete(b)

	pa, err := e.PeerAddressWErr()
	if err != nil {
		return errors.Wrap(err, "le connection complete")
	}
	if status := e.Status(); status != 0 {
		h.logger.Warnf("connection failed: % X", b)
		return nil
	}

	c := smp.ConnDesc{
		Handle: e.ConnectionHandle(),
		Local:  h.addr,
		Peer:   blehost.Addr{Type: e.PeerAddressType(), Bytes: pa},
		Master: e.Role() == RoleMaster,
	}

	h.muConns.Lock()
	h.conns[c.Handle] = c
	h.muConns.Unlock()
	h.logger.Debugf("connection complete %04X: peer %v, master %v", c.Handle, c.Peer, c.Master)

	ch := h.chSlaveConn
	if c.Master {
		ch = h.chMasterConn
	}
	select {
	case ch <- c:
	default:
		h.logger.Debugf("connection %04X not picked up", c.Handle)
	}
	return nil
}

func (h *HCI) handleDisconnectionComplete(b []byte) error {
	e := evt.DisconnectionComplete(b)
	ch, err := e.ConnectionHandleWErr()
	if err != nil {
		return errors.Wrap(err, "disconnection complete")
	}
	h.logger.Debugf("disconnect complete for handle %04x, reason 0x%02x", ch, e.Reason())

	h.muConns.Lock()
	_, found := h.conns[ch]
	delete(h.conns, ch)
	h.muConns.Unlock()

	if found {
		h.sm.ConnBroken(ch)
	}
	return nil
}

func (h *HCI) handleEncryptionChange(b []byte) error {
	e := evt.EncryptionChange(b)
	ch, err := e.ConnectionHandleWErr()
	if err != nil {
		return errors.Wrap(err, "encryption change")
	}
	if _, err := h.Conn(ch); err != nil {
		h.logger.Errorf("encryption changed event for unknown connection handle: %04x", ch)
		return nil
	}

	h.sm.EncryptionChanged(ch, e.Status(), e.EncryptionEnabled() != 0)
	return nil
}

func (h *HCI) handleLELongTermKeyRequest(b []byte) error {
	e := evt.LELongTermKeyRequest(b)
	ediv, err := e.EncryptionDiversifierWErr()
	if err != nil {
		return errors.Wrap(err, "ltk request")
	}
	return h.sm.LTKRequest(e.ConnectionHandle(), ediv, e.RandomNumber())
}

// Conn implements smp.ConnInfo.
func (h *HCI) Conn(handle uint16) (smp.ConnDesc, error) {
	h.muConns.Lock()
	defer h.muConns.Unlock()
	c, ok := h.conns[handle]
	if !ok {
		return smp.ConnDesc{}, fmt.Errorf("unknown connection handle %04X", handle)
	}
	return c, nil
}

// SendSMP implements smp.Sender.
func (h *HCI) SendSMP(handle uint16, pdu []byte) error {
	return h.writeL2CAP(handle, CidSMP, pdu)
}

// StartEncryption implements smp.Encrypter.
func (h *HCI) StartEncryption(handle uint16, ltk [16]byte, ediv uint16, rand uint64) error {
	return h.Send(&LEStartEncryption{
		ConnectionHandle:     handle,
		RandomNumber:         rand,
		EncryptedDiversifier: ediv,
		LongTermKey:          ltk,
	})
}

// LTKReply implements smp.Encrypter.
func (h *HCI) LTKReply(handle uint16, ltk [16]byte) error {
	return h.Send(&LELongTermKeyRequestReply{ConnectionHandle: handle, LongTermKey: ltk})
}

// LTKNegReply implements smp.Encrypter.
func (h *HCI) LTKNegReply(handle uint16) error {
	return h.Send(&LELongTermKeyRequestNegativeReply{ConnectionHandle: handle})
}
