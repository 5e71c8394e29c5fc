package hci

import (
	"context"
	"testing"
	"time"

	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci/smp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureTransport struct {
	cmds [][]byte
	acls [][]byte
}

func (c *captureTransport) keep(b *Buffer, into *[][]byte) error {
	*into = append(*into, append([]byte{}, b.Bytes()...))
	return b.Release()
}

func (c *captureTransport) SendCommand(b *Buffer) error { return c.keep(b, &c.cmds) }
func (c *captureTransport) SendEvent(b *Buffer) error   { return c.keep(b, &c.cmds) }
func (c *captureTransport) SendACL(b *Buffer) error     { return c.keep(b, &c.acls) }

var (
	localAddr = blehost.MustParseAddr("c0:de:00:00:00:01", blehost.AddrTypeRandom)
	peerAddr  = blehost.MustParseAddr("11:22:33:44:55:66", blehost.AddrTypePublic)
)

func newTestHCI(t *testing.T, opts ...blehost.Option) (*HCI, *Pool, *captureTransport) {
	t.Helper()
	pool, err := NewPool(8, CmdBufSize, 8, 64)
	require.NoError(t, err)
	tr := &captureTransport{}

	all := append([]blehost.Option{blehost.OptLocalAddr(localAddr)}, opts...)
	h, err := NewHCI(pool, tr, all...)
	require.NoError(t, err)
	return h, pool, tr
}

func event(t *testing.T, p *Pool, bs ...byte) *Buffer {
	t.Helper()
	b, err := p.Get(PktTypeEvent)
	require.NoError(t, err)
	require.NoError(t, b.Append(bs...))
	return b
}

func acl(t *testing.T, p *Pool, bs ...byte) *Buffer {
	t.Helper()
	b, err := p.Get(PktTypeACLData)
	require.NoError(t, err)
	require.NoError(t, b.Append(bs...))
	return b
}

func connComplete(role byte) []byte {
	return []byte{
		0x3e, 0x13, 0x01, 0x00, 0x40, 0x00, role, 0x00,
		0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
		0x18, 0x00, 0x00, 0x00, 0x48, 0x00, 0x00,
	}
}

func handle(t *testing.T, h *HCI, b *Buffer) {
	t.Helper()
	require.NoError(t, h.handlePkt(b))
	require.NoError(t, b.Release())
}

func TestConnectionLifecycle(t *testing.T) {
	h, pool, _ := newTestHCI(t)

	_, err := h.Conn(0x40)
	assert.Error(t, err)

	handle(t, h, event(t, pool, connComplete(RoleSlave)...))

	c, err := h.Conn(0x40)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x40), c.Handle)
	assert.Equal(t, peerAddr, c.Peer)
	assert.Equal(t, localAddr, c.Local)
	assert.False(t, c.Master)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := h.Accept(ctx)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	handle(t, h, event(t, pool, 0x05, 0x04, 0x00, 0x40, 0x00, 0x13))
	_, err = h.Conn(0x40)
	assert.Error(t, err)
}

func TestMasterConnectionDial(t *testing.T) {
	h, pool, _ := newTestHCI(t)

	handle(t, h, event(t, pool, connComplete(RoleMaster)...))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := h.Dial(ctx)
	require.NoError(t, err)
	assert.True(t, c.Master)
}

func TestFailedConnectionIgnored(t *testing.T) {
	h, pool, _ := newTestHCI(t)

	ev := connComplete(RoleMaster)
	ev[3] = 0x3e
	handle(t, h, event(t, pool, ev...))
	_, err := h.Conn(0x40)
	assert.Error(t, err)
}

func TestEncryptionCommands(t *testing.T) {
	h, _, tr := newTestHCI(t)

	var ltk [16]byte
	for i := range ltk {
		ltk[i] = byte(i)
	}

	require.NoError(t, h.StartEncryption(0x0040, ltk, 0x1234, 0x0102030405060708))
	require.NoError(t, h.LTKReply(0x0040, ltk))
	require.NoError(t, h.LTKNegReply(0x0041))
	require.Len(t, tr.cmds, 3)

	start := append([]byte{0x19, 0x20, 28, 0x40, 0x00,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x34, 0x12}, ltk[:]...)
	assert.Equal(t, start, tr.cmds[0])
	assert.Equal(t, append([]byte{0x1a, 0x20, 18, 0x40, 0x00}, ltk[:]...), tr.cmds[1])
	assert.Equal(t, []byte{0x1b, 0x20, 2, 0x41, 0x00}, tr.cmds[2])
}

func TestInit(t *testing.T) {
	h, pool, tr := newTestHCI(t)

	require.NoError(t, h.Init())
	require.Len(t, tr.cmds, 3)
	assert.Equal(t, []byte{0x03, 0x0c, 0x00}, tr.cmds[0])
	assert.Equal(t, []byte{0x01, 0x0c, 0x08, 0xff, 0xff, 0xfb, 0xff, 0x07, 0xf8, 0xbf, 0x3d}, tr.cmds[1])
	assert.Equal(t, []byte{0x01, 0x20, 0x08, 0x1f, 0, 0, 0, 0, 0, 0, 0}, tr.cmds[2])

	_, ok := h.sent[OpReset]
	assert.True(t, ok)
	handle(t, h, event(t, pool, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00))
	_, ok = h.sent[OpReset]
	assert.False(t, ok)

	// completions for commands never sent are tolerated
	handle(t, h, event(t, pool, 0x0f, 0x04, 0x00, 0x01, 0x19, 0x20))
}

func TestSendSMPFraming(t *testing.T) {
	h, _, tr := newTestHCI(t)

	require.NoError(t, h.SendSMP(0x0040, []byte{0x05, 0x08}))
	require.Len(t, tr.acls, 1)
	assert.Equal(t, []byte{0x40, 0x00, 0x06, 0x00, 0x02, 0x00, 0x06, 0x00, 0x05, 0x08}, tr.acls[0])

	assert.Error(t, h.SendSMP(0x0040, make([]byte, 64)))
}

func TestSMPOverACL(t *testing.T) {
	h, pool, tr := newTestHCI(t, blehost.OptSecurity(blehost.SecurityConfig{
		IoCap:      0x03,
		Bonding:    true,
		SC:         true,
		MaxKeySize: 16,
	}))
	handle(t, h, event(t, pool, connComplete(RoleSlave)...))

	req := smp.PairingRequest{PairCmd: smp.PairCmd{IoCap: 0x03, AuthReq: 0x09, MaxKeySize: 16}}.Marshal()
	frame := []byte{0x40, 0x20, byte(len(req) + 4), 0x00, byte(len(req)), 0x00, 0x06, 0x00}
	handle(t, h, acl(t, pool, append(frame, req...)...))

	require.Len(t, tr.acls, 1)
	rsp := tr.acls[0]
	require.Len(t, rsp, 8+7)
	assert.Equal(t, []byte{0x40, 0x00, 0x0b, 0x00, 0x07, 0x00, 0x06, 0x00}, rsp[:8])
	assert.Equal(t, byte(0x02), rsp[8])

	st, ok := h.SM().State(0x40)
	require.True(t, ok)
	assert.Equal(t, smp.StatePublicKey, st)

	// tearing the link down ends the procedure
	handle(t, h, event(t, pool, 0x05, 0x04, 0x00, 0x40, 0x00, 0x13))
	_, ok = h.SM().State(0x40)
	assert.False(t, ok)
}

func TestACLDrops(t *testing.T) {
	h, pool, tr := newTestHCI(t)
	handle(t, h, event(t, pool, connComplete(RoleSlave)...))

	// other channel
	handle(t, h, acl(t, pool, 0x40, 0x20, 0x05, 0x00, 0x01, 0x00, 0x04, 0x00, 0x0a))
	// continuation fragment
	handle(t, h, acl(t, pool, 0x40, 0x10, 0x01, 0x00, 0x55))
	// sdu split across fragments
	handle(t, h, acl(t, pool, 0x40, 0x20, 0x05, 0x00, 0x09, 0x00, 0x06, 0x00, 0x01))
	// unknown connection
	handle(t, h, acl(t, pool, 0x41, 0x20, 0x05, 0x00, 0x01, 0x00, 0x06, 0x00, 0x01))
	assert.Empty(t, tr.acls)

	b := acl(t, pool, 0x40, 0x20, 0x05, 0x00, 0x01)
	assert.Error(t, h.handlePkt(b))
	require.NoError(t, b.Release())

	b = acl(t, pool, 0x40, 0x20)
	assert.Error(t, h.handlePkt(b))
	require.NoError(t, b.Release())
}

func TestBadEvents(t *testing.T) {
	h, pool, _ := newTestHCI(t)

	b := event(t, pool, 0x0e, 0x05, 0x01)
	assert.Error(t, h.handlePkt(b))
	require.NoError(t, b.Release())

	b = event(t, pool, 0x57, 0x00)
	assert.Error(t, h.handlePkt(b))
	require.NoError(t, b.Release())

	// vendor events and unknown LE subevents pass
	handle(t, h, event(t, pool, 0xff, 0x01, 0x00))
	handle(t, h, event(t, pool, 0x3e, 0x01, 0x02))

	// encryption change on an unknown handle
	handle(t, h, event(t, pool, 0x08, 0x04, 0x00, 0x40, 0x00, 0x01))
}

func TestReceiveQueue(t *testing.T) {
	h, pool, _ := newTestHCI(t, blehost.OptEventQueueSize(1))

	c, err := pool.Get(PktTypeCommand)
	require.NoError(t, err)
	assert.Error(t, h.ReceiveCommand(c))
	require.NoError(t, c.Release())

	require.NoError(t, h.ReceiveCommand(event(t, pool, 0xff, 0x00)))
	b := acl(t, pool, 0x40, 0x00, 0x00, 0x00)
	assert.Equal(t, ErrQueueFull, h.ReceiveACL(b))
	require.NoError(t, b.Release())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Run(ctx))

	cmd, aclFree := pool.Free()
	assert.Equal(t, 8, cmd)
	assert.Equal(t, 8, aclFree)
}

func TestRunProcessesQueue(t *testing.T) {
	h, pool, _ := newTestHCI(t, blehost.OptExpireInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.NoError(t, h.ReceiveCommand(event(t, pool, connComplete(RoleMaster)...)))

	dctx, dcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dcancel()
	c, err := h.Dial(dctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x40), c.Handle)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestOptionErrors(t *testing.T) {
	pool, err := NewPool(1, CmdBufSize, 1, 64)
	require.NoError(t, err)
	tr := &captureTransport{}

	_, err = NewHCI(pool, tr, blehost.OptKeyStore("not a store"))
	assert.Error(t, err)
	_, err = NewHCI(pool, tr, blehost.OptPairingHandler(42))
	assert.Error(t, err)
	_, err = NewHCI(pool, tr, blehost.OptEventQueueSize(0))
	assert.Error(t, err)

	cfg := blehost.DefaultConfig().Security
	cfg.SC = false
	_, err = NewHCI(pool, tr, blehost.OptSecurity(cfg))
	assert.Error(t, err)

	_, err = NewHCI(pool, tr, blehost.OptPairingHandler(smp.HandlerFuncs{}))
	assert.NoError(t, err)
}
