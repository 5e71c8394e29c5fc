package h4

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci"
)

const defaultTxQueueDepth = 16

// Stats counts framer activity since creation.
type Stats struct {
	RxFrames  uint64
	RxDropped uint64
	TxFrames  uint64
	QueueFull uint64
}

type stats struct {
	rxFrames  uint64
	rxDropped uint64
	txFrames  uint64
	queueFull uint64
}

// Framer converts between a byte stream carrying H4 packets and HCI buffers.
// The receive side is fed one octet at a time by the UART driver; the
// transmit side is drained one octet at a time.
type Framer struct {
	pool   *hci.Pool
	logger blehost.Logger

	rx rxState

	txQueue chan *hci.Buffer
	txMu    sync.Mutex
	txCur   *hci.Buffer
	txPos   int
	kick    chan struct{}

	// fcMu orders stall and unstall so SetReady calls match stalled.
	fcMu sync.Mutex

	mu      sync.Mutex
	recv    hci.Receiver
	fc      hci.FlowControl
	stalled bool
	stallOn hci.PacketType
	lastErr error

	stats stats
}

// New creates a framer drawing receive buffers from pool. depth bounds the
// outbound queue.
func New(pool *hci.Pool, depth int, logger blehost.Logger) (*Framer, error) {
	if pool == nil {
		return nil, errors.New("h4: nil pool")
	}
	if depth <= 0 {
		depth = defaultTxQueueDepth
	}
	if logger == nil {
		logger = blehost.GetLogger()
	}

	f := &Framer{
		pool:    pool,
		logger:  logger.ChildLogger(map[string]interface{}{"transport": "h4"}),
		txQueue: make(chan *hci.Buffer, depth),
		kick:    make(chan struct{}, 1),
	}
	pool.SetOnFree(f.unstallIfFree)

	return f, nil
}

// SetReceiver registers the consumer of reassembled frames.
func (f *Framer) SetReceiver(r hci.Receiver) {
	f.mu.Lock()
	f.recv = r
	f.mu.Unlock()
}

// SetFlowControl registers the hook used to pause the remote sender when no
// receive buffers are available.
func (f *Framer) SetFlowControl(fc hci.FlowControl) {
	f.mu.Lock()
	f.fc = fc
	f.mu.Unlock()
}

// LastError returns the most recent receive-side error.
func (f *Framer) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Stats returns a snapshot of the framer counters.
func (f *Framer) Stats() Stats {
	return Stats{
		RxFrames:  atomic.LoadUint64(&f.stats.rxFrames),
		RxDropped: atomic.LoadUint64(&f.stats.rxDropped),
		TxFrames:  atomic.LoadUint64(&f.stats.txFrames),
		QueueFull: atomic.LoadUint64(&f.stats.queueFull),
	}
}

// Stalled reports whether the framer has asked the sender to pause.
func (f *Framer) Stalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stalled
}

func (f *Framer) setErr(err error) {
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
}

func (f *Framer) receiver() hci.Receiver {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recv == nil {
		return discard{}
	}
	return f.recv
}

func (f *Framer) stall(t hci.PacketType) {
	f.fcMu.Lock()
	defer f.fcMu.Unlock()

	f.mu.Lock()
	fc := f.fc
	already := f.stalled
	f.stalled = true
	f.stallOn = t
	f.mu.Unlock()

	if !already && fc != nil {
		fc.SetReady(false)
	}
	// a buffer released before the flag was set found nothing to unstall
	f.unstallLocked()
}

func (f *Framer) unstallIfFree() {
	f.fcMu.Lock()
	defer f.fcMu.Unlock()
	f.unstallLocked()
}

// unstallLocked must be called with fcMu held.
func (f *Framer) unstallLocked() {
	cmd, acl := f.pool.Free()

	f.mu.Lock()
	if !f.stalled {
		f.mu.Unlock()
		return
	}
	if (f.stallOn == hci.PktTypeACLData && acl == 0) || (f.stallOn != hci.PktTypeACLData && cmd == 0) {
		f.mu.Unlock()
		return
	}
	fc := f.fc
	f.stalled = false
	f.mu.Unlock()

	if fc != nil {
		fc.SetReady(true)
	}
}

// discard rejects every frame so the framer releases it.
type discard struct{}

func (discard) ReceiveCommand(*hci.Buffer) error { return errors.New("h4: no receiver") }
func (discard) ReceiveACL(*hci.Buffer) error     { return errors.New("h4: no receiver") }
