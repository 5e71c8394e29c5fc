package h4

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"golang.org/x/sync/errgroup"
)

const pumpBufSize = 512

// Pump moves octets between a Framer and a byte stream such as a serial port
// or an HCI user channel socket. It is the framer's flow control: while not
// ready the pump stops reading, which lets the stream's own flow control
// (RTS/CTS, socket buffers) hold the remote sender off.
type Pump struct {
	f      *Framer
	rw     io.ReadWriteCloser
	logger blehost.Logger

	mu     sync.Mutex
	ready  bool
	resume chan struct{}
}

// NewPump attaches f to rw and registers the pump as the framer's flow
// control.
func NewPump(f *Framer, rw io.ReadWriteCloser, logger blehost.Logger) *Pump {
	if logger == nil {
		logger = blehost.GetLogger()
	}
	p := &Pump{
		f:      f,
		rw:     rw,
		logger: logger,
		ready:  true,
		resume: make(chan struct{}),
	}
	close(p.resume)
	f.SetFlowControl(p)
	return p
}

// SetReady implements hci.FlowControl.
func (p *Pump) SetReady(ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ready == p.ready {
		return
	}
	p.ready = ready
	if ready {
		close(p.resume)
		p.logger.Debug("pump: resumed")
	} else {
		p.resume = make(chan struct{})
		p.logger.Debug("pump: paused, no receive buffers")
	}
}

func (p *Pump) waitReady() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resume
}

// Run pumps until ctx is cancelled or the stream fails. The stream is closed
// on return.
func (p *Pump) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.rxLoop(gctx) })
	g.Go(func() error { return p.txLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return p.rw.Close()
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (p *Pump) rxLoop(ctx context.Context) error {
	b := make([]byte, pumpBufSize)
	for {
		select {
		case <-p.waitReady():
		case <-ctx.Done():
			return ctx.Err()
		}

		n, err := p.rw.Read(b)
		for _, c := range b[:n] {
			if st := p.f.OnByteReceived(c); st == StatusError {
				p.logger.Debugf("pump: rx error: %v", p.f.LastError())
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "can't read h4 stream")
		}
	}
}

func (p *Pump) txLoop(ctx context.Context) error {
	b := make([]byte, pumpBufSize)
	for {
		select {
		case <-p.f.Kick():
		case <-ctx.Done():
			return ctx.Err()
		}

		for {
			n := p.f.Drain(b)
			if n == 0 {
				break
			}
			if _, err := p.rw.Write(b[:n]); err != nil {
				return errors.Wrap(err, "can't write h4 stream")
			}
		}
	}
}
