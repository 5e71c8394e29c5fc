package main

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci"
	"github.com/rigado/blehost/hci/bond"
	"github.com/rigado/blehost/hci/h4"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

func runCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := blehost.GetLogger()

	if dev := c.String("uart"); dev != "" {
		cfg.Transport.UARTDevice = dev
	}
	if baud := c.Uint("baud"); baud != 0 {
		cfg.Transport.BaudRate = baud
	}

	t := cfg.Transport
	pool, err := hci.NewPool(t.CmdBufCount, t.CmdBufSize, t.ACLBufCount, t.ACLMaxLength)
	if err != nil {
		return err
	}
	f, err := h4.New(pool, t.TxQueueDepth, logger)
	if err != nil {
		return err
	}

	if c.IsSet("uart") && c.IsSet("socket") {
		return errors.New("--uart and --socket are exclusive")
	}
	if c.IsSet("socket") {
		t.SocketID = c.Int("socket")
	}

	var rw io.ReadWriteCloser
	switch pickTransport(t, c.String("tcp"), c.IsSet("socket")) {
	case transportTCP:
		rw, err = h4.DialTCP(c.String("tcp"), 0)
	case transportSerial:
		rw, err = h4.OpenSerial(t)
	default:
		rw, err = openSocket(t.SocketID, logger)
	}
	if err != nil {
		return errors.Wrap(err, "can't open transport")
	}

	store, err := bond.NewManager(c.GlobalString("bond"))
	if err != nil {
		_ = rw.Close()
		return err
	}

	pr := newPrompt(os.Stdin, os.Stdout, logger)
	h, err := hci.NewHCI(pool, f,
		blehost.OptLogger(logger),
		blehost.OptLocalAddr(cfg.Addr()),
		blehost.OptSecurity(cfg.Security),
		blehost.OptEventQueueSize(cfg.EventQueueDepth),
		blehost.OptKeyStore(store),
		blehost.OptPairingHandler(pr),
	)
	if err != nil {
		_ = rw.Close()
		return err
	}
	pr.attach(h.SM())
	f.SetReceiver(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = withSigHandler(ctx, cancel)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h4.NewPump(f, rw, logger).Run(gctx) })
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error {
		if err := h.Init(); err != nil {
			return err
		}
		return pairMasterConns(gctx, h, logger)
	})

	return g.Wait()
}

// pairMasterConns starts pairing on every connection the host is master of.
// Slave connections pair when the peer asks.
func pairMasterConns(ctx context.Context, h *hci.HCI, logger blehost.Logger) error {
	for {
		cd, err := h.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		logger.Infof("connected to %v, pairing", cd.Peer)
		if err := h.Pair(cd.Handle); err != nil {
			logger.Errorf("can't pair with %v: %v", cd.Peer, err)
		}
	}
}

type transportKind int

const (
	transportSocket transportKind = iota
	transportSerial
	transportTCP
)

// pickTransport prefers a TCP address, then an explicit socket, then the
// configured UART. Without a UART the configured socket id is used.
func pickTransport(t blehost.TransportConfig, tcpAddr string, socketFlag bool) transportKind {
	switch {
	case tcpAddr != "":
		return transportTCP
	case socketFlag:
		return transportSocket
	case t.UARTDevice != "":
		return transportSerial
	default:
		return transportSocket
	}
}
