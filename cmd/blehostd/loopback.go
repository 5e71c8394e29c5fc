package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci"
	"github.com/rigado/blehost/hci/bond"
	"github.com/rigado/blehost/hci/ram"
	"github.com/rigado/blehost/hci/smp"
	"github.com/rigado/blehost/internal/sim"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

const loopbackHandle = 0x0040

var (
	loopCentral    = blehost.MustParseAddr("c0:00:00:00:00:01", blehost.AddrTypeRandom)
	loopPeripheral = blehost.MustParseAddr("c0:00:00:00:00:02", blehost.AddrTypeRandom)
)

// autoIO answers passkey actions without a user: both sides of a loopback
// share one passkey and accept every numeric comparison.
type autoIO struct {
	name    string
	passkey uint32
	sm      func() *smp.Manager
	events  chan smp.EncEvent
}

func (a *autoIO) PasskeyAction(pa smp.PasskeyAction) {
	resp := smp.IO{Action: pa.Action, Passkey: a.passkey, NumCmpAccept: true}
	switch pa.Action {
	case smp.IODisplay:
		fmt.Printf("%s: display passkey %06d\n", a.name, a.passkey)
	case smp.IOInput:
		fmt.Printf("%s: enter passkey %06d\n", a.name, a.passkey)
	case smp.IONumCmp:
		fmt.Printf("%s: compare %06d\n", a.name, pa.NumCmp)
	}
	if err := a.sm().InjectIO(pa.Handle, resp); err != nil {
		fmt.Printf("%s: can't inject %v: %v\n", a.name, pa.Action, err)
	}
}

func (a *autoIO) PairingComplete(e smp.EncEvent) {
	a.events <- e
}

type loopHost struct {
	hci   *hci.HCI
	store *bond.Manager
	io    *autoIO
}

func newLoopHost(name string, addr blehost.Addr, sec blehost.SecurityConfig, passkey uint32, logger blehost.Logger) (*loopHost, *ram.Link, error) {
	pool, err := hci.NewPool(8, hci.CmdBufSize, 8, 251)
	if err != nil {
		return nil, nil, err
	}
	link, err := ram.New(pool, logger)
	if err != nil {
		return nil, nil, err
	}
	store, err := bond.NewManager("")
	if err != nil {
		return nil, nil, err
	}

	lh := &loopHost{store: store}
	lh.io = &autoIO{
		name:    name,
		passkey: passkey,
		sm:      func() *smp.Manager { return lh.hci.SM() },
		events:  make(chan smp.EncEvent, 1),
	}
	lh.hci, err = hci.NewHCI(pool, link.Host(),
		blehost.OptLogger(logger),
		blehost.OptLocalAddr(addr),
		blehost.OptSecurity(sec),
		blehost.OptKeyStore(store),
		blehost.OptPairingHandler(lh.io),
	)
	if err != nil {
		return nil, nil, err
	}
	link.SetHostReceiver(lh.hci)
	return lh, link, nil
}

func loopbackCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := blehost.GetLogger()

	peerSec := cfg.Security
	peerSec.IoCap = uint8(c.Int("peer-io-cap"))
	if peerSec.IoCap > smp.IoCapKeyboardDisplay {
		return errors.Errorf("invalid peer io capability %d", peerSec.IoCap)
	}

	passkey, err := randomPasskey()
	if err != nil {
		return err
	}
	central, cl, err := newLoopHost("central", loopCentral, cfg.Security, passkey, logger)
	if err != nil {
		return err
	}
	peripheral, pl, err := newLoopHost("peripheral", loopPeripheral, peerSec, passkey, logger)
	if err != nil {
		return err
	}
	s := sim.New(cl, pl, loopCentral, loopPeripheral, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Security.Timeout+5*time.Second)
	defer cancel()
	ctx = withSigHandler(ctx, cancel)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return central.hci.Run(gctx) })
	g.Go(func() error { return peripheral.hci.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		return pairLoopback(gctx, s, central, peripheral)
	})
	return g.Wait()
}

func pairLoopback(ctx context.Context, s *sim.Sim, central, peripheral *loopHost) error {
	for _, lh := range []*loopHost{central, peripheral} {
		if err := lh.hci.Init(); err != nil {
			return err
		}
	}
	if err := s.Connect(loopbackHandle); err != nil {
		return err
	}
	cd, err := central.hci.Dial(ctx)
	if err != nil {
		return err
	}
	if err := central.hci.Pair(cd.Handle); err != nil {
		return err
	}

	for _, lh := range []*loopHost{central, peripheral} {
		select {
		case e := <-lh.io.events:
			if e.Err != nil {
				return errors.Wrapf(e.Err, "%s", lh.io.name)
			}
			fmt.Printf("%s: paired with %v using %v, authenticated %v\n", lh.io.name, e.Peer, e.Alg, e.Authenticated)
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "pairing did not finish")
		}
	}

	k, err := central.store.Find(loopPeripheral)
	if err != nil {
		return err
	}
	fmt.Printf("ltk %x\n", k.LTK)
	return s.Disconnect(0x13)
}
