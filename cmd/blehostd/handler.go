package main

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci/smp"
)

// injector is the part of the Security Manager a prompt answers to.
type injector interface {
	InjectIO(handle uint16, io smp.IO) error
}

// prompt answers passkey actions from a terminal. Input is read on its own
// goroutine so the host loop keeps running while the user types.
type prompt struct {
	logger blehost.Logger
	out    io.Writer

	mu sync.Mutex
	in *bufio.Reader
	sm injector
}

func newPrompt(in io.Reader, out io.Writer, logger blehost.Logger) *prompt {
	return &prompt{logger: logger, in: bufio.NewReader(in), out: out}
}

func (p *prompt) attach(sm injector) {
	p.mu.Lock()
	p.sm = sm
	p.mu.Unlock()
}

func (p *prompt) PasskeyAction(a smp.PasskeyAction) {
	go func() {
		resp, err := p.answer(a)
		if err != nil {
			p.logger.Errorf("conn %d: %v", a.Handle, err)
			return
		}

		p.mu.Lock()
		sm := p.sm
		p.mu.Unlock()
		if err := sm.InjectIO(a.Handle, resp); err != nil {
			p.logger.Errorf("conn %d: can't inject %v: %v", a.Handle, a.Action, err)
		}
	}()
}

func (p *prompt) PairingComplete(e smp.EncEvent) {
	if e.Err != nil {
		fmt.Fprintf(p.out, "conn %d: pairing with %v failed: %v\n", e.Handle, e.Peer, e.Err)
	} else {
		fmt.Fprintf(p.out, "conn %d: encrypted with %v (%v, authenticated %v, bonded %v, restored %v)\n",
			e.Handle, e.Peer, e.Alg, e.Authenticated, e.Bonded, e.Restored)
	}
}

func (p *prompt) answer(a smp.PasskeyAction) (smp.IO, error) {
	resp := smp.IO{Action: a.Action}

	switch a.Action {
	case smp.IODisplay:
		pk, err := randomPasskey()
		if err != nil {
			return resp, err
		}
		resp.Passkey = pk
		fmt.Fprintf(p.out, "conn %d: passkey %06d\n", a.Handle, pk)

	case smp.IOInput:
		line, err := p.readLine(fmt.Sprintf("conn %d: enter passkey: ", a.Handle))
		if err != nil {
			return resp, err
		}
		pk, err := strconv.ParseUint(line, 10, 32)
		if err != nil {
			return resp, errors.Wrapf(err, "invalid passkey %q", line)
		}
		resp.Passkey = uint32(pk)

	case smp.IONumCmp:
		line, err := p.readLine(fmt.Sprintf("conn %d: does %06d match? [y/n] ", a.Handle, a.NumCmp))
		if err != nil {
			return resp, err
		}
		resp.NumCmpAccept = strings.HasPrefix(strings.ToLower(line), "y")

	default:
		return resp, errors.Errorf("unsupported action %v", a.Action)
	}
	return resp, nil
}

func (p *prompt) readLine(q string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.out, q)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Wrap(err, "can't read answer")
	}
	return strings.TrimSpace(line), nil
}

func randomPasskey() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]) % 1000000, nil
}
