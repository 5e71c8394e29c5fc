package smp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Expected actions written out per pair of io capabilities, request side
// first, so any edit to the tables shows up here.
var pkaCases = []struct {
	req, rsp   uint8
	init, resp IOAction
}{
	{IoCapDisplayOnly, IoCapDisplayOnly, IONone, IONone},
	{IoCapDisplayOnly, IoCapDisplayYesNo, IONone, IONone},
	{IoCapDisplayOnly, IoCapKeyboardOnly, IODisplay, IOInput},
	{IoCapDisplayOnly, IoCapNoInputNoOutput, IONone, IONone},
	{IoCapDisplayOnly, IoCapKeyboardDisplay, IODisplay, IOInput},

	{IoCapDisplayYesNo, IoCapDisplayOnly, IONone, IONone},
	{IoCapDisplayYesNo, IoCapDisplayYesNo, IONumCmp, IONumCmp},
	{IoCapDisplayYesNo, IoCapKeyboardOnly, IODisplay, IOInput},
	{IoCapDisplayYesNo, IoCapNoInputNoOutput, IONone, IONone},
	{IoCapDisplayYesNo, IoCapKeyboardDisplay, IONumCmp, IONumCmp},

	{IoCapKeyboardOnly, IoCapDisplayOnly, IOInput, IODisplay},
	{IoCapKeyboardOnly, IoCapDisplayYesNo, IOInput, IODisplay},
	{IoCapKeyboardOnly, IoCapKeyboardOnly, IOInput, IOInput},
	{IoCapKeyboardOnly, IoCapNoInputNoOutput, IONone, IONone},
	{IoCapKeyboardOnly, IoCapKeyboardDisplay, IOInput, IODisplay},

	{IoCapNoInputNoOutput, IoCapDisplayOnly, IONone, IONone},
	{IoCapNoInputNoOutput, IoCapDisplayYesNo, IONone, IONone},
	{IoCapNoInputNoOutput, IoCapKeyboardOnly, IONone, IONone},
	{IoCapNoInputNoOutput, IoCapNoInputNoOutput, IONone, IONone},
	{IoCapNoInputNoOutput, IoCapKeyboardDisplay, IONone, IONone},

	{IoCapKeyboardDisplay, IoCapDisplayOnly, IOInput, IODisplay},
	{IoCapKeyboardDisplay, IoCapDisplayYesNo, IOInput, IONumCmp},
	{IoCapKeyboardDisplay, IoCapKeyboardOnly, IODisplay, IOInput},
	{IoCapKeyboardDisplay, IoCapNoInputNoOutput, IONone, IONone},
	{IoCapKeyboardDisplay, IoCapKeyboardDisplay, IONumCmp, IONumCmp},
}

func TestPasskeyActionTables(t *testing.T) {
	assert.Len(t, pkaCases, 25)

	mitm := authReqSC | authReqMITM
	for _, c := range pkaCases {
		req := PairCmd{IoCap: c.req, AuthReq: mitm}
		rsp := PairCmd{IoCap: c.rsp, AuthReq: mitm}

		assert.Equal(t, c.init, ioAction(true, req, rsp), "initiator req=%d rsp=%d", c.req, c.rsp)
		assert.Equal(t, c.resp, ioAction(false, req, rsp), "responder req=%d rsp=%d", c.req, c.rsp)

		// MITM on one side is enough
		req.AuthReq = authReqSC
		assert.Equal(t, c.init, ioAction(true, req, rsp))
		assert.Equal(t, c.resp, ioAction(false, req, rsp))
	}
}

func TestPasskeyActionOverrides(t *testing.T) {
	for req := uint8(0); req < ioCapReservedStart; req++ {
		for rsp := uint8(0); rsp < ioCapReservedStart; rsp++ {
			for _, init := range []bool{true, false} {
				a := PairCmd{IoCap: req, AuthReq: authReqSC}
				b := PairCmd{IoCap: rsp, AuthReq: authReqSC}
				assert.Equal(t, IONone, ioAction(init, a, b), "no mitm")

				a.OobFlag = oobDataPreset
				assert.Equal(t, IOOOB, ioAction(init, a, b), "req oob")

				a.OobFlag = 0
				b.OobFlag = oobDataPreset
				b.AuthReq |= authReqMITM
				assert.Equal(t, IOOOB, ioAction(init, a, b), "rsp oob")
			}
		}
	}
}

func TestAlgorithmFor(t *testing.T) {
	cases := []struct {
		a    IOAction
		alg  Algorithm
		auth bool
		st   State
	}{
		{IONone, JustWorks, false, StateNone},
		{IOOOB, OOB, true, StateConfirm},
		{IOInput, Passkey, true, StateConfirm},
		{IODisplay, Passkey, true, StateConfirm},
		{IONumCmp, NumericComparison, true, StateDHKeyCheck},
	}
	for _, c := range cases {
		alg, auth := algorithmFor(c.a)
		assert.Equal(t, c.alg, alg, c.a.String())
		assert.Equal(t, c.auth, auth, c.a.String())
		assert.Equal(t, c.st, pkactState(c.a), c.a.String())
	}
}

func TestPasskeyActionSetsProcedure(t *testing.T) {
	p := &proc{
		flags: flagInitiator,
		req:   PairCmd{IoCap: IoCapDisplayYesNo, AuthReq: authReqSC | authReqMITM},
		rsp:   PairCmd{IoCap: IoCapDisplayYesNo, AuthReq: authReqSC},
	}
	assert.Equal(t, IONumCmp, passkeyAction(p))
	assert.Equal(t, NumericComparison, p.alg)
	assert.True(t, p.has(flagAuthenticated))
	assert.False(t, initiatorTxesConfirm(p))
	assert.False(t, responderVerifiesRandom(p))

	p.req.AuthReq = authReqSC
	assert.Equal(t, IONone, passkeyAction(p))
	assert.Equal(t, JustWorks, p.alg)
	assert.False(t, p.has(flagAuthenticated))

	p.alg = Passkey
	assert.True(t, initiatorTxesConfirm(p))
	assert.True(t, responderVerifiesRandom(p))
}
