package smp

// Passkey actions indexed [response io capability][request io capability].
// The two roles are tabulated separately and the tables are not mirror
// images of each other; both are kept as they are.
var initPKA = [ioCapReservedStart][ioCapReservedStart]IOAction{
	{IONone, IONone, IOInput, IONone, IOInput},
	{IONone, IONumCmp, IOInput, IONone, IOInput},
	{IODisplay, IODisplay, IOInput, IONone, IODisplay},
	{IONone, IONone, IONone, IONone, IONone},
	{IODisplay, IONumCmp, IOInput, IONone, IONumCmp},
}

var respPKA = [ioCapReservedStart][ioCapReservedStart]IOAction{
	{IONone, IONone, IODisplay, IONone, IODisplay},
	{IONone, IONumCmp, IODisplay, IONone, IONumCmp},
	{IOInput, IOInput, IOInput, IONone, IOInput},
	{IONone, IONone, IONone, IONone, IONone},
	{IOInput, IONumCmp, IODisplay, IONone, IONumCmp},
}

// ioAction selects the passkey action for one side of a pairing. Both io
// capabilities must already be validated.
func ioAction(initiator bool, req, rsp PairCmd) IOAction {
	switch {
	case req.OobFlag == oobDataPreset || rsp.OobFlag == oobDataPreset:
		return IOOOB
	case !isMITM(req.AuthReq) && !isMITM(rsp.AuthReq):
		return IONone
	case initiator:
		return initPKA[rsp.IoCap][req.IoCap]
	default:
		return respPKA[rsp.IoCap][req.IoCap]
	}
}

// algorithmFor maps a passkey action to the pairing method it implies and
// whether that method authenticates the peer.
func algorithmFor(a IOAction) (Algorithm, bool) {
	switch a {
	case IOOOB:
		return OOB, true
	case IOInput, IODisplay:
		return Passkey, true
	case IONumCmp:
		return NumericComparison, true
	default:
		return JustWorks, false
	}
}

// passkeyAction computes the procedure's action and records the resulting
// algorithm.
func passkeyAction(p *proc) IOAction {
	a := ioAction(p.initiator(), p.req, p.rsp)
	alg, auth := algorithmFor(a)
	p.action = a
	p.alg = alg
	if auth {
		p.flags |= flagAuthenticated
	} else {
		p.flags &^= flagAuthenticated
	}
	return a
}

// pkactState is the state in which the action's user input is consumed.
func pkactState(a IOAction) State {
	switch a {
	case IOOOB, IOInput, IODisplay:
		return StateConfirm
	case IONumCmp:
		return StateDHKeyCheck
	default:
		return StateNone
	}
}

func initiatorTxesConfirm(p *proc) bool {
	return p.alg != JustWorks && p.alg != NumericComparison
}

func responderVerifiesRandom(p *proc) bool {
	return p.alg != JustWorks && p.alg != NumericComparison
}
