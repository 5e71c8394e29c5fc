package smp

import (
	"github.com/pkg/errors"
)

type smpDispatcher struct {
	desc    string
	handler func(m *Manager, handle uint16, cmd PDU) result
}

// Key distribution is never negotiated, so its commands fall through to
// Command Not Supported.
var dispatcher = map[byte]smpDispatcher{
	pairingRequest:          {"pairing request", onPairingRequest},
	pairingResponse:         {"pairing response", onPairingResponse},
	pairingConfirm:          {"pairing confirm", onPairingConfirm},
	pairingRandom:           {"pairing random", onPairingRandom},
	pairingFailed:           {"pairing failed", onPairingFailed},
	encryptionInformation:   {"encryption info", nil},
	masterIdentification:    {"master id", nil},
	identityInformation:     {"id info", nil},
	identityAddrInformation: {"id addr info", nil},
	signingInformation:      {"signing info", nil},
	securityRequest:         {"security req", onSecurityRequest},
	pairingPublicKey:        {"pairing pub key", onPairingPublicKey},
	pairingDHKeyCheck:       {"pairing dhkey check", onDHKeyCheck},
	pairingKeypress:         {"pairing keypress", onKeypress},
}

// stateDispatch holds the step that moves a procedure out of each state.
var stateDispatch = map[State]func(m *Manager, p *proc, res *result){
	StatePair:       (*Manager).pairGo,
	StatePublicKey:  (*Manager).scPublicKeyGo,
	StateConfirm:    (*Manager).scConfirmGo,
	StateRandom:     (*Manager).scRandomGo,
	StateDHKeyCheck: (*Manager).scDHKeyCheckGo,
	StateLTKStart:   (*Manager).ltkStartGo,
	StateLTKRestore: (*Manager).ltkRestoreGo,
	StateEncStart:   (*Manager).encStartGo,
}

// Handle processes one SM PDU received on handle's SMP channel, code octet
// first.
func (m *Manager) Handle(handle uint16, in []byte) error {
	if len(in) == 0 {
		return errors.Wrap(ErrInvalidParams, "empty sm pdu")
	}

	code := in[0]
	v, ok := dispatcher[code]
	if !ok || v.handler == nil {
		m.logger.Warnf("conn %d: unhandled smp code 0x%02x", handle, code)
		m.sendFailed(handle, ReasonCommandNotSupported)
		return nil
	}

	cmd, err := Unmarshal(in)
	if err != nil {
		m.logger.Warnf("conn %d: %v: %v", handle, v.desc, err)
		m.process(handle, result{err: err, smErr: ReasonInvalidParameters, encCB: true})
		return err
	}
	m.logger.Debugf("conn %d: rx %v", handle, v.desc)

	if _, err := m.ensureKeys(); err != nil {
		m.process(handle, result{err: err, smErr: ReasonUnspecified, encCB: true})
		return err
	}

	res := v.handler(m, handle, cmd)
	if errors.Cause(res.err) == ErrNotFound {
		m.logger.Debugf("conn %d: %v dropped: %v", handle, v.desc, res.err)
		return nil
	}

	m.process(handle, res)
	return nil
}

func onPairingRequest(m *Manager, handle uint16, cmd PDU) result {
	return m.pairReqRx(handle, cmd.(PairingRequest))
}

func onPairingResponse(m *Manager, handle uint16, cmd PDU) result {
	return m.pairRspRx(handle, cmd.(PairingResponse))
}

func onPairingConfirm(m *Manager, handle uint16, cmd PDU) result {
	return m.confirmRx(handle, cmd.(PairingConfirm))
}

func onPairingRandom(m *Manager, handle uint16, cmd PDU) result {
	return m.randomRx(handle, cmd.(PairingRandom))
}

func onPairingPublicKey(m *Manager, handle uint16, cmd PDU) result {
	return m.scPublicKeyRx(handle, cmd.(PairingPublicKey))
}

func onDHKeyCheck(m *Manager, handle uint16, cmd PDU) result {
	return m.scDHKeyCheckRx(handle, cmd.(PairingDHKeyCheck))
}

func onSecurityRequest(m *Manager, handle uint16, cmd PDU) result {
	return m.securityRequestRx(handle, cmd.(SecurityRequest))
}

func onPairingFailed(m *Manager, handle uint16, cmd PDU) result {
	m.pairingFailedRx(handle, cmd.(PairingFailed))
	return result{err: errors.Wrap(ErrNotFound, "procedure already removed")}
}

// Keypress notifications only restart the SMP timer.
func onKeypress(m *Manager, handle uint16, cmd PDU) result {
	return result{}
}
