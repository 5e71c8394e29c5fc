package smp

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// PDU is an SM command as carried on the SMP fixed channel.
type PDU interface {
	Code() byte
	Marshal() []byte
}

// PairCmd holds the parameters shared by Pairing Request and Response.
type PairCmd struct {
	IoCap       uint8
	OobFlag     uint8
	AuthReq     uint8
	MaxKeySize  uint8
	InitKeyDist uint8
	RespKeyDist uint8
}

// ioCapField is the IOcap input of f6: io capability, oob flag and auth
// requirements, least significant octet first.
func (c PairCmd) ioCapField() [3]byte {
	return [3]byte{c.IoCap, c.OobFlag, c.AuthReq}
}

func (c PairCmd) marshal(code byte) []byte {
	return []byte{code, c.IoCap, c.OobFlag, c.AuthReq, c.MaxKeySize, c.InitKeyDist, c.RespKeyDist}
}

func (c *PairCmd) unmarshal(in []byte) error {
	if len(in) != 6 {
		return errors.Wrapf(ErrInvalidParams, "%v, invalid length %v", hex.EncodeToString(in), len(in))
	}

	c.IoCap = in[0]
	c.OobFlag = in[1]
	c.AuthReq = in[2]
	c.MaxKeySize = in[3]
	c.InitKeyDist = in[4]
	c.RespKeyDist = in[5]
	return nil
}

type PairingRequest struct{ PairCmd }
type PairingResponse struct{ PairCmd }

func (PairingRequest) Code() byte         { return pairingRequest }
func (p PairingRequest) Marshal() []byte  { return p.marshal(pairingRequest) }
func (PairingResponse) Code() byte        { return pairingResponse }
func (p PairingResponse) Marshal() []byte { return p.marshal(pairingResponse) }

type PairingConfirm struct{ Value [16]byte }
type PairingRandom struct{ Value [16]byte }
type PairingDHKeyCheck struct{ Value [16]byte }

func (PairingConfirm) Code() byte           { return pairingConfirm }
func (p PairingConfirm) Marshal() []byte    { return marshal16(pairingConfirm, p.Value) }
func (PairingRandom) Code() byte            { return pairingRandom }
func (p PairingRandom) Marshal() []byte     { return marshal16(pairingRandom, p.Value) }
func (PairingDHKeyCheck) Code() byte        { return pairingDHKeyCheck }
func (p PairingDHKeyCheck) Marshal() []byte { return marshal16(pairingDHKeyCheck, p.Value) }

type PairingFailed struct{ Reason Reason }

func (PairingFailed) Code() byte        { return pairingFailed }
func (p PairingFailed) Marshal() []byte { return []byte{pairingFailed, byte(p.Reason)} }

// PairingPublicKey carries a P-256 point, both coordinates little-endian.
type PairingPublicKey struct {
	X [32]byte
	Y [32]byte
}

func (PairingPublicKey) Code() byte { return pairingPublicKey }

func (p PairingPublicKey) Marshal() []byte {
	out := make([]byte, 0, 65)
	out = append(out, pairingPublicKey)
	out = append(out, p.X[:]...)
	return append(out, p.Y[:]...)
}

type SecurityRequest struct{ AuthReq uint8 }

// PairingKeypress is sent by a keyboard side during passkey entry.
type PairingKeypress struct{ Type uint8 }

func (PairingKeypress) Code() byte        { return pairingKeypress }
func (p PairingKeypress) Marshal() []byte { return []byte{pairingKeypress, p.Type} }

func (SecurityRequest) Code() byte        { return securityRequest }
func (p SecurityRequest) Marshal() []byte { return []byte{securityRequest, p.AuthReq} }

func marshal16(code byte, v [16]byte) []byte {
	out := make([]byte, 0, 17)
	out = append(out, code)
	return append(out, v[:]...)
}

func unmarshal16(in []byte, v *[16]byte) error {
	if err := checkLen(in, 16); err != nil {
		return err
	}
	copy(v[:], in)
	return nil
}

// Unmarshal decodes an SM command, code octet first.
func Unmarshal(b []byte) (PDU, error) {
	if len(b) == 0 {
		return nil, errors.Wrap(ErrInvalidParams, "empty pdu")
	}
	code, in := b[0], b[1:]

	var (
		p   PDU
		err error
	)
	switch code {
	case pairingRequest:
		var v PairingRequest
		err = v.unmarshal(in)
		p = v
	case pairingResponse:
		var v PairingResponse
		err = v.unmarshal(in)
		p = v
	case pairingConfirm:
		var v PairingConfirm
		err = unmarshal16(in, &v.Value)
		p = v
	case pairingRandom:
		var v PairingRandom
		err = unmarshal16(in, &v.Value)
		p = v
	case pairingDHKeyCheck:
		var v PairingDHKeyCheck
		err = unmarshal16(in, &v.Value)
		p = v
	case pairingFailed:
		err = checkLen(in, 1)
		if err == nil {
			p = PairingFailed{Reason: Reason(in[0])}
		}
	case pairingPublicKey:
		err = checkLen(in, 64)
		if err == nil {
			var v PairingPublicKey
			copy(v.X[:], in[:32])
			copy(v.Y[:], in[32:])
			p = v
		}
	case securityRequest:
		err = checkLen(in, 1)
		if err == nil {
			p = SecurityRequest{AuthReq: in[0]}
		}
	case pairingKeypress:
		err = checkLen(in, 1)
		if err == nil {
			p = PairingKeypress{Type: in[0]}
		}
	default:
		return nil, errors.Errorf("unsupported sm code 0x%02x", code)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "sm code 0x%02x", code)
	}
	return p, nil
}

func checkLen(in []byte, n int) error {
	if len(in) != n {
		return errors.Wrapf(ErrInvalidParams, "invalid length %v", len(in))
	}
	return nil
}
