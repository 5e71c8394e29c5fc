package smp

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDURoundTrip(t *testing.T) {
	var v16 [16]byte
	for i := range v16 {
		v16[i] = byte(0xa0 + i)
	}
	var pk PairingPublicKey
	for i := range pk.X {
		pk.X[i] = byte(i)
		pk.Y[i] = byte(0xff - i)
	}

	pdus := []PDU{
		PairingRequest{PairCmd{IoCap: IoCapKeyboardDisplay, OobFlag: 0, AuthReq: 0x2d, MaxKeySize: 16, InitKeyDist: 0x01, RespKeyDist: 0x03}},
		PairingResponse{PairCmd{IoCap: IoCapDisplayOnly, OobFlag: 1, AuthReq: 0x09, MaxKeySize: 7}},
		PairingConfirm{Value: v16},
		PairingRandom{Value: v16},
		PairingDHKeyCheck{Value: v16},
		PairingFailed{Reason: ReasonDHKeyCheckFailed},
		pk,
		SecurityRequest{AuthReq: 0x0d},
		PairingKeypress{Type: 0x02},
	}

	for _, p := range pdus {
		b := p.Marshal()
		require.NotEmpty(t, b)
		assert.Equal(t, p.Code(), b[0])

		out, err := Unmarshal(b)
		require.NoError(t, err, "%T", p)
		assert.Equal(t, p, out)
	}
}

func TestPDULengths(t *testing.T) {
	assert.Len(t, PairingPublicKey{}.Marshal(), 65)
	assert.Len(t, PairingConfirm{}.Marshal(), 17)
	assert.Len(t, PairingRequest{}.Marshal(), 7)
	assert.Equal(t, []byte{pairingFailed, 0x0b}, PairingFailed{Reason: ReasonDHKeyCheckFailed}.Marshal())
}

func TestUnmarshalRejects(t *testing.T) {
	_, err := Unmarshal(nil)
	assert.Equal(t, ErrInvalidParams, errors.Cause(err))

	_, err = Unmarshal([]byte{pairingConfirm, 0x01, 0x02})
	assert.Equal(t, ErrInvalidParams, errors.Cause(err))

	_, err = Unmarshal(append([]byte{pairingPublicKey}, make([]byte, 63)...))
	assert.Equal(t, ErrInvalidParams, errors.Cause(err))

	_, err = Unmarshal([]byte{pairingRequest, 0x03, 0x00, 0x08, 0x10, 0x00})
	assert.Equal(t, ErrInvalidParams, errors.Cause(err))

	_, err = Unmarshal([]byte{encryptionInformation})
	assert.Error(t, err)
}

func TestIoCapField(t *testing.T) {
	c := PairCmd{IoCap: 0x02, OobFlag: 0x01, AuthReq: 0x01}
	assert.Equal(t, [3]byte{0x02, 0x01, 0x01}, c.ioCapField())
}

func TestErrorReason(t *testing.T) {
	err := errors.Wrap(Error{Reason: ReasonConfirmValueFailed}, "random")
	assert.True(t, IsReason(err, ReasonConfirmValueFailed))
	assert.False(t, IsReason(err, ReasonUnspecified))
	assert.False(t, IsReason(ErrTimeout, ReasonUnspecified))

	assert.Equal(t, "pairing failed by peer: dhkey check failed", Error{Reason: ReasonDHKeyCheckFailed, Remote: true}.Error())
	assert.Equal(t, "reason 0x20", Reason(0x20).String())
}
