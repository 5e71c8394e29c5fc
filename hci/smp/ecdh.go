package smp

import (
	"crypto"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/pkg/errors"
	"github.com/rigado/blehost/sliceops"
	"github.com/wsddn/go-ecdh"
)

// PublicKey is a P-256 point as sent in Pairing Public Key: X then Y, each
// little-endian.
type PublicKey [64]byte

func (k PublicKey) X() []byte { return k[:32] }
func (k PublicKey) Y() []byte { return k[32:] }

// KeyPair is the local SC key pair. The private half never leaves the
// crypto implementation.
type KeyPair struct {
	Public  PublicKey
	private crypto.PrivateKey
}

func generateKeys() (*KeyPair, error) {
	e := ecdh.NewEllipticECDH(elliptic.P256())

	prv, pub, err := e.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &KeyPair{Public: marshalPublicKey(pub), private: prv}, nil
}

func unmarshalPublicKey(k PublicKey) (crypto.PublicKey, bool) {
	e := ecdh.NewEllipticECDH(elliptic.P256())
	xs := sliceops.SwapBuf(k.X())
	ys := sliceops.SwapBuf(k.Y())

	//add header
	r := sliceops.Concat([]byte{0x04}, xs, ys)

	return e.Unmarshal(r)
}

func marshalPublicKey(k crypto.PublicKey) PublicKey {
	e := ecdh.NewEllipticECDH(elliptic.P256())

	ba := e.Marshal(k)
	ba = ba[1:] //remove header

	var out PublicKey
	copy(out[:32], sliceops.SwapBuf(ba[:32]))
	copy(out[32:], sliceops.SwapBuf(ba[32:]))
	return out
}

// generateSecret computes the DH key, little-endian.
func generateSecret(kp *KeyPair, peer PublicKey) ([32]byte, error) {
	var out [32]byte
	if kp == nil {
		return out, errors.New("no local keys")
	}

	pub, ok := unmarshalPublicKey(peer)
	if !ok {
		return out, errors.New("peer public key not on curve")
	}

	e := ecdh.NewEllipticECDH(elliptic.P256())
	b, err := e.GenerateSharedSecret(kp.private, pub)
	if err != nil {
		return out, err
	}
	if len(b) > 32 {
		return out, errors.Errorf("dhkey length %d", len(b))
	}

	// the shared secret drops leading zero octets
	be := make([]byte, 32)
	copy(be[32-len(b):], b)
	copy(out[:], sliceops.SwapBuf(be))
	return out, nil
}
