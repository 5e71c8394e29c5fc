package smp

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/sliceops"
)

// Crypto is the set of primitives the SC engine consumes. All multi-octet
// values are little-endian, as on the wire.
type Crypto interface {
	GenerateKeys() (*KeyPair, error)
	DHKey(peer PublicKey, kp *KeyPair) ([32]byte, error)

	F4(u, v []byte, x [16]byte, z uint8) ([16]byte, error)
	F5(w [32]byte, n1, n2 [16]byte, a1, a2 blehost.Addr) (macKey, ltk [16]byte, err error)
	F6(w, n1, n2, r [16]byte, ioCap [3]byte, a1, a2 blehost.Addr) ([16]byte, error)
	G2(u, v []byte, x, y [16]byte) (uint32, error)

	Rand(b []byte) error
}

type defaultCrypto struct{}

// NewCrypto returns the P-256 / AES-CMAC implementation.
func NewCrypto() Crypto {
	return defaultCrypto{}
}

func (defaultCrypto) GenerateKeys() (*KeyPair, error) {
	return generateKeys()
}

func (defaultCrypto) DHKey(peer PublicKey, kp *KeyPair) ([32]byte, error) {
	return generateSecret(kp, peer)
}

func (defaultCrypto) Rand(b []byte) error {
	_, err := rand.Read(b)
	return err
}

func (defaultCrypto) F4(u, v []byte, x [16]byte, z uint8) ([16]byte, error) {
	var out [16]byte
	b, err := smpF4(u, v, x[:], z)
	copy(out[:], b)
	return out, err
}

func (defaultCrypto) F5(w [32]byte, n1, n2 [16]byte, a1, a2 blehost.Addr) ([16]byte, [16]byte, error) {
	var mk, ltk [16]byte
	m, l, err := smpF5(w[:], n1[:], n2[:], addr7(a1), addr7(a2))
	copy(mk[:], m)
	copy(ltk[:], l)
	return mk, ltk, err
}

func (defaultCrypto) F6(w, n1, n2, r [16]byte, ioCap [3]byte, a1, a2 blehost.Addr) ([16]byte, error) {
	var out [16]byte
	b, err := smpF6(w[:], n1[:], n2[:], r[:], ioCap[:], addr7(a1), addr7(a2))
	copy(out[:], b)
	return out, err
}

func (defaultCrypto) G2(u, v []byte, x, y [16]byte) (uint32, error) {
	return smpG2(u, v, x[:], y[:])
}

// f4(U, V, X, Z) = AES-CMAC X (U || V || Z)
func smpF4(u, v, x []byte, z uint8) ([]byte, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 {
		return nil, errors.New("length error")
	}

	m := sliceops.Concat([]byte{z}, v, u)
	return aesCMAC(x, m)
}

var (
	f5Salt = []byte{0xbe, 0x83, 0x60, 0x5a, 0xdb, 0x0b, 0x37, 0x60,
		0x38, 0xa5, 0xf5, 0xaa, 0x91, 0x83, 0x88, 0x6c}
	f5KeyID  = []byte{0x65, 0x6c, 0x74, 0x62} // "btle"
	f5Length = []byte{0x00, 0x01}             // 256
)

// f5(W, N1, N2, A1, A2) yields MacKey || LTK.
func smpF5(w, n1, n2, a1, a2 []byte) ([]byte, []byte, error) {
	switch {
	case len(w) != 32:
		return nil, nil, errors.New("length error w")
	case len(n1) != 16:
		return nil, nil, errors.New("length error n1")
	case len(n2) != 16:
		return nil, nil, errors.New("length error n2")
	case len(a1) != 7:
		return nil, nil, errors.New("length error a1")
	case len(a2) != 7:
		return nil, nil, errors.New("length error a2")
	}

	t, err := aesCMAC(f5Salt, w)
	if err != nil {
		return nil, nil, errors.Wrap(err, "can't generate f5 key")
	}

	m := sliceops.Concat(f5Length, a2, a1, n2, n1, f5KeyID, []byte{0x00})

	macKey, err := aesCMAC(t, m)
	if err != nil {
		return nil, nil, errors.Wrap(err, "can't generate mac key")
	}

	//ltk generation bit
	m[52] = 0x01

	ltk, err := aesCMAC(t, m)
	if err != nil {
		return nil, nil, errors.Wrap(err, "can't generate ltk")
	}

	return macKey, ltk, nil
}

// f6(W, N1, N2, R, IOcap, A1, A2) = AES-CMAC W (N1 || N2 || R || IOcap || A1 || A2)
func smpF6(w, n1, n2, r, ioCap, a1, a2 []byte) ([]byte, error) {
	if len(w) != 16 || len(n1) != 16 || len(n2) != 16 || len(r) != 16 || len(ioCap) != 3 || len(a1) != 7 || len(a2) != 7 {
		return nil, errors.New("length error")
	}

	m := sliceops.Concat(a2, a1, ioCap, r, n2, n1)
	return aesCMAC(w, m)
}

// g2(U, V, X, Y) = AES-CMAC X (U || V || Y) mod 2^32, reduced to six digits.
func smpG2(u, v, x, y []byte) (uint32, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 || len(y) != 16 {
		return 0, errors.New("length error")
	}

	m := sliceops.Concat(y, v, u)

	h, err := aesCMAC(x, m)
	if err != nil {
		return 0, err
	}

	out := binary.LittleEndian.Uint32(h[:4])
	return out % 1000000, nil
}
