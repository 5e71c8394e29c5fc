package smp

import (
	"crypto/aes"
	"encoding/hex"
	"testing"

	"github.com/aead/cmac"
	"github.com/rigado/blehost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Sample data from Bluetooth Core v5.2, Vol 3, Part H, Appendix D,
// little-endian.
var (
	testU = []byte{
		0xe6, 0x9d, 0x35, 0x0e, 0x48, 0x01, 0x03, 0xcc,
		0xdb, 0xfd, 0xf4, 0xac, 0x11, 0x91, 0xf4, 0xef,
		0xb9, 0xa5, 0xf9, 0xe9, 0xa7, 0x83, 0x2c, 0x5e,
		0x2c, 0xbe, 0x97, 0xf2, 0xd2, 0x03, 0xb0, 0x20,
	}
	testV = []byte{
		0xfd, 0xc5, 0x7f, 0xf4, 0x49, 0xdd, 0x4f, 0x6b,
		0xfb, 0x7c, 0x9d, 0xf1, 0xc2, 0x9a, 0xcb, 0x59,
		0x2a, 0xe7, 0xd4, 0xee, 0xfb, 0xfc, 0x0a, 0x90,
		0x9a, 0xbb, 0xf6, 0x32, 0x3d, 0x8b, 0x18, 0x55,
	}
	testX = [16]byte{
		0xab, 0xae, 0x2b, 0x71, 0xec, 0xb2, 0xff, 0xff,
		0x3e, 0x73, 0x77, 0xd1, 0x54, 0x84, 0xcb, 0xd5,
	}
	testW = [32]byte{
		0x98, 0xa6, 0xbf, 0x73, 0xf3, 0x34, 0x8d, 0x86,
		0xf1, 0x66, 0xf8, 0xb4, 0x13, 0x6b, 0x79, 0x99,
		0x9b, 0x7d, 0x39, 0x0a, 0xa6, 0x10, 0x10, 0x34,
		0x05, 0xad, 0xc8, 0x57, 0xa3, 0x34, 0x02, 0xec,
	}
	testN2 = [16]byte{
		0xcf, 0xc4, 0x3d, 0xff, 0xf7, 0x83, 0x65, 0x21,
		0x6e, 0x5f, 0xa7, 0x25, 0xcc, 0xe7, 0xe8, 0xa6,
	}
	testR = [16]byte{
		0xc8, 0x0f, 0x2d, 0x0c, 0xd2, 0x42, 0xda, 0x08,
		0x54, 0xbb, 0x53, 0xb4, 0x3b, 0x34, 0xa3, 0x12,
	}
	testA1 = blehost.Addr{Type: 0x00, Bytes: [6]byte{0xce, 0xbf, 0x37, 0x37, 0x12, 0x56}}
	testA2 = blehost.Addr{Type: 0x00, Bytes: [6]byte{0xc1, 0xcf, 0x2d, 0x70, 0x13, 0xa7}}

	testMacKey = [16]byte{
		0x20, 0x6e, 0x63, 0xce, 0x20, 0x6a, 0x3f, 0xfd,
		0x02, 0x4a, 0x08, 0xa1, 0x76, 0xf1, 0x65, 0x29,
	}
)

func TestRawCMAC(t *testing.T) {
	k, err := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	require.NoError(t, err)
	m, err := hex.DecodeString("6bc1bee22e409f96e93d7e117393172a")
	require.NoError(t, err)

	c, err := aes.NewCipher(k)
	require.NoError(t, err)
	mac, err := cmac.New(c)
	require.NoError(t, err)
	mac.Write(m)

	assert.Equal(t, "070a16b46b4d4144f79bdd9dd04a287c", hex.EncodeToString(mac.Sum(nil)))
}

func TestF4(t *testing.T) {
	exp := [16]byte{
		0x2d, 0x87, 0x74, 0xa9, 0xbe, 0xa1, 0xed, 0xf1,
		0x1c, 0xbd, 0xa9, 0x07, 0xf1, 0x16, 0xc9, 0xf2,
	}

	out, err := NewCrypto().F4(testU, testV, testX, 0)
	require.NoError(t, err)
	assert.Equal(t, exp, out)

	_, err = NewCrypto().F4(testU[:31], testV, testX, 0)
	assert.Error(t, err)
}

func TestF5(t *testing.T) {
	expLTK := [16]byte{
		0x38, 0x0a, 0x75, 0x94, 0xb5, 0x22, 0x05, 0x98,
		0x23, 0xcd, 0xd7, 0x69, 0x11, 0x79, 0x86, 0x69,
	}

	mk, ltk, err := NewCrypto().F5(testW, testX, testN2, testA1, testA2)
	require.NoError(t, err)
	assert.Equal(t, testMacKey, mk)
	assert.Equal(t, expLTK, ltk)
}

func TestF6(t *testing.T) {
	exp := [16]byte{
		0x61, 0x8f, 0x95, 0xda, 0x09, 0x0b, 0x6c, 0xd2,
		0xc5, 0xe8, 0xd0, 0x9c, 0x98, 0x73, 0xc4, 0xe3,
	}

	out, err := NewCrypto().F6(testMacKey, testX, testN2, testR, [3]byte{0x02, 0x01, 0x01}, testA1, testA2)
	require.NoError(t, err)
	assert.Equal(t, exp, out)
}

func TestG2(t *testing.T) {
	v, err := NewCrypto().G2(testU, testV, testX, testN2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2f9ed5ba%1000000), v)
}

func TestDHKeyAgreement(t *testing.T) {
	c := NewCrypto()

	a, err := c.GenerateKeys()
	require.NoError(t, err)
	b, err := c.GenerateKeys()
	require.NoError(t, err)
	assert.NotEqual(t, a.Public, b.Public)

	ab, err := c.DHKey(b.Public, a)
	require.NoError(t, err)
	ba, err := c.DHKey(a.Public, b)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func TestDHKeyRejectsPointOffCurve(t *testing.T) {
	c := NewCrypto()
	kp, err := c.GenerateKeys()
	require.NoError(t, err)

	var bad PublicKey
	bad[0] = 0x01
	bad[32] = 0x01
	_, err = c.DHKey(bad, kp)
	assert.Error(t, err)
}

func TestPublicKeyRoundTrip(t *testing.T) {
	kp, err := NewCrypto().GenerateKeys()
	require.NoError(t, err)

	pub, ok := unmarshalPublicKey(kp.Public)
	require.True(t, ok)
	assert.Equal(t, kp.Public, marshalPublicKey(pub))
}
