package smp

import (
	"crypto/aes"

	"github.com/aead/cmac"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/sliceops"
)

// aesCMAC takes key, message and returns the MAC, all little-endian.
func aesCMAC(key, msg []byte) ([]byte, error) {
	tmp := sliceops.SwapBuf(key)
	mCipher, err := aes.NewCipher(tmp)
	if err != nil {
		return nil, err
	}

	msgMsb := sliceops.SwapBuf(msg)

	mMac, err := cmac.New(mCipher)
	if err != nil {
		return nil, err
	}

	mMac.Write(msgMsb)

	return sliceops.SwapBuf(mMac.Sum(nil)), nil
}

// addr7 is the 56-bit address input of f5 and f6: the address followed by
// its type in the most significant octet.
func addr7(a blehost.Addr) []byte {
	return sliceops.Concat(a.Bytes[:], []byte{a.Type})
}

func isSC(authReq byte) bool {
	return authReq&authReqSC == authReqSC
}

func isBonding(authReq byte) bool {
	return authReq&authReqBondMask == authReqBond
}

func isMITM(authReq byte) bool {
	return authReq&authReqMITM == authReqMITM
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
