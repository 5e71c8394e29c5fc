package blehost

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rigado/blehost/sliceops"
)

// Address types as carried in HCI events and SM crypto inputs.
const (
	AddrTypePublic = 0x00
	AddrTypeRandom = 0x01
)

// Addr is a Bluetooth device address. Bytes are stored little-endian, in the
// order they travel over HCI.
type Addr struct {
	Type  uint8
	Bytes [6]byte
}

// ParseAddr parses "aa:bb:cc:dd:ee:ff" (most significant byte first).
func ParseAddr(s string, typ uint8) (Addr, error) {
	hexStr := strings.Replace(s, ":", "", -1)
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return Addr{}, errors.Wrapf(err, "invalid address %q", s)
	}
	if len(b) != 6 {
		return Addr{}, errors.Errorf("invalid address length %d", len(b))
	}

	a := Addr{Type: typ}
	copy(a.Bytes[:], sliceops.SwapBuf(b))
	return a, nil
}

// MustParseAddr is like ParseAddr but panics on error.
func MustParseAddr(s string, typ uint8) Addr {
	a, err := ParseAddr(s, typ)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Addr) String() string {
	b := sliceops.SwapBuf(a.Bytes[:])
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, ":")
}

// Key is a stable map key for the address including its type.
func (a Addr) Key() string {
	return fmt.Sprintf("%d/%s", a.Type, hex.EncodeToString(a.Bytes[:]))
}
