package evt

import (
	"encoding/binary"
	"fmt"
)

func (e DisconnectionComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e DisconnectionComplete) ConnectionHandleWErr() (uint16, error) {
	return getUint16LE(e, 1, 0xffff)
}

func (e DisconnectionComplete) ReasonWErr() (uint8, error) {
	return getByte(e, 3, 0)
}

func (e EncryptionChange) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e EncryptionChange) ConnectionHandleWErr() (uint16, error) {
	return getUint16LE(e, 1, 0xffff)
}

func (e EncryptionChange) EncryptionEnabledWErr() (uint8, error) {
	return getByte(e, 3, 0)
}

func (e CommandComplete) NumHCICommandPacketsWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e CommandComplete) CommandOpcodeWErr() (uint16, error) {
	return getUint16LE(e, 1, 0xffff)
}

func (e CommandComplete) ReturnParametersWErr() ([]byte, error) {
	if len(e) == 3 {
		return []byte{}, nil
	}
	return getBytes(e, 3, -1)
}

func (e CommandStatus) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e CommandStatus) NumHCICommandPacketsWErr() (uint8, error) {
	return getByte(e, 1, 0)
}

func (e CommandStatus) CommandOpcodeWErr() (uint16, error) {
	return getUint16LE(e, 2, 0xffff)
}

func (e LEConnectionComplete) SubeventCodeWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e LEConnectionComplete) StatusWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LEConnectionComplete) ConnectionHandleWErr() (uint16, error) {
	return getUint16LE(e, 2, 0xffff)
}

func (e LEConnectionComplete) RoleWErr() (uint8, error) {
	return getByte(e, 4, 0xff)
}

func (e LEConnectionComplete) PeerAddressTypeWErr() (uint8, error) {
	return getByte(e, 5, 0xff)
}

func (e LEConnectionComplete) PeerAddressWErr() ([6]byte, error) {
	out := [6]byte{}
	bb, err := getBytes(e, 6, 6)
	if err != nil {
		return out, err
	}
	copy(out[:], bb)
	return out, nil
}

func (e LELongTermKeyRequest) SubeventCodeWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e LELongTermKeyRequest) ConnectionHandleWErr() (uint16, error) {
	return getUint16LE(e, 1, 0xffff)
}

func (e LELongTermKeyRequest) RandomNumberWErr() (uint64, error) {
	bb, err := getBytes(e, 3, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(bb), nil
}

func (e LELongTermKeyRequest) EncryptionDiversifierWErr() (uint16, error) {
	return getUint16LE(e, 11, 0)
}

//get or default
func getByte(b []byte, i int, def byte) (byte, error) {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return def, err
	}
	return bb[0], nil
}

//get or default
func getUint16LE(b []byte, i int, def uint16) (uint16, error) {
	bb, err := getBytes(b, i, 2)
	if err != nil {
		return def, err
	}
	return binary.LittleEndian.Uint16(bb), nil
}

func getBytes(bytes []byte, start int, count int) ([]byte, error) {
	if bytes == nil || start >= len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	if count < 0 {
		return bytes[start:], nil
	}

	end := start + count
	//end is non-inclusive
	if end > len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	return bytes[start:end], nil
}
