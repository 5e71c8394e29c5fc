package hci

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Command ...
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}

func marshal(c Command, b []byte) error {
	if len(b) < c.Len() {
		return io.ErrShortBuffer
	}
	return binary.Write(bytes.NewBuffer(b[:0]), binary.LittleEndian, c)
}

// Reset implements Reset (0x03|0x0003) [Vol 2, Part E, 7.3.2]
type Reset struct{}

func (c *Reset) String() string { return "Reset (0x03|0x0003)" }

// OpCode returns the opcode of the command.
func (c *Reset) OpCode() int { return 0x03<<10 | 0x0003 }

// Len returns the length of the command.
func (c *Reset) Len() int { return 0 }

// Marshal serializes the command parameters into binary form.
func (c *Reset) Marshal(b []byte) error { return nil }

// SetEventMask implements Set Event Mask (0x03|0x0001) [Vol 2, Part E, 7.3.1]
type SetEventMask struct {
	EventMask uint64
}

func (c *SetEventMask) String() string { return "Set Event Mask (0x03|0x0001)" }

// OpCode returns the opcode of the command.
func (c *SetEventMask) OpCode() int { return 0x03<<10 | 0x0001 }

// Len returns the length of the command.
func (c *SetEventMask) Len() int { return 8 }

// Marshal serializes the command parameters into binary form.
func (c *SetEventMask) Marshal(b []byte) error { return marshal(c, b) }

// LESetEventMask implements LE Set Event Mask (0x08|0x0001) [Vol 2, Part E, 7.8.1]
type LESetEventMask struct {
	LEEventMask uint64
}

func (c *LESetEventMask) String() string { return "LE Set Event Mask (0x08|0x0001)" }

// OpCode returns the opcode of the command.
func (c *LESetEventMask) OpCode() int { return 0x08<<10 | 0x0001 }

// Len returns the length of the command.
func (c *LESetEventMask) Len() int { return 8 }

// Marshal serializes the command parameters into binary form.
func (c *LESetEventMask) Marshal(b []byte) error { return marshal(c, b) }

// LEStartEncryption implements LE Start Encryption (0x08|0x0019) [Vol 2, Part E, 7.8.24]
type LEStartEncryption struct {
	ConnectionHandle     uint16
	RandomNumber         uint64
	EncryptedDiversifier uint16
	LongTermKey          [16]byte
}

func (c *LEStartEncryption) String() string { return "LE Start Encryption (0x08|0x0019)" }

// OpCode returns the opcode of the command.
func (c *LEStartEncryption) OpCode() int { return 0x08<<10 | 0x0019 }

// Len returns the length of the command.
func (c *LEStartEncryption) Len() int { return 28 }

// Marshal serializes the command parameters into binary form.
func (c *LEStartEncryption) Marshal(b []byte) error { return marshal(c, b) }

// LELongTermKeyRequestReply implements LE Long Term Key Request Reply (0x08|0x001A) [Vol 2, Part E, 7.8.25]
type LELongTermKeyRequestReply struct {
	ConnectionHandle uint16
	LongTermKey      [16]byte
}

func (c *LELongTermKeyRequestReply) String() string {
	return "LE Long Term Key Request Reply (0x08|0x001A)"
}

// OpCode returns the opcode of the command.
func (c *LELongTermKeyRequestReply) OpCode() int { return 0x08<<10 | 0x001A }

// Len returns the length of the command.
func (c *LELongTermKeyRequestReply) Len() int { return 18 }

// Marshal serializes the command parameters into binary form.
func (c *LELongTermKeyRequestReply) Marshal(b []byte) error { return marshal(c, b) }

// LELongTermKeyRequestNegativeReply implements LE Long Term Key Request Negative Reply (0x08|0x001B) [Vol 2, Part E, 7.8.26]
type LELongTermKeyRequestNegativeReply struct {
	ConnectionHandle uint16
}

func (c *LELongTermKeyRequestNegativeReply) String() string {
	return "LE Long Term Key Request Negative Reply (0x08|0x001B)"
}

// OpCode returns the opcode of the command.
func (c *LELongTermKeyRequestNegativeReply) OpCode() int { return 0x08<<10 | 0x001B }

// Len returns the length of the command.
func (c *LELongTermKeyRequestNegativeReply) Len() int { return 2 }

// Marshal serializes the command parameters into binary form.
func (c *LELongTermKeyRequestNegativeReply) Marshal(b []byte) error { return marshal(c, b) }

// Opcodes the host and the simulated link layer switch on.
const (
	OpReset                     = 0x03<<10 | 0x0003
	OpSetEventMask              = 0x03<<10 | 0x0001
	OpLESetEventMask            = 0x08<<10 | 0x0001
	OpLEStartEncryption         = 0x08<<10 | 0x0019
	OpLELongTermKeyRequestReply = 0x08<<10 | 0x001A
	OpLELongTermKeyRequestNeg   = 0x08<<10 | 0x001B
)
