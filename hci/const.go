package hci

// HCI Packet types
const (
	PktTypeNone    PacketType = 0x00
	PktTypeCommand PacketType = 0x01
	PktTypeACLData PacketType = 0x02
	PktTypeSCOData PacketType = 0x03
	PktTypeEvent   PacketType = 0x04
)

// Header lengths, excluding the H4 type octet.
const (
	CmdHeaderLen = 3 // opcode (2) + parameter length (1)
	EvtHeaderLen = 2 // event code (1) + parameter length (1)
	ACLHeaderLen = 4 // handle+flags (2) + data length (2)

	// CmdBufSize fits a command header with a full parameter block.
	CmdBufSize = 260
)

// Packet boundary flags of HCI ACL Data Packet [Vol 2, Part E, 5.4.2].
const (
	PbfHostToControllerStart = 0x00 // Start of a non-automatically-flushable from host to controller.
	PbfContinuing            = 0x01 // Continuing fragment.
	PbfControllerToHostStart = 0x02 // Start of a non-automatically-flushable from controller to host.
	pbfCompleteL2CAPPDU      = 0x03 // A automatically flushable complete PDU. (Not used in LE-U).
)

// L2CAP fixed channels used by the host.
const (
	CidATT = 0x0004
	CidSMP = 0x0006

	l2capHeaderLen = 4
)

const (
	RoleMaster = 0x00
	RoleSlave  = 0x01
)

// PacketType is the H4 packet indicator.
type PacketType uint8

func (t PacketType) String() string {
	switch t {
	case PktTypeNone:
		return "none"
	case PktTypeCommand:
		return "command"
	case PktTypeACLData:
		return "acl"
	case PktTypeSCOData:
		return "sco"
	case PktTypeEvent:
		return "event"
	default:
		return "unknown"
	}
}
