package smp

// SM command codes [Vol 3, Part H, 3.3].
const (
	pairingRequest          = 0x01 // Pairing Request LE-U, ACL-U
	pairingResponse         = 0x02 // Pairing Response LE-U, ACL-U
	pairingConfirm          = 0x03 // Pairing Confirm LE-U
	pairingRandom           = 0x04 // Pairing Random LE-U
	pairingFailed           = 0x05 // Pairing Failed LE-U, ACL-U
	encryptionInformation   = 0x06 // Encryption Information LE-U
	masterIdentification    = 0x07 // Master Identification LE-U
	identityInformation     = 0x08 // Identity Information LE-U, ACL-U
	identityAddrInformation = 0x09 // Identity Address Information LE-U, ACL-U
	signingInformation      = 0x0A // Signing Information LE-U, ACL-U
	securityRequest         = 0x0B // Security Request LE-U
	pairingPublicKey        = 0x0C // Pairing Public Key LE-U
	pairingDHKeyCheck       = 0x0D // Pairing DHKey Check LE-U
	pairingKeypress         = 0x0E // Pairing Keypress Notification LE-U
)

// IO capabilities.
const (
	IoCapDisplayOnly     = 0x00
	IoCapDisplayYesNo    = 0x01
	IoCapKeyboardOnly    = 0x02
	IoCapNoInputNoOutput = 0x03
	IoCapKeyboardDisplay = 0x04
	ioCapReservedStart   = 0x05
)

// AuthReq bits.
const (
	authReqBondMask = byte(0x03)
	authReqBond     = byte(0x01)
	authReqMITM     = byte(0x04)
	authReqSC       = byte(0x08)
	authReqKeypress = byte(0x10)
)

const (
	oobDataPreset = 0x01

	keySizeMin = 7
	keySizeMax = 16

	passkeyBits = 20
	passkeyMax  = 999999
)

// State is the phase of a pairing procedure.
type State uint8

const (
	// StateNone matches any state in lookups; a procedure back in StateNone
	// has finished.
	StateNone State = iota
	StatePair
	StatePublicKey
	StateConfirm
	StateRandom
	StateDHKeyCheck
	StateLTKStart
	StateLTKRestore
	StateEncStart
)

var stateNames = map[State]string{
	StateNone:       "none",
	StatePair:       "pair",
	StatePublicKey:  "public key",
	StateConfirm:    "confirm",
	StateRandom:     "random",
	StateDHKeyCheck: "dhkey check",
	StateLTKStart:   "ltk start",
	StateLTKRestore: "ltk restore",
	StateEncStart:   "enc start",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Algorithm is the negotiated SC pairing method.
type Algorithm uint8

const (
	JustWorks Algorithm = iota
	Passkey
	OOB
	NumericComparison
)

var algorithmNames = map[Algorithm]string{
	JustWorks:         "just works",
	Passkey:           "passkey",
	OOB:               "oob",
	NumericComparison: "numeric comparison",
}

func (a Algorithm) String() string {
	if n, ok := algorithmNames[a]; ok {
		return n
	}
	return "unknown"
}

// IOAction is what the application must do for a procedure to proceed.
type IOAction uint8

const (
	IONone IOAction = iota
	IOOOB
	IOInput
	IODisplay
	IONumCmp
)

var ioActionNames = map[IOAction]string{
	IONone:    "none",
	IOOOB:     "oob",
	IOInput:   "input",
	IODisplay: "display",
	IONumCmp:  "numeric comparison",
}

func (a IOAction) String() string {
	if n, ok := ioActionNames[a]; ok {
		return n
	}
	return "unknown"
}
