package smp

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotFound        = errors.New("no pairing procedure in that state")
	ErrBusy            = errors.New("pairing already in progress")
	ErrInvalidParams   = errors.New("invalid parameters")
	ErrAlreadyInjected = errors.New("io already injected")
	ErrConnBroken      = errors.New("connection broken")
	ErrTimeout         = errors.New("pairing timed out")
	ErrNotConnected    = errors.New("not connected")
)

// Reason is a Pairing Failed reason code [Vol 3, Part H, 3.5.5].
type Reason uint8

const (
	ReasonPasskeyEntryFailed         Reason = 0x01
	ReasonOOBNotAvailable            Reason = 0x02
	ReasonAuthenticationRequirements Reason = 0x03
	ReasonConfirmValueFailed         Reason = 0x04
	ReasonPairingNotSupported        Reason = 0x05
	ReasonEncryptionKeySize          Reason = 0x06
	ReasonCommandNotSupported        Reason = 0x07
	ReasonUnspecified                Reason = 0x08
	ReasonRepeatedAttempts           Reason = 0x09
	ReasonInvalidParameters          Reason = 0x0A
	ReasonDHKeyCheckFailed           Reason = 0x0B
	ReasonNumericComparisonFailed    Reason = 0x0C
)

//Core spec v5.2, Vol 3, Part H, 3.5.5, Table 3.7
var pairingFailedReason = []string{
	"reserved",
	"passkey entry failed",
	"oob not available",
	"authentication requirements",
	"confirm value failed",
	"pairing not support",
	"encryption key size",
	"command not supported",
	"unspecified reason",
	"repeated attempts",
	"invalid parameters",
	"dhkey check failed",
	"numeric comparison failed",
	"BR/EDR pairing in progress",
	"Cross-transport Key Derivation/Generation not allowed",
}

func (r Reason) String() string {
	if int(r) < len(pairingFailedReason) {
		return pairingFailedReason[r]
	}
	return fmt.Sprintf("reason 0x%02x", uint8(r))
}

// Error is an SM-level pairing failure. Remote is set when the peer sent the
// Pairing Failed command.
type Error struct {
	Reason Reason
	Remote bool
}

func (e Error) Error() string {
	if e.Remote {
		return fmt.Sprintf("pairing failed by peer: %v", e.Reason)
	}
	return fmt.Sprintf("pairing failed: %v", e.Reason)
}

// IsReason reports whether err is an SM failure with the given reason.
func IsReason(err error, r Reason) bool {
	e, ok := errors.Cause(err).(Error)
	return ok && e.Reason == r
}
