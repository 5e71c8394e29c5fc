package smp

import "github.com/rigado/blehost"

// KeyRecord is one side's LTK distribution as handed to the key store.
type KeyRecord struct {
	LTK           [16]byte
	LTKValid      bool
	EDiv          uint16
	Rand          uint64
	EDivRandValid bool
	Authenticated bool
	SC            bool
}

func (k *KeyRecord) wipe() {
	*k = KeyRecord{}
}

// KeyStore persists bonds. Find returns ErrNotFound when there is no bond for
// the peer.
type KeyStore interface {
	Save(peer blehost.Addr, our, their KeyRecord) error
	Find(peer blehost.Addr) (KeyRecord, error)
	Delete(peer blehost.Addr) error
}
