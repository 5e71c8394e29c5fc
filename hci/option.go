package hci

import (
	"fmt"
	"time"

	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci/smp"
)

// SetLogger sets the host logger.
func (h *HCI) SetLogger(l blehost.Logger) error {
	if l == nil {
		return fmt.Errorf("nil logger")
	}
	h.logger = l
	return nil
}

// SetSecurity overrides the security manager parameters.
func (h *HCI) SetSecurity(c blehost.SecurityConfig) error {
	h.security = c
	return nil
}

// SetEventQueueSize sets the depth of the receive queue.
func (h *HCI) SetEventQueueSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid event queue size %d", n)
	}
	h.queueSize = n
	return nil
}

// SetLocalAddr sets the identity address used in pairing.
func (h *HCI) SetLocalAddr(a blehost.Addr) error {
	h.addr = a
	return nil
}

// SetExpireInterval sets how often pairing timeouts are checked.
func (h *HCI) SetExpireInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid expire interval %v", d)
	}
	h.expireEvery = d
	return nil
}

func (h *HCI) SetKeyStore(ks interface{}) error {
	store, ok := ks.(smp.KeyStore)
	if !ok {
		return fmt.Errorf("unknown key store type %T", ks)
	}
	h.store = store
	return nil
}

func (h *HCI) SetPairingHandler(ph interface{}) error {
	handler, ok := ph.(smp.Handler)
	if !ok {
		return fmt.Errorf("unknown pairing handler type %T", ph)
	}
	h.handler = handler
	return nil
}
