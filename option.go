package blehost

import (
	"time"
)

// DeviceOption is an interface which the host should implement to allow using configuration options
type DeviceOption interface {
	SetLogger(l Logger) error
	SetSecurity(c SecurityConfig) error
	SetEventQueueSize(n int) error
	SetLocalAddr(a Addr) error
	SetExpireInterval(d time.Duration) error
	SetKeyStore(ks interface{}) error
	SetPairingHandler(h interface{}) error
}

// An Option is a configuration function, which configures the host.
type Option func(DeviceOption) error

// OptLogger sets the logger used by the host and its security manager.
func OptLogger(l Logger) Option {
	return func(opt DeviceOption) error {
		return opt.SetLogger(l)
	}
}

// OptSecurity overrides the default security manager parameters.
func OptSecurity(c SecurityConfig) Option {
	return func(opt DeviceOption) error {
		return opt.SetSecurity(c)
	}
}

// OptEventQueueSize sets how many received packets may wait for the host
// loop before the transport has to drop them.
func OptEventQueueSize(n int) Option {
	return func(opt DeviceOption) error {
		return opt.SetEventQueueSize(n)
	}
}

// OptLocalAddr sets the identity address used in pairing.
func OptLocalAddr(a Addr) Option {
	return func(opt DeviceOption) error {
		return opt.SetLocalAddr(a)
	}
}

// OptExpireInterval sets how often pairing timeouts are checked.
func OptExpireInterval(d time.Duration) Option {
	return func(opt DeviceOption) error {
		return opt.SetExpireInterval(d)
	}
}

// OptKeyStore sets the bond storage, an smp.KeyStore.
func OptKeyStore(ks interface{}) Option {
	return func(opt DeviceOption) error {
		return opt.SetKeyStore(ks)
	}
}

// OptPairingHandler sets the receiver of passkey and pairing events, an
// smp.Handler.
func OptPairingHandler(h interface{}) Option {
	return func(opt DeviceOption) error {
		return opt.SetPairingHandler(h)
	}
}
