package blehost

import (
	"io/ioutil"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// SecurityConfig holds the local pairing parameters advertised in Pairing
// Request/Response commands.
type SecurityConfig struct {
	IoCap      uint8 `json:"ioCap"`
	OOB        bool  `json:"oob"`
	Bonding    bool  `json:"bonding"`
	MITM       bool  `json:"mitm"`
	SC         bool  `json:"sc"`
	MaxKeySize uint8 `json:"maxKeySize"`

	// Timeout is written as a duration string ("30s"). A bare number is
	// read as seconds.
	Timeout time.Duration `json:"-"`
}

type securityJSON SecurityConfig

func (s SecurityConfig) MarshalJSON() ([]byte, error) {
	return jsoniter.Marshal(struct {
		securityJSON
		Timeout string `json:"timeout"`
	}{securityJSON(s), s.Timeout.String()})
}

func (s *SecurityConfig) UnmarshalJSON(b []byte) error {
	aux := struct {
		securityJSON
		Timeout jsoniter.RawMessage `json:"timeout"`
	}{securityJSON: securityJSON(*s)}
	if err := jsoniter.Unmarshal(b, &aux); err != nil {
		return err
	}
	*s = SecurityConfig(aux.securityJSON)
	if len(aux.Timeout) == 0 {
		return nil
	}

	d, err := parseTimeout(aux.Timeout)
	if err != nil {
		return errors.Wrap(err, "invalid security timeout")
	}
	s.Timeout = d
	return nil
}

func parseTimeout(raw []byte) (time.Duration, error) {
	var str string
	if err := jsoniter.Unmarshal(raw, &str); err == nil {
		return time.ParseDuration(str)
	}
	var secs float64
	if err := jsoniter.Unmarshal(raw, &secs); err != nil {
		return 0, errors.Errorf("want a duration string or seconds, got %s", raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// TransportConfig selects and sizes the HCI transport.
type TransportConfig struct {
	UARTDevice  string `json:"uartDevice"`
	BaudRate    uint   `json:"baudRate"`
	FlowControl bool   `json:"flowControl"`
	SocketID    int    `json:"socketId"`

	CmdBufCount  int `json:"cmdBufCount"`
	CmdBufSize   int `json:"cmdBufSize"`
	ACLBufCount  int `json:"aclBufCount"`
	ACLMaxLength int `json:"aclMaxLength"`
	TxQueueDepth int `json:"txQueueDepth"`
}

type Config struct {
	LocalAddr     string `json:"localAddr"`
	LocalAddrType uint8  `json:"localAddrType"`

	EventQueueDepth int    `json:"eventQueueDepth"`
	LogLevel        string `json:"logLevel"`

	Security  SecurityConfig  `json:"security"`
	Transport TransportConfig `json:"transport"`
}

// DefaultConfig mirrors a NoInputNoOutput, bonding, secure-connections host on
// a 1 Mbaud UART.
func DefaultConfig() Config {
	return Config{
		LocalAddr:       "00:00:00:00:00:00",
		LocalAddrType:   AddrTypePublic,
		EventQueueDepth: 32,
		LogLevel:        "info",
		Security: SecurityConfig{
			IoCap:      0x03,
			Bonding:    true,
			SC:         true,
			MaxKeySize: 16,
			Timeout:    30 * time.Second,
		},
		Transport: TransportConfig{
			BaudRate:     1000000,
			FlowControl:  true,
			SocketID:     -1,
			CmdBufCount:  8,
			CmdBufSize:   260,
			ACLBufCount:  8,
			ACLMaxLength: 255,
			TxQueueDepth: 16,
		},
	}
}

// LoadConfig reads a JSON config file over the defaults. Fields missing from
// the file keep their default values.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()

	if _, err := os.Stat(path); err != nil {
		return c, errors.Wrap(err, "can't stat config")
	}

	in, err := ioutil.ReadFile(path)
	if err != nil {
		return c, errors.Wrap(err, "can't read config")
	}

	if err := jsoniter.Unmarshal(in, &c); err != nil {
		return c, errors.Wrap(err, "can't decode config")
	}

	return c, c.Validate()
}

// Store writes the config as JSON.
func (c Config) Store(path string) error {
	out, err := jsoniter.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, out, 0644)
}

func (c Config) Validate() error {
	if _, err := ParseAddr(c.LocalAddr, c.LocalAddrType); err != nil {
		return err
	}

	s := c.Security
	switch {
	case s.IoCap > 0x04:
		return errors.Errorf("invalid io capability 0x%02x", s.IoCap)
	case !s.SC:
		return errors.New("only secure connections pairing is supported")
	case s.MaxKeySize < 7 || s.MaxKeySize > 16:
		return errors.Errorf("invalid max key size %d", s.MaxKeySize)
	case s.Timeout <= 0:
		return errors.New("pairing timeout must be positive")
	}

	t := c.Transport
	switch {
	case t.CmdBufCount <= 0 || t.ACLBufCount <= 0:
		return errors.New("buffer counts must be positive")
	case t.CmdBufSize < 258:
		// 3 byte command header plus a full 255 byte parameter block
		return errors.Errorf("command buffer size %d too small", t.CmdBufSize)
	case t.ACLMaxLength <= 0 || t.ACLMaxLength > 0xffff:
		return errors.Errorf("invalid acl max length %d", t.ACLMaxLength)
	case t.TxQueueDepth <= 0:
		return errors.New("tx queue depth must be positive")
	}

	if c.EventQueueDepth <= 0 {
		return errors.New("event queue depth must be positive")
	}

	return nil
}

// Addr returns the parsed local identity address.
func (c Config) Addr() Addr {
	a, _ := ParseAddr(c.LocalAddr, c.LocalAddrType)
	return a
}
