package h4

import (
	"io"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/rigado/blehost"
)

// OpenSerial opens the UART described by cfg for use under a Pump. The port
// runs 8N1; hardware flow control follows cfg.FlowControl.
func OpenSerial(cfg blehost.TransportConfig) (io.ReadWriteCloser, error) {
	if cfg.UARTDevice == "" {
		return nil, errors.New("h4: no uart device configured")
	}

	opts := serial.OpenOptions{
		PortName:          cfg.UARTDevice,
		BaudRate:          uint(cfg.BaudRate),
		DataBits:          8,
		StopBits:          1,
		ParityMode:        serial.PARITY_NONE,
		RTSCTSFlowControl: cfg.FlowControl,
		MinimumReadSize:   1,
	}

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", cfg.UARTDevice)
	}
	return sp, nil
}
