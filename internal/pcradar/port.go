package pcradar

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Porter is the minimal interface the serial link needs from a port.
// The abstraction enables unit testing without sensor hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// PortMode holds serial port configuration parameters for the sensor
// module's UART.
type PortMode struct {
	BaudRate int
	DataBits int
}

// DefaultPortMode returns the mode the sensor module ships with.
func DefaultPortMode() *PortMode {
	return &PortMode{
		BaudRate: 115200,
		DataBits: 8,
	}
}

// OpenPort opens a real serial port at the given path.
func OpenPort(path string, mode *PortMode) (Porter, error) {
	if mode == nil {
		mode = DefaultPortMode()
	}
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}
