package at

import (
	"context"
	"fmt"

	"go.bug.st/serial"

	"i4.energy/across/linebridge/core"
)

// SerialDialer opens the modem tty in raw mode. Input and output
// buffers are flushed before the first command goes out, so stale bytes
// from a previous session cannot confuse the parser. Writes to the port
// block until the driver accepts the bytes; they never report
// ErrWouldBlock.
type SerialDialer struct {
	PortName string
	BaudRate int
}

// Dial opens the port.
func (d SerialDialer) Dial(ctx context.Context) (core.Transport, error) {
	mode := &serial.Mode{
		BaudRate: d.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.PortName, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush input %s: %w", d.PortName, err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush output %s: %w", d.PortName, err)
	}
	return port, nil
}
