package core

import (
	"context"
	"io"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_core.go -package=core

// Transport represents an established, bidirectional byte channel to the
// controlled device: a modem tty, a wpa_supplicant control socket, or an
// in-memory fake used for testing.
//
// A Transport is assumed to be already connected and ready for use. Reads
// block until data arrives; one Read returns one chunk (for datagram
// transports, exactly one datagram). Writes must not block: a write that
// would block returns an error wrapping ErrWouldBlock, and a write that
// accepts fewer bytes than given returns an error wrapping ErrShortWrite.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a device.
//
// Dialer abstracts how the connection is created (serial port, UNIX
// datagram socket, or test double) and is intended to be used during
// bridge construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial creates and returns a connected Transport. It may perform
	// blocking operations and should respect cancellation and deadlines
	// provided by the context.
	Dial(ctx context.Context) (Transport, error)
}

// ReadPump starts a goroutine that continuously reads chunks from t and
// delivers them on the returned data channel. It is the only reader of
// the transport; the owning event loop consumes the channel so that all
// record processing stays on one goroutine.
//
// On read failure (including EOF) the error is delivered once on the
// error channel and the data channel is closed.
func ReadPump(t Transport, bufSize int) (<-chan []byte, <-chan error) {
	data := make(chan []byte, 8)
	errs := make(chan error, 1)
	go func() {
		defer close(data)
		for {
			buf := make([]byte, bufSize)
			n, err := t.Read(buf)
			if n > 0 {
				data <- buf[:n]
			}
			if err != nil {
				errs <- err
				return
			}
		}
	}()
	return data, errs
}
