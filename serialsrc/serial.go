// Package serialsrc adapts a go.bug.st/serial port to the frame
// segmenter's read-only ByteSource contract.
package serialsrc

import (
	"time"

	"go.bug.st/serial"
)

// Config mirrors the serial port settings the command line exposes.
type Config struct {
	Device   string
	Speed    int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

// Source wraps an open serial.Port. go.bug.st/serial has no portable way
// to ask "is data available" without reading, so Wait does the actual
// read into a small staging buffer under the configured timeout and Read
// simply drains it; this keeps the segmenter's Wait-then-Read contract
// while only ever blocking inside Wait.
type Source struct {
	port    serial.Port
	timeout time.Duration

	staged    []byte
	stagedPos int
}

// Open opens the serial port described by conf and returns a ByteSource
// wrapping it. The caller owns closing it via Close.
func Open(conf Config) (*Source, error) {
	port, err := serial.Open(conf.Device, &serial.Mode{
		BaudRate: conf.Speed,
		DataBits: conf.DataBits,
		Parity:   conf.Parity,
		StopBits: conf.StopBits,
	})
	if err != nil {
		return nil, err
	}

	return &Source{port: port}, nil
}

// Close closes the underlying serial port.
func (s *Source) Close() error { return s.port.Close() }

// Wait sets the port's read timeout to the requested value if it has
// changed, then attempts a read. A timeout is reported as the serial
// library itself reports it: a (0, nil) read, which Wait turns into
// ready=false rather than surfacing it as an error.
func (s *Source) Wait(timeout time.Duration) (ready bool, err error) {
	if timeout != s.timeout {
		if err := s.port.SetReadTimeout(timeout); err != nil {
			return false, err
		}
		s.timeout = timeout
	}

	buf := make([]byte, 256)
	n, err := s.port.Read(buf)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	s.staged = buf[:n]
	s.stagedPos = 0
	return true, nil
}

// Read drains the bytes staged by the most recent Wait call.
func (s *Source) Read(out []byte) (n int, err error) {
	n = copy(out, s.staged[s.stagedPos:])
	s.stagedPos += n
	return n, nil
}
