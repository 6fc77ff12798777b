// Package pcapfile writes accepted frames to disk in the pcap capture
// format so an external analyzer can replay the trace.
package pcapfile

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"
)

const (
	magicNumber  = 0xA1B2C3D4
	versionMajor = 2
	versionMinor = 4
	snapLen      = 1024
)

// globalHeader is the 24-byte pcap file header, written once per output
// stream.
type globalHeader struct {
	MagicNumber  uint32
	VersionMajor uint16
	VersionMinor uint16
	ThisZone     int32
	SigFigs      uint32
	SnapLen      uint32
	Network      uint32
}

// packetHeader precedes every captured frame: a wall-clock timestamp plus
// the included/original length, which are always equal here since frames
// are never truncated before being handed to the sink.
type packetHeader struct {
	TSSec   uint32
	TSUsec  uint32
	InclLen uint32
	OrigLen uint32
}

// Writer is an open pcap output stream: either a regular file or stdout.
type Writer struct {
	path     string
	network  uint32
	f        *os.File
	isStdout bool
}

// Open truncate-creates the file at path and writes the global header.
// path "-" means stdout; writing a capture to a terminal is rejected, to
// avoid corrupting the operator's screen with binary pcap data.
func Open(path string, network uint32) (*Writer, error) {
	w := &Writer{path: path, network: network}

	if path == "-" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return nil, fmt.Errorf("pcapfile: refusing to write a capture to a terminal; redirect stdout")
		}
		w.f = os.Stdout
		w.isStdout = true
	} else {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("pcapfile: open %s: %w", path, err)
		}
		w.f = f
	}

	if err := w.writeGlobalHeader(); err != nil {
		w.Close()
		return nil, err
	}

	return w, nil
}

func (w *Writer) writeGlobalHeader() error {
	hdr := globalHeader{
		MagicNumber:  magicNumber,
		VersionMajor: versionMajor,
		VersionMinor: versionMinor,
		ThisZone:     0,
		SigFigs:      0,
		SnapLen:      snapLen,
		Network:      w.network,
	}
	return binary.Write(w.f, binary.LittleEndian, &hdr)
}

// WritePacket samples the current wall-clock time and appends one packet
// record (header + bytes), then flushes.
func (w *Writer) WritePacket(data []byte) error {
	now := time.Now()
	hdr := packetHeader{
		TSSec:   uint32(now.Unix()),
		TSUsec:  uint32(now.Nanosecond() / 1000),
		InclLen: uint32(len(data)),
		OrigLen: uint32(len(data)),
	}

	if err := binary.Write(w.f, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("pcapfile: write packet header: %w", err)
	}
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("pcapfile: write packet data: %w", err)
	}

	return w.f.Sync()
}

// Close closes the underlying file. Closing stdout is a no-op.
func (w *Writer) Close() error {
	if w.f == nil || w.isStdout {
		return nil
	}
	return w.f.Close()
}

// Rotate closes the current file and reopens the same path, writing a
// fresh global header. Rotating stdout is a no-op: there is nothing to
// reopen.
func (w *Writer) Rotate() error {
	if w.isStdout {
		return nil
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("pcapfile: rotate: close: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("pcapfile: rotate: open %s: %w", w.path, err)
	}
	w.f = f

	return w.writeGlobalHeader()
}
