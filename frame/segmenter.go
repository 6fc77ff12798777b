package frame

import "time"

// ByteSource is the read-only, timeout-capable byte stream the segmenter
// pulls from. A serial port, a test fixture, or anything else that can wait
// for readiness and then read without blocking indefinitely satisfies it.
type ByteSource interface {
	// Wait blocks up to timeout for data to become available, reporting
	// whether a read is likely to return bytes without blocking.
	Wait(timeout time.Duration) (ready bool, err error)
	// Read behaves like io.Reader: a zero-length, nil-error result marks
	// a clean end of stream.
	Read(buf []byte) (n int, err error)
}

// Cycle is one outcome of a single segmenter.Next call: either the
// accumulator isn't ready to be handed to the decoder yet (Waiting), the
// byte source reached a clean end of stream (EOF), the source failed
// (Err set, a fatal condition distinct from clean EOF), or there are
// bytes ready to be decoded (Ready, with the accumulator's current
// contents).
type Cycle struct {
	Waiting bool
	EOF     bool
	Err     error
	Ready   bool
	Bytes   []byte
}

// Segmenter implements the timing-based frame boundary heuristic: bytes are
// accumulated from the source until either a read attempt times out with a
// non-empty accumulator (the inter-frame gap) or the accumulator fills to
// MaxLength, at which point the accumulated bytes are handed to the caller
// for decoding.
type Segmenter struct {
	source  ByteSource
	timeout time.Duration
	buf     *Buffer

	pendingNeedsMoreBytes bool
	sizeAtPending         int
}

// NewSegmenter returns a Segmenter reading from source, using timeout as
// the inter-byte wait before declaring the accumulator ready.
func NewSegmenter(source ByteSource, timeout time.Duration) *Segmenter {
	return &Segmenter{
		source:  source,
		timeout: timeout,
		buf:     NewBuffer(),
	}
}

// Buffer exposes the underlying accumulator so the controller can compact
// it and snapshot previous frames after a decode.
func (s *Segmenter) Buffer() *Buffer { return s.buf }

// NoteNeedsMoreBytes records that the decoder asked for more bytes against
// the accumulator's current length. Next will not report Ready again until
// the accumulator has actually grown, per the segmenter's step 4: a decoder
// that keeps saying NeedsMoreBytes against unchanged bytes must not be
// re-entered on every timeout tick.
func (s *Segmenter) NoteNeedsMoreBytes() {
	s.pendingNeedsMoreBytes = true
	s.sizeAtPending = s.buf.Len()
}

// Next waits for the source, reads whatever is available, and reports
// whether the accumulator should now be handed to the decoder.
//
// A ready read-timeout with an empty accumulator is reported back as
// Waiting rather than Ready: there is nothing to decode yet.
func (s *Segmenter) Next() (c Cycle) {
	ready, err := s.source.Wait(s.timeout)
	if err != nil {
		return Cycle{Err: err}
	}

	timedOut := !ready
	n := 0

	if ready {
		readBuf := make([]byte, s.buf.Free())
		if len(readBuf) == 0 {
			// accumulator is already full; fall through to the
			// ready-by-size check below without attempting a read.
		} else {
			var rerr error
			n, rerr = s.source.Read(readBuf)
			if rerr != nil {
				return Cycle{Err: rerr}
			}
			if n == 0 {
				return Cycle{EOF: true}
			}
			s.buf.Append(readBuf[:n])
		}
	}

	size := s.buf.Len()

	if s.pendingNeedsMoreBytes && size == s.sizeAtPending {
		return Cycle{Waiting: true}
	}

	switch {
	case size == 0:
		return Cycle{Waiting: true}
	case size >= MaxLength:
		s.pendingNeedsMoreBytes = false
		return Cycle{Ready: true, Bytes: s.buf.Bytes()}
	case timedOut:
		s.pendingNeedsMoreBytes = false
		return Cycle{Ready: true, Bytes: s.buf.Bytes()}
	default:
		return Cycle{Waiting: true}
	}
}
