// Package sniffer orchestrates the segmenter, decoder and pcap sink into
// the single sequential capture loop: accumulate bytes, decode, validate
// CRC, persist, compact, repeat.
package sniffer

import (
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/arighi/modbus-rtu-sniff/crc"
	"github.com/arighi/modbus-rtu-sniff/decoder"
	"github.com/arighi/modbus-rtu-sniff/frame"
	"github.com/arighi/modbus-rtu-sniff/logx"
	"github.com/arighi/modbus-rtu-sniff/pcapfile"
)

// DefaultMaxPacketsPerCapture is how many accepted frames are written to
// one output stream before the controller rotates to a fresh file.
const DefaultMaxPacketsPerCapture = 10000

// Config bundles the controller's run-time knobs.
type Config struct {
	IgnoreCRC            bool
	MaxPacketsPerCapture int
}

// Controller owns the segmenter, the decoder and the pcap sink and drives
// one capture session end to end.
type Controller struct {
	seg     *frame.Segmenter
	dec     *decoder.Decoder
	sink    *pcapfile.Writer
	logger  *logx.Logger
	cfg     Config
	packets int

	rotateRequested atomic.Bool
}

// New returns a Controller ready to run.
func New(seg *frame.Segmenter, dec *decoder.Decoder, sink *pcapfile.Writer, logger *logx.Logger, cfg Config) *Controller {
	if cfg.MaxPacketsPerCapture <= 0 {
		cfg.MaxPacketsPerCapture = DefaultMaxPacketsPerCapture
	}
	return &Controller{
		seg:    seg,
		dec:    dec,
		sink:   sink,
		logger: logger,
		cfg:    cfg,
	}
}

// RequestRotate asks the controller to rotate the pcap sink at the next
// safe opportunity (after the current packet is written). Safe to call
// from a signal handler.
func (c *Controller) RequestRotate() {
	c.rotateRequested.Store(true)
}

// Run drives the capture loop until the byte source reaches a clean EOF
// or a fatal error occurs.
func (c *Controller) Run() error {
	for {
		if c.rotateRequested.Load() {
			c.rotateRequested.Store(false)
			if err := c.sink.Rotate(); err != nil {
				return fmt.Errorf("rotate capture file: %w", err)
			}
			c.logger.Info("rotated capture file")
		}

		cycle := c.seg.Next()

		if cycle.Err != nil {
			return fmt.Errorf("byte source failed: %w", cycle.Err)
		}
		if cycle.EOF {
			c.logger.Info("byte source reached end of stream")
			return nil
		}
		if cycle.Waiting {
			continue
		}

		if err := c.handleReady(cycle.Bytes); err != nil {
			return err
		}
	}
}

func (c *Controller) handleReady(data []byte) error {
	buf := c.seg.Buffer()

	outcome, rendered := c.dec.Decode(data, buf.PreviousFrame())
	if rendered != "" {
		c.logger.Info(rendered)
	}

	switch {
	case outcome.IsNeedsMoreBytes():
		c.logger.Infof("needs %d more bytes (have %d)", outcome.N(), len(data))
		c.seg.NoteNeedsMoreBytes()
		return nil

	case outcome.IsDirectionWrong():
		if c.dec.IncrementRetryCounter() {
			c.dec.FlipDirection()
			c.logger.Warningf("direction wrong, retrying as %s", c.dec.Direction())
			return c.handleReady(data)
		}
		c.logger.Warning("direction-flip retry budget exhausted, accepting bytes as-is")
		c.dec.ResetRetryCounter()
		return c.accept(data, len(data))

	case outcome.IsDone():
		c.dec.ResetRetryCounter()
		return c.accept(data, len(data))

	case outcome.IsHasTrailingBytes():
		c.dec.ResetRetryCounter()
		eaten := len(data) - outcome.N()
		return c.accept(data, eaten)

	default:
		return fmt.Errorf("unhandled decode outcome %s", outcome)
	}
}

// accept is the per-cycle flow once the decoder has settled on how many
// of the accumulated bytes make up one frame: CRC-check the eaten
// portion, snapshot it for the bug-tolerance rule, hand it to the pcap
// sink if it is trustworthy, then compact the remainder to the front of
// the accumulator.
func (c *Controller) accept(data []byte, eaten int) error {
	buf := c.seg.Buffer()
	frameBytes := data[:eaten]
	remaining := len(data) - eaten

	crcOK := crc.Validate(frameBytes)
	c.logger.Infof("accepted %d bytes, CRC %s", eaten, crcVerdict(crcOK))

	if crcOK {
		buf.SnapshotPrevious(eaten)
	}

	if crcOK || c.cfg.IgnoreCRC {
		c.logger.Infof("DONE %s", hex.EncodeToString(frameBytes))
		if remaining > 0 {
			c.logger.Infof("NEXT %s", hex.EncodeToString(data[eaten:]))
		}

		if err := c.sink.WritePacket(frameBytes); err != nil {
			return fmt.Errorf("write packet: %w", err)
		}
		c.packets++

		if c.packets%c.cfg.MaxPacketsPerCapture == 0 {
			c.rotateRequested.Store(true)
		}
	} else {
		c.logger.Warning("CRC mismatch, frame dropped (bytes still consumed)")
	}

	if remaining > 0 {
		buf.Compact(remaining)
	} else {
		buf.Reset()
	}

	return nil
}

func crcVerdict(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}
