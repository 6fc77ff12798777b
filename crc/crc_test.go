package crc

import "testing"

func TestCRC16KnownVectors(t *testing.T) {
	if got := CRC16(nil); got != 0xFFFF {
		t.Errorf("expected 0xFFFF for empty input, got 0x%04X", got)
	}

	if got := CRC16([]byte{0x01, 0x02, 0x03, 0x04, 0x05}); got != 0xbb2a {
		t.Errorf("expected 0xbb2a, got 0x%04x", got)
	}

	if got := CRC16([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}); got != 0xddba {
		t.Errorf("expected 0xddba, got 0x%04x", got)
	}
}

func TestValidateReadHoldingRegistersRequest(t *testing.T) {
	// scenario 1 from spec: 01 03 00 00 00 0A C5 CD
	frame := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xC5, 0xCD}

	if !Validate(frame) {
		t.Errorf("expected frame to validate, computed crc 0x%04x", CRC16(frame[:len(frame)-2]))
	}

	frame[0] = 0x02
	if Validate(frame) {
		t.Errorf("expected tampered frame to fail validation")
	}
}

func TestValidateShortFrame(t *testing.T) {
	if Validate([]byte{0x01}) {
		t.Errorf("expected a single-byte frame to fail validation")
	}
	if Validate(nil) {
		t.Errorf("expected an empty frame to fail validation")
	}
}

func TestAppendRoundTrips(t *testing.T) {
	frame := Append([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A})

	if !Validate(frame) {
		t.Errorf("expected appended frame to validate")
	}
	if frame[len(frame)-2] != 0xC5 || frame[len(frame)-1] != 0xCD {
		t.Errorf("expected trailer C5 CD, got %02X %02X", frame[len(frame)-2], frame[len(frame)-1])
	}
}
