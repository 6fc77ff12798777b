package logx

import (
	"bytes"
	"log"
	"testing"
)

func TestCustomLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := New("sniffer(/dev/ttyUSB0)", log.New(&buf, "external-prefix: ", 0))
	logger.Errorf("unsupported baud rate '%v'", 1234567)

	if buf.String() != "external-prefix: sniffer(/dev/ttyUSB0) [error]: unsupported baud rate '1234567'\n" {
		t.Errorf("unexpected logger output '%s'", buf.String())
	}
}

func TestDefaultLoggerWritesToStderr(t *testing.T) {
	logger := New("decoder", nil)

	// no custom logger configured: write() must not panic and must not
	// require a non-nil customLogger.
	logger.Info("smoke test")
}
