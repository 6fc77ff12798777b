//go:build linux

package serialsrc

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	asyncLowLatency = 1 << 13
	tiocgserial     = 0x541E
	tiocsserial     = 0x541F
)

// serialStruct mirrors enough of the kernel's struct serial_struct to
// read and rewrite the flags word; the trailing fields exist only to keep
// the struct the size TIOCGSERIAL/TIOCSSERIAL expect.
type serialStruct struct {
	typ           int32
	line          int32
	port          uint32
	irq           int32
	flags         int32
	xmitFifoSize  int32
	customDivisor int32
	baudBase      int32
	closeDelay    uint16
	ioType        byte
	reserved1     byte
	hubSixpoint   int32
	closingWait   uint16
	closingWait2  uint16
	iomemBase     uint64
	iomemReg      uint16
	portHigh      uint32
	ioMapBase     uint32
}

// EnableLowLatency opens device directly (independently of the serial
// library's own open, which doesn't expose the underlying fd) just long
// enough to set the ASYNC_LOW_LATENCY flag on the port's termios
// serial_struct via the TIOCGSERIAL/TIOCSSERIAL ioctl pair, then closes
// it again. Unsupported devices (not all UART drivers implement these
// ioctls) report an error to the caller rather than a fatal condition;
// low latency is a best-effort knob.
func EnableLowLatency(device string) error {
	f, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", device, err)
	}
	defer f.Close()

	fd := f.Fd()

	var ss serialStruct
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, tiocgserial, uintptr(unsafe.Pointer(&ss))); errno != 0 {
		return fmt.Errorf("TIOCGSERIAL: %w", errno)
	}

	ss.flags |= asyncLowLatency

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, tiocsserial, uintptr(unsafe.Pointer(&ss))); errno != 0 {
		return fmt.Errorf("TIOCSSERIAL: %w", errno)
	}

	return nil
}
