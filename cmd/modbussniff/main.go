// modbussniff listens on a serial line, segments the Modbus-RTU traffic
// it sees into request/response frames, and writes them out as a pcap
// capture for later analysis.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/arighi/modbus-rtu-sniff/decoder"
	"github.com/arighi/modbus-rtu-sniff/dictionary"
	"github.com/arighi/modbus-rtu-sniff/frame"
	"github.com/arighi/modbus-rtu-sniff/logx"
	"github.com/arighi/modbus-rtu-sniff/pcapfile"
	"github.com/arighi/modbus-rtu-sniff/serialsrc"
	"github.com/arighi/modbus-rtu-sniff/sniffer"
)

const defaultNetwork = 147 // DLT_USER0, the link-type this capture uses

func main() {
	var (
		serialPort   string
		output       string
		speed        uint
		bits         uint
		parity       string
		stopBits     uint
		interval     time.Duration
		ignoreCRC    bool
		maxPackets   int
		lowLatency   bool
		registersDef string
		commandsDef  string
		help         bool
	)

	flag.StringVar(&serialPort, "serial-port", "/dev/ttyAMA0", "serial port to listen on")
	flag.StringVar(&output, "output", "-", "capture output file (\"-\" for stdout)")
	flag.UintVar(&speed, "speed", 9600, "serial port speed")
	flag.UintVar(&bits, "bits", 8, "number of data bits")
	flag.StringVar(&parity, "parity", "N", "parity to use: N, E or O")
	flag.UintVar(&stopBits, "stop-bits", 1, "number of stop bits: 1 or 2")
	flag.DurationVar(&interval, "interval", 1500*time.Microsecond, "inter-frame gap used to decide a frame is complete")
	flag.BoolVar(&ignoreCRC, "ignore-crc", false, "also dump frames that fail their CRC check")
	flag.IntVar(&maxPackets, "max-packets", sniffer.DefaultMaxPacketsPerCapture, "maximum number of packets per capture file before rotating")
	flag.BoolVar(&lowLatency, "low-latency", false, "try to enable serial port low-latency mode (Linux-only)")
	flag.StringVar(&registersDef, "registers-def", "", "definition file with Modbus register specifications")
	flag.StringVar(&commandsDef, "commands-def", "", "definition file with Modbus command specifications")
	flag.BoolVar(&help, "help", false, "show this help message")
	flag.Parse()

	if help {
		// explicit --help prints to stdout; a parse error still goes to
		// stderr via flag's own default Usage.
		flag.CommandLine.SetOutput(os.Stdout)
		flag.Usage()
		os.Exit(0)
	}

	logger := logx.New("modbussniff", nil)
	logger.Info("starting modbus sniffer")

	parityMode, err := parseParity(parity)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	stopBitsMode, err := parseStopBits(stopBits)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	var commands frame.CommandTable
	if commandsDef != "" {
		logger.Infof("reading command definitions from %s", commandsDef)
		commands, err = dictionary.LoadCommands(commandsDef)
		if err != nil {
			logger.Errorf("reading command definitions: %v", err)
			os.Exit(1)
		}
	} else {
		logger.Info("no command decoding requested")
	}

	var registers frame.RegisterTable
	if registersDef != "" {
		logger.Infof("reading register definitions from %s", registersDef)
		registers, err = dictionary.LoadRegisters(registersDef)
		if err != nil {
			logger.Errorf("reading register definitions: %v", err)
			os.Exit(1)
		}
	} else {
		logger.Info("no register decoding requested")
	}

	logger.Infof("serial port: %s", serialPort)
	logger.Infof("port settings: %d%s%d %d baud", bits, parity, stopBits, speed)
	logger.Infof("inter-frame interval: %s", interval)
	logger.Infof("output file: %s", output)
	logger.Infof("maximum packets per capture: %d", maxPackets)

	if lowLatency {
		if err := serialsrc.EnableLowLatency(serialPort); err != nil {
			logger.Warningf("low-latency mode not enabled: %v", err)
		} else {
			logger.Info("low-latency mode enabled")
		}
	}

	source, err := serialsrc.Open(serialsrc.Config{
		Device:   serialPort,
		Speed:    int(speed),
		DataBits: int(bits),
		Parity:   parityMode,
		StopBits: stopBitsMode,
	})
	if err != nil {
		logger.Errorf("opening serial port: %v", err)
		os.Exit(1)
	}
	defer source.Close()

	sink, err := pcapfile.Open(output, defaultNetwork)
	if err != nil {
		logger.Errorf("opening capture output: %v", err)
		os.Exit(1)
	}
	defer sink.Close()

	seg := frame.NewSegmenter(source, interval)
	dec := decoder.New(commands, registers, logx.New("decoder", nil))

	ctrl := sniffer.New(seg, dec, sink, logx.New("sniffer", nil), sniffer.Config{
		IgnoreCRC:            ignoreCRC,
		MaxPacketsPerCapture: maxPackets,
	})

	rotateOnSignal(ctrl, logger)

	if err := ctrl.Run(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

// rotateOnSignal wires SIGUSR1 to a capture-file rotation, performed at
// the start of the controller's next cycle, for an operator to request a
// fresh capture without restarting.
func rotateOnSignal(ctrl *sniffer.Controller, logger *logx.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)

	go func() {
		for range sigCh {
			logger.Info("SIGUSR1 received, rotating capture file")
			ctrl.RequestRotate()
		}
	}()
}

func parseParity(s string) (serial.Parity, error) {
	switch s {
	case "N":
		return serial.NoParity, nil
	case "E":
		return serial.EvenParity, nil
	case "O":
		return serial.OddParity, nil
	default:
		return 0, fmt.Errorf("unknown parity %q (must be N, E or O)", s)
	}
}

func parseStopBits(n uint) (serial.StopBits, error) {
	switch n {
	case 1:
		return serial.OneStopBit, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return 0, fmt.Errorf("unsupported stop bits %d (must be 1 or 2)", n)
	}
}
