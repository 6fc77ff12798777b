// Package logx provides the prefixed diagnostic-channel logger shared by
// every component of the sniffer.
package logx

import (
	"fmt"
	"log"
	"os"
)

// Logger writes prefixed lines to the diagnostic channel: a caller-supplied
// *log.Logger if one was configured, or stderr otherwise.
type Logger struct {
	prefix       string
	customLogger *log.Logger
}

// New returns a Logger that tags every line with prefix.
func New(prefix string, customLogger *log.Logger) (l *Logger) {
	l = &Logger{
		prefix:       prefix,
		customLogger: customLogger,
	}

	return
}

func (l *Logger) Info(msg string) {
	l.write(fmt.Sprintf("%s [info]: %s\n", l.prefix, msg))

	return
}

func (l *Logger) Infof(format string, msg ...interface{}) {
	l.write(fmt.Sprintf("%s [info]: %s\n", l.prefix, fmt.Sprintf(format, msg...)))

	return
}

func (l *Logger) Warning(msg string) {
	l.write(fmt.Sprintf("%s [warn]: %s\n", l.prefix, msg))

	return
}

func (l *Logger) Warningf(format string, msg ...interface{}) {
	l.write(fmt.Sprintf("%s [warn]: %s\n", l.prefix, fmt.Sprintf(format, msg...)))

	return
}

func (l *Logger) Error(msg string) {
	l.write(fmt.Sprintf("%s [error]: %s\n", l.prefix, msg))

	return
}

func (l *Logger) Errorf(format string, msg ...interface{}) {
	l.write(fmt.Sprintf("%s [error]: %s\n", l.prefix, fmt.Sprintf(format, msg...)))

	return
}

func (l *Logger) Fatal(msg string) {
	l.Error(msg)
	os.Exit(1)

	return
}

func (l *Logger) Fatalf(format string, msg ...interface{}) {
	l.Errorf(format, msg...)
	os.Exit(1)

	return
}

func (l *Logger) write(msg string) {
	if l.customLogger == nil {
		os.Stderr.WriteString(msg)
	} else {
		l.customLogger.Print(msg)
	}

	return
}
