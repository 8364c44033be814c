// Copyright (c) The Furnace Authors
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package sylog implements a small leveled logger for furnace's Go code,
// in the same shape as apptainer's internal sylog package.
package sylog

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type messageLevel int

const (
	// FatalLevel messages cause the process to exit(255) after being logged.
	FatalLevel messageLevel = iota - 2
	// ErrorLevel messages are returned to the caller but still logged.
	ErrorLevel
	// WarnLevel messages note a degraded but non-fatal condition.
	WarnLevel
	// LogLevel is the level at or below which Writer discards its output.
	LogLevel
	// InfoLevel messages are printed by default.
	InfoLevel
	// VerboseLevel messages are printed when FURNACE_MESSAGELEVEL is 3 or higher.
	VerboseLevel
	// DebugLevel messages are printed when FURNACE_MESSAGELEVEL is 4 or higher.
	DebugLevel
)

func (m messageLevel) String() string {
	switch m {
	case FatalLevel:
		return "FATAL"
	case ErrorLevel:
		return "ERROR"
	case WarnLevel:
		return "WARNING"
	case InfoLevel:
		return "INFO"
	case VerboseLevel:
		return "VERBOSE"
	case DebugLevel:
		return "DEBUG"
	default:
		return "LOG"
	}
}

var messageColors = map[messageLevel]string{
	FatalLevel: "\x1b[31m",
	ErrorLevel: "\x1b[31m",
	WarnLevel:  "\x1b[33m",
	InfoLevel:  "\x1b[34m",
}

var loggerLevel = InfoLevel

var logWriter = (io.Writer)(os.Stderr)

func init() {
	l, err := strconv.Atoi(os.Getenv("FURNACE_MESSAGELEVEL"))
	if err == nil {
		loggerLevel = messageLevel(l)
	}
}

func prefix(msgLevel messageLevel) string {
	colorReset := "\x1b[0m"
	messageColor, ok := messageColors[msgLevel]
	// Colour only when logging to a terminal (a character device).
	if f, isFile := logWriter.(*os.File); !isFile {
		ok = false
	} else if fi, err := f.Stat(); err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		ok = false
	}
	if !ok {
		colorReset = ""
		messageColor = ""
	}
	return fmt.Sprintf("%s%-8s%s ", messageColor, msgLevel.String()+":", colorReset)
}

func writef(msgLevel messageLevel, format string, a ...interface{}) {
	if loggerLevel < msgLevel {
		return
	}
	message := fmt.Sprintf(format, a...)
	message = strings.TrimRight(message, "\n")
	fmt.Fprintf(logWriter, "%s%s\n", prefix(msgLevel), message)
}

// Fatalf logs a FATAL-level message and exits with code 255. Code that may
// be imported by other projects should NOT use Fatalf.
func Fatalf(format string, a ...interface{}) {
	writef(FatalLevel, format, a...)
	os.Exit(255)
}

// Errorf writes an ERROR level message but does not exit.
func Errorf(format string, a ...interface{}) {
	writef(ErrorLevel, format, a...)
}

// Warningf writes a WARNING level message.
func Warningf(format string, a ...interface{}) {
	writef(WarnLevel, format, a...)
}

// Infof writes an INFO level message. Printed by default.
func Infof(format string, a ...interface{}) {
	writef(InfoLevel, format, a...)
}

// Verbosef writes a VERBOSE level message.
func Verbosef(format string, a ...interface{}) {
	writef(VerboseLevel, format, a...)
}

// Debugf writes a DEBUG level message.
func Debugf(format string, a ...interface{}) {
	writef(DebugLevel, format, a...)
}

// SetLevel explicitly sets the logger level.
func SetLevel(l int) {
	loggerLevel = messageLevel(l)
}

// GetLevel returns the current log level as an integer.
func GetLevel() int {
	return int(loggerLevel)
}

// Writer returns an io.Writer other packages can log through, honouring
// the current level (io.Discard when the level is LogLevel or lower).
func Writer() io.Writer {
	if loggerLevel <= LogLevel {
		return io.Discard
	}
	return logWriter
}

// SetWriter sets a new io.Writer for subsequent logging, returning the
// previous one so it can be restored (used by tests to capture output).
func SetWriter(w io.Writer) io.Writer {
	old := logWriter
	if w != nil {
		logWriter = w
	}
	return old
}
