// Package logger is the central log for the post-processing tools.
//
// Every entry has a tag naming the part of the tool that made it and a
// detail string. Adjacent duplicate entries are collapsed into one entry with
// a repeat count.
//
// Log requests carry a Permission. The Level values are permissions which are
// granted according to the verbosity set with SetVerbosity, so that
//
//	logger.Logf(logger.Debug, "RELOC", "%d entries", n)
//
// makes an entry only when the tool is running verbosely.
//
// The package is derived from the logger package of Gopher2600
// (https://github.com/JetSetIlly/Gopher2600), which is licensed under the
// GNU General Public License, version 3 or later.
package logger

import (
	"io"
)

// Permission implementations indicate whether the environment making a log
// request is allowed to create new log entries.
type Permission interface {
	AllowLogging() bool
}

type allow struct{}

func (_ allow) AllowLogging() bool {
	return true
}

// Allow indicates that the logging request should always be allowed.
var Allow Permission = allow{}

// Level is the severity of a log entry. Levels implement Permission.
type Level int

// List of valid Level values. Lower values are more severe.
const (
	Error Level = iota
	Warn
	Info
	Debug
)

func (lvl Level) String() string {
	switch lvl {
	case Error:
		return "error"
	case Warn:
		return "warning"
	case Info:
		return "info"
	case Debug:
		return "debug"
	}
	return "unknown"
}

// AllowLogging implements the Permission interface.
func (lvl Level) AllowLogging() bool {
	return central.allow(lvl)
}

// only allowing one central log for the entire application.
var central *logger

// maximum number of entries in the central logger.
const maxCentral = 1024

func init() {
	central = newLogger(maxCentral)
}

func levelOf(perm Permission) Level {
	if lvl, ok := perm.(Level); ok {
		return lvl
	}
	return Info
}

// Log adds an entry to the central logger.
func Log(perm Permission, tag, detail string) {
	if perm == Allow || perm.AllowLogging() {
		central.log(levelOf(perm), tag, detail)
	}
}

// Logf adds a formatted entry to the central logger.
func Logf(perm Permission, tag, detail string, args ...interface{}) {
	if perm == Allow || perm.AllowLogging() {
		central.logf(levelOf(perm), tag, detail, args...)
	}
}

// SetVerbosity sets which levels are recorded. Errors and warnings are always
// recorded, a verbosity of 1 adds Info and 2 or more adds Debug.
func SetVerbosity(verbosity int) {
	if verbosity < 0 {
		verbosity = 0
	}
	lvl := Warn + Level(verbosity)
	if lvl > Debug {
		lvl = Debug
	}
	central.setThreshold(lvl)
}

// Clear all entries from central logger.
func Clear() {
	central.clear()
}

// Write contents of central logger to io.Writer.
func Write(output io.Writer) {
	central.write(output)
}

// SetEcho prints new log entries to io.Writer. A nil writer stops echoing.
func SetEcho(output io.Writer) {
	central.setEcho(output)
}
