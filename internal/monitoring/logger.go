package monitoring

import (
	"log"
	"strings"
)

// Level orders diagnostics by severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	}
	return "unknown"
}

// ParseLevel maps "debug", "info" or "warn" to a Level. Unknown names map
// to LevelInfo and ok=false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	}
	return LevelInfo, false
}

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// minLevel filters Debugf/Infof/Warnf. Logf itself is never filtered.
var minLevel = LevelInfo

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetLevel sets the minimum level emitted by the leveled helpers.
func SetLevel(l Level) { minLevel = l }

// CurrentLevel reports the minimum level emitted by the leveled helpers.
func CurrentLevel() Level { return minLevel }

func logAt(l Level, format string, v ...interface{}) {
	if l < minLevel {
		return
	}
	Logf("["+l.String()+"] "+format, v...)
}

// Debugf logs high-volume detail such as per-round adaptation decisions.
func Debugf(format string, v ...interface{}) { logAt(LevelDebug, format, v...) }

// Infof logs run progress.
func Infof(format string, v ...interface{}) { logAt(LevelInfo, format, v...) }

// Warnf logs recoverable refusals: a rejected split, an out-of-domain
// lookup, a skipped adaptation round.
func Warnf(format string, v ...interface{}) { logAt(LevelWarn, format, v...) }
