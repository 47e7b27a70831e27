// Package xlog is a small leveled, key-value logger in the convention used
// throughout the teacher's call sites (log.Debug("msg", "key", val), ...),
// whose own log package implementation was not part of the retrieved
// sample. Error and Crit capture the caller's frame with go-stack, matching
// the well-known use of that package by go-ethereum-style loggers to
// annotate terminal output with source location.
package xlog

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-stack/stack"
)

// Level orders log severity from most to least verbose.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCrit
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "EROR"
	case LevelCrit:
		return "CRIT"
	default:
		return "????"
	}
}

var (
	mu      sync.Mutex
	minimum = LevelInfo
)

// SetLevel changes the minimum level that is written out. It exists mainly
// so CLI tooling can offer a -v/-verbose flag.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minimum = l
}

func log(l Level, withCaller bool, msg string, kv ...interface{}) {
	mu.Lock()
	enabled := l >= minimum
	mu.Unlock()
	if !enabled {
		return
	}

	line := fmt.Sprintf("%s %s", l, msg)
	for i := 0; i+1 < len(kv); i += 2 {
		line += fmt.Sprintf(" %v=%v", kv[i], kv[i+1])
	}
	if withCaller {
		// Skip log() itself and the Debug/Info/... wrapper that called it.
		line += fmt.Sprintf(" caller=%+v", stack.Caller(2))
	}
	fmt.Fprintln(os.Stderr, line)
}

func Debug(msg string, kv ...interface{}) { log(LevelDebug, false, msg, kv...) }
func Info(msg string, kv ...interface{})  { log(LevelInfo, false, msg, kv...) }
func Warn(msg string, kv ...interface{})  { log(LevelWarn, false, msg, kv...) }
func Error(msg string, kv ...interface{}) { log(LevelError, true, msg, kv...) }
func Crit(msg string, kv ...interface{})  { log(LevelCrit, true, msg, kv...) }
