// Package logging holds the default structured logger shared by the gmain
// and eventloop packages.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the logger type accepted by every component of this module.
type Logger = logiface.Logger[logiface.Event]

// DefaultLevel is the minimum level enabled by [New], when used to build the
// default logger. Only diagnostics that indicate misuse or failure are
// emitted by default.
const DefaultLevel = logiface.LevelWarning

// New builds a stumpy (JSON lines) logger writing to w, at the given level.
func New(w io.Writer, level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// Default returns a new logger writing to os.Stderr at [DefaultLevel].
func Default() *Logger {
	return New(os.Stderr, DefaultLevel)
}

// Discard returns a logger with every level disabled.
func Discard() *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(io.Discard)),
		stumpy.L.WithLevel(logiface.LevelDisabled),
	).Logger()
}
