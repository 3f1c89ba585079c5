package util

import (
	"os"

	"golang.org/x/term"
)

// IsInteractive reports whether f is attached to a terminal. Interval
// reports default to on for interactive runs and off when output is piped.
func IsInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
