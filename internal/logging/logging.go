package logging

import (
	"io"
	"log"
	"os"
)

// New returns the top-level logger for the core process.
func New() *log.Logger {
	return log.New(os.Stdout, "upkk-core ", log.LstdFlags|log.LUTC)
}

// For returns a logger scoped to one subsystem. Output goes to w so tests
// can capture it; production callers pass os.Stdout.
func For(w io.Writer, subsystem string) *log.Logger {
	if w == nil {
		w = io.Discard
	}
	return log.New(w, "upkk-core/"+subsystem+" ", log.LstdFlags|log.LUTC)
}
