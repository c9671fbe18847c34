package misc

import (
	"fmt"
	"io"
	"os"
)

// Debug is a category debug stream. Disabled streams swallow their input, so
// call sites can log unconditionally.
type Debug struct {
	enabled bool
	writer  io.Writer
}

func (this *Debug) Init(enabled bool) {
	this.enabled = enabled
	this.writer = os.Stderr
}

func (this *Debug) InitWriter(enabled bool, writer io.Writer) {
	this.enabled = enabled
	this.writer = writer
}

func (this *Debug) Enabled() bool {
	return this.enabled
}

func (this *Debug) Printf(format string, args ...interface{}) {
	if !this.enabled {
		return
	}

	fmt.Fprintf(this.writer, format, args...)
}
