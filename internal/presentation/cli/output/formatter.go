// Package output provides CLI output formatting utilities.
// It supports text and JSON output with optional ANSI colors.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Format represents the output format type.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Color represents ANSI color codes for terminal output.
type Color string

const (
	ColorReset  Color = "\033[0m"
	ColorRed    Color = "\033[31m"
	ColorGreen  Color = "\033[32m"
	ColorYellow Color = "\033[33m"
	ColorCyan   Color = "\033[36m"
	ColorBold   Color = "\033[1m"
	ColorDim    Color = "\033[2m"
)

// Formatter handles CLI output with format and color control. Safe for
// concurrent use.
type Formatter struct {
	mu           sync.Mutex
	writer       io.Writer
	format       Format
	colorEnabled bool
}

// Option is a functional option for configuring a Formatter.
type Option func(*Formatter)

// NewFormatter creates a new Formatter with the given options.
func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{
		writer:       os.Stdout,
		format:       FormatText,
		colorEnabled: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithWriter sets the output writer.
func WithWriter(w io.Writer) Option {
	return func(f *Formatter) {
		f.writer = w
	}
}

// WithFormat sets the output format.
func WithFormat(format Format) Option {
	return func(f *Formatter) {
		f.format = format
	}
}

// WithColor enables or disables colored output.
func WithColor(enabled bool) Option {
	return func(f *Formatter) {
		f.colorEnabled = enabled
	}
}

// Format returns the current output format.
func (f *Formatter) Format() Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}

// Println writes a formatted line.
func (f *Formatter) Println(format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.writer, format+"\n", args...)
}

// Printf writes formatted output without a trailing newline.
func (f *Formatter) Printf(format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.writer, format, args...)
}

// JSON writes v as indented JSON.
func (f *Formatter) JSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Success writes a green success line.
func (f *Formatter) Success(format string, args ...interface{}) {
	f.statusLine(ColorGreen, "✓", format, args...)
}

// Warning writes a yellow warning line.
func (f *Formatter) Warning(format string, args ...interface{}) {
	f.statusLine(ColorYellow, "!", format, args...)
}

// Error writes a red error line.
func (f *Formatter) Error(format string, args ...interface{}) {
	f.statusLine(ColorRed, "✗", format, args...)
}

func (f *Formatter) statusLine(color Color, mark, format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(f.writer, "%s %s\n", f.colorize(color, mark), msg)
}

// Bold returns s wrapped in bold codes when colors are enabled.
func (f *Formatter) Bold(s string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.colorize(ColorBold, s)
}

// Dim returns s wrapped in dim codes when colors are enabled.
func (f *Formatter) Dim(s string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.colorize(ColorDim, s)
}

// colorize wraps s in the color codes. Caller holds mu.
func (f *Formatter) colorize(color Color, s string) string {
	if !f.colorEnabled {
		return s
	}
	return string(color) + s + string(ColorReset)
}
