package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Printer writes command output. In JSON mode every Print* call is
// suppressed and only Emit produces output, so scripts get one clean
// document per command.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	json   bool
	styles Styles
}

// Option configures a Printer.
type Option func(*Printer)

// WithJSON switches the printer to machine output.
func WithJSON(enabled bool) Option {
	return func(p *Printer) { p.json = enabled }
}

// WithWriters overrides the output streams, mainly for tests.
func WithWriters(out, errOut io.Writer) Option {
	return func(p *Printer) {
		p.out = out
		p.errOut = errOut
	}
}

// NewPrinter builds a printer for stdout/stderr. Colors are enabled only
// when stdout is a terminal.
func NewPrinter(opts ...Option) *Printer {
	p := &Printer{
		out:    os.Stdout,
		errOut: os.Stderr,
		styles: NoColorStyles(),
	}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		p.styles = DefaultStyles()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// JSON reports whether the printer is in machine-output mode.
func (p *Printer) JSON() bool {
	return p.json
}

// Emit writes v as indented JSON in JSON mode and does nothing otherwise.
// Returns true when it produced output, so callers can skip the styled
// rendering.
func (p *Printer) Emit(v any) bool {
	if !p.json {
		return false
	}
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
	return true
}

// Header prints a section heading.
func (p *Printer) Header(text string) {
	if p.json {
		return
	}
	fmt.Fprintln(p.out, p.styles.Header.Render(text))
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	if p.json {
		return
	}
	fmt.Fprintln(p.out, p.styles.Success.Render("✓")+" "+fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (p *Printer) Warning(format string, args ...any) {
	if p.json {
		return
	}
	fmt.Fprintln(p.out, p.styles.Warning.Render("!")+" "+fmt.Sprintf(format, args...))
}

// Error prints an error line to stderr. Printed even in JSON mode, since
// stderr is not part of the machine output.
func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintln(p.errOut, p.styles.Error.Render("✗")+" "+fmt.Sprintf(format, args...))
}

// Field prints an aligned label/value pair.
func (p *Printer) Field(label string, format string, args ...any) {
	if p.json {
		return
	}
	fmt.Fprintf(p.out, "  %s %s\n",
		p.styles.Label.Render(fmt.Sprintf("%-16s", label+":")),
		fmt.Sprintf(format, args...))
}

// Line prints a plain line.
func (p *Printer) Line(format string, args ...any) {
	if p.json {
		return
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}
