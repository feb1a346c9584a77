// Package diag prints tblgen errors for people and converts them to
// language server diagnostics.
package diag

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/signadot/tblgen"
)

// Source is the value of the Source field of LSP diagnostics.
const Source = "tblgen"

type printOpts struct {
	color *bool
}

type PrintOption func(*printOpts)

// WithColor forces colored output on or off. By default output is colored
// when the writer is a terminal.
func WithColor(v bool) PrintOption {
	return func(o *printOpts) { o.color = &v }
}

var (
	errorLabel = []color.Attribute{color.FgRed, color.Bold}
	posLabel   = []color.Attribute{color.Bold}
)

// Print writes err to standard error. See Fprint.
func Print(info tblgen.SourceInfo, err error, opts ...PrintOption) error {
	return Fprint(os.Stderr, info, err, opts...)
}

// Fprint writes err to w. Located errors are rendered with their source
// through info; errors joined with errors.Join are printed one by one.
func Fprint(w io.Writer, info tblgen.SourceInfo, err error, opts ...PrintOption) error {
	o := &printOpts{}
	for _, f := range opts {
		f(o)
	}
	useColor := isTerminal(w)
	if o.color != nil {
		useColor = *o.color
	}
	for _, e := range Flatten(err) {
		if _, werr := io.WriteString(w, format(info, e, useColor)); werr != nil {
			return werr
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func format(info tblgen.SourceInfo, err error, useColor bool) string {
	label := "error:"
	if useColor {
		label = colored(errorLabel, label)
	}
	var le *tblgen.LocatedError
	if !errors.As(err, &le) || le.Location.IsNone() {
		return label + " " + err.Error() + "\n"
	}
	b := &strings.Builder{}
	pos := le.Location.String() + ":"
	if useColor {
		pos = colored(posLabel, pos)
	}
	fmt.Fprintf(b, "%s %s %s\n", pos, label, le.Err.Error())
	rendered := le.WithSourceInfo(info)
	defer rendered.Close()
	body := rendered.Error()
	body = strings.TrimPrefix(body, "Error: ")
	body = strings.TrimPrefix(body, le.Err.Error())
	body = strings.Trim(body, "\n")
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	return b.String()
}

func colored(attrs []color.Attribute, s string) string {
	c := color.New(attrs...)
	c.EnableColor()
	return c.Sprint(s)
}

// Flatten returns the leaves of errors joined with errors.Join, in order.
// Other errors are returned as is.
func Flatten(err error) []error {
	if err == nil {
		return nil
	}
	j, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var res []error
	for _, e := range j.Unwrap() {
		res = append(res, Flatten(e)...)
	}
	return res
}

// ToLSP converts err to LSP diagnostics keyed by document. Errors without
// a location are keyed by the empty URI.
func ToLSP(err error) map[protocol.DocumentURI][]protocol.Diagnostic {
	res := map[protocol.DocumentURI][]protocol.Diagnostic{}
	for _, e := range Flatten(err) {
		doc, d := toLSP(e)
		res[doc] = append(res[doc], d)
	}
	return res
}

func toLSP(err error) (protocol.DocumentURI, protocol.Diagnostic) {
	d := protocol.Diagnostic{
		Severity: protocol.DiagnosticSeverityError,
		Source:   Source,
		Message:  err.Error(),
	}
	var le *tblgen.LocatedError
	if !errors.As(err, &le) {
		return "", d
	}
	d.Message = le.Err.Error()
	p, ok := le.Location.Position()
	if !ok {
		return "", d
	}
	// LSP positions are 0-based.
	line, col := uint32(max(p.Line-1, 0)), uint32(max(p.Column-1, 0))
	d.Range = protocol.Range{
		Start: protocol.Position{Line: line, Character: col},
		End:   protocol.Position{Line: line, Character: col + 1},
	}
	return protocol.DocumentURI(uri.File(p.Filename)), d
}
