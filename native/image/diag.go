package image

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/hcl/v2"

	"github.com/signadot/tblgen/native"
)

func hclSeverity(sev native.Severity) hcl.DiagnosticSeverity {
	if sev == native.SeverityError {
		return hcl.DiagError
	}
	return hcl.DiagWarning
}

// hclFiles exposes the context's buffers to the hcl diagnostic writer. The
// caller holds x.mu.
func (x *context) hclFiles() map[string]*hcl.File {
	res := make(map[string]*hcl.File, len(x.files))
	for _, f := range x.files {
		if f.src == nil {
			continue
		}
		res[f.name] = &hcl.File{Bytes: f.src}
	}
	return res
}

func (x *context) hclRange(sl srcLoc) *hcl.Range {
	if sl.file < 0 || sl.file >= len(x.files) {
		return nil
	}
	p := sl.pos
	n := max(1, p.n)
	return &hcl.Range{
		Filename: x.files[sl.file].name,
		Start:    hcl.Pos{Line: p.line, Column: p.col, Byte: p.off},
		End:      hcl.Pos{Line: p.line, Column: p.col + n, Byte: p.off + n},
	}
}

func (x *context) write(w io.Writer, color bool, subject *hcl.Range, sev native.Severity, msg string) error {
	dw := hcl.NewDiagnosticTextWriter(w, x.hclFiles(), 0, color)
	return dw.WriteDiagnostic(&hcl.Diagnostic{
		Severity: hclSeverity(sev),
		Summary:  msg,
		Subject:  subject,
	})
}

func (x *context) PrintDiagnostic(loc native.Loc, sev native.Severity, msg string) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.freed {
		return "", ErrFreed
	}
	var subject *hcl.Range
	if loc != 0 {
		sl, ok := x.locs[loc]
		if !ok {
			return "", fmt.Errorf("%w: %d", ErrInvalidLoc, loc)
		}
		subject = x.hclRange(sl)
	}
	buf := bytes.NewBuffer(nil)
	if err := x.write(buf, false, subject, sev, msg); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// report writes a failed parse to the compiler's diagnostic writer. The
// caller holds x.mu.
func (x *context) report(err error) {
	out := x.c.diagOut
	if out == nil {
		return
	}
	var (
		de *DecodeError
		ye *yamlError
	)
	switch {
	case errors.As(err, &de):
		var subject *hcl.Range
		for i, f := range x.files {
			if f.name == de.File {
				subject = x.hclRange(srcLoc{file: i, pos: pos{line: de.Line, col: de.Col, off: de.off, n: de.n}})
				break
			}
		}
		x.write(out, x.c.color, subject, native.SeverityError, de.Msg)
	case errors.As(err, &ye):
		fmt.Fprintf(out, "%s: %s\n", ye.file, yaml.FormatError(ye.err, x.c.color, true))
	default:
		x.write(out, x.c.color, nil, native.SeverityError, err.Error())
	}
}
