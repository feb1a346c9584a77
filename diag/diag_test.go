package diag

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/signadot/tblgen"
	"github.com/signadot/tblgen/native/image"
)

var recordsFile = filepath.Join("..", "testdata", "records.yaml")

func parse(t *testing.T) *tblgen.RecordKeeper {
	t.Helper()
	c := image.New(image.WithDiagnosticWriter(io.Discard), image.WithCache(0))
	p, err := tblgen.NewParser(tblgen.WithCompiler(c)).AddSourceFile(recordsFile)
	require.NoError(t, err)
	k, err := p.Parse()
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	return k
}

func TestFprint(t *testing.T) {
	k := parse(t)
	d, _ := k.Def("D")
	_, missing := d.IntValue("nope")
	_, conv := d.IntValue("s")
	err := errors.Join(missing, errors.New("plain"), conv)

	buf := &bytes.Buffer{}
	require.NoError(t, Fprint(buf, k.SourceInfo(), err))
	out := buf.String()
	require.NotContains(t, out, "\x1b[")

	require.Contains(t, out, recordsFile+":13:10: error: expected field nope in record\n")
	require.Contains(t, out, "on "+recordsFile+" line 13")
	require.Contains(t, out, "error: plain\n")
	require.Contains(t, out, recordsFile+":17:7: error: invalid conversion from String to int64\n")
	require.Equal(t, 1, strings.Count(out, "expected field nope in record"))
}

func TestFprintColor(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Fprint(buf, tblgen.SourceInfo{}, errors.New("plain"), WithColor(true)))
	require.Contains(t, buf.String(), "\x1b[")
	require.Contains(t, buf.String(), "plain\n")
}

func TestFprintFallback(t *testing.T) {
	k := parse(t)
	other := parse(t)
	d, _ := k.Def("D")
	_, err := d.IntValue("nope")

	buf := &bytes.Buffer{}
	require.NoError(t, Fprint(buf, other.SourceInfo(), err))
	require.Equal(t,
		recordsFile+":13:10: error: expected field nope in record\nfailed to print source information: invalid source location\n",
		buf.String())
}

func TestFlatten(t *testing.T) {
	a, b, c := errors.New("a"), errors.New("b"), errors.New("c")
	require.Nil(t, Flatten(nil))
	require.Equal(t, []error{a}, Flatten(a))
	require.Equal(t, []error{a, b, c}, Flatten(errors.Join(a, errors.Join(b, c))))
}

func TestToLSP(t *testing.T) {
	k := parse(t)
	d, _ := k.Def("D")
	_, missing := d.IntValue("nope")
	plain := errors.New("plain")

	res := ToLSP(errors.Join(missing, plain))
	require.Len(t, res, 2)

	doc := protocol.DocumentURI(uri.File(recordsFile))
	require.Equal(t, []protocol.Diagnostic{{
		Range: protocol.Range{
			Start: protocol.Position{Line: 12, Character: 9},
			End:   protocol.Position{Line: 12, Character: 10},
		},
		Severity: protocol.DiagnosticSeverityError,
		Source:   Source,
		Message:  "expected field nope in record",
	}}, res[doc])

	require.Equal(t, []protocol.Diagnostic{{
		Severity: protocol.DiagnosticSeverityError,
		Source:   Source,
		Message:  "plain",
	}}, res[""])
}
