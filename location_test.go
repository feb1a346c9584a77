package tblgen

import (
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signadot/tblgen/native"
)

const recordsFile = "testdata/records.yaml"

func TestRecordLocation(t *testing.T) {
	k := parseFile(t, newCompiler(), "records.yaml")
	d := mustDef(t, k, "D")

	loc := d.SourceLocation()
	defer loc.Close()
	p, ok := loc.Position()
	require.True(t, ok)
	require.Equal(t, recordsFile, p.Filename)
	require.Equal(t, 13, p.Line)
	require.Equal(t, 10, p.Column)
	require.Equal(t, recordsFile+":13:10", loc.String())

	f, err := d.Value("s")
	require.NoError(t, err)
	floc := f.SourceLocation()
	defer floc.Close()
	p, ok = floc.Position()
	require.True(t, ok)
	require.Equal(t, native.Position{Filename: recordsFile, Line: 17, Column: 7, Byte: p.Byte}, p)
}

func TestLocationHandles(t *testing.T) {
	c := newCompiler()
	k := parseFile(t, c, "records.yaml")
	d := mustDef(t, k, "D")

	l := d.SourceLocation()
	require.Equal(t, int64(1), c.Stats().Locations)
	cl := l.Clone()
	require.Equal(t, int64(2), c.Stats().Locations)
	require.Equal(t, l.String(), cl.String())

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	require.Equal(t, int64(1), c.Stats().Locations)
	_, ok := l.Position()
	require.False(t, ok)
	require.True(t, l.Clone().IsNone())

	require.NoError(t, cl.Close())
	require.Zero(t, c.Stats().Locations)
}

func TestNoneLocation(t *testing.T) {
	var nilLoc *SourceLocation
	for _, l := range []*SourceLocation{None(), nilLoc} {
		require.True(t, l.IsNone())
		require.True(t, l.Clone().IsNone())
		require.NoError(t, l.Close())
		_, ok := l.Position()
		require.False(t, ok)
		require.Equal(t, "<unknown location>", l.String())
	}
}

func leakLocation(r Record) {
	_ = r.SourceLocation()
}

func TestLocationCleanup(t *testing.T) {
	c := newCompiler()
	k := parseFile(t, c, "records.yaml")
	leakLocation(mustDef(t, k, "D"))
	require.Eventually(t, func() bool {
		runtime.GC()
		return c.Stats().Locations == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLocatedErrorRender(t *testing.T) {
	k := parseFile(t, newCompiler(), "records.yaml")
	d := mustDef(t, k, "D")

	_, err := d.Value("nope")
	var le *LocatedError
	require.ErrorAs(t, err, &le)
	defer le.Close()
	require.Equal(t, "expected field nope in record", le.Error())

	rendered := le.WithSourceInfo(k.SourceInfo())
	defer rendered.Close()
	msg := rendered.Error()
	require.True(t, strings.HasPrefix(msg, "Error: expected field nope in record"), msg)
	require.Contains(t, msg, "on "+recordsFile+" line 13")
	require.Contains(t, msg, "- def: D")

	// the cause survives rendering
	var me *MissingFieldError
	require.ErrorAs(t, rendered, &me)
	require.Equal(t, "nope", me.Name)
	// the original is unchanged
	require.Equal(t, "expected field nope in record", le.Error())
}

func TestLocatedErrorFallback(t *testing.T) {
	c := newCompiler()
	k1 := parseFile(t, c, "records.yaml")
	k2 := parseFile(t, c, "records.yaml")

	_, err := mustDef(t, k1, "D").IntValue("nope")
	var le *LocatedError
	require.ErrorAs(t, err, &le)

	want := "expected field nope in record\nfailed to print source information: invalid source location"
	require.Equal(t, want, le.WithSourceInfo(k2.SourceInfo()).Error())
	require.Equal(t, want, le.WithSourceInfo(SourceInfo{}).Error())

	// closed keeper
	info := k1.SourceInfo()
	require.NoError(t, k1.Close())
	require.Equal(t, want, le.WithSourceInfo(info).Error())
}

func TestLocatedErrorNoLocation(t *testing.T) {
	k := parseFile(t, newCompiler(), "records.yaml")
	le := WithLocation(io.EOF, nil)
	require.True(t, le.Location.IsNone())
	require.ErrorIs(t, le, io.EOF)

	msg := le.WithSourceInfo(k.SourceInfo()).Error()
	require.Contains(t, msg, "Error: EOF")
}

func TestLocatedErrorReplace(t *testing.T) {
	k := parseFile(t, newCompiler(), "records.yaml")
	d := mustDef(t, k, "D")
	f, err := d.Value("i")
	require.NoError(t, err)

	le := WithLocation(errors.New("bad value"), f)
	defer le.Close()
	require.Contains(t, le.Location.String(), ":16:")

	other := le.SetError(io.ErrUnexpectedEOF)
	require.ErrorIs(t, other, io.ErrUnexpectedEOF)
	require.Equal(t, le.Location.String(), other.Location.String())

	moved := le.SetLocation(d)
	require.Equal(t, "bad value", moved.Error())
	require.Contains(t, moved.Location.String(), ":13:")

	// a location is a Locator
	again := WithLocation(io.EOF, moved.Location)
	require.Equal(t, moved.Location.String(), again.Location.String())
	require.NoError(t, moved.Close())
	require.Contains(t, again.Location.String(), ":13:")
}
