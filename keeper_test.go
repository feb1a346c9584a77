package tblgen

import (
	"io"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/signadot/tblgen/native/image"
)

func newCompiler() *image.Compiler {
	return image.New(image.WithDiagnosticWriter(io.Discard), image.WithCache(0))
}

func parseFile(t *testing.T, c *image.Compiler, name string) *RecordKeeper {
	t.Helper()
	p, err := NewParser(WithCompiler(c)).AddSourceFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	k, err := p.Parse()
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	return k
}

func recordNames(t *testing.T, recs []Record) []string {
	t.Helper()
	var res []string
	for _, r := range recs {
		n, err := r.Name()
		require.NoError(t, err)
		res = append(res, n)
	}
	return res
}

func entryNames(t *testing.T, k *RecordKeeper, classes bool) []string {
	t.Helper()
	seq := k.Defs()
	if classes {
		seq = k.Classes()
	}
	var res []string
	for e, err := range seq {
		require.NoError(t, err)
		n, err := e.Record.Name()
		require.NoError(t, err)
		require.Equal(t, n, e.Name)
		res = append(res, e.Name)
	}
	return res
}

func TestKeeperEnumerate(t *testing.T) {
	k := parseFile(t, newCompiler(), "records.yaml")

	if diff := cmp.Diff([]string{"A", "B", "Register"}, entryNames(t, k, true)); diff != "" {
		t.Errorf("classes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ins", "X", "Y", "D", "anonymous_0"}, entryNames(t, k, false)); diff != "" {
		t.Errorf("defs (-want +got):\n%s", diff)
	}
	require.Equal(t, 3, k.NumClasses())
	require.Equal(t, 5, k.NumDefs())

	// stop early
	n := 0
	for range k.Defs() {
		n++
		break
	}
	require.Equal(t, 1, n)
}

func TestKeeperLookup(t *testing.T) {
	k := parseFile(t, newCompiler(), "records.yaml")

	a, ok := k.Class("A")
	require.True(t, ok)
	require.True(t, a.IsClass())
	_, ok = k.Def("A")
	require.False(t, ok)

	d, err := k.LookupDef("D")
	require.NoError(t, err)
	require.False(t, d.IsClass())
	d2, _ := k.Def("D")
	require.Equal(t, d, d2)

	_, err = k.LookupDef("nope")
	require.EqualError(t, err, "expected def nope")
	var me *MissingRecordError
	require.ErrorAs(t, err, &me)
	require.Equal(t, "def", me.Kind)

	_, err = k.LookupClass("D")
	require.EqualError(t, err, "expected class D")
}

func TestDerivedDefinitions(t *testing.T) {
	c := newCompiler()
	k := parseFile(t, c, "records.yaml")

	require.Equal(t, []string{"D", "anonymous_0"}, recordNames(t, k.DerivedDefinitions("A")))
	require.Equal(t, []string{"D"}, recordNames(t, k.DerivedDefinitions("B")))
	require.Equal(t, []string{"X", "Y"}, recordNames(t, k.DerivedDefinitions("Register")))
	require.Empty(t, k.DerivedDefinitions("nope"))

	// restartable, and the query is released when the loop breaks
	seq := k.AllDerivedDefinitions("A")
	for range 2 {
		for r := range seq {
			require.True(t, r.SubclassOf("A"))
			break
		}
	}
	require.Zero(t, c.Stats().Vectors)
}

func TestSubclassTransitive(t *testing.T) {
	k := parseFile(t, newCompiler(), "records.yaml")
	d, _ := k.Def("D")
	require.True(t, d.SubclassOf("A"))
	require.True(t, d.SubclassOf("B"))
	require.False(t, d.SubclassOf("Register"))
	b, _ := k.Class("B")
	require.True(t, b.SubclassOf("A"))
}

func TestAnonymousRecord(t *testing.T) {
	k := parseFile(t, newCompiler(), "records.yaml")
	var anon []Record
	for e, err := range k.Defs() {
		require.NoError(t, err)
		if e.Record.Anonymous() {
			anon = append(anon, e.Record)
		}
	}
	require.Len(t, anon, 1)
	r := anon[0]
	require.True(t, r.SubclassOf("A"))
	i, err := r.IntValue("i")
	require.NoError(t, err)
	require.Equal(t, int64(7), i)
	d, _ := k.Def("D")
	require.False(t, d.Anonymous())
}

func TestKeeperClose(t *testing.T) {
	c := newCompiler()
	k := parseFile(t, c, "records.yaml")
	d, _ := k.Def("D")
	v, err := d.Value("l")
	require.NoError(t, err)
	name := d.NameView()
	loc := d.SourceLocation()

	require.NoError(t, k.Close())
	require.NoError(t, k.Close())
	require.Equal(t, image.Stats{}, c.Stats())

	require.PanicsWithValue(t, ErrReleased, func() { d.Name() })
	require.PanicsWithValue(t, ErrReleased, func() { _ = v.Value().String() })
	require.PanicsWithValue(t, ErrReleased, func() { name.Bytes() })
	require.PanicsWithValue(t, ErrReleased, func() { k.NumDefs() })
	require.PanicsWithValue(t, ErrReleased, func() {
		for range k.Classes() {
		}
	})
	require.PanicsWithValue(t, ErrReleased, func() { k.SourceInfo() })

	_, ok := loc.Position()
	require.False(t, ok)
	require.NoError(t, loc.Close())
}

func TestKeeperConcurrentReaders(t *testing.T) {
	k := parseFile(t, newCompiler(), "records.yaml")
	d, _ := k.Def("D")
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				i, err := d.IntValue("i")
				if err != nil || i != 42 {
					t.Errorf("got %d, %v", i, err)
					return
				}
				for range k.AllDerivedDefinitions("Register") {
				}
			}
		})
	}
	wg.Wait()
}

func dropKeeper(t *testing.T, c *image.Compiler) {
	p, err := NewParser(WithCompiler(c)).AddSourceFile(filepath.Join("testdata", "records.yaml"))
	require.NoError(t, err)
	k, err := p.Parse()
	require.NoError(t, err)
	d, _ := k.Def("D")
	_ = d.SourceLocation()
}

func TestKeeperCleanup(t *testing.T) {
	c := newCompiler()
	dropKeeper(t, c)
	require.Eventually(t, func() bool {
		runtime.GC()
		return c.Stats() == image.Stats{}
	}, 5*time.Second, 10*time.Millisecond)
}
