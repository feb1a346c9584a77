package tblgen

import (
	"iter"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/signadot/tblgen/native"
)

// handles are the native objects owned by a RecordKeeper.
type handles struct {
	ctx  native.Context
	g    native.Graph
	log  *slog.Logger
	once sync.Once
}

func (h *handles) free(reason string) {
	h.once.Do(func() {
		h.g.Free()
		h.ctx.Free()
		h.log.Debug("released record graph", "by", reason)
	})
}

func freeHandles(h *handles) {
	h.free("cleanup")
}

// release is shared by a RecordKeeper and every view derived from it. The
// native objects are freed by Close, or once neither the keeper nor any
// view is reachable.
type release struct {
	h       *handles
	ctx     native.Context
	done    atomic.Bool
	cleanup runtime.Cleanup
}

func newRelease(ctx native.Context, g native.Graph, log *slog.Logger) *release {
	h := &handles{ctx: ctx, g: g, log: log}
	r := &release{h: h, ctx: ctx}
	r.cleanup = runtime.AddCleanup(r, freeHandles, h)
	return r
}

func (r *release) released() bool {
	return r == nil || r.done.Load()
}

func (r *release) check() {
	if r.released() {
		panic(ErrReleased)
	}
}

func (r *release) graph() native.Graph {
	r.check()
	return r.h.g
}

func (r *release) close() {
	if !r.done.CompareAndSwap(false, true) {
		return
	}
	r.cleanup.Stop()
	r.h.free("close")
}

func (r *release) freeLoc(h native.Loc) {
	if r.released() {
		return
	}
	r.ctx.LocFree(h)
}

// RecordKeeper owns a parsed record graph. Every Record, Value and
// StringView obtained from it is valid until Close; using one afterwards
// panics with ErrReleased.
//
// A RecordKeeper is safe for concurrent readers.
type RecordKeeper struct {
	rel *release
}

// Entry is a named record of a RecordKeeper.
type Entry struct {
	Name   string
	Record Record
}

func (k *RecordKeeper) record(h native.Record) Record {
	return Record{rel: k.rel, h: h}
}

func (k *RecordKeeper) NumClasses() int {
	return k.rel.graph().NumClasses()
}

func (k *RecordKeeper) NumDefs() int {
	return k.rel.graph().NumDefs()
}

// Classes yields the classes in declaration order. A class whose name is
// not valid UTF-8 is yielded with a non-nil error and a usable Record.
func (k *RecordKeeper) Classes() iter.Seq2[Entry, error] {
	return k.entries(native.Graph.NumClasses, native.Graph.Class)
}

// Defs yields the defs in declaration order, including anonymous ones.
func (k *RecordKeeper) Defs() iter.Seq2[Entry, error] {
	return k.entries(native.Graph.NumDefs, native.Graph.Def)
}

func (k *RecordKeeper) entries(num func(native.Graph) int, at func(native.Graph, int) native.Record) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		g := k.rel.graph()
		n := num(g)
		for i := range n {
			h := at(g, i)
			if h == 0 {
				continue
			}
			r := k.record(h)
			name, err := r.Name()
			if !yield(Entry{Name: name, Record: r}, err) {
				return
			}
		}
	}
}

// Class looks up a class by name.
func (k *RecordKeeper) Class(name string) (Record, bool) {
	h := k.rel.graph().LookupClass(name)
	if h == 0 {
		return Record{}, false
	}
	return k.record(h), true
}

// Def looks up a def by name.
func (k *RecordKeeper) Def(name string) (Record, bool) {
	h := k.rel.graph().LookupDef(name)
	if h == 0 {
		return Record{}, false
	}
	return k.record(h), true
}

func (k *RecordKeeper) LookupClass(name string) (Record, error) {
	r, ok := k.Class(name)
	if !ok {
		return Record{}, &MissingRecordError{Kind: "class", Name: name}
	}
	return r, nil
}

func (k *RecordKeeper) LookupDef(name string) (Record, error) {
	r, ok := k.Def(name)
	if !ok {
		return Record{}, &MissingRecordError{Kind: "def", Name: name}
	}
	return r, nil
}

// AllDerivedDefinitions yields every def that is a subclass of class. Each
// iteration queries the graph afresh; the query result is released when
// the loop ends.
func (k *RecordKeeper) AllDerivedDefinitions(class string) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		g := k.rel.graph()
		v := g.AllDerivedDefinitions(class)
		if v == 0 {
			return
		}
		defer k.freeVector(g, v)
		n := g.VectorLen(v)
		for i := range n {
			k.rel.check()
			h := g.VectorGet(v, i)
			if h == 0 {
				continue
			}
			if !yield(k.record(h)) {
				return
			}
		}
	}
}

func (k *RecordKeeper) freeVector(g native.Graph, v native.Vector) {
	if k.rel.released() {
		return
	}
	g.VectorFree(v)
}

// DerivedDefinitions collects AllDerivedDefinitions.
func (k *RecordKeeper) DerivedDefinitions(class string) []Record {
	var res []Record
	for r := range k.AllDerivedDefinitions(class) {
		res = append(res, r)
	}
	return res
}

// SourceInfo returns the source information used to render located errors
// produced by this keeper.
func (k *RecordKeeper) SourceInfo() SourceInfo {
	k.rel.check()
	return SourceInfo{rel: k.rel}
}

// Close releases the record graph and its parser context. It is safe to
// call more than once.
func (k *RecordKeeper) Close() error {
	k.rel.close()
	return nil
}
