package image

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/signadot/tblgen/native"
)

type span struct {
	off, n int
}

// srcLoc is a position in one of the context's source files. file is -1
// for an unknown position.
type srcLoc struct {
	file int
	pos  pos
}

var noLoc = srcLoc{file: -1}

type grec struct {
	name    span
	str     string
	anon    bool
	class   bool
	parents []native.Record
	supers  map[string]struct{}
	vals    []native.RecordVal
	byName  map[string]native.RecordVal
	loc     srcLoc
}

type gval struct {
	name span
	str  string
	init native.Init
	loc  srcLoc
}

type ginit struct {
	kind     native.Kind
	bit      int8
	i        int64
	str      span
	elems    []native.Init
	rec      native.Record
	argNames []span
	hasName  []bool
}

// graph is the arena holding a compiled record graph. Handles are 1-based
// indexes into the arena slices.
type graph struct {
	ctx *context

	strs  []byte
	recs  []grec
	vals  []gval
	inits []ginit

	classes     []native.Record
	defs        []native.Record
	classByName map[string]native.Record
	defByName   map[string]native.Record

	vecMu   sync.Mutex
	vecs    map[native.Vector][]native.Record
	nextVec uint32

	freed atomic.Bool
}

func newGraph(ctx *context) *graph {
	return &graph{
		ctx:         ctx,
		classByName: map[string]native.Record{},
		defByName:   map[string]native.Record{},
		vecs:        map[native.Vector][]native.Record{},
	}
}

func (g *graph) intern(s string) span {
	sp := span{off: len(g.strs), n: len(s)}
	g.strs = append(g.strs, s...)
	return sp
}

func (g *graph) bytes(sp span) []byte {
	return g.strs[sp.off : sp.off+sp.n : sp.off+sp.n]
}

func (g *graph) rec(r native.Record) *grec {
	if r == 0 || int(r) > len(g.recs) {
		panic(fmt.Sprintf("image: invalid record handle %d", r))
	}
	return &g.recs[r-1]
}

func (g *graph) val(v native.RecordVal) *gval {
	if v == 0 || int(v) > len(g.vals) {
		panic(fmt.Sprintf("image: invalid record value handle %d", v))
	}
	return &g.vals[v-1]
}

func (g *graph) init(i native.Init) *ginit {
	if i == 0 || int(i) > len(g.inits) {
		panic(fmt.Sprintf("image: invalid init handle %d", i))
	}
	return &g.inits[i-1]
}

func (g *graph) addInit(in ginit) native.Init {
	g.inits = append(g.inits, in)
	return native.Init(len(g.inits))
}

func (g *graph) NumClasses() int { return len(g.classes) }

func (g *graph) Class(i int) native.Record {
	if i < 0 || i >= len(g.classes) {
		return 0
	}
	return g.classes[i]
}

func (g *graph) NumDefs() int { return len(g.defs) }

func (g *graph) Def(i int) native.Record {
	if i < 0 || i >= len(g.defs) {
		return 0
	}
	return g.defs[i]
}

func (g *graph) LookupClass(name string) native.Record { return g.classByName[name] }
func (g *graph) LookupDef(name string) native.Record   { return g.defByName[name] }

func (g *graph) AllDerivedDefinitions(class string) native.Vector {
	var res []native.Record
	for _, d := range g.defs {
		if _, ok := g.rec(d).supers[class]; ok {
			res = append(res, d)
		}
	}
	g.vecMu.Lock()
	defer g.vecMu.Unlock()
	g.nextVec++
	h := native.Vector(g.nextVec)
	g.vecs[h] = res
	g.ctx.c.stats.vectors.Add(1)
	return h
}

func (g *graph) vector(v native.Vector) []native.Record {
	g.vecMu.Lock()
	defer g.vecMu.Unlock()
	res, ok := g.vecs[v]
	if !ok {
		panic(fmt.Sprintf("image: invalid vector handle %d", v))
	}
	return res
}

func (g *graph) VectorLen(v native.Vector) int { return len(g.vector(v)) }

func (g *graph) VectorGet(v native.Vector, i int) native.Record {
	recs := g.vector(v)
	if i < 0 || i >= len(recs) {
		return 0
	}
	return recs[i]
}

func (g *graph) VectorFree(v native.Vector) {
	g.vecMu.Lock()
	defer g.vecMu.Unlock()
	if g.freed.Load() {
		// released with the graph
		return
	}
	if _, ok := g.vecs[v]; !ok {
		panic(fmt.Sprintf("image: double free of vector handle %d", v))
	}
	delete(g.vecs, v)
	g.ctx.c.stats.vectors.Add(-1)
}

func (g *graph) RecordName(r native.Record) []byte  { return g.bytes(g.rec(r).name) }
func (g *graph) RecordAnonymous(r native.Record) bool { return g.rec(r).anon }
func (g *graph) RecordIsClass(r native.Record) bool   { return g.rec(r).class }

func (g *graph) RecordSubclassOf(r native.Record, class string) bool {
	_, ok := g.rec(r).supers[class]
	return ok
}

func (g *graph) RecordLoc(r native.Record) native.Loc {
	return g.ctx.newLoc(g.rec(r).loc)
}

func (g *graph) RecordNumValues(r native.Record) int { return len(g.rec(r).vals) }

func (g *graph) RecordValueAt(r native.Record, i int) native.RecordVal {
	vals := g.rec(r).vals
	if i < 0 || i >= len(vals) {
		return 0
	}
	return vals[i]
}

func (g *graph) RecordValue(r native.Record, name string) native.RecordVal {
	return g.rec(r).byName[name]
}

func (g *graph) RecordValName(v native.RecordVal) []byte    { return g.bytes(g.val(v).name) }
func (g *graph) RecordValInit(v native.RecordVal) native.Init { return g.val(v).init }

func (g *graph) RecordValLoc(v native.RecordVal) native.Loc {
	return g.ctx.newLoc(g.val(v).loc)
}

func (g *graph) InitKind(i native.Init) native.Kind { return g.init(i).kind }

func (g *graph) BitInitValue(i native.Init) int8 {
	in := g.init(i)
	if in.kind != native.BitKind {
		return -1
	}
	return in.bit
}

func (g *graph) BitsInitNumBits(i native.Init) int {
	in := g.init(i)
	if in.kind != native.BitsKind {
		return 0
	}
	return len(in.elems)
}

func (g *graph) BitsInitBit(b native.Init, i int) native.Init {
	in := g.init(b)
	if in.kind != native.BitsKind || i < 0 || i >= len(in.elems) {
		return 0
	}
	return in.elems[i]
}

func (g *graph) IntInitValue(i native.Init) (int64, bool) {
	in := g.init(i)
	if in.kind != native.IntKind {
		return 0, false
	}
	return in.i, true
}

func (g *graph) StringInitValue(i native.Init) []byte {
	in := g.init(i)
	if in.kind != native.StringKind && in.kind != native.CodeKind {
		return nil
	}
	return g.bytes(in.str)
}

func (g *graph) DefInitRecord(i native.Init) native.Record {
	in := g.init(i)
	if in.kind != native.RecordKind {
		return 0
	}
	return in.rec
}

func (g *graph) ListInitLen(i native.Init) int {
	in := g.init(i)
	if in.kind != native.ListKind {
		return 0
	}
	return len(in.elems)
}

func (g *graph) ListInitGet(l native.Init, i int) native.Init {
	in := g.init(l)
	if in.kind != native.ListKind || i < 0 || i >= len(in.elems) {
		return 0
	}
	return in.elems[i]
}

func (g *graph) DagInitOperator(d native.Init) native.Record {
	in := g.init(d)
	if in.kind != native.DagKind {
		return 0
	}
	return in.rec
}

func (g *graph) DagInitNumArgs(d native.Init) int {
	in := g.init(d)
	if in.kind != native.DagKind {
		return 0
	}
	return len(in.elems)
}

func (g *graph) DagInitArg(d native.Init, i int) native.Init {
	in := g.init(d)
	if in.kind != native.DagKind || i < 0 || i >= len(in.elems) {
		return 0
	}
	return in.elems[i]
}

func (g *graph) DagInitArgName(d native.Init, i int) ([]byte, bool) {
	in := g.init(d)
	if in.kind != native.DagKind || i < 0 || i >= len(in.elems) || !in.hasName[i] {
		return nil, false
	}
	return g.bytes(in.argNames[i]), true
}

func (g *graph) Free() {
	if !g.freed.CompareAndSwap(false, true) {
		panic("image: double free of record graph")
	}
	g.vecMu.Lock()
	leaked := len(g.vecs)
	g.vecs = nil
	g.vecMu.Unlock()
	g.ctx.c.stats.graphs.Add(-1)
	g.ctx.c.stats.vectors.Add(-int64(leaked))
	g.strs, g.recs, g.vals, g.inits = nil, nil, nil, nil
}

// printing, in the shape of TableGen's record dump

func (g *graph) InitPrint(i native.Init) string {
	var b strings.Builder
	g.printInit(&b, i)
	return b.String()
}

func (g *graph) printInit(b *strings.Builder, i native.Init) {
	in := g.init(i)
	switch in.kind {
	case native.BitKind:
		b.WriteString(strconv.Itoa(int(in.bit)))
	case native.BitsKind:
		b.WriteString("{ ")
		for j := len(in.elems) - 1; j >= 0; j-- {
			g.printInit(b, in.elems[j])
			if j > 0 {
				b.WriteString(", ")
			}
		}
		b.WriteString(" }")
	case native.IntKind:
		b.WriteString(strconv.FormatInt(in.i, 10))
	case native.StringKind:
		b.WriteString(strconv.Quote(string(g.bytes(in.str))))
	case native.CodeKind:
		b.WriteString("[{")
		b.Write(g.bytes(in.str))
		b.WriteString("}]")
	case native.ListKind:
		b.WriteByte('[')
		for j, e := range in.elems {
			if j > 0 {
				b.WriteString(", ")
			}
			g.printInit(b, e)
		}
		b.WriteByte(']')
	case native.DagKind:
		b.WriteByte('(')
		b.Write(g.bytes(g.rec(in.rec).name))
		for j, e := range in.elems {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteByte(' ')
			g.printInit(b, e)
			if in.hasName[j] {
				b.WriteString(":$")
				b.Write(g.bytes(in.argNames[j]))
			}
		}
		b.WriteByte(')')
	case native.RecordKind:
		b.Write(g.bytes(g.rec(in.rec).name))
	default:
		b.WriteByte('?')
	}
}

func (g *graph) typeName(i native.Init) string {
	in := g.init(i)
	switch in.kind {
	case native.BitKind:
		return "bit"
	case native.BitsKind:
		return "bits<" + strconv.Itoa(len(in.elems)) + ">"
	case native.IntKind:
		return "int"
	case native.StringKind:
		return "string"
	case native.CodeKind:
		return "code"
	case native.DagKind:
		return "dag"
	case native.ListKind:
		for _, e := range in.elems {
			if g.init(e).kind != native.InvalidKind {
				return "list<" + g.typeName(e) + ">"
			}
		}
		return "list<?>"
	case native.RecordKind:
		r := g.rec(in.rec)
		if len(r.parents) == 0 {
			return "record"
		}
		names := make([]string, len(r.parents))
		for j, p := range r.parents {
			names[j] = g.rec(p).str
		}
		return strings.Join(names, ", ")
	}
	return "?"
}

func (g *graph) RecordValPrint(v native.RecordVal) string {
	val := g.val(v)
	var b strings.Builder
	b.WriteString(g.typeName(val.init))
	b.WriteByte(' ')
	b.WriteString(val.str)
	b.WriteString(" = ")
	g.printInit(&b, val.init)
	return b.String()
}

func (g *graph) RecordPrint(r native.Record) string {
	rec := g.rec(r)
	var b strings.Builder
	if rec.class {
		b.WriteString("class ")
	} else {
		b.WriteString("def ")
	}
	b.WriteString(rec.str)
	b.WriteString(" {")
	if len(rec.parents) > 0 {
		b.WriteString("\t//")
		for _, p := range rec.parents {
			b.WriteByte(' ')
			b.WriteString(g.rec(p).str)
		}
	}
	b.WriteByte('\n')
	for _, v := range rec.vals {
		b.WriteString("  ")
		b.WriteString(g.RecordValPrint(v))
		b.WriteString(";\n")
	}
	b.WriteString("}\n")
	return b.String()
}
