package image

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/signadot/tblgen/native"
)

// linker turns the decoded images of a context into one graph.
type linker struct {
	x        *context
	g        *graph
	included map[string]bool
	anon     int
	refs     []pendingRef
}

// pendingRef is a record reference resolved once every record of the
// context has been declared.
type pendingRef struct {
	init native.Init
	name string
	loc  srcLoc
}

func newLinker(x *context) *linker {
	return &linker{
		x:        x,
		g:        newGraph(x),
		included: map[string]bool{},
	}
}

func (l *linker) errorf(sl srcLoc, format string, args ...any) error {
	e := &DecodeError{
		Line: sl.pos.line,
		Col:  sl.pos.col,
		Msg:  fmt.Sprintf(format, args...),
		off:  sl.pos.off,
		n:    sl.pos.n,
	}
	if sl.file >= 0 && sl.file < len(l.x.files) {
		e.File = l.x.files[sl.file].name
	}
	return e
}

func (l *linker) link() (*graph, error) {
	for _, i := range l.x.top {
		if err := l.file(i); err != nil {
			return nil, err
		}
	}
	for _, ref := range l.refs {
		r, ok := l.g.defByName[ref.name]
		if !ok {
			return nil, l.errorf(ref.loc, "Variable not defined: '%s'", ref.name)
		}
		l.g.init(ref.init).rec = r
	}
	return l.g, nil
}

func (l *linker) file(i int) error {
	src := l.x.files[i]
	if src.path != "" {
		if l.included[src.path] {
			return nil
		}
		l.included[src.path] = true
	}
	if src.img == nil {
		img, err := l.x.c.load(src)
		if err != nil {
			return err
		}
		src.img = img
		src.src = img.src
	}
	for _, inc := range src.img.includes {
		j, err := l.include(src, inc)
		if err != nil {
			return err
		}
		if j < 0 {
			continue
		}
		if err := l.file(j); err != nil {
			return err
		}
	}
	for k := range src.img.records {
		if err := l.record(i, &src.img.records[k]); err != nil {
			return err
		}
	}
	return nil
}

// include resolves inc and registers it as a source of the context. It
// returns -1 for a file that was already included.
func (l *linker) include(from *source, inc named) (int, error) {
	var dirs []string
	if from.path != "" {
		dirs = append(dirs, filepath.Dir(from.path))
	}
	dirs = append(dirs, l.x.includeDirs...)
	for _, dir := range dirs {
		p := inc.name
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		fi, err := os.Stat(abs)
		if err != nil || fi.IsDir() {
			continue
		}
		if l.included[abs] {
			return -1, nil
		}
		l.x.files = append(l.x.files, &source{name: p, path: abs})
		return len(l.x.files) - 1, nil
	}
	return 0, l.errorf(srcLoc{file: l.fileIndex(from), pos: inc.pos}, "Could not find include file '%s': %s", inc.name, ErrNotFound)
}

func (l *linker) fileIndex(s *source) int {
	for i, f := range l.x.files {
		if f == s {
			return i
		}
	}
	return -1
}

func (l *linker) record(file int, ir *imgRecord) error {
	g := l.g
	rec := grec{
		anon:   ir.anon,
		class:  ir.class,
		supers: map[string]struct{}{},
		byName: map[string]native.RecordVal{},
		loc:    srcLoc{file: file, pos: ir.pos},
	}
	rec.str = ir.name
	if ir.anon {
		rec.str = fmt.Sprintf("anonymous_%d", l.anon)
		l.anon++
	}
	if ir.class {
		if _, dup := g.classByName[rec.str]; dup {
			return l.errorf(rec.loc, "Class '%s' already defined", rec.str)
		}
	} else if _, dup := g.defByName[rec.str]; dup {
		return l.errorf(rec.loc, "def '%s' already defined", rec.str)
	}
	rec.name = g.intern(rec.str)

	for _, p := range ir.parents {
		pr, ok := g.classByName[p.name]
		if !ok {
			return l.errorf(srcLoc{file: file, pos: p.pos}, "Couldn't find class '%s'", p.name)
		}
		rec.parents = append(rec.parents, pr)
		parent := g.rec(pr)
		for s := range parent.supers {
			rec.supers[s] = struct{}{}
		}
		rec.supers[p.name] = struct{}{}
		for _, v := range parent.vals {
			name := g.val(v).str
			if _, seen := rec.byName[name]; seen {
				rec.replace(name, v)
				continue
			}
			rec.vals = append(rec.vals, v)
			rec.byName[name] = v
		}
	}
	for k := range ir.fields {
		f := &ir.fields[k]
		loc := srcLoc{file: file, pos: f.pos}
		in := l.value(file, f.val)
		g.vals = append(g.vals, gval{name: g.intern(f.name), str: f.name, init: in, loc: loc})
		h := native.RecordVal(len(g.vals))
		if _, seen := rec.byName[f.name]; seen {
			rec.replace(f.name, h)
			continue
		}
		rec.vals = append(rec.vals, h)
		rec.byName[f.name] = h
	}

	g.recs = append(g.recs, rec)
	h := native.Record(len(g.recs))
	if ir.class {
		g.classes = append(g.classes, h)
		g.classByName[rec.str] = h
	} else {
		g.defs = append(g.defs, h)
		g.defByName[rec.str] = h
	}
	return nil
}

// replace swaps the value named name in place, keeping its position.
func (r *grec) replace(name string, v native.RecordVal) {
	old := r.byName[name]
	for i, cur := range r.vals {
		if cur == old {
			r.vals[i] = v
			break
		}
	}
	r.byName[name] = v
}

func (l *linker) value(file int, v *imgValue) native.Init {
	g := l.g
	in := ginit{kind: v.kind}
	switch v.kind {
	case native.BitKind:
		in.bit = v.bit
	case native.BitsKind:
		in.elems = make([]native.Init, len(v.bits))
		for i, b := range v.bits {
			in.elems[i] = g.addInit(ginit{kind: native.BitKind, bit: b})
		}
	case native.IntKind:
		in.i = v.i
	case native.StringKind, native.CodeKind:
		in.str = g.intern(v.s)
	case native.ListKind:
		in.elems = make([]native.Init, len(v.elems))
		for i, e := range v.elems {
			in.elems[i] = l.value(file, e)
		}
	case native.DagKind:
		in.elems = make([]native.Init, len(v.args))
		in.argNames = make([]span, len(v.args))
		in.hasName = make([]bool, len(v.args))
		for i, a := range v.args {
			in.elems[i] = l.value(file, a.val)
			if a.hasName {
				in.argNames[i] = g.intern(a.name)
				in.hasName[i] = true
			}
		}
	}
	h := g.addInit(in)
	if v.kind == native.RecordKind || v.kind == native.DagKind {
		l.refs = append(l.refs, pendingRef{init: h, name: v.ref, loc: srcLoc{file: file, pos: v.pos}})
	}
	return h
}
