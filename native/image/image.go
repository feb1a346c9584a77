// Package image is a record compiler that loads record images: YAML
// documents describing an already compiled TableGen record graph.
//
// An image lists records in declaration order. Each record is a class or a
// def, names its direct superclasses and its fields:
//
//	include: [base.yaml]
//	records:
//	  - class: A
//	    fields:
//	      size: 4
//	  - def: D
//	    parents: [A]
//	    fields:
//	      s: hi
//	      c: !code "x + y"
//	      a: !bits [0, 0, 1, 0]
//	      r: !def X
//	      d: !dag [ins, {src1: !def X}, {src2: !def Y}]
//	  - def: ~
//	    parents: [A]
//
// Plain integers are ints, plain strings are strings, true and false are
// bits, sequences are lists and null is an unset (invalid) value. Tags
// select the other value kinds: !bit, !bits (most significant bit first),
// !int, !string, !code, !list, !def, !dag and !invalid.
//
// Defs inherit the fields of their superclasses; a field redefined by a
// record keeps the inherited field's position. Anonymous defs are named
// anonymous_N in declaration order across all sources of a context.
//
// Includes are resolved against the including file's directory, then the
// context's include paths in order; every file is included at most once.
package image

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-isatty"

	"github.com/signadot/tblgen/debug"
	"github.com/signadot/tblgen/native"
)

var (
	ErrFreed      = errors.New("context freed")
	ErrParsed     = errors.New("context already parsed")
	ErrInvalidLoc = errors.New("invalid source location")
	ErrNotFound   = errors.New("not found")
)

// Stats counts live native objects of a Compiler.
type Stats struct {
	Contexts  int64
	Graphs    int64
	Vectors   int64
	Locations int64
}

type stats struct {
	contexts  atomic.Int64
	graphs    atomic.Int64
	vectors   atomic.Int64
	locations atomic.Int64
}

// Compiler creates record image contexts.
type Compiler struct {
	diagOut io.Writer
	color   bool
	cache   *lru.Cache[cacheKey, *image]
	stats   stats
}

var _ native.Compiler = (*Compiler)(nil)

type Option func(*Compiler)

// WithDiagnosticWriter sets where parse diagnostics are written. The
// default is os.Stderr.
func WithDiagnosticWriter(w io.Writer) Option {
	return func(c *Compiler) {
		c.diagOut = w
		c.color = useColor(w)
	}
}

// WithColor forces colored diagnostics on or off.
func WithColor(v bool) Option {
	return func(c *Compiler) { c.color = v }
}

// WithCache sets the number of decoded image files kept for reuse across
// contexts. A size of zero disables caching; the default shares a
// process-wide cache.
func WithCache(size int) Option {
	return func(c *Compiler) {
		if size <= 0 {
			c.cache = nil
			return
		}
		c.cache = newCache(size)
	}
}

func New(opts ...Option) *Compiler {
	c := &Compiler{diagOut: os.Stderr, cache: sharedCache}
	c.color = useColor(c.diagOut)
	for _, o := range opts {
		o(c)
	}
	return c
}

func useColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Stats reports the native objects created by this compiler that have not
// been freed.
func (c *Compiler) Stats() Stats {
	return Stats{
		Contexts:  c.stats.contexts.Load(),
		Graphs:    c.stats.graphs.Load(),
		Vectors:   c.stats.vectors.Load(),
		Locations: c.stats.locations.Load(),
	}
}

func (c *Compiler) NewContext() native.Context {
	c.stats.contexts.Add(1)
	return &context{
		c:    c,
		locs: map[native.Loc]srcLoc{},
	}
}

// source is one buffer known to a context: a top-level source or an
// included file.
type source struct {
	name string
	path string
	src  []byte
	img  *image
}

type context struct {
	c *Compiler

	mu          sync.Mutex
	files       []*source
	top         []int
	includeDirs []string
	locs        map[native.Loc]srcLoc
	parsed      bool
	freed       bool
}

// loc handles are unique across contexts so that a location can never be
// mistaken for one of another context.
var locSeq atomic.Uint32

func (x *context) AddSource(name string, text []byte) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.usable(); err != nil {
		return err
	}
	for _, f := range x.files {
		if f.name == name {
			return fmt.Errorf("source %q added twice", name)
		}
	}
	x.files = append(x.files, &source{name: name, src: text})
	x.top = append(x.top, len(x.files)-1)
	return nil
}

func (x *context) AddSourceFile(path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.usable(); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	x.files = append(x.files, &source{name: path, path: abs})
	x.top = append(x.top, len(x.files)-1)
	return nil
}

func (x *context) AddIncludePath(dir string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.usable(); err != nil {
		return err
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	x.includeDirs = append(x.includeDirs, dir)
	return nil
}

func (x *context) usable() error {
	if x.freed {
		return ErrFreed
	}
	if x.parsed {
		return ErrParsed
	}
	return nil
}

// active is the linker of the Parse in progress. Parse keeps process-wide
// state and must not be entered concurrently.
var active atomic.Pointer[linker]

func (x *context) Parse() (native.Graph, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.usable(); err != nil {
		return nil, err
	}
	x.parsed = true
	l := newLinker(x)
	if !active.CompareAndSwap(nil, l) {
		panic("image: Parse is not reentrant")
	}
	defer active.Store(nil)
	if debug.Parse() {
		debug.Logf("image: parsing %d sources with include paths %v\n", len(x.top), x.includeDirs)
	}
	g, err := l.link()
	if err != nil {
		x.report(err)
		return nil, err
	}
	x.c.stats.graphs.Add(1)
	return g, nil
}

func (x *context) newLoc(sl srcLoc) native.Loc {
	if sl.file < 0 {
		return 0
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.freed {
		return 0
	}
	h := native.Loc(locSeq.Add(1))
	x.locs[h] = sl
	x.c.stats.locations.Add(1)
	if debug.Handles() {
		debug.Logf("image: new loc %d\n", h)
	}
	return h
}

func (x *context) LocClone(l native.Loc) native.Loc {
	if l == 0 {
		return 0
	}
	x.mu.Lock()
	sl, ok := x.locs[l]
	freed := x.freed
	x.mu.Unlock()
	if freed {
		return 0
	}
	if !ok {
		panic(fmt.Sprintf("image: clone of unknown location %d", l))
	}
	return x.newLoc(sl)
}

func (x *context) LocFree(l native.Loc) {
	if l == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.freed {
		// released with the context
		return
	}
	if _, ok := x.locs[l]; !ok {
		panic(fmt.Sprintf("image: double free of location %d", l))
	}
	delete(x.locs, l)
	x.c.stats.locations.Add(-1)
	if debug.Handles() {
		debug.Logf("image: free loc %d\n", l)
	}
}

func (x *context) LocPosition(l native.Loc) (native.Position, bool) {
	if l == 0 {
		return native.Position{}, false
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	sl, ok := x.locs[l]
	if !ok || sl.file >= len(x.files) {
		return native.Position{}, false
	}
	return native.Position{
		Filename: x.files[sl.file].name,
		Line:     sl.pos.line,
		Column:   sl.pos.col,
		Byte:     sl.pos.off,
	}, true
}

func (x *context) Free() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.freed {
		panic("image: double free of context")
	}
	x.freed = true
	x.c.stats.locations.Add(-int64(len(x.locs)))
	x.locs = nil
	x.files = nil
	x.c.stats.contexts.Add(-1)
}
