package tblgen

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/signadot/tblgen/debug"
	"github.com/signadot/tblgen/native"
	"github.com/signadot/tblgen/native/image"
)

// IncludePathEnv names the environment variable read by
// WithEnvIncludePaths.
const IncludePathEnv = "TBLGEN_INCLUDE_PATH"

type parserOpts struct {
	compiler native.Compiler
	log      *slog.Logger
	includes []string
}

type Option func(*parserOpts)

// WithCompiler sets the record compiler. The default is a record image
// compiler from package native/image.
func WithCompiler(c native.Compiler) Option {
	return func(o *parserOpts) { o.compiler = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *parserOpts) { o.log = l }
}

// WithIncludePaths adds include directories, as AddIncludePath does.
func WithIncludePaths(dirs ...string) Option {
	return func(o *parserOpts) { o.includes = append(o.includes, dirs...) }
}

// WithEnvIncludePaths adds the directories listed in $TBLGEN_INCLUDE_PATH.
// Empty entries are skipped.
func WithEnvIncludePaths() Option {
	return func(o *parserOpts) {
		for _, d := range filepath.SplitList(os.Getenv(IncludePathEnv)) {
			if d != "" {
				o.includes = append(o.includes, d)
			}
		}
	}
}

type parserState int

const (
	parserFresh parserState = iota
	parserConsumed
	parserClosed
)

// Parser accumulates sources and include paths and parses them into a
// RecordKeeper. A Parser parses at most once.
type Parser struct {
	mu      sync.Mutex
	ctx     native.Context
	log     *slog.Logger
	state   parserState
	nsrc    int
	failed  error
}

// NewParser creates a parser. Include paths given as options are added as
// by AddIncludePath. If any of them fails the others are still added, and
// the failure is returned by every later call on the parser.
func NewParser(opts ...Option) *Parser {
	o := &parserOpts{}
	for _, f := range opts {
		f(o)
	}
	if o.compiler == nil {
		o.compiler = image.New()
	}
	if o.log == nil {
		if debug.Any() {
			o.log = debug.Logger()
		} else {
			o.log = slog.New(slog.DiscardHandler)
		}
	}
	p := &Parser{ctx: o.compiler.NewContext(), log: o.log}
	var errs []error
	for _, d := range o.includes {
		if err := p.addIncludePath(d); err != nil {
			errs = append(errs, err)
		}
	}
	p.failed = errors.Join(errs...)
	return p
}

// usable is called with p.mu held.
func (p *Parser) usable() error {
	if p.state == parserFresh && p.failed != nil {
		return p.failed
	}
	if p.state != parserFresh {
		return ErrConsumed
	}
	return nil
}

func checkText(s string) error {
	if i := bytes.IndexByte([]byte(s), 0); i >= 0 {
		return &MalformedInputError{Offset: i, Reason: "embedded NUL byte"}
	}
	return nil
}

func checkPath(s string) error {
	if err := checkText(s); err != nil {
		return err
	}
	if !utf8.ValidString(s) {
		return &MalformedInputError{Offset: invalidOffset([]byte(s)), Reason: "path is not valid UTF-8"}
	}
	return nil
}

// AddSource adds inline source text. The text is copied.
func (p *Parser) AddSource(src string) (*Parser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p, p.addNamedSource(fmt.Sprintf("<source-%d>", p.nsrc), src)
}

// AddNamedSource adds inline source text under name, which is used in
// diagnostics and source locations.
func (p *Parser) AddNamedSource(name, src string) (*Parser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p, p.addNamedSource(name, src)
}

// addNamedSource is called with p.mu held.
func (p *Parser) addNamedSource(name, src string) error {
	if err := p.usable(); err != nil {
		return err
	}
	if err := checkText(src); err != nil {
		return err
	}
	if err := checkPath(name); err != nil {
		return err
	}
	if err := p.ctx.AddSource(name, []byte(src)); err != nil {
		return fmt.Errorf("%w %s: %w", ErrAddSource, name, err)
	}
	p.nsrc++
	p.log.Debug("added source", "name", name, "size", len(src))
	return nil
}

func (p *Parser) AddSourceFile(path string) (*Parser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return p, err
	}
	if err := checkPath(path); err != nil {
		return p, err
	}
	if err := p.ctx.AddSourceFile(path); err != nil {
		return p, fmt.Errorf("%w %s: %w", ErrAddSource, path, err)
	}
	p.nsrc++
	p.log.Debug("added source file", "path", path)
	return p, nil
}

// AddIncludePath adds a directory searched for included files. The
// directory must exist.
func (p *Parser) AddIncludePath(dir string) (*Parser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return p, err
	}
	return p, p.addIncludePath(dir)
}

func (p *Parser) addIncludePath(dir string) error {
	if err := checkPath(dir); err != nil {
		return err
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrAddInclude, dir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w %s: not a directory", ErrAddInclude, dir)
	}
	if err := p.ctx.AddIncludePath(dir); err != nil {
		return fmt.Errorf("%w %s: %w", ErrAddInclude, dir, err)
	}
	p.log.Debug("added include path", "dir", dir)
	return nil
}

// parseMu serializes every native Parse in the process.
var parseMu sync.Mutex

func parseLocked(ctx native.Context) (native.Graph, error) {
	parseMu.Lock()
	defer parseMu.Unlock()
	return ctx.Parse()
}

// Parse parses the accumulated sources. On success the returned
// RecordKeeper owns the parser's native context; on failure the context
// is released. Either way the parser is consumed and later calls return
// ErrConsumed. A parser whose include options failed is not parsed; Parse
// returns the failure.
//
// Parse may be called from several goroutines on different parsers; the
// compiler is entered by one of them at a time.
func (p *Parser) Parse() (*RecordKeeper, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return nil, err
	}
	p.state = parserConsumed
	ctx := p.ctx
	p.ctx = nil
	start := time.Now()
	g, err := parseLocked(ctx)
	if err != nil {
		ctx.Free()
		p.log.Debug("parse failed", "sources", p.nsrc, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if g == nil {
		ctx.Free()
		return nil, fmt.Errorf("%w: %w", ErrParse, errors.New("compiler returned no graph"))
	}
	p.log.Debug("parsed", "sources", p.nsrc, "classes", g.NumClasses(), "defs", g.NumDefs(), "elapsed", time.Since(start))
	return &RecordKeeper{rel: newRelease(ctx, g, p.log)}, nil
}

// Close releases an unparsed parser. It is safe to call more than once and
// after Parse.
func (p *Parser) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == parserFresh {
		p.ctx.Free()
		p.ctx = nil
	}
	p.state = parserClosed
	return nil
}
