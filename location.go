package tblgen

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/signadot/tblgen/debug"
	"github.com/signadot/tblgen/native"
)

// SourceLocation is an owned handle to a position in the sources of a
// RecordKeeper. The zero value and nil are the unknown location.
//
// A SourceLocation must be released with Close. Locations that become
// unreachable without Close are released by the garbage collector.
type SourceLocation struct {
	rel     *release
	h       native.Loc
	closed  atomic.Bool
	cleanup runtime.Cleanup
}

type locHandle struct {
	rel *release
	h   native.Loc
}

func freeLoc(l locHandle) {
	l.rel.freeLoc(l.h)
}

// None returns the unknown location.
func None() *SourceLocation {
	return &SourceLocation{}
}

func newLocation(rel *release, h native.Loc) *SourceLocation {
	if h == 0 {
		return None()
	}
	l := &SourceLocation{rel: rel, h: h}
	l.cleanup = runtime.AddCleanup(l, freeLoc, locHandle{rel: rel, h: h})
	return l
}

// IsNone reports whether l is the unknown location.
func (l *SourceLocation) IsNone() bool {
	return l == nil || l.h == 0
}

func (l *SourceLocation) handle() native.Loc {
	if l.IsNone() || l.closed.Load() {
		return 0
	}
	return l.h
}

// SourceLocation returns a clone of l, so that a *SourceLocation is itself
// a Locator.
func (l *SourceLocation) SourceLocation() *SourceLocation {
	return l.Clone()
}

// Clone returns an independent handle to the same position.
func (l *SourceLocation) Clone() *SourceLocation {
	h := l.handle()
	if h == 0 || l.rel.released() {
		return None()
	}
	return newLocation(l.rel, l.rel.ctx.LocClone(h))
}

// Close releases the native handle. It is safe to call more than once.
func (l *SourceLocation) Close() error {
	if l.IsNone() || !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.cleanup.Stop()
	l.rel.freeLoc(l.h)
	return nil
}

// Position resolves the location. It reports false for the unknown
// location and for locations whose RecordKeeper has been closed.
func (l *SourceLocation) Position() (native.Position, bool) {
	h := l.handle()
	if h == 0 || l.rel.released() {
		return native.Position{}, false
	}
	return l.rel.ctx.LocPosition(h)
}

func (l *SourceLocation) String() string {
	p, ok := l.Position()
	if !ok {
		return "<unknown location>"
	}
	return p.String()
}

// Locator is implemented by everything that has a position in the
// sources: records, record fields and locations themselves. The returned
// location is owned by the caller.
type Locator interface {
	SourceLocation() *SourceLocation
}

// LocatedError is an error paired with a source location.
type LocatedError struct {
	Err      error
	Location *SourceLocation

	message string
}

// WithLocation attaches the location of l to err.
func WithLocation(err error, l Locator) *LocatedError {
	var loc *SourceLocation
	if l != nil {
		loc = l.SourceLocation()
	}
	if loc == nil {
		loc = None()
	}
	return &LocatedError{Err: err, Location: loc}
}

func (e *LocatedError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.Err.Error()
}

func (e *LocatedError) Unwrap() error {
	return e.Err
}

// Close releases the error's location.
func (e *LocatedError) Close() error {
	return e.Location.Close()
}

// SetError returns a copy of e carrying err at the same location. Any
// attached source information is dropped.
func (e *LocatedError) SetError(err error) *LocatedError {
	return &LocatedError{Err: err, Location: e.Location.Clone()}
}

// SetLocation returns a copy of e located at l. Any attached source
// information is dropped.
func (e *LocatedError) SetLocation(l Locator) *LocatedError {
	return WithLocation(e.Err, l)
}

// WithSourceInfo returns a copy of e whose message is rendered by the
// compiler's diagnostic printer, showing the source at the error's
// location. If info does not belong to the keeper the location came from,
// the message is the plain error followed by a note that no source
// information could be attached.
func (e *LocatedError) WithSourceInfo(info SourceInfo) *LocatedError {
	msg := e.Err.Error()
	return &LocatedError{
		Err:      e.Err,
		Location: e.Location.Clone(),
		message:  info.render(e.Location, msg),
	}
}

// SourceInfo gives the diagnostic printer access to the sources of a
// RecordKeeper.
type SourceInfo struct {
	rel *release
}

func (info SourceInfo) render(loc *SourceLocation, msg string) string {
	s, err := info.print(loc, msg)
	if err != nil {
		if debug.Render() {
			debug.Logf("tblgen: rendering %q: %v\n", msg, err)
		}
		return fmt.Sprintf("%s\nfailed to print source information: %v", msg, ErrInvalidSourceLocation)
	}
	return s
}

func (info SourceInfo) print(loc *SourceLocation, msg string) (res string, err error) {
	if info.rel == nil || info.rel.released() {
		return "", ErrInvalidSourceLocation
	}
	if !loc.IsNone() && loc.rel != info.rel {
		return "", ErrInvalidSourceLocation
	}
	if !loc.IsNone() && loc.handle() == 0 {
		return "", ErrInvalidSourceLocation
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = "", fmt.Errorf("%w: %v", ErrInvalidSourceLocation, r)
		}
	}()
	return info.rel.ctx.PrintDiagnostic(loc.handle(), native.SeverityError, msg)
}
