// Package native defines the contract between the tblgen access layer and the
// record compiler that owns the record graph.
//
// The contract is deliberately handle based, in the shape of the TableGen C
// API: every object of the compiled graph is addressed by an opaque uint32
// handle, the zero handle means "null", and objects allocated for the caller
// (source locations, derived-definition vectors) must be released with the
// matching Free call exactly once. Strings cross the boundary as byte slices
// that point into compiler-owned memory and must not be retained past the
// owning Graph's Free.
//
// Package tblgen wraps a Compiler in lifetime-checked views; nothing outside
// tblgen and compiler implementations should need this package.
package native

import "fmt"

// Kind is the type tag of an Init.
type Kind int

const (
	BitKind Kind = iota
	BitsKind
	CodeKind
	IntKind
	StringKind
	ListKind
	DagKind
	RecordKind
	InvalidKind
)

func (k Kind) String() string {
	switch k {
	case BitKind:
		return "Bit"
	case BitsKind:
		return "Bits"
	case CodeKind:
		return "Code"
	case IntKind:
		return "Int"
	case StringKind:
		return "String"
	case ListKind:
		return "List"
	case DagKind:
		return "Dag"
	case RecordKind:
		return "Def"
	default:
		return "Invalid"
	}
}

// Severity selects the diagnostic kind passed to PrintDiagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNote:
		return "note"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

type (
	Record    uint32
	RecordVal uint32
	Init      uint32
	Loc       uint32
	Vector    uint32
)

// Position is the resolved form of a Loc.
type Position struct {
	Filename string
	Line     int // 1-based
	Column   int // 1-based
	Byte     int // 0-based offset into the source buffer
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

// Compiler creates parser contexts.
type Compiler interface {
	NewContext() Context
}

// Context accumulates sources and include paths and produces a Graph.
//
// Parse relies on process-wide compiler state and is not reentrant: callers
// must serialize all Parse calls in the process. All other methods are safe
// for concurrent use once Parse has returned.
type Context interface {
	AddSource(name string, text []byte) error
	AddSourceFile(path string) error
	AddIncludePath(dir string) error
	Parse() (Graph, error)

	// PrintDiagnostic renders msg at loc using the source buffers of this
	// context. It fails if loc was not produced by this context or has been
	// freed. A null loc renders without source context.
	PrintDiagnostic(loc Loc, sev Severity, msg string) (string, error)

	LocClone(Loc) Loc
	LocFree(Loc)
	LocPosition(Loc) (Position, bool)

	Free()
}

// Graph is a compiled record graph. It is immutable; every method is safe
// for concurrent use until Free.
type Graph interface {
	NumClasses() int
	Class(i int) Record
	NumDefs() int
	Def(i int) Record
	LookupClass(name string) Record
	LookupDef(name string) Record

	AllDerivedDefinitions(class string) Vector
	VectorLen(Vector) int
	VectorGet(v Vector, i int) Record
	VectorFree(Vector)

	RecordName(Record) []byte
	RecordAnonymous(Record) bool
	RecordIsClass(Record) bool
	RecordSubclassOf(r Record, class string) bool
	RecordLoc(Record) Loc
	RecordNumValues(Record) int
	RecordValueAt(r Record, i int) RecordVal
	RecordValue(r Record, name string) RecordVal
	RecordPrint(Record) string

	RecordValName(RecordVal) []byte
	RecordValInit(RecordVal) Init
	RecordValLoc(RecordVal) Loc
	RecordValPrint(RecordVal) string

	InitKind(Init) Kind
	InitPrint(Init) string
	// BitInitValue reports -1 when the init carries no bit.
	BitInitValue(Init) int8
	BitsInitNumBits(Init) int
	BitsInitBit(b Init, i int) Init
	IntInitValue(Init) (int64, bool)
	StringInitValue(Init) []byte
	DefInitRecord(Init) Record
	ListInitLen(Init) int
	ListInitGet(l Init, i int) Init
	DagInitOperator(Init) Record
	DagInitNumArgs(Init) int
	DagInitArg(d Init, i int) Init
	DagInitArgName(d Init, i int) ([]byte, bool)

	Free()
}
