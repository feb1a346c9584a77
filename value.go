package tblgen

import (
	"fmt"
	"iter"

	"github.com/signadot/tblgen/native"
)

// Kind is the type tag of a Value.
type Kind = native.Kind

const (
	KindBit     = native.BitKind
	KindBits    = native.BitsKind
	KindCode    = native.CodeKind
	KindInt     = native.IntKind
	KindString  = native.StringKind
	KindList    = native.ListKind
	KindDag     = native.DagKind
	KindDef     = native.RecordKind
	KindInvalid = native.InvalidKind
)

// Value is a value of the record graph. Its Kind is fixed when the Value
// is created. Values of kind KindInvalid stand for anything the graph
// holds that has no typed view (unset values, unsupported types).
type Value struct {
	rel  *release
	h    native.Init
	kind Kind
}

func newValue(rel *release, h native.Init) Value {
	if h == 0 {
		return Value{rel: rel, kind: KindInvalid}
	}
	return Value{rel: rel, h: h, kind: rel.graph().InitKind(h)}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsInvalid() bool {
	return v.kind == KindInvalid
}

// String renders the value the way the compiler prints it.
func (v Value) String() string {
	if v.h == 0 {
		return "?"
	}
	return v.rel.graph().InitPrint(v.h)
}

func (v Value) mismatch(to string) error {
	return &ConversionError{From: v.kind.String(), To: to}
}

func (v Value) AsBit() (BitInit, error) {
	if v.kind != KindBit {
		return BitInit{}, v.mismatch("Bit")
	}
	return BitInit{v}, nil
}

func (v Value) AsBits() (BitsInit, error) {
	if v.kind != KindBits {
		return BitsInit{}, v.mismatch("Bits")
	}
	return BitsInit{v}, nil
}

func (v Value) AsInt() (IntInit, error) {
	if v.kind != KindInt {
		return IntInit{}, v.mismatch("Int")
	}
	return IntInit{v}, nil
}

func (v Value) AsString() (StringInit, error) {
	if v.kind != KindString {
		return StringInit{}, v.mismatch("String")
	}
	return StringInit{v}, nil
}

func (v Value) AsCode() (StringInit, error) {
	if v.kind != KindCode {
		return StringInit{}, v.mismatch("Code")
	}
	return StringInit{v}, nil
}

func (v Value) AsList() (ListInit, error) {
	if v.kind != KindList {
		return ListInit{}, v.mismatch("List")
	}
	return ListInit{v}, nil
}

func (v Value) AsDag() (DagInit, error) {
	if v.kind != KindDag {
		return DagInit{}, v.mismatch("Dag")
	}
	return DagInit{v}, nil
}

func (v Value) AsDef() (DefInit, error) {
	if v.kind != KindDef {
		return DefInit{}, v.mismatch("Def")
	}
	return DefInit{v}, nil
}

func (v Value) Bool() (bool, error) {
	b, err := v.AsBit()
	if err != nil {
		return false, v.mismatch("bool")
	}
	return b.Value(), nil
}

// Bools returns the bits of a Bits value, least significant first.
func (v Value) Bools() ([]bool, error) {
	b, err := v.AsBits()
	if err != nil {
		return nil, v.mismatch("[]bool")
	}
	return b.Bools(), nil
}

func (v Value) Int64() (int64, error) {
	i, err := v.AsInt()
	if err != nil {
		return 0, v.mismatch("int64")
	}
	return i.Value(), nil
}

// Text returns the content of a String or Code value.
func (v Value) Text() (string, error) {
	if v.kind != KindString && v.kind != KindCode {
		return "", v.mismatch("string")
	}
	s, err := StringInit{v}.View().String()
	if err != nil {
		return "", &ConversionError{From: v.kind.String(), To: "string", Err: err}
	}
	return s, nil
}

// Bytes returns a copy of the content of a String or Code value.
func (v Value) Bytes() ([]byte, error) {
	if v.kind != KindString && v.kind != KindCode {
		return nil, v.mismatch("[]byte")
	}
	return StringInit{v}.View().Bytes(), nil
}

func (v Value) List() (ListInit, error) {
	return v.AsList()
}

func (v Value) Dag() (DagInit, error) {
	return v.AsDag()
}

// Record returns the record a Def value refers to.
func (v Value) Record() (Record, error) {
	d, err := v.AsDef()
	if err != nil {
		return Record{}, v.mismatch("Record")
	}
	return d.Record(), nil
}

type BitInit struct{ v Value }

func (b BitInit) Value() bool {
	x := b.v.rel.graph().BitInitValue(b.v.h)
	switch x {
	case 0:
		return false
	case 1:
		return true
	}
	panic(fmt.Sprintf("tblgen: bit init %d holds %d", b.v.h, x))
}

// BitsInit is a fixed width bit vector. Bit 0 is the least significant
// bit, which is the last one written in a literal: {0, 0, 1, 0} has bit 1
// set.
type BitsInit struct{ v Value }

func (b BitsInit) NumBits() int {
	return b.v.rel.graph().BitsInitNumBits(b.v.h)
}

// Bit returns bit i, reporting false when i is out of range.
func (b BitsInit) Bit(i int) (BitInit, bool) {
	if i < 0 || i >= b.NumBits() {
		return BitInit{}, false
	}
	h := b.v.rel.graph().BitsInitBit(b.v.h, i)
	if h == 0 {
		return BitInit{}, false
	}
	v := newValue(b.v.rel, h)
	if v.kind != KindBit {
		return BitInit{}, false
	}
	return BitInit{v}, true
}

// Bools returns all bits, least significant first. Bits without a known
// value read as false.
func (b BitsInit) Bools() []bool {
	n := b.NumBits()
	res := make([]bool, n)
	for i := range n {
		if bit, ok := b.Bit(i); ok {
			res[i] = bit.Value()
		}
	}
	return res
}

type IntInit struct{ v Value }

func (i IntInit) Value() int64 {
	x, ok := i.v.rel.graph().IntInitValue(i.v.h)
	if !ok {
		panic(fmt.Sprintf("tblgen: int init %d has no value", i.v.h))
	}
	return x
}

// StringInit is a String or Code value.
type StringInit struct{ v Value }

func (s StringInit) View() StringView {
	return StringView{rel: s.v.rel, b: s.v.rel.graph().StringInitValue(s.v.h)}
}

func (s StringInit) IsCode() bool {
	return s.v.kind == KindCode
}

type DefInit struct{ v Value }

func (d DefInit) Record() Record {
	h := d.v.rel.graph().DefInitRecord(d.v.h)
	if h == 0 {
		panic(fmt.Sprintf("tblgen: def init %d has no record", d.v.h))
	}
	return Record{rel: d.v.rel, h: h}
}

type ListInit struct{ v Value }

func (l ListInit) Len() int {
	return l.v.rel.graph().ListInitLen(l.v.h)
}

// Get returns element i, reporting false when i is out of range.
func (l ListInit) Get(i int) (Value, bool) {
	if i < 0 || i >= l.Len() {
		return Value{}, false
	}
	return newValue(l.v.rel, l.v.rel.graph().ListInitGet(l.v.h, i)), true
}

// Elements yields the elements in order. Every iteration starts over.
func (l ListInit) Elements() iter.Seq2[int, Value] {
	return func(yield func(int, Value) bool) {
		it := l.Iter()
		for {
			i := it.i
			v, ok := it.Next()
			if !ok || !yield(i, v) {
				return
			}
		}
	}
}

func (l ListInit) Iter() *ListIter {
	return &ListIter{l: l}
}

// ListIter is a cursor over a ListInit.
type ListIter struct {
	l ListInit
	i int
}

func (it *ListIter) Next() (Value, bool) {
	v, ok := it.l.Get(it.i)
	if !ok {
		return Value{}, false
	}
	it.i++
	return v, true
}

// Clone returns a cursor at the same position that advances independently.
func (it *ListIter) Clone() *ListIter {
	c := *it
	return &c
}

// DagInit is a dag: an operator record applied to optionally named
// arguments.
type DagInit struct{ v Value }

func (d DagInit) Operator() Record {
	h := d.v.rel.graph().DagInitOperator(d.v.h)
	if h == 0 {
		panic(fmt.Sprintf("tblgen: dag init %d has no operator", d.v.h))
	}
	return Record{rel: d.v.rel, h: h}
}

func (d DagInit) NumArgs() int {
	return d.v.rel.graph().DagInitNumArgs(d.v.h)
}

// DagArg is an argument of a dag. Name is meaningful only if HasName. A
// name that is not valid UTF-8 is reported as absent.
type DagArg struct {
	Name    string
	HasName bool
	Value   Value
}

// Arg returns argument i, reporting false when i is out of range.
func (d DagInit) Arg(i int) (DagArg, bool) {
	if i < 0 || i >= d.NumArgs() {
		return DagArg{}, false
	}
	g := d.v.rel.graph()
	res := DagArg{Value: newValue(d.v.rel, g.DagInitArg(d.v.h, i))}
	if b, ok := g.DagInitArgName(d.v.h, i); ok {
		if name, err := (StringView{rel: d.v.rel, b: b}).String(); err == nil {
			res.Name, res.HasName = name, true
		}
	}
	return res, true
}

func (d DagInit) Args() iter.Seq2[int, DagArg] {
	return func(yield func(int, DagArg) bool) {
		it := d.Iter()
		for {
			i := it.i
			a, ok := it.Next()
			if !ok || !yield(i, a) {
				return
			}
		}
	}
}

func (d DagInit) Iter() *DagIter {
	return &DagIter{d: d}
}

// DagIter is a cursor over the arguments of a DagInit.
type DagIter struct {
	d DagInit
	i int
}

func (it *DagIter) Next() (DagArg, bool) {
	a, ok := it.d.Arg(it.i)
	if !ok {
		return DagArg{}, false
	}
	it.i++
	return a, true
}

func (it *DagIter) Clone() *DagIter {
	c := *it
	return &c
}

func (b BitInit) String() string    { return b.v.String() }
func (b BitsInit) String() string   { return b.v.String() }
func (i IntInit) String() string    { return i.v.String() }
func (s StringInit) String() string { return s.v.String() }
func (d DefInit) String() string    { return d.v.String() }
func (l ListInit) String() string   { return l.v.String() }
func (d DagInit) String() string    { return d.v.String() }
