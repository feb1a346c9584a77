package tblgen

import (
	"iter"

	"github.com/signadot/tblgen/native"
)

// Record is a class or a def of a RecordKeeper. Records are comparable:
// two Records are equal if they are the same record of the same keeper.
type Record struct {
	rel *release
	h   native.Record
}

func (r Record) NameView() StringView {
	return StringView{rel: r.rel, b: r.rel.graph().RecordName(r.h)}
}

func (r Record) Name() (string, error) {
	return r.NameView().String()
}

// Anonymous reports whether the record was defined without a name.
func (r Record) Anonymous() bool {
	return r.rel.graph().RecordAnonymous(r.h)
}

func (r Record) IsClass() bool {
	return r.rel.graph().RecordIsClass(r.h)
}

// SubclassOf reports whether class is among the record's superclasses,
// directly or transitively.
func (r Record) SubclassOf(class string) bool {
	return r.rel.graph().RecordSubclassOf(r.h, class)
}

// SourceLocation returns the location of the record's definition.
func (r Record) SourceLocation() *SourceLocation {
	return newLocation(r.rel, r.rel.graph().RecordLoc(r.h))
}

// String renders the record the way the compiler dumps it.
func (r Record) String() string {
	return r.rel.graph().RecordPrint(r.h)
}

func (r Record) NumValues() int {
	return r.rel.graph().RecordNumValues(r.h)
}

func (r Record) field(h native.RecordVal) RecordField {
	g := r.rel.graph()
	return RecordField{
		r:     r,
		h:     h,
		value: newValue(r.rel, g.RecordValInit(h)),
	}
}

// Field looks up a field, reporting false if the record has none by that
// name.
func (r Record) Field(name string) (RecordField, bool) {
	h := r.rel.graph().RecordValue(r.h, name)
	if h == 0 {
		return RecordField{}, false
	}
	return r.field(h), true
}

// Value looks up a field. A missing field is reported as a *LocatedError
// wrapping a *MissingFieldError, located at the record.
func (r Record) Value(name string) (RecordField, error) {
	f, ok := r.Field(name)
	if !ok {
		return RecordField{}, WithLocation(&MissingFieldError{Name: name}, r)
	}
	return f, nil
}

// Values yields the fields in declaration order, inherited fields first.
func (r Record) Values() iter.Seq[RecordField] {
	return func(yield func(RecordField) bool) {
		it := r.ValueIter()
		for {
			f, ok := it.Next()
			if !ok || !yield(f) {
				return
			}
		}
	}
}

func (r Record) ValueIter() *FieldIter {
	return &FieldIter{r: r}
}

// FieldIter is a cursor over the fields of a Record.
type FieldIter struct {
	r Record
	i int
}

func (it *FieldIter) Next() (RecordField, bool) {
	g := it.r.rel.graph()
	for it.i < g.RecordNumValues(it.r.h) {
		h := g.RecordValueAt(it.r.h, it.i)
		it.i++
		if h != 0 {
			return it.r.field(h), true
		}
	}
	return RecordField{}, false
}

func (it *FieldIter) Clone() *FieldIter {
	c := *it
	return &c
}

func fieldAs[T any](r Record, name string, conv func(Value) (T, error)) (T, error) {
	var zero T
	f, err := r.Value(name)
	if err != nil {
		return zero, err
	}
	res, err := conv(f.Value())
	if err != nil {
		return zero, WithLocation(err, f)
	}
	return res, nil
}

func (r Record) BitValue(name string) (bool, error) {
	return fieldAs(r, name, Value.Bool)
}

// BitsValue returns the bits of a field, least significant first.
func (r Record) BitsValue(name string) ([]bool, error) {
	return fieldAs(r, name, Value.Bools)
}

func (r Record) IntValue(name string) (int64, error) {
	return fieldAs(r, name, Value.Int64)
}

func (r Record) StringValue(name string) (string, error) {
	return fieldAs(r, name, func(v Value) (string, error) {
		s, err := v.AsString()
		if err != nil {
			return "", err
		}
		return s.v.Text()
	})
}

func (r Record) CodeValue(name string) (string, error) {
	return fieldAs(r, name, func(v Value) (string, error) {
		s, err := v.AsCode()
		if err != nil {
			return "", err
		}
		return s.v.Text()
	})
}

func (r Record) ListValue(name string) (ListInit, error) {
	return fieldAs(r, name, Value.List)
}

func (r Record) DagValue(name string) (DagInit, error) {
	return fieldAs(r, name, Value.Dag)
}

func (r Record) DefValue(name string) (Record, error) {
	return fieldAs(r, name, Value.Record)
}

// RecordField is a named value of a Record.
type RecordField struct {
	r     Record
	h     native.RecordVal
	value Value
}

func (f RecordField) NameView() StringView {
	return StringView{rel: f.r.rel, b: f.r.rel.graph().RecordValName(f.h)}
}

func (f RecordField) Name() (string, error) {
	return f.NameView().String()
}

func (f RecordField) Value() Value {
	return f.value
}

// Record returns the record the field belongs to.
func (f RecordField) Record() Record {
	return f.r
}

func (f RecordField) SourceLocation() *SourceLocation {
	return newLocation(f.r.rel, f.r.rel.graph().RecordValLoc(f.h))
}

// String renders the field as a declaration, e.g. "int size = 4".
func (f RecordField) String() string {
	return f.r.rel.graph().RecordValPrint(f.h)
}
