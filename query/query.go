// Package query selects records with expr-lang expressions.
//
// An expression is evaluated once per record and must yield a bool. The
// following functions refer to the record under test:
//
//	name() string         the record's name
//	isa(class) bool       subclass test, transitive
//	isclass() bool
//	anonymous() bool
//	hasfield(name) bool
//	field(name) any       the field's value, see below
//
// field converts values to Go: bits to []any of bool (least significant
// first), int to int, string and code to string, list to []any, def to the
// referenced record's name, dag to a map with keys "operator" and "args",
// invalid to nil. A missing field is an error.
//
// Example:
//
//	q, err := query.Compile(`isa("Instruction") && field("Size") > 2`)
package query

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/signadot/tblgen"
)

type Query struct {
	src string
	prg *vm.Program
}

func env(r tblgen.Record) map[string]any {
	return map[string]any{
		"name": func() string {
			n, _ := r.Name()
			return n
		},
		"isa": func(class string) bool {
			return r.SubclassOf(class)
		},
		"isclass": func() bool {
			return r.IsClass()
		},
		"anonymous": func() bool {
			return r.Anonymous()
		},
		"hasfield": func(field string) bool {
			_, ok := r.Field(field)
			return ok
		},
		"field": func(name string) (any, error) {
			f, err := r.Value(name)
			if err != nil {
				return nil, err
			}
			res, err := ToGo(f.Value())
			if err != nil {
				return nil, tblgen.WithLocation(err, f)
			}
			return res, nil
		},
	}
}

// Compile compiles a record predicate.
func Compile(src string) (*Query, error) {
	prg, err := expr.Compile(src, expr.Env(env(tblgen.Record{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", src, err)
	}
	return &Query{src: src, prg: prg}, nil
}

func (q *Query) String() string {
	return q.src
}

// Match evaluates the query against r.
func (q *Query) Match(r tblgen.Record) (bool, error) {
	res, err := expr.Run(q.prg, env(r))
	if err != nil {
		return false, unwrapRun(err)
	}
	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("query %q yielded %T", q.src, res)
	}
	return b, nil
}

// unwrapRun recovers errors returned by env functions, which expr reports
// wrapped in its own error type.
func unwrapRun(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok && u.Unwrap() != nil {
		return u.Unwrap()
	}
	return err
}

// Select returns the defs derived from class for which q holds. An empty
// class selects among all defs.
func (q *Query) Select(k *tblgen.RecordKeeper, class string) ([]tblgen.Record, error) {
	var res []tblgen.Record
	keep := func(r tblgen.Record) error {
		ok, err := q.Match(r)
		if err != nil {
			return err
		}
		if ok {
			res = append(res, r)
		}
		return nil
	}
	if class == "" {
		for e := range k.Defs() {
			if err := keep(e.Record); err != nil {
				return nil, err
			}
		}
		return res, nil
	}
	for r := range k.AllDerivedDefinitions(class) {
		if err := keep(r); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ToGo converts v to plain Go values.
func ToGo(v tblgen.Value) (any, error) {
	switch v.Kind() {
	case tblgen.KindBit:
		return v.Bool()
	case tblgen.KindBits:
		bs, err := v.Bools()
		if err != nil {
			return nil, err
		}
		res := make([]any, len(bs))
		for i, b := range bs {
			res[i] = b
		}
		return res, nil
	case tblgen.KindInt:
		i, err := v.Int64()
		return int(i), err
	case tblgen.KindString, tblgen.KindCode:
		return v.Text()
	case tblgen.KindList:
		l, err := v.List()
		if err != nil {
			return nil, err
		}
		res := make([]any, 0, l.Len())
		for _, e := range l.Elements() {
			x, err := ToGo(e)
			if err != nil {
				return nil, err
			}
			res = append(res, x)
		}
		return res, nil
	case tblgen.KindDag:
		d, err := v.Dag()
		if err != nil {
			return nil, err
		}
		op, err := d.Operator().Name()
		if err != nil {
			return nil, err
		}
		args := make([]any, 0, d.NumArgs())
		for _, a := range d.Args() {
			x, err := ToGo(a.Value)
			if err != nil {
				return nil, err
			}
			var name any
			if a.HasName {
				name = a.Name
			}
			args = append(args, map[string]any{"name": name, "value": x})
		}
		return map[string]any{"operator": op, "args": args}, nil
	case tblgen.KindDef:
		r, err := v.Record()
		if err != nil {
			return nil, err
		}
		return r.Name()
	case tblgen.KindInvalid:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported value kind %s", strings.ToLower(v.Kind().String()))
}
