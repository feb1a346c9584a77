// Package ctyval exports record graph values as cty values, for use with
// HCL templates and other cty consumers.
//
// Values map as follows: bit to bool, bits to a list of bool (least
// significant first), int to number, string and code to string, list to
// tuple, def to the referenced record's name, invalid to null. A dag maps
// to an object with attributes "operator" (the operator's name) and "args",
// a tuple of objects with attributes "name" (null when unnamed) and
// "value".
package ctyval

import (
	"errors"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/signadot/tblgen"
)

func FromValue(v tblgen.Value) (cty.Value, error) {
	switch v.Kind() {
	case tblgen.KindBit:
		b, err := v.Bool()
		if err != nil {
			return cty.NilVal, err
		}
		return cty.BoolVal(b), nil
	case tblgen.KindBits:
		bs, err := v.Bools()
		if err != nil {
			return cty.NilVal, err
		}
		if len(bs) == 0 {
			return cty.ListValEmpty(cty.Bool), nil
		}
		elems := make([]cty.Value, len(bs))
		for i, b := range bs {
			elems[i] = cty.BoolVal(b)
		}
		return cty.ListVal(elems), nil
	case tblgen.KindInt:
		i, err := v.Int64()
		if err != nil {
			return cty.NilVal, err
		}
		return cty.NumberIntVal(i), nil
	case tblgen.KindString, tblgen.KindCode:
		s, err := v.Text()
		if err != nil {
			return cty.NilVal, err
		}
		return cty.StringVal(s), nil
	case tblgen.KindList:
		l, err := v.List()
		if err != nil {
			return cty.NilVal, err
		}
		return fromList(l)
	case tblgen.KindDag:
		d, err := v.Dag()
		if err != nil {
			return cty.NilVal, err
		}
		return fromDag(d)
	case tblgen.KindDef:
		r, err := v.Record()
		if err != nil {
			return cty.NilVal, err
		}
		name, err := r.Name()
		if err != nil {
			return cty.NilVal, err
		}
		return cty.StringVal(name), nil
	case tblgen.KindInvalid:
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	return cty.NilVal, fmt.Errorf("unsupported value kind %s", v.Kind())
}

func fromList(l tblgen.ListInit) (cty.Value, error) {
	if l.Len() == 0 {
		return cty.EmptyTupleVal, nil
	}
	elems := make([]cty.Value, 0, l.Len())
	for i, e := range l.Elements() {
		c, err := FromValue(e)
		if err != nil {
			return cty.NilVal, fmt.Errorf("element %d: %w", i, err)
		}
		elems = append(elems, c)
	}
	return cty.TupleVal(elems), nil
}

func fromDag(d tblgen.DagInit) (cty.Value, error) {
	op, err := d.Operator().Name()
	if err != nil {
		return cty.NilVal, err
	}
	args := make([]cty.Value, 0, d.NumArgs())
	for i, a := range d.Args() {
		c, err := FromValue(a.Value)
		if err != nil {
			return cty.NilVal, fmt.Errorf("argument %d: %w", i, err)
		}
		name := cty.NullVal(cty.String)
		if a.HasName {
			name = cty.StringVal(a.Name)
		}
		args = append(args, cty.ObjectVal(map[string]cty.Value{
			"name":  name,
			"value": c,
		}))
	}
	argsVal := cty.EmptyTupleVal
	if len(args) > 0 {
		argsVal = cty.TupleVal(args)
	}
	return cty.ObjectVal(map[string]cty.Value{
		"operator": cty.StringVal(op),
		"args":     argsVal,
	}), nil
}

// FromRecord exports the fields of r as an object. Conversion failures are
// located at the offending field.
func FromRecord(r tblgen.Record) (cty.Value, error) {
	attrs := make(map[string]cty.Value, r.NumValues())
	for f := range r.Values() {
		name, err := f.Name()
		if err != nil {
			return cty.NilVal, tblgen.WithLocation(err, f)
		}
		c, err := FromValue(f.Value())
		if err != nil {
			return cty.NilVal, tblgen.WithLocation(err, f)
		}
		attrs[name] = c
	}
	if len(attrs) == 0 {
		return cty.EmptyObjectVal, nil
	}
	return cty.ObjectVal(attrs), nil
}

// FromDerived exports every def derived from class as an object keyed by
// def name. Errors of individual records are joined.
func FromDerived(k *tblgen.RecordKeeper, class string) (cty.Value, error) {
	attrs := map[string]cty.Value{}
	var errs []error
	for r := range k.AllDerivedDefinitions(class) {
		name, err := r.Name()
		if err != nil {
			errs = append(errs, tblgen.WithLocation(err, r))
			continue
		}
		c, err := FromRecord(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		attrs[name] = c
	}
	if err := errors.Join(errs...); err != nil {
		return cty.NilVal, err
	}
	if len(attrs) == 0 {
		return cty.EmptyObjectVal, nil
	}
	return cty.ObjectVal(attrs), nil
}
