package image

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-yaml/ast"
	"github.com/goccy/go-yaml/parser"
	"github.com/goccy/go-yaml/token"

	"github.com/signadot/tblgen/native"
)

var (
	ErrImage       = errors.New("malformed record image")
	ErrUnsupported = errors.New("unsupported")
)

// pos is a decoded source position. line and col are 1-based, off is a
// byte offset, n the length of the token in bytes.
type pos struct {
	line, col, off, n int
}

// image is the decoded, immutable form of one record image file. Images
// are shared through the include cache and must not be mutated once
// decoded.
type image struct {
	name     string
	src      []byte
	includes []named
	records  []imgRecord
}

type named struct {
	name string
	pos  pos
}

type imgRecord struct {
	class   bool
	anon    bool
	name    string
	parents []named
	fields  []imgField
	pos     pos
}

type imgField struct {
	name string
	val  *imgValue
	pos  pos
}

type imgValue struct {
	kind  native.Kind
	bit   int8
	bits  []int8 // least significant first
	i     int64
	s     string
	ref   string
	elems []*imgValue
	args  []imgDagArg
	pos   pos
}

type imgDagArg struct {
	name    string
	hasName bool
	val     *imgValue
}

// DecodeError is a malformed image error located in the image source.
type DecodeError struct {
	File string
	Line int
	Col  int
	Msg  string

	off, n int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Col, e.Msg)
}

func (e *DecodeError) Unwrap() error {
	return ErrImage
}

type decoder struct {
	name  string
	src   []byte
	lines []int
}

func decodeImage(name string, src []byte) (*image, error) {
	f, err := parser.ParseBytes(src, 0)
	if err != nil {
		return nil, &yamlError{file: name, err: err}
	}
	d := &decoder{name: name, src: src, lines: lineStarts(src)}
	img := &image{name: name, src: src}
	for _, doc := range f.Docs {
		if doc == nil || doc.Body == nil {
			continue
		}
		if err := d.document(img, doc.Body); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// yamlError carries a syntax error reported by the YAML parser.
type yamlError struct {
	file string
	err  error
}

func (e *yamlError) Error() string {
	return fmt.Sprintf("%s: %v", e.file, e.err)
}

func (e *yamlError) Unwrap() []error {
	return []error{ErrImage, e.err}
}

func lineStarts(src []byte) []int {
	res := []int{0}
	for i, c := range src {
		if c == '\n' {
			res = append(res, i+1)
		}
	}
	return res
}

func (d *decoder) pos(n ast.Node) pos {
	tk := n.GetToken()
	if tk == nil || tk.Position == nil {
		return pos{}
	}
	return d.tokenPos(tk)
}

func (d *decoder) tokenPos(tk *token.Token) pos {
	line, col := tk.Position.Line, tk.Position.Column
	p := pos{line: line, col: col}
	if line >= 1 && line <= len(d.lines) {
		p.off = d.lines[line-1] + col - 1
	}
	if p.off > len(d.src) {
		p.off = len(d.src)
	}
	p.n = max(1, len(tk.Origin))
	if nl := strings.IndexByte(tk.Origin, '\n'); nl >= 0 {
		p.n = max(1, nl)
	}
	return p
}

func (d *decoder) errorf(n ast.Node, format string, args ...any) error {
	p := d.pos(n)
	return &DecodeError{
		File: d.name,
		Line: p.line,
		Col:  p.col,
		Msg:  fmt.Sprintf(format, args...),
		off:  p.off,
		n:    p.n,
	}
}

func pairs(n ast.Node) ([]*ast.MappingValueNode, bool) {
	switch x := n.(type) {
	case *ast.MappingNode:
		return x.Values, true
	case *ast.MappingValueNode:
		return []*ast.MappingValueNode{x}, true
	}
	return nil, false
}

func keyString(k ast.Node) string {
	switch x := k.(type) {
	case *ast.StringNode:
		return x.Value
	case *ast.MappingKeyNode:
		return keyString(x.Value)
	}
	if tk := k.GetToken(); tk != nil {
		return tk.Value
	}
	return k.String()
}

func (d *decoder) document(img *image, body ast.Node) error {
	kvs, ok := pairs(body)
	if !ok {
		return d.errorf(body, "record image must be a mapping")
	}
	for _, kv := range kvs {
		switch key := keyString(kv.Key); key {
		case "include":
			incs, err := d.names(kv.Value)
			if err != nil {
				return err
			}
			img.includes = append(img.includes, incs...)
		case "records":
			seq, ok := kv.Value.(*ast.SequenceNode)
			if !ok {
				if isNull(kv.Value) {
					continue
				}
				return d.errorf(kv.Value, "records must be a sequence")
			}
			for _, rn := range seq.Values {
				rec, err := d.record(rn)
				if err != nil {
					return err
				}
				img.records = append(img.records, rec)
			}
		default:
			return d.errorf(kv.Key, "unknown image key %q", key)
		}
	}
	return nil
}

func isNull(n ast.Node) bool {
	if n == nil {
		return true
	}
	_, ok := n.(*ast.NullNode)
	return ok
}

func (d *decoder) names(n ast.Node) ([]named, error) {
	switch x := n.(type) {
	case *ast.SequenceNode:
		res := make([]named, 0, len(x.Values))
		for _, v := range x.Values {
			s, ok := scalarString(v)
			if !ok {
				return nil, d.errorf(v, "expected a name")
			}
			res = append(res, named{name: s, pos: d.pos(v)})
		}
		return res, nil
	case *ast.NullNode:
		return nil, nil
	}
	s, ok := scalarString(n)
	if !ok {
		return nil, d.errorf(n, "expected a name or a sequence of names")
	}
	return []named{{name: s, pos: d.pos(n)}}, nil
}

func scalarString(n ast.Node) (string, bool) {
	switch x := n.(type) {
	case *ast.StringNode:
		return x.Value, true
	case *ast.LiteralNode:
		if x.Value == nil {
			return "", true
		}
		return x.Value.Value, true
	}
	return "", false
}

func (d *decoder) record(n ast.Node) (imgRecord, error) {
	rec := imgRecord{pos: d.pos(n)}
	kvs, ok := pairs(n)
	if !ok {
		return rec, d.errorf(n, "record must be a mapping")
	}
	seenKind := false
	for _, kv := range kvs {
		switch key := keyString(kv.Key); key {
		case "class", "def":
			if seenKind {
				return rec, d.errorf(kv.Key, "record declares both class and def")
			}
			seenKind = true
			rec.class = key == "class"
			rec.pos = d.pos(kv.Value)
			if isNull(kv.Value) {
				if rec.class {
					return rec, d.errorf(kv.Key, "classes cannot be anonymous")
				}
				rec.anon = true
				rec.pos = d.pos(kv.Key)
				continue
			}
			s, ok := scalarString(kv.Value)
			if !ok {
				return rec, d.errorf(kv.Value, "record name must be a string")
			}
			if s == "" {
				if rec.class {
					return rec, d.errorf(kv.Key, "classes cannot be anonymous")
				}
				rec.anon = true
				continue
			}
			rec.name = s
		case "parents":
			ps, err := d.names(kv.Value)
			if err != nil {
				return rec, err
			}
			rec.parents = ps
		case "fields":
			if isNull(kv.Value) {
				continue
			}
			fkvs, ok := pairs(kv.Value)
			if !ok {
				return rec, d.errorf(kv.Value, "fields must be a mapping")
			}
			seen := map[string]bool{}
			for _, fkv := range fkvs {
				name := keyString(fkv.Key)
				if seen[name] {
					return rec, d.errorf(fkv.Key, "field %q defined twice", name)
				}
				seen[name] = true
				v, err := d.value(fkv.Value)
				if err != nil {
					return rec, err
				}
				rec.fields = append(rec.fields, imgField{name: name, val: v, pos: d.pos(fkv.Key)})
			}
		default:
			return rec, d.errorf(kv.Key, "unknown record key %q", key)
		}
	}
	if !seenKind {
		return rec, d.errorf(n, "record must declare class or def")
	}
	return rec, nil
}

func tagName(t *ast.TagNode) string {
	if t.Start == nil {
		return ""
	}
	return t.Start.Value
}

func (d *decoder) value(n ast.Node) (*imgValue, error) {
	if n == nil {
		return &imgValue{kind: native.InvalidKind}, nil
	}
	p := d.pos(n)
	switch x := n.(type) {
	case *ast.TagNode:
		return d.tagged(tagName(x), x)
	case *ast.NullNode:
		return &imgValue{kind: native.InvalidKind, pos: p}, nil
	case *ast.BoolNode:
		return &imgValue{kind: native.BitKind, bit: boolBit(x.Value), pos: p}, nil
	case *ast.IntegerNode:
		i, err := d.integer(x)
		if err != nil {
			return nil, err
		}
		return &imgValue{kind: native.IntKind, i: i, pos: p}, nil
	case *ast.StringNode, *ast.LiteralNode:
		s, _ := scalarString(x)
		return &imgValue{kind: native.StringKind, s: s, pos: p}, nil
	case *ast.SequenceNode:
		return d.list(x)
	case *ast.FloatNode:
		return nil, d.errorf(n, "%s: floating point values", ErrUnsupported)
	}
	return nil, d.errorf(n, "%s: %s value", ErrUnsupported, n.Type())
}

func boolBit(b bool) int8 {
	if b {
		return 1
	}
	return 0
}

func (d *decoder) integer(n *ast.IntegerNode) (int64, error) {
	switch v := n.Value.(type) {
	case int64:
		return v, nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, d.errorf(n, "integer %d out of range", v)
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	}
	return 0, d.errorf(n, "bad integer %v", n.Value)
}

func (d *decoder) tagged(tag string, t *ast.TagNode) (*imgValue, error) {
	p := d.pos(t)
	v := t.Value
	switch tag {
	case "!bit":
		b, err := d.bit(v)
		if err != nil {
			return nil, err
		}
		return &imgValue{kind: native.BitKind, bit: b, pos: p}, nil
	case "!bits":
		seq, ok := v.(*ast.SequenceNode)
		if !ok {
			return nil, d.errorf(t, "!bits expects a sequence of bits")
		}
		n := len(seq.Values)
		bits := make([]int8, n)
		for i, bn := range seq.Values {
			b, err := d.bit(bn)
			if err != nil {
				return nil, err
			}
			// literal order is most significant first
			bits[n-1-i] = b
		}
		return &imgValue{kind: native.BitsKind, bits: bits, pos: p}, nil
	case "!int":
		x, ok := v.(*ast.IntegerNode)
		if !ok {
			return nil, d.errorf(t, "!int expects an integer")
		}
		i, err := d.integer(x)
		if err != nil {
			return nil, err
		}
		return &imgValue{kind: native.IntKind, i: i, pos: p}, nil
	case "!str", "!string", "!code":
		kind := native.StringKind
		if tag == "!code" {
			kind = native.CodeKind
		}
		if isNull(v) {
			return &imgValue{kind: kind, pos: p}, nil
		}
		s, ok := scalarString(v)
		if !ok {
			if tk := v.GetToken(); tk != nil {
				s, ok = tk.Value, true
			}
		}
		if !ok {
			return nil, d.errorf(t, "%s expects a scalar", tag)
		}
		return &imgValue{kind: kind, s: s, pos: p}, nil
	case "!def":
		s, ok := scalarString(v)
		if !ok || s == "" {
			return nil, d.errorf(t, "!def expects a record name")
		}
		return &imgValue{kind: native.RecordKind, ref: s, pos: p}, nil
	case "!list":
		seq, ok := v.(*ast.SequenceNode)
		if !ok {
			return nil, d.errorf(t, "!list expects a sequence")
		}
		return d.list(seq)
	case "!dag":
		return d.dag(t)
	case "!invalid", "!unset":
		return &imgValue{kind: native.InvalidKind, pos: p}, nil
	}
	return nil, d.errorf(t, "%s: tag %s", ErrUnsupported, tag)
}

func (d *decoder) bit(n ast.Node) (int8, error) {
	switch x := n.(type) {
	case *ast.BoolNode:
		return boolBit(x.Value), nil
	case *ast.IntegerNode:
		i, err := d.integer(x)
		if err != nil {
			return 0, err
		}
		if i != 0 && i != 1 {
			return 0, d.errorf(x, "bit must be 0 or 1, got %d", i)
		}
		return int8(i), nil
	}
	return 0, d.errorf(n, "expected 0, 1, true or false")
}

func (d *decoder) list(seq *ast.SequenceNode) (*imgValue, error) {
	res := &imgValue{kind: native.ListKind, pos: d.pos(seq)}
	for _, en := range seq.Values {
		e, err := d.value(en)
		if err != nil {
			return nil, err
		}
		if len(res.elems) > 0 && res.elems[0].kind != e.kind && e.kind != native.InvalidKind {
			return nil, d.errorf(en, "list element of type %s in list of %s", e.kind, res.elems[0].kind)
		}
		res.elems = append(res.elems, e)
	}
	return res, nil
}

func (d *decoder) dag(t *ast.TagNode) (*imgValue, error) {
	seq, ok := t.Value.(*ast.SequenceNode)
	if !ok || len(seq.Values) == 0 {
		return nil, d.errorf(t, "!dag expects a sequence starting with the operator")
	}
	res := &imgValue{kind: native.DagKind, pos: d.pos(t)}
	opNode := seq.Values[0]
	if tn, ok := opNode.(*ast.TagNode); ok {
		if tagName(tn) != "!def" {
			return nil, d.errorf(opNode, "dag operator must be a record")
		}
		opNode = tn.Value
	}
	op, ok := scalarString(opNode)
	if !ok || op == "" {
		return nil, d.errorf(opNode, "dag operator must be a record name")
	}
	res.ref = op
	for _, an := range seq.Values[1:] {
		if kvs, ok := pairs(an); ok && len(kvs) == 1 {
			name := strings.TrimPrefix(keyString(kvs[0].Key), "$")
			v, err := d.value(kvs[0].Value)
			if err != nil {
				return nil, err
			}
			res.args = append(res.args, imgDagArg{name: name, hasName: true, val: v})
			continue
		}
		v, err := d.value(an)
		if err != nil {
			return nil, err
		}
		res.args = append(res.args, imgDagArg{val: v})
	}
	return res, nil
}
