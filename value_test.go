package tblgen

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func testDef(t *testing.T, name string) Record {
	t.Helper()
	k := parseFile(t, newCompiler(), "records.yaml")
	r, err := k.LookupDef(name)
	require.NoError(t, err)
	return r
}

func fieldValue(t *testing.T, r Record, name string) Value {
	t.Helper()
	f, err := r.Value(name)
	require.NoError(t, err)
	return f.Value()
}

func TestValueKinds(t *testing.T) {
	d := testDef(t, "D")
	tests := []struct {
		field string
		kind  Kind
		text  string
	}{
		{"i", KindInt, "42"},
		{"s", KindString, `"hello"`},
		{"c", KindCode, "[{return x;}]"},
		{"b", KindBit, "1"},
		{"a", KindBits, "{ 0, 0, 1, 0 }"},
		{"l", KindList, "[0, 1, 2, 3]"},
		{"r", KindDef, "X"},
		{"d", KindDag, "(ins X:$src1, Y:$src2)"},
		{"u", KindInvalid, "?"},
	}
	for _, tc := range tests {
		t.Run(tc.field, func(t *testing.T) {
			v := fieldValue(t, d, tc.field)
			require.Equal(t, tc.kind, v.Kind())
			require.Equal(t, tc.text, v.String())
			require.Equal(t, tc.kind == KindInvalid, v.IsInvalid())
		})
	}
}

func TestIntAndString(t *testing.T) {
	d := testDef(t, "D")
	i, err := d.IntValue("i")
	require.NoError(t, err)
	require.Equal(t, int64(42), i)

	s, err := d.StringValue("s")
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	c, err := d.CodeValue("c")
	require.NoError(t, err)
	require.Equal(t, "return x;", c)

	// Text reads both string kinds, the typed accessors do not
	txt, err := fieldValue(t, d, "c").Text()
	require.NoError(t, err)
	require.Equal(t, "return x;", txt)
	_, err = d.StringValue("c")
	require.Error(t, err)

	b, err := fieldValue(t, d, "s").Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), b)
}

func TestConversionMismatch(t *testing.T) {
	d := testDef(t, "D")
	tests := []struct {
		name string
		conv func() error
		from string
		to   string
	}{
		{"int from string", func() error { _, err := d.IntValue("s"); return err }, "String", "int64"},
		{"string from int", func() error { _, err := d.StringValue("i"); return err }, "Int", "String"},
		{"code from string", func() error { _, err := d.CodeValue("s"); return err }, "String", "Code"},
		{"bit from bits", func() error { _, err := d.BitValue("a"); return err }, "Bits", "bool"},
		{"bits from bit", func() error { _, err := d.BitsValue("b"); return err }, "Bit", "[]bool"},
		{"list from dag", func() error { _, err := d.ListValue("d"); return err }, "Dag", "List"},
		{"dag from list", func() error { _, err := d.DagValue("l"); return err }, "List", "Dag"},
		{"def from invalid", func() error { _, err := d.DefValue("u"); return err }, "Invalid", "Record"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.conv()
			var ce *ConversionError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.from, ce.From)
			require.Equal(t, tc.to, ce.To)
			require.Contains(t, err.Error(), tc.from)
			require.Contains(t, err.Error(), tc.to)
			var me *MissingFieldError
			require.False(t, errors.As(err, &me))
			var le *LocatedError
			require.ErrorAs(t, err, &le)
			require.False(t, le.Location.IsNone())
		})
	}
}

func TestMissingField(t *testing.T) {
	d := testDef(t, "D")
	_, err := d.IntValue("nope")
	var me *MissingFieldError
	require.ErrorAs(t, err, &me)
	require.Equal(t, "nope", me.Name)
	require.EqualError(t, err, "expected field nope in record")
	var ce *ConversionError
	require.False(t, errors.As(err, &ce))

	_, ok := d.Field("nope")
	require.False(t, ok)
	f, ok := d.Field("i")
	require.True(t, ok)
	require.Equal(t, KindInt, f.Value().Kind())
}

func TestBits(t *testing.T) {
	d := testDef(t, "D")
	bs, err := d.BitsValue("a")
	require.NoError(t, err)
	require.Equal(t, []bool{false, true, false, false}, bs)

	bits, err := fieldValue(t, d, "a").AsBits()
	require.NoError(t, err)
	require.Equal(t, 4, bits.NumBits())
	b1, ok := bits.Bit(1)
	require.True(t, ok)
	require.True(t, b1.Value())
	_, ok = bits.Bit(4)
	require.False(t, ok)
	_, ok = bits.Bit(-1)
	require.False(t, ok)

	bit, err := d.BitValue("b")
	require.NoError(t, err)
	require.True(t, bit)
}

func TestList(t *testing.T) {
	d := testDef(t, "D")
	l, err := d.ListValue("l")
	require.NoError(t, err)
	require.Equal(t, 4, l.Len())

	ints := func(seq func(yield func(int, Value) bool)) []int64 {
		var res []int64
		for _, v := range seq {
			i, err := v.Int64()
			require.NoError(t, err)
			res = append(res, i)
		}
		return res
	}
	require.Equal(t, []int64{0, 1, 2, 3}, ints(l.Elements()))
	// restartable
	require.Equal(t, []int64{0, 1, 2, 3}, ints(l.Elements()))

	it := l.Iter()
	v, ok := it.Next()
	require.True(t, ok)
	first, _ := v.Int64()
	require.Equal(t, int64(0), first)

	clone := it.Clone()
	rest := func(it *ListIter) []int64 {
		var res []int64
		for v, ok := it.Next(); ok; v, ok = it.Next() {
			i, err := v.Int64()
			require.NoError(t, err)
			res = append(res, i)
		}
		return res
	}
	require.Equal(t, []int64{1, 2, 3}, rest(it))
	require.Equal(t, []int64{1, 2, 3}, rest(clone))
	_, ok = it.Next()
	require.False(t, ok)

	_, ok = l.Get(4)
	require.False(t, ok)
	v, ok = l.Get(3)
	require.True(t, ok)
	require.Equal(t, "3", v.String())
}

func TestDag(t *testing.T) {
	d := testDef(t, "D")
	dag, err := d.DagValue("d")
	require.NoError(t, err)
	require.Equal(t, "(ins X:$src1, Y:$src2)", dag.String())

	op, err := dag.Operator().Name()
	require.NoError(t, err)
	require.Equal(t, "ins", op)
	require.Equal(t, 2, dag.NumArgs())

	type arg struct {
		Name    string
		HasName bool
		Record  string
	}
	var got []arg
	for _, a := range dag.Args() {
		r, err := a.Value.Record()
		require.NoError(t, err)
		n, err := r.Name()
		require.NoError(t, err)
		got = append(got, arg{a.Name, a.HasName, n})
	}
	want := []arg{{"src1", true, "X"}, {"src2", true, "Y"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dag args (-want +got):\n%s", diff)
	}

	it := dag.Iter()
	it.Next()
	clone := it.Clone()
	a, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, "src2", a.Name)
	a, ok = clone.Next()
	require.True(t, ok)
	require.Equal(t, "src2", a.Name)
	_, ok = it.Next()
	require.False(t, ok)
	_, ok = dag.Arg(2)
	require.False(t, ok)
}

func TestDefValue(t *testing.T) {
	d := testDef(t, "D")
	r, err := d.DefValue("r")
	require.NoError(t, err)
	name, err := r.Name()
	require.NoError(t, err)
	require.Equal(t, "X", name)
	size, err := r.IntValue("Size")
	require.NoError(t, err)
	require.Equal(t, int64(32), size)
}

func TestInvalidValue(t *testing.T) {
	d := testDef(t, "D")
	v := fieldValue(t, d, "u")
	require.True(t, v.IsInvalid())
	_, err := v.Int64()
	var ce *ConversionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "Invalid", ce.From)
}

func TestStringView(t *testing.T) {
	rel := &release{}
	sv := StringView{rel: rel, b: []byte("ab\xffc")}
	_, err := sv.String()
	var ee *EncodingError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, 2, ee.Offset)
	require.ErrorIs(t, err, ErrInvalidUTF8)
	require.Equal(t, []byte("ab\xffc"), sv.Bytes())
	require.Equal(t, 4, sv.Len())

	b := sv.Bytes()
	b[0] = 'x'
	require.Equal(t, byte('a'), sv.Bytes()[0])

	rel.done.Store(true)
	require.PanicsWithValue(t, ErrReleased, func() { sv.Len() })
}
