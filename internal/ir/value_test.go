package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{
		"zebra":  IRString("z"),
		"apple":  IRString("a"),
		"banana": IRString("b"),
	}

	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
}

func TestSortedKeysUTF16Order(t *testing.T) {
	// U+10000 encodes as surrogates 0xD800 0xDC00, which sort before U+E000.
	obj := IRObject{
		"\uE000":     IRInt(1),
		"\U00010000": IRInt(2),
	}

	assert.Equal(t, []string{"\U00010000", "\uE000"}, obj.SortedKeys())
}

func TestCompareKeysRFC8785(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"a", "b", -1},
		{"b", "a", 1},
		{"a", "a", 0},
		{"aa", "a", 1},
		{"a", "aa", -1},
		{"A", "a", -1},
		{"", "", 0},
		{"", "a", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, compareKeysRFC8785(tt.a, tt.b))
		})
	}
}

func TestSame(t *testing.T) {
	db := Obj(O("count", IRInt(0)))
	arr := Arr(IRInt(1), IRInt(2))

	tests := []struct {
		name string
		a, b IRValue
		want bool
	}{
		{"same object", db, db, true},
		{"rebuilt equal object", db, Obj(O("count", IRInt(0))), false},
		{"same array", arr, arr, true},
		{"resliced array", arr, arr[:1], false},
		{"rebuilt equal array", arr, Arr(IRInt(1), IRInt(2)), false},
		{"equal scalars", IRInt(3), IRInt(3), true},
		{"different scalars", IRInt(3), IRInt(4), false},
		{"mixed scalar types", IRInt(1), IRBool(true), false},
		{"nil and IRNull", nil, IRNull{}, true},
		{"nil and object", nil, db, false},
		{"empty arrays", IRArray{}, IRArray{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Same(tt.a, tt.b))
		})
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b IRValue
		want bool
	}{
		{"rebuilt object", Obj(O("a", Arr(IRInt(1)))), Obj(O("a", Arr(IRInt(1)))), true},
		{"different value", Obj(O("a", IRInt(1))), Obj(O("a", IRInt(2))), false},
		{"missing key", Obj(O("a", IRInt(1))), Obj(O("b", IRInt(1))), false},
		{"array length", Arr(IRInt(1)), Arr(IRInt(1), IRInt(1)), false},
		{"null forms", IRNull{}, nil, true},
		{"object vs array", IRObject{}, IRArray{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestGetIn(t *testing.T) {
	db := Obj(O("user", Obj(O("name", IRString("ada")))))

	v, ok := GetIn(db, "user", "name")
	require.True(t, ok)
	assert.Equal(t, IRString("ada"), v)

	_, ok = GetIn(db, "user", "email")
	assert.False(t, ok)

	_, ok = GetIn(db, "user", "name", "first")
	assert.False(t, ok)

	v, ok = GetIn(db)
	require.True(t, ok)
	assert.True(t, Same(db, v))
}

func TestAssocInSharesUntouchedBranches(t *testing.T) {
	settings := Obj(O("theme", IRString("dark")))
	db := Obj(O("settings", settings), O("user", Obj(O("name", IRString("ada")))))

	next := AssocIn(db, []string{"user", "name"}, IRString("grace")).(IRObject)

	name, _ := GetIn(next, "user", "name")
	assert.Equal(t, IRString("grace"), name)
	assert.True(t, Same(settings, next["settings"]))

	old, _ := GetIn(db, "user", "name")
	assert.Equal(t, IRString("ada"), old, "original must not be mutated")
}

func TestAssocInCreatesIntermediates(t *testing.T) {
	next := AssocIn(IRNull{}, []string{"a", "b"}, IRInt(1))

	v, ok := GetIn(next, "a", "b")
	require.True(t, ok)
	assert.Equal(t, IRInt(1), v)
}

func TestIRNullInObject(t *testing.T) {
	obj := IRObject{
		"present": IRString("value"),
		"missing": IRNull{},
	}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"missing":null,"present":"value"}`, string(data))

	var decoded IRObject
	require.NoError(t, json.Unmarshal(data, &decoded))

	_, isNull := decoded["missing"].(IRNull)
	assert.True(t, isNull, "expected IRNull, got %T", decoded["missing"])
}

func TestUnmarshalRejectsFloats(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"simple float", `3.14`},
		{"scientific notation", `1e10`},
		{"negative float", `-2.5`},
		{"nested float in object", `{"value": 1.5}`},
		{"array with float", `[1, 2.0, 3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalIRValue([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "float")
		})
	}
}

func TestUnmarshalValidJSON(t *testing.T) {
	v, err := UnmarshalIRValue([]byte(`{"todos":[{"id":1,"done":false,"title":"milk"}],"filter":null}`))
	require.NoError(t, err)

	want := Obj(
		O("todos", Arr(Obj(O("id", IRInt(1)), O("done", IRBool(false)), O("title", IRString("milk"))))),
		O("filter", IRNull{}),
	)
	assert.True(t, Equal(want, v))
}

func TestFromAnyAndToAny(t *testing.T) {
	in := map[string]any{
		"n":    int64(3),
		"s":    "x",
		"list": []any{true, nil},
	}

	v, err := FromAny(in)
	require.NoError(t, err)
	assert.True(t, Equal(Obj(O("n", IRInt(3)), O("s", IRString("x")), O("list", Arr(IRBool(true), IRNull{}))), v))

	assert.Equal(t, map[string]any{"n": int64(3), "s": "x", "list": []any{true, nil}}, ToAny(v))
}

func TestFromAnyRejectsFractionalFloat(t *testing.T) {
	_, err := FromAny(1.5)
	require.Error(t, err)

	v, err := FromAny(float64(2))
	require.NoError(t, err)
	assert.Equal(t, IRInt(2), v)
}
