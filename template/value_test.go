package template

import (
	"testing"

	assert "github.com/stretchr/testify/require"
)

//
// Tests
//

func TestParseJSONPreservesKeyOrder(t *testing.T) {
	v, err := ParseJSON([]byte(`{"bigger": "dict", "to": "test", "with": "separators"}`))
	assert.NoError(t, err)
	assert.Equal(t, KindMap, v.Kind())
	assert.Equal(t, "{'bigger': 'dict', 'to': 'test', 'with': 'separators'}", v.stringify())
}

func TestParseJSONErrors(t *testing.T) {
	_, err := ParseJSON([]byte(``))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`some raw data`))
	assert.Error(t, err)

	// trailing data is rejected whether it forms a valid JSON token or not
	_, err = ParseJSON([]byte(`{"a": 1} trailing`))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`{"a": 1} 2`))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`[1] [2]`))
	assert.Error(t, err)
}

func TestGarbageSuffixedBodyExtractsNull(t *testing.T) {
	ctx := &Context{Body: []byte(`{"a": 1} trailing`)}
	assert.Equal(t, Null, ctx.Path("$.a"))
}

func TestStringify(t *testing.T) {
	testCases := []struct {
		payload string
		want    string
	}{
		{`{"foo": "bar"}`, `{'foo': 'bar'}`},
		{`[{"foo": "bar"}]`, `[{'foo': 'bar'}]`},
		{`["a", 1, true]`, `['a', 1, true]`},
		{`{"n": 1.5}`, `{'n': 1.5}`},
		{`{"nested": {"foo": [1, 2]}}`, `{'nested': {'foo': [1, 2]}}`},
		{`[]`, `[]`},
		{`{}`, `{}`},
	}
	for _, tc := range testCases {
		v, err := ParseJSON([]byte(tc.payload))
		assert.NoError(t, err)
		assert.Equal(t, tc.want, v.stringify())
	}
}

func TestRender(t *testing.T) {
	// strings render raw at the top level but quoted inside containers
	v, err := ParseJSON([]byte(`"plain"`))
	assert.NoError(t, err)
	assert.Equal(t, "plain", v.Render())

	v, err = ParseJSON([]byte(`["plain"]`))
	assert.NoError(t, err)
	assert.Equal(t, "['plain']", v.Render())

	assert.Equal(t, "", Null.Render())
	assert.Equal(t, "42", Number(42).Render())
	assert.Equal(t, "true", Bool(true).Render())
}

func TestEqual(t *testing.T) {
	assert.True(t, Null.Equal(Null))
	assert.False(t, Null.Equal(String("")))
	assert.False(t, String("").Equal(Null))
	assert.True(t, String("a").Equal(String("a")))
	assert.True(t, Number(1).Equal(Number(1)))
	assert.False(t, Number(1).Equal(String("1")))

	a, err := ParseJSON([]byte(`{"x": [1, 2]}`))
	assert.NoError(t, err)
	b, err := ParseJSON([]byte(`{"x": [1, 2]}`))
	assert.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestFieldAndIndex(t *testing.T) {
	v, err := ParseJSON([]byte(`{"list": [{"foo": "bar"}], "null": null}`))
	assert.NoError(t, err)

	list, ok := v.Field("list")
	assert.True(t, ok)
	item, ok := list.Index(0)
	assert.True(t, ok)
	foo, ok := item.Field("foo")
	assert.True(t, ok)
	assert.Equal(t, "bar", foo.Str())

	_, ok = list.Index(1)
	assert.False(t, ok)
	_, ok = v.Field("missing")
	assert.False(t, ok)

	// a JSON null is present but null
	nullVal, ok := v.Field("null")
	assert.True(t, ok)
	assert.True(t, nullVal.IsNull())

	// field access on scalars and nulls fails
	_, ok = foo.Field("nested")
	assert.False(t, ok)
	_, ok = Null.Field("nested")
	assert.False(t, ok)
}

func TestFromGo(t *testing.T) {
	v := FromGo(map[string]interface{}{"b": 2, "a": "x"})
	assert.Equal(t, `{'a': 'x', 'b': 2}`, v.stringify())

	assert.True(t, FromGo(nil).IsNull())
	assert.Equal(t, "1.5", FromGo(1.5).Render())
}
