package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueJSONRoundTrip(t *testing.T) {
	cases := []Value{
		Text("invoice #123"),
		Number(42.5),
		Date("2026-01-15"),
		Bool(true),
		Array(Text("a"), Text("b"), Number(3)),
		Object(map[string]Value{"line1": Text("x"), "qty": Number(2)}),
		Null(),
	}

	for _, v := range cases {
		b, err := json.Marshal(v)
		require.NoError(t, err)

		var out Value
		require.NoError(t, json.Unmarshal(b, &out))
		assert.Equal(t, v, out)
	}
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "invoice", Text("invoice").String())
	assert.Equal(t, "2026-01-15", Date("2026-01-15").String())
	assert.Equal(t, "3", Number(3).String())
	assert.Equal(t, "true", Bool(true).String())
	assert.Equal(t, "false", Bool(false).String())
	assert.Equal(t, "", Null().String())
}

func TestValueNA(t *testing.T) {
	na := NA()
	assert.True(t, na.IsNA())
	assert.True(t, Text("N/A").IsNA())
	assert.Equal(t, "N/A", na.String())
	assert.False(t, Text("something").IsNA())
	assert.False(t, Number(0).IsNA())
}

func TestValueUnmarshalUnknownKind(t *testing.T) {
	var v Value
	err := json.Unmarshal([]byte(`{"kind":"bogus"}`), &v)
	assert.Error(t, err)
}

func TestFieldMapBinaryRoundTrip(t *testing.T) {
	fm := FieldMap{"invoice_number": Text("INV-1"), "total": Number(99.99)}
	b, err := fm.MarshalBinary()
	require.NoError(t, err)

	var out FieldMap
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, fm, out)
}
