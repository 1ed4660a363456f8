package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueKinds(t *testing.T) {
	assert.Equal(t, KindNull, Null().Kind())
	assert.Equal(t, KindBool, Bool(true).Kind())
	assert.Equal(t, KindInt, Int(42).Kind())
	assert.Equal(t, KindFloat, Float(1.5).Kind())
	assert.Equal(t, KindString, String("x").Kind())
	assert.Equal(t, KindList, List(Int(1), Int(2)).Kind())
	assert.Equal(t, KindMap, Map(map[string]Value{"a": Int(1)}).Kind())

	// Zero value behaves as null
	var zero Value
	assert.True(t, zero.IsNull())
}

func TestValueJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		json string
	}{
		{"null", Null(), "null"},
		{"bool", Bool(true), "true"},
		{"int", Int(5000), "5000"},
		{"negative int", Int(-3), "-3"},
		{"float", Float(1.25), "1.25"},
		{"string", String("hello"), `"hello"`},
		{"list", List(Int(1), String("two")), `[1,"two"]`},
		{"nested map", Map(map[string]Value{
			"a": Int(1),
			"b": List(Bool(false)),
		}), `{"a":1,"b":[false]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := tt.v.MarshalJSON()
			require.NoError(t, err)
			assert.Equal(t, tt.json, string(encoded))

			decoded, err := ParseValue(string(encoded))
			require.NoError(t, err)
			assert.True(t, tt.v.Equal(decoded), "round-trip changed value: %s", encoded)
		})
	}
}

func TestParseValueDistinguishesIntFromFloat(t *testing.T) {
	v, err := ParseValue("7")
	require.NoError(t, err)
	assert.Equal(t, KindInt, v.Kind())

	v, err = ParseValue("7.0")
	require.NoError(t, err)
	assert.Equal(t, KindFloat, v.Kind())
}

func TestValueEqual(t *testing.T) {
	assert.True(t, Int(1).Equal(Int(1)))
	assert.False(t, Int(1).Equal(Int(2)))
	assert.False(t, Int(1).Equal(Float(1)))
	assert.True(t, List(Int(1)).Equal(List(Int(1))))
	assert.False(t, List(Int(1)).Equal(List(Int(1), Int(2))))
	assert.True(t, Map(map[string]Value{"k": Null()}).Equal(Map(map[string]Value{"k": Null()})))
	assert.False(t, Map(map[string]Value{"k": Null()}).Equal(Map(map[string]Value{"x": Null()})))
}

func TestValidKey(t *testing.T) {
	valid := []string{"a", "ui.window.width", "a_b.c_d", "logging.level"}
	for _, k := range valid {
		assert.True(t, ValidKey(k), k)
	}

	invalid := []string{"", "INVALID KEY", "Ui.Window", "a.", ".a", "a..b", "a-b", "a.1"}
	for _, k := range invalid {
		assert.False(t, ValidKey(k), k)
	}
}

func TestValidateValueRanges(t *testing.T) {
	assert.True(t, ValidateValue(KeyUIWindowWidth, Int(5000)).Valid)
	assert.False(t, ValidateValue(KeyUIWindowWidth, Int(100)).Valid)
	assert.False(t, ValidateValue(KeyUIWindowWidth, String("wide")).Valid)

	assert.True(t, ValidateValue(KeyUIWindowHeight, Int(300)).Valid)
	assert.False(t, ValidateValue(KeyUIWindowHeight, Int(299)).Valid)

	assert.True(t, ValidateValue(KeyPlaybackDefaultSpeed, Float(1.5)).Valid)
	assert.True(t, ValidateValue(KeyPlaybackDefaultSpeed, Int(2)).Valid)
	assert.False(t, ValidateValue(KeyPlaybackDefaultSpeed, Float(0)).Valid)
	assert.False(t, ValidateValue(KeyPlaybackDefaultSpeed, Float(11)).Valid)

	assert.True(t, ValidateValue(KeyLogLevel, String("DEBUG")).Valid)
	assert.False(t, ValidateValue(KeyLogLevel, String("TRACE")).Valid)

	assert.True(t, ValidateValue(KeyRecordingMaxActions, Int(100000)).Valid)
	assert.False(t, ValidateValue(KeyRecordingMaxActions, Int(0)).Valid)
}

func TestValidateValueLongStringWarns(t *testing.T) {
	long := make([]byte, maxStringLength+1)
	for i := range long {
		long[i] = 'x'
	}

	result := ValidateValue("application.theme", String(string(long)))
	assert.True(t, result.Valid, "long strings warn, not fail")
	assert.NotEmpty(t, result.Warnings)
}

func TestDefaultsAllValidate(t *testing.T) {
	result := ValidateEntries(Defaults())
	assert.True(t, result.Valid, "errors: %v", result.Errors)
	assert.Empty(t, result.Warnings)
}
