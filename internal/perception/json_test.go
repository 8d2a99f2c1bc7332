package perception

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"whitespace", "  \n{\"a\":1}\n  ", `{"a":1}`},
		{"unterminated fence", "```json\n{\"a\":1}", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSONResponse(tt.in))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"name\":\"Docs\"}\n```", &v))
	assert.Equal(t, "Docs", v.Name)
}

func TestDecodeJSONSchemaMismatchIsOrdinaryError(t *testing.T) {
	var v struct{ N int }
	err := DecodeJSON("not json at all", &v)
	assert.Error(t, err)
}

func TestDecodeJSONRejectsInvalidUTF8(t *testing.T) {
	var v interface{}
	err := DecodeJSON(string([]byte{0xff, 0xfe, '{', '}'}), &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UTF-8")
}
