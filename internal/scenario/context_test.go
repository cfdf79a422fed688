package scenario

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_SetGet(t *testing.T) {
	c := New()

	require.NoError(t, c.Set("userId", 42))
	v, err := c.Get("userId")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	require.NoError(t, c.Set("userId", "abc"))
	s, err := c.GetString(" userId ")
	require.NoError(t, err)
	assert.Equal(t, "abc", s)
	assert.True(t, c.Has("userId"))
}

func TestContext_EmptyKey(t *testing.T) {
	c := New()

	for _, key := range []string{"", "   "} {
		assert.ErrorIs(t, c.Set(key, "v"), ErrEmptyKey)
		_, err := c.Get(key)
		assert.ErrorIs(t, err, ErrEmptyKey)
	}
}

func TestContext_MissingKey(t *testing.T) {
	c := New()

	_, err := c.Get("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	assert.Contains(t, err.Error(), `"nope"`)

	_, ok := c.Lookup("nope")
	assert.False(t, ok)
}

func TestContext_Response(t *testing.T) {
	c := New()

	_, err := c.Response()
	assert.ErrorIs(t, err, ErrNoResponse)
	assert.Error(t, c.SetResponse(nil))

	resp := &Response{StatusCode: http.StatusCreated}
	require.NoError(t, c.SetResponse(resp))

	got, err := c.Response()
	require.NoError(t, err)
	assert.Same(t, resp, got)
}

func TestContext_Clear(t *testing.T) {
	c := New()
	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.SetResponse(&Response{StatusCode: 200}))

	c.Clear()

	assert.Empty(t, c.Keys())
	_, err := c.Response()
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestContext_Keys(t *testing.T) {
	c := New()
	require.NoError(t, c.Set("b", 1))
	require.NoError(t, c.Set("a", 2))

	assert.Equal(t, []string{"a", "b"}, c.Keys())
}

func TestString(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "hello", "hello"},
		{"bytes", []byte("raw"), "raw"},
		{"bool", true, "true"},
		{"int", 7, "7"},
		{"int64", int64(-3), "-3"},
		{"whole float", 42.0, "42"},
		{"fraction", 1.25, "1.25"},
		{"map", map[string]any{"a": 1}, `{"a":1}`},
		{"slice", []any{"x", 2.0}, `["x",2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, String(tt.value))
		})
	}
}
