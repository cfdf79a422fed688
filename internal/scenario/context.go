// Package scenario holds the state a single Gherkin scenario shares between
// its steps.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrEmptyKey    = errors.New("context key must not be empty")
	ErrKeyNotFound = errors.New("context key not found")
	ErrNoResponse  = errors.New("no response stored")
)

// Context is a typed key/value store owned by one scenario. It also keeps
// the most recent HTTP response. A Context is not safe for concurrent use;
// each scenario gets its own.
type Context struct {
	values   map[string]any
	response *Response
}

// New creates an empty scenario context
func New() *Context {
	return &Context{values: make(map[string]any)}
}

// Set stores value under key, overwriting any previous value
func (c *Context) Set(key string, value any) error {
	k := strings.TrimSpace(key)
	if k == "" {
		return ErrEmptyKey
	}
	c.values[k] = value
	return nil
}

// Get returns the value stored under key or ErrKeyNotFound
func (c *Context) Get(key string) (any, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return nil, ErrEmptyKey
	}
	v, ok := c.values[k]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, k)
	}
	return v, nil
}

// GetString is Get followed by String
func (c *Context) GetString(key string) (string, error) {
	v, err := c.Get(key)
	if err != nil {
		return "", err
	}
	return String(v), nil
}

// Lookup reports whether key is present without failing
func (c *Context) Lookup(key string) (any, bool) {
	v, ok := c.values[strings.TrimSpace(key)]
	return v, ok
}

func (c *Context) Has(key string) bool {
	_, ok := c.Lookup(key)
	return ok
}

// Keys returns the stored keys in sorted order
func (c *Context) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetResponse replaces the last response
func (c *Context) SetResponse(r *Response) error {
	if r == nil {
		return errors.New("response must not be nil")
	}
	c.response = r
	return nil
}

// Response returns the last stored response or ErrNoResponse
func (c *Context) Response() (*Response, error) {
	if c.response == nil {
		return nil, ErrNoResponse
	}
	return c.response, nil
}

// Clear drops all values and the stored response
func (c *Context) Clear() {
	c.values = make(map[string]any)
	c.response = nil
}

// String renders a stored value the way it is substituted into templates.
// Whole floats drop their fraction, so a JSON id of 42 renders as "42".
func String(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
