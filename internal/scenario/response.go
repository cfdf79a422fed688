package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/itchyny/gojq"
)

// Response is the last HTTP response a scenario received. The body is read
// in full before the response is stored.
type Response struct {
	StatusCode int
	Header     http.Header
	Cookies    []*http.Cookie
	Body       []byte
	Elapsed    time.Duration
}

// Cookie returns the first cookie with the given name
func (r *Response) Cookie(name string) (*http.Cookie, bool) {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// JSON decodes the body. Numbers are kept as json.Number so large
// integers survive unchanged.
func (r *Response) JSON() (any, error) {
	doc, err := DecodeJSON(r.Body)
	if err != nil {
		return nil, fmt.Errorf("response body is not JSON: %w", err)
	}
	return doc, nil
}

// DecodeJSON decodes a single JSON value with numbers as json.Number
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return doc, nil
}

// JSONPath evaluates path against the body. Paths use dotted keys with
// bracketed indexes ("data.items[0].id"). Keys that are not identifiers
// may be written as is ("user-name") or bracketed ($["user-name"]).
// "$" or "" select the whole document and a leading "." is passed through
// as a jq filter. found is false when the path yields nothing or null.
func (r *Response) JSONPath(path string) (value any, found bool, err error) {
	doc, err := r.JSON()
	if err != nil {
		return nil, false, err
	}
	return Query(doc, path)
}

// JSONPathString is JSONPath rendered with String
func (r *Response) JSONPathString(path string) (string, bool, error) {
	v, found, err := r.JSONPath(path)
	if err != nil || !found {
		return "", found, err
	}
	return String(v), true, nil
}

// Query runs path against an already decoded JSON document
func Query(doc any, path string) (any, bool, error) {
	query, err := gojq.Parse(jqExpr(path))
	if err != nil {
		return nil, false, fmt.Errorf("invalid JSON path %q: %w", path, err)
	}

	iter := query.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return nil, false, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, false, fmt.Errorf("evaluating JSON path %q: %w", path, err)
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

var jqIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// jqExpr turns a dotted path into a jq filter, quoting keys such as
// "user-name" that jq would otherwise read as an expression
func jqExpr(path string) string {
	p := strings.TrimSpace(path)
	switch {
	case p == "" || p == "$":
		return "."
	case strings.HasPrefix(p, "$"):
		p = strings.TrimPrefix(p[1:], ".")
	case strings.HasPrefix(p, "."):
		return p
	}

	var b strings.Builder
	for _, seg := range splitPath(p) {
		key, index := seg, ""
		if i := strings.IndexByte(seg, '['); i >= 0 {
			key, index = seg[:i], seg[i:]
		}
		switch {
		case key == "":
			if b.Len() == 0 {
				b.WriteByte('.')
			}
		case jqIdentifier.MatchString(key):
			b.WriteString("." + key)
		default:
			b.WriteString("." + strconv.Quote(key))
		}
		b.WriteString(index)
	}
	if b.Len() == 0 {
		return "."
	}
	return b.String()
}

// splitPath splits on dots outside brackets and quotes
func splitPath(p string) []string {
	var (
		segs    []string
		start   int
		depth   int
		inQuote bool
	)
	for i := 0; i < len(p); i++ {
		switch c := p[i]; {
		case inQuote:
			if c == '\\' {
				i++
			} else if c == '"' {
				inQuote = false
			}
		case c == '"':
			inQuote = true
		case c == '[':
			depth++
		case c == ']':
			depth--
		case c == '.' && depth == 0:
			if i > start {
				segs = append(segs, p[start:i])
			}
			start = i + 1
		}
	}
	if start < len(p) {
		segs = append(segs, p[start:])
	}
	return segs
}
