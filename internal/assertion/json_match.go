package assertion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/tomatool/ketchup/internal/scenario"
)

// JSONMatches compares the body with an expected document. In partial mode
// extra object keys in the body are ignored; arrays always match element by
// element. String values starting with "@" are matchers, see MatchSpecial.
func (c *Checker) JSONMatches(expected string, partial bool) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}

	want, err := scenario.DecodeJSON([]byte(expected))
	if err != nil {
		return fmt.Errorf("invalid expected JSON: %w", err)
	}
	actual, err := r.JSON()
	if err != nil {
		return err
	}

	return CompareJSON(want, actual, "", partial)
}

// CompareJSON walks expected and actual together and reports the first
// difference with its path. Scalars must agree in type as well as value.
func CompareJSON(expected, actual any, path string, partial bool) error {
	switch e := expected.(type) {
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok {
			return mismatch(path, "object", fmt.Sprintf("%T", actual))
		}
		for key, val := range e {
			next := joinPath(path, key)
			actualVal, exists := a[key]
			if !exists {
				return mismatch(next, "key present", "missing")
			}
			if err := CompareJSON(val, actualVal, next, partial); err != nil {
				return err
			}
		}
		if !partial {
			for key := range a {
				if _, ok := e[key]; !ok {
					return mismatch(joinPath(path, key), "no key", "unexpected key")
				}
			}
		}
	case []any:
		a, ok := actual.([]any)
		if !ok {
			return mismatch(path, "array", fmt.Sprintf("%T", actual))
		}
		if len(e) != len(a) {
			return mismatch(path, fmt.Sprintf("array length %d", len(e)), len(a))
		}
		for i, val := range e {
			if err := CompareJSON(val, a[i], fmt.Sprintf("%s[%d]", path, i), partial); err != nil {
				return err
			}
		}
	default:
		if str, ok := expected.(string); ok && strings.HasPrefix(str, "@") {
			return MatchSpecial(str, actual, path)
		}
		if !scalarEqual(expected, actual) {
			return mismatch(path, describe(expected), describe(actual))
		}
	}
	return nil
}

// MatchSpecial applies a single matcher to actual. Supported matchers:
//
//	@string @number @boolean @array @object @any @null @notnull
//	@empty @notempty
//	@regex:PATTERN @contains:S @startswith:S @endswith:S
//	@gt:N @gte:N @lt:N @lte:N
//	@len:N
func MatchSpecial(matcher string, actual any, path string) error {
	name, arg, hasArg := strings.Cut(matcher, ":")

	if hasArg {
		switch name {
		case "@regex":
			re, err := regexp.Compile(arg)
			if err != nil {
				return fmt.Errorf("at %s: invalid regex %q: %w", path, arg, err)
			}
			s, ok := actual.(string)
			if !ok || !re.MatchString(s) {
				return mismatch(path, "match for /"+arg+"/", actual)
			}
			return nil
		case "@contains", "@startswith", "@endswith":
			s, ok := actual.(string)
			if !ok || !stringMatch(name, s, arg) {
				return mismatch(path, name[1:]+" "+strconv.Quote(arg), actual)
			}
			return nil
		case "@gt", "@gte", "@lt", "@lte":
			return compareNumber(name, arg, actual, path)
		case "@len":
			return compareLength(arg, actual, path)
		}
		return fmt.Errorf("unknown matcher: %s", matcher)
	}

	var ok bool
	switch matcher {
	case "@string":
		_, ok = actual.(string)
	case "@number":
		_, ok = number(actual)
	case "@boolean":
		_, ok = actual.(bool)
	case "@array":
		_, ok = actual.([]any)
	case "@object":
		_, ok = actual.(map[string]any)
	case "@any":
		ok = true
	case "@null":
		ok = actual == nil
	case "@notnull":
		ok = actual != nil
	case "@empty":
		ok = isEmpty(actual)
	case "@notempty":
		ok = actual != nil && !isEmpty(actual)
	default:
		return fmt.Errorf("unknown matcher: %s", matcher)
	}
	if !ok {
		return mismatch(path, strings.TrimPrefix(matcher, "@"), fmt.Sprintf("%v (%T)", actual, actual))
	}
	return nil
}

// scalarEqual compares numbers by value whatever their Go type, and
// everything else by type and value
func scalarEqual(expected, actual any) bool {
	if e, ok := number(expected); ok {
		a, ok := number(actual)
		return ok && e.Cmp(a) == 0
	}
	return reflect.DeepEqual(expected, actual)
}

// number converts a decoded JSON number
func number(v any) (*big.Float, bool) {
	switch n := v.(type) {
	case json.Number:
		f, _, err := big.ParseFloat(n.String(), 10, 256, big.ToNearestEven)
		return f, err == nil
	case float64:
		return big.NewFloat(n), true
	case int:
		return new(big.Float).SetInt64(int64(n)), true
	case int64:
		return new(big.Float).SetInt64(n), true
	case *big.Int:
		return new(big.Float).SetInt(n), true
	}
	return nil, false
}

// describe renders a scalar so strings are told apart from other types
func describe(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%v", v)
}

func stringMatch(op, s, arg string) bool {
	switch op {
	case "@contains":
		return strings.Contains(s, arg)
	case "@startswith":
		return strings.HasPrefix(s, arg)
	default:
		return strings.HasSuffix(s, arg)
	}
}

func compareNumber(op, arg string, actual any, path string) error {
	limit, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return fmt.Errorf("at %s: invalid number %q", path, arg)
	}
	f, ok := number(actual)
	if !ok {
		return mismatch(path, "number", fmt.Sprintf("%T", actual))
	}
	n, _ := f.Float64()

	var pass bool
	switch op {
	case "@gt":
		pass = n > limit
	case "@gte":
		pass = n >= limit
	case "@lt":
		pass = n < limit
	case "@lte":
		pass = n <= limit
	}
	if !pass {
		return mismatch(path, op[1:]+" "+arg, n)
	}
	return nil
}

func compareLength(arg string, actual any, path string) error {
	want, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("at %s: invalid length %q", path, arg)
	}

	var got int
	switch v := actual.(type) {
	case string:
		got = len(v)
	case []any:
		got = len(v)
	case map[string]any:
		got = len(v)
	default:
		return mismatch(path, "string, array or object", fmt.Sprintf("%T", actual))
	}
	if got != want {
		return mismatch(path, fmt.Sprintf("length %d", want), got)
	}
	return nil
}

func isEmpty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func mismatch(path string, expected, actual any) error {
	if path == "" {
		path = "$"
	}
	return &FailedError{Subject: "JSON at " + path, Expected: expected, Actual: actual}
}
