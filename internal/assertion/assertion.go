// Package assertion checks the last response a scenario received.
package assertion

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/tomatool/ketchup/internal/scenario"
)

// ErrFailed is matched by every FailedError
var ErrFailed = errors.New("assertion failed")

// FailedError describes a mismatch between an expected and actual value
type FailedError struct {
	Subject  string
	Expected any
	Actual   any
	// Detail is appended on its own line, e.g. the body or a diff
	Detail string
}

func (e *FailedError) Error() string {
	msg := fmt.Sprintf("%s: expected %v, got %v", e.Subject, e.Expected, e.Actual)
	if e.Detail != "" {
		msg += "\n" + e.Detail
	}
	return msg
}

func (e *FailedError) Unwrap() error { return ErrFailed }

// ResponseSource provides the response under test
type ResponseSource interface {
	Response() (*scenario.Response, error)
}

// Checker runs assertions against the response held by a source
type Checker struct {
	src ResponseSource
}

func New(src ResponseSource) *Checker {
	return &Checker{src: src}
}

func (c *Checker) Status(want int) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	if r.StatusCode != want {
		return &FailedError{Subject: "response status", Expected: want, Actual: r.StatusCode, Detail: "body: " + string(r.Body)}
	}
	return nil
}

// StatusClass checks for success, redirect, client error or server error
func (c *Checker) StatusClass(class string) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}

	status := r.StatusCode
	var ok bool
	switch class {
	case "success":
		ok = status >= 200 && status < 300
	case "redirect":
		ok = status >= 300 && status < 400
	case "client error":
		ok = status >= 400 && status < 500
	case "server error":
		ok = status >= 500 && status < 600
	default:
		return fmt.Errorf("unknown status class: %s", class)
	}

	if !ok {
		return &FailedError{Subject: "response status class", Expected: class, Actual: status}
	}
	return nil
}

func (c *Checker) Header(name, want string) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	if actual := r.Header.Get(name); actual != want {
		return &FailedError{Subject: fmt.Sprintf("header %q", name), Expected: strconv.Quote(want), Actual: strconv.Quote(actual)}
	}
	return nil
}

func (c *Checker) HeaderContains(name, substr string) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	if actual := r.Header.Get(name); !strings.Contains(actual, substr) {
		return &FailedError{Subject: fmt.Sprintf("header %q", name), Expected: "to contain " + strconv.Quote(substr), Actual: strconv.Quote(actual)}
	}
	return nil
}

func (c *Checker) HeaderExists(name string) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	if len(r.Header.Values(name)) == 0 {
		return &FailedError{Subject: fmt.Sprintf("header %q", name), Expected: "present", Actual: "absent"}
	}
	return nil
}

// HeaderGreaterThan parses the header as an integer and compares it
func (c *Checker) HeaderGreaterThan(name string, min int) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	raw := strings.TrimSpace(r.Header.Get(name))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return &FailedError{Subject: fmt.Sprintf("header %q", name), Expected: "an integer", Actual: strconv.Quote(raw)}
	}
	if n <= min {
		return &FailedError{Subject: fmt.Sprintf("header %q", name), Expected: fmt.Sprintf("> %d", min), Actual: n}
	}
	return nil
}

func (c *Checker) Cookie(name, want string) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	cookie, ok := r.Cookie(name)
	if !ok {
		return &FailedError{Subject: fmt.Sprintf("cookie %q", name), Expected: strconv.Quote(want), Actual: "no cookie"}
	}
	if cookie.Value != want {
		return &FailedError{Subject: fmt.Sprintf("cookie %q", name), Expected: strconv.Quote(want), Actual: strconv.Quote(cookie.Value)}
	}
	return nil
}

// ResponseTimeUnder checks the recorded elapsed time against limit
func (c *Checker) ResponseTimeUnder(limit time.Duration) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	if r.Elapsed >= limit {
		return &FailedError{Subject: "response time", Expected: "under " + limit.String(), Actual: r.Elapsed}
	}
	return nil
}

func (c *Checker) BodyContains(substr string) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	if !strings.Contains(string(r.Body), substr) {
		return &FailedError{Subject: "response body", Expected: "to contain " + strconv.Quote(substr), Actual: "no match", Detail: "body: " + string(r.Body)}
	}
	return nil
}

func (c *Checker) BodyNotContains(substr string) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	if strings.Contains(string(r.Body), substr) {
		return &FailedError{Subject: "response body", Expected: "not to contain " + strconv.Quote(substr), Actual: "a match", Detail: "body: " + string(r.Body)}
	}
	return nil
}

func (c *Checker) BodyEmpty() error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	if len(r.Body) > 0 {
		return &FailedError{Subject: "response body", Expected: "empty", Actual: fmt.Sprintf("%d bytes", len(r.Body)), Detail: "body: " + string(r.Body)}
	}
	return nil
}

// BodyEquals compares the trimmed body with want and reports a unified diff
func (c *Checker) BodyEquals(want string) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	expected := strings.TrimSpace(want)
	actual := strings.TrimSpace(string(r.Body))
	if expected == actual {
		return nil
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected + "\n"),
		B:        difflib.SplitLines(actual + "\n"),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return &FailedError{Subject: "response body", Expected: "exact match", Actual: "a different body", Detail: "diff:\n" + diff}
}

// JSONPathEquals compares the string form of the value at path with want
func (c *Checker) JSONPathEquals(path, want string) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	actual, found, err := r.JSONPathString(path)
	if err != nil {
		return err
	}
	if !found {
		return &FailedError{Subject: fmt.Sprintf("JSON path %q", path), Expected: strconv.Quote(want), Actual: "null"}
	}
	if actual != want {
		return &FailedError{Subject: fmt.Sprintf("JSON path %q", path), Expected: strconv.Quote(want), Actual: strconv.Quote(actual)}
	}
	return nil
}

// JSONPathNotNull fails when path yields nothing or null
func (c *Checker) JSONPathNotNull(path string) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	_, found, err := r.JSONPath(path)
	if err != nil {
		return err
	}
	if !found {
		return &FailedError{Subject: fmt.Sprintf("JSON path %q", path), Expected: "a value", Actual: "null"}
	}
	return nil
}

// JSONPathAbsent fails when path yields a non-null value
func (c *Checker) JSONPathAbsent(path string) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	v, found, err := r.JSONPath(path)
	if err != nil {
		return err
	}
	if found {
		return &FailedError{Subject: fmt.Sprintf("JSON path %q", path), Expected: "no value", Actual: scenario.String(v)}
	}
	return nil
}

// JSONArrayLength checks that the body is an array of n elements. kind
// "strings" or "integers" additionally checks every element's type.
func (c *Checker) JSONArrayLength(kind string, n int) error {
	r, err := c.src.Response()
	if err != nil {
		return err
	}
	doc, err := r.JSON()
	if err != nil {
		return err
	}
	arr, ok := doc.([]any)
	if !ok {
		return &FailedError{Subject: "response body", Expected: "a JSON array", Actual: fmt.Sprintf("%T", doc)}
	}

	for i, el := range arr {
		switch kind {
		case "strings":
			if _, ok := el.(string); !ok {
				return &FailedError{Subject: fmt.Sprintf("element [%d]", i), Expected: "a string", Actual: scenario.String(el)}
			}
		case "integers":
			f, ok := number(el)
			if !ok || !f.IsInt() {
				return &FailedError{Subject: fmt.Sprintf("element [%d]", i), Expected: "an integer", Actual: scenario.String(el)}
			}
		}
	}

	if len(arr) != n {
		return &FailedError{Subject: "JSON array length", Expected: n, Actual: len(arr)}
	}
	return nil
}
