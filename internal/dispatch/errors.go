package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequestBody    = errors.New("invalid request body")
	ErrMissingStoredToken    = errors.New("missing stored token")
	ErrUnsupportedBodySource = errors.New("unsupported body source")
)

// InvalidRequestBodyError carries the resolved body that failed JSON parsing
type InvalidRequestBodyError struct {
	Body string
	Err  error
}

func (e *InvalidRequestBodyError) Error() string {
	return fmt.Sprintf("request body is not valid JSON: %v\nbody: %s", e.Err, e.Body)
}

func (e *InvalidRequestBodyError) Unwrap() error { return ErrInvalidRequestBody }

// MissingStoredTokenError names the context key that held no token
type MissingStoredTokenError struct {
	Key string
}

func (e *MissingStoredTokenError) Error() string {
	return fmt.Sprintf("no token stored under %q", e.Key)
}

func (e *MissingStoredTokenError) Unwrap() error { return ErrMissingStoredToken }
