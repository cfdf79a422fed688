// Package dispatch turns a step's request template into one HTTP exchange
// and stores the result in the scenario.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/scenario"
)

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resolver expands placeholders in a template
type Resolver interface {
	Resolve(template string) (string, error)
}

// Store is the part of the scenario context the dispatcher needs
type Store interface {
	Get(key string) (any, error)
	SetResponse(r *scenario.Response) error
}

// BaseURLSource supplies the configured API base URL
type BaseURLSource interface {
	APIBaseURL() (string, error)
}

// Request describes one API call
type Request struct {
	Method   string
	Endpoint string

	// Body is a JSON template, sent only when HasBody is set
	Body    string
	HasBody bool

	// TokenKey names a context value sent as a bearer token
	TokenKey string

	// File is uploaded as multipart form field "file" when set
	File string
}

// Dispatcher executes requests for a single scenario
type Dispatcher struct {
	client   Doer
	base     BaseURLSource
	resolver Resolver
	store    Store
	state    *RequestState
	baseURL  string
}

func New(client Doer, base BaseURLSource, resolver Resolver, store Store, state *RequestState) *Dispatcher {
	return &Dispatcher{
		client:   client,
		base:     base,
		resolver: resolver,
		store:    store,
		state:    state,
	}
}

// State returns the request state consumed by the next Dispatch
func (d *Dispatcher) State() *RequestState { return d.state }

// SetBaseURL overrides the configured base URL for this scenario. A value
// starting with "/" is appended to the configured base URL.
func (d *Dispatcher) SetBaseURL(u string) error {
	if strings.HasPrefix(u, "/") {
		base, err := d.base.APIBaseURL()
		if err != nil {
			return err
		}
		u = strings.TrimRight(base, "/") + u
	}
	d.baseURL = u
	return nil
}

// BaseURL returns the scenario override or the configured base URL
func (d *Dispatcher) BaseURL() (string, error) {
	if d.baseURL != "" {
		return d.baseURL, nil
	}
	return d.base.APIBaseURL()
}

// Dispatch resolves, validates and sends req, then stores the response in
// the scenario whatever its status. Request state is reset on every path.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*scenario.Response, error) {
	defer d.state.Reset()

	target, err := d.resolveEndpoint(req.Endpoint)
	if err != nil {
		return nil, err
	}

	var (
		body        io.Reader
		contentType string
	)
	if req.HasBody {
		resolved, err := d.resolver.Resolve(req.Body)
		if err != nil {
			return nil, fmt.Errorf("resolving request body: %w", err)
		}
		var js json.RawMessage
		if err := json.Unmarshal([]byte(resolved), &js); err != nil {
			return nil, &InvalidRequestBodyError{Body: resolved, Err: err}
		}
		log.Debug().Int("bytes", len(resolved)).Msg("resolved request body")
		body = strings.NewReader(resolved)
		contentType = "application/json"
	}

	token := d.state.Token
	if req.TokenKey != "" {
		token, err = d.storedToken(req.TokenKey)
		if err != nil {
			return nil, err
		}
	}

	if req.File != "" {
		path, err := d.resolver.Resolve(req.File)
		if err != nil {
			return nil, fmt.Errorf("resolving upload path: %w", err)
		}
		buf, ct, err := multipartBody(path)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	}

	u, err := d.buildURL(target)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for name, values := range d.state.Headers {
		httpReq.Header[name] = values
	}
	for _, c := range d.state.Cookies {
		httpReq.AddCookie(c)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	log.Debug().Str("method", req.Method).Str("url", u).Msg("sending request")

	start := time.Now()
	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending %s %s: %w", req.Method, u, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	resp := &scenario.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Cookies:    httpResp.Cookies(),
		Body:       data,
		Elapsed:    time.Since(start),
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Dur("elapsed", resp.Elapsed).
		Msg("received response")

	if err := d.store.SetResponse(resp); err != nil {
		return nil, fmt.Errorf("storing response: %w", err)
	}
	return resp, nil
}

// resolveEndpoint prefixes the base URL when the raw endpoint is a path,
// then resolves placeholders
func (d *Dispatcher) resolveEndpoint(raw string) (string, error) {
	endpoint := raw
	if strings.HasPrefix(raw, "/") {
		base, err := d.BaseURL()
		if err != nil {
			return "", err
		}
		endpoint = strings.TrimRight(base, "/") + raw
	}

	resolved, err := d.resolver.Resolve(endpoint)
	if err != nil {
		return "", fmt.Errorf("resolving endpoint: %w", err)
	}
	return resolved, nil
}

func (d *Dispatcher) storedToken(key string) (string, error) {
	v, err := d.store.Get(key)
	if err != nil {
		return "", &MissingStoredTokenError{Key: key}
	}
	token := scenario.String(v)
	if strings.TrimSpace(token) == "" {
		return "", &MissingStoredTokenError{Key: key}
	}
	return token, nil
}

func (d *Dispatcher) buildURL(target string) (string, error) {
	for name, value := range d.state.PathParams {
		target = strings.ReplaceAll(target, "{"+name+"}", url.PathEscape(value))
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint %q: %w", target, err)
	}
	if len(d.state.Query) > 0 {
		q := u.Query()
		for name, values := range d.state.Query {
			for _, v := range values {
				q.Add(name, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func multipartBody(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening upload file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copying upload file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
