package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/assertion"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/container"
	"github.com/tomatool/ketchup/internal/dispatch"
	"github.com/tomatool/ketchup/internal/scenario"
)

const defaultHTTPTimeout = 30 * time.Second

// API drives the system under test over HTTP. The client is shared by all
// scenarios; request state lives in the per-scenario step bindings.
type API struct {
	name      string
	config    config.Resource
	container *container.Manager
	provider  *config.Provider
	client    *http.Client

	// set from the container mapping, overrides api.base.url
	baseURL string
}

func NewAPI(name string, cfg config.Resource, provider *config.Provider, cm *container.Manager) (*API, error) {
	return &API{
		name:      name,
		config:    cfg,
		container: cm,
		provider:  provider,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

func (a *API) Name() string { return a.name }

func (a *API) Init(ctx context.Context) error {
	timeout, err := a.timeout()
	if err != nil {
		return err
	}

	noRedirect, _ := a.config.Options["no_redirect"].(bool)
	a.client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if noRedirect {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	if a.config.Container == "" {
		return nil
	}
	if a.container == nil {
		return fmt.Errorf("resource %s references container %s but no containers are running", a.name, a.config.Container)
	}

	host, err := a.container.GetHost(ctx, a.config.Container)
	if err != nil {
		return fmt.Errorf("getting container host: %w", err)
	}
	port := "8080"
	if p, ok := a.config.Options["port"].(string); ok {
		port = p
	}
	mappedPort, err := a.container.GetPort(ctx, a.config.Container, port+"/tcp")
	if err != nil {
		return fmt.Errorf("getting container port: %w", err)
	}
	scheme := "http"
	if s, ok := a.config.Options["scheme"].(string); ok {
		scheme = s
	}
	a.baseURL = fmt.Sprintf("%s://%s:%s", scheme, host, mappedPort)
	log.Debug().Str("handler", a.name).Str("base_url", a.baseURL).Msg("api base URL from container")
	return nil
}

// timeout reads options.timeout, then the http.timeout property
func (a *API) timeout() (time.Duration, error) {
	raw, _ := a.config.Options["timeout"].(string)
	if raw == "" {
		raw = a.provider.Get(config.KeyHTTPTimeout, "")
	}
	if raw == "" {
		return defaultHTTPTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid http timeout %q: %w", raw, err)
	}
	return d, nil
}

func (a *API) Ready(ctx context.Context) error {
	healthPath, ok := a.config.Options["health_path"].(string)
	if !ok {
		return nil
	}
	base, err := a.APIBaseURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Reset is a no-op: request state is rebuilt for every scenario
func (a *API) Reset(ctx context.Context) error { return nil }

func (a *API) Cleanup(ctx context.Context) error {
	a.client.CloseIdleConnections()
	return nil
}

// APIBaseURL returns the container address when the resource has one,
// otherwise the api.base.url property
func (a *API) APIBaseURL() (string, error) {
	if a.baseURL != "" {
		return a.baseURL, nil
	}
	return a.provider.APIBaseURL()
}

// apiSteps holds the request state of one scenario
type apiSteps struct {
	api      *API
	s        *Scenario
	dispatch *dispatch.Dispatcher
	check    *assertion.Checker
}

func (a *API) bind(s *Scenario) *apiSteps {
	return &apiSteps{
		api:      a,
		s:        s,
		dispatch: dispatch.New(a.client, a, s.Resolver, s.Context, dispatch.NewRequestState()),
		check:    assertion.New(s.Context),
	}
}

// Steps returns the structured step definitions for the API handler
func (a *API) Steps(s *Scenario) StepCategory {
	st := a.bind(s)
	return StepCategory{
		Name:        "API",
		Description: "Steps for calling the API under test and checking its responses",
		Steps: []StepDef{
			// Request Setup
			{
				Group:       "Request Setup",
				Pattern:     `^I set base URL to "([^"]*)"$`,
				Description: "Override the base URL for this scenario; a leading / appends to api.base.url",
				Example:     `I set base URL to "/v2"`,
				Handler:     st.setBaseURL,
			},
			{
				Group:       "Request Setup",
				Pattern:     `^I set header "([^"]*)" to "([^"]*)"$`,
				Description: "Set a header for the next request",
				Example:     `I set header "X-Request-Id" to "{{uuid}}"`,
				Handler:     st.setHeader,
			},
			{
				Group:       "Request Setup",
				Pattern:     `^I set headers:$`,
				Description: "Set multiple headers from a table with a header row",
				Example:     `I set headers:`,
				Handler:     st.setHeaders,
			},
			{
				Group:       "Request Setup",
				Pattern:     `^I set API query parameter "([^"]*)" to "([^"]*)"$`,
				Description: "Add a query parameter to the next request",
				Example:     `I set API query parameter "page" to "2"`,
				Handler:     st.setQueryParam,
			},
			{
				Group:       "Request Setup",
				Pattern:     `^I set API path parameter "([^"]*)" to "([^"]*)"$`,
				Description: "Replace {name} in the next endpoint",
				Example:     `I set API path parameter "id" to "<user_id>"`,
				Handler:     st.setPathParam,
			},
			{
				Group:       "Request Setup",
				Pattern:     `^I set cookie "([^"]*)" to "([^"]*)"$`,
				Description: "Send a cookie with the next request",
				Example:     `I set cookie "session" to "<session>"`,
				Handler:     st.setCookie,
			},
			{
				Group:       "Request Setup",
				Pattern:     `^I set bearer token "([^"]*)"$`,
				Description: "Send an Authorization bearer token with the next request",
				Example:     `I set bearer token "<token>"`,
				Handler:     st.setToken,
			},

			// Request Execution
			{
				Group:       "Request Execution",
				Pattern:     `^I make a (GET|DELETE) request to "([^"]*)"$`,
				Description: "Send a request without a body",
				Example:     `I make a GET request to "/users/<user_id>"`,
				Handler:     st.request,
			},
			{
				Group:       "Request Execution",
				Pattern:     `^I make a (GET|DELETE) request to "([^"]*)" with (?:the )?stored token (?:as )?"([^"]*)"$`,
				Description: "Send a request authorized by a token stored in the scenario",
				Example:     `I make a GET request to "/me" with stored token "token"`,
				Handler:     st.requestWithToken,
			},
			{
				Group:       "Request Execution",
				Pattern:     `^I make a (POST|PUT|PATCH) request to "([^"]*)" with body:$`,
				Description: "Send a JSON body given inline",
				Example:     `I make a POST request to "/users" with body:`,
				Handler:     st.requestWithBody,
			},
			{
				Group:       "Request Execution",
				Pattern:     `^I make a (POST|PUT|PATCH) request to "([^"]*)" with body from "([^"]*)":$`,
				Description: "Send a JSON body from inline, file or config; the docstring holds the body, file name or key",
				Example:     `I make a POST request to "/users" with body from "file":`,
				Handler:     st.requestWithBodyFromDoc,
			},
			{
				Group:       "Request Execution",
				Pattern:     `^I make a (POST|PUT|PATCH) request to "([^"]*)" with body from "([^"]*)":? "([^"]*)"$`,
				Description: "Send a JSON body from inline, file or config",
				Example:     `I make a PUT request to "/users/1" with body from "config" "bodies.user"`,
				Handler:     st.requestWithBodyFrom,
			},
			{
				Group:       "Request Execution",
				Pattern:     `^I make a (POST|PUT|PATCH) request to "([^"]*)" with (?:the )?stored token (?:as )?"([^"]*)" and body from "([^"]*)":$`,
				Description: "Send a JSON body authorized by a stored token",
				Example:     `I make a POST request to "/orders" with the stored token as "token" and body from "inline":`,
				Handler:     st.requestWithTokenAndBody,
			},
			{
				Group:       "Request Execution",
				Pattern:     `^I make a multipart POST request to "([^"]*)" with file "([^"]*)"$`,
				Description: "Upload a file as form field \"file\"",
				Example:     `I make a multipart POST request to "/upload" with file "testdata/avatar.png"`,
				Handler:     st.requestMultipart,
			},

			// Response Status
			{
				Group:       "Response Status",
				Pattern:     `^I see response status (\d+)$`,
				Description: "Assert exact status code",
				Example:     `I see response status 201`,
				Handler:     st.check.Status,
			},
			{
				Group:       "Response Status",
				Pattern:     `^I see response status is (success|redirect|client error|server error)$`,
				Description: "Assert status class",
				Example:     `I see response status is success`,
				Handler:     st.check.StatusClass,
			},

			// Response Headers
			{
				Group:       "Response Headers",
				Pattern:     `^I see response header "([^"]*)" is "([^"]*)"$`,
				Description: "Assert exact header value",
				Example:     `I see response header "Content-Type" is "application/json"`,
				Handler:     st.headerIs,
			},
			{
				Group:       "Response Headers",
				Pattern:     `^I see response header "([^"]*)" contains "([^"]*)"$`,
				Description: "Assert header contains substring",
				Example:     `I see response header "Content-Type" contains "json"`,
				Handler:     st.headerContains,
			},
			{
				Group:       "Response Headers",
				Pattern:     `^I see response header "([^"]*)" exists$`,
				Description: "Assert header is present",
				Example:     `I see response header "X-Request-Id" exists`,
				Handler:     st.check.HeaderExists,
			},
			{
				Group:       "Response Headers",
				Pattern:     `^I see response header "([^"]*)" is greater than (\d+)$`,
				Description: "Assert an integer header is greater than a value",
				Example:     `I see response header "X-Total-Count" is greater than 0`,
				Handler:     st.check.HeaderGreaterThan,
			},
			{
				Group:       "Response Headers",
				Pattern:     `^I see response cookie "([^"]*)" is "([^"]*)"$`,
				Description: "Assert a response cookie value",
				Example:     `I see response cookie "session" is "<session>"`,
				Handler:     st.cookieIs,
			},
			{
				Group:       "Response Timing",
				Pattern:     `^I see response time is under (\d+)ms$`,
				Description: "Assert the request completed within a duration",
				Example:     `I see response time is under 500ms`,
				Handler:     st.responseTimeUnder,
			},

			// Response Body
			{
				Group:       "Response Body",
				Pattern:     `^I see response body contains "([^"]*)"$`,
				Description: "Assert body contains substring",
				Example:     `I see response body contains "created"`,
				Handler:     st.bodyContains,
			},
			{
				Group:       "Response Body",
				Pattern:     `^I see response body does not contain "([^"]*)"$`,
				Description: "Assert body does not contain substring",
				Example:     `I see response body does not contain "password"`,
				Handler:     st.bodyNotContains,
			},
			{
				Group:       "Response Body",
				Pattern:     `^I see response body is empty$`,
				Description: "Assert body is empty",
				Example:     `I see response body is empty`,
				Handler:     st.check.BodyEmpty,
			},
			{
				Group:       "Response Body",
				Pattern:     `^I see response body is:$`,
				Description: "Assert exact body content, reported as a diff",
				Example:     `I see response body is:`,
				Handler:     st.bodyIs,
			},

			// Response JSON
			{
				Group:       "Response JSON",
				Pattern:     `^I see JSON path "([^"]*)" equals "([^"]*)"$`,
				Description: "Assert the value at a JSON path; keys like user-name may be written plainly or as $[\"user-name\"]",
				Example:     `I see JSON path "$.data.email" equals "<email>"`,
				Handler:     st.jsonPathEquals,
			},
			{
				Group:       "Response JSON",
				Pattern:     `^I see JSON path "([^"]*)" (?:is not null|exists)$`,
				Description: "Assert a JSON path has a non-null value",
				Example:     `I see JSON path "$.id" is not null`,
				Handler:     st.check.JSONPathNotNull,
			},
			{
				Group:       "Response JSON",
				Pattern:     `^I see JSON path "([^"]*)" does not exist$`,
				Description: "Assert a JSON path is missing or null",
				Example:     `I see JSON path "$.password" does not exist`,
				Handler:     st.check.JSONPathAbsent,
			},
			{
				Group:       "Response JSON",
				Pattern:     `^I see response body is a JSON array(?: of (strings|integers))? with length (\d+)$`,
				Description: "Assert the body is an array of a given length",
				Example:     `I see response body is a JSON array of strings with length 3`,
				Handler:     st.check.JSONArrayLength,
			},
			{
				Group:       "Response JSON",
				Pattern:     `^I see response JSON matches:$`,
				Description: "Assert the body matches a JSON document exactly; supports @matchers",
				Example:     `I see response JSON matches:`,
				Handler:     st.jsonMatches,
			},
			{
				Group:       "Response JSON",
				Pattern:     `^I see response JSON contains:$`,
				Description: "Assert the body contains the given fields; supports @matchers",
				Example:     `I see response JSON contains:`,
				Handler:     st.jsonContains,
			},

			// Scenario Values
			{
				Group:       "Scenario Values",
				Pattern:     `^I store the response field "([^"]*)" as "([^"]*)"$`,
				Description: "Store a response field for later steps as <key>",
				Example:     `I store the response field "$.id" as "user_id"`,
				Handler:     st.storeField,
			},
			{
				Group:       "Scenario Values",
				Pattern:     `^I store the response field "([^"]*)" as "([^"]*)" in JSON file "([^"]*)"$`,
				Description: "Write a response field to a JSON file under json.file.directory",
				Example:     `I store the response field "$.token" as "token" in JSON file "session.json"`,
				Handler:     st.storeFieldInFile,
			},
			{
				Group:       "Scenario Values",
				Pattern:     `^I optionally retrieve the field "([^"]*)" from JSON file "([^"]*)" and store as "([^"]*)"$`,
				Description: "Load a field from a JSON file if present",
				Example:     `I optionally retrieve the field "token" from JSON file "session.json" and store as "token"`,
				Handler:     st.retrieveFieldFromFile,
			},
		},
	}
}

func (st *apiSteps) setBaseURL(u string) error {
	if err := st.s.Resolve(&u); err != nil {
		return err
	}
	return st.dispatch.SetBaseURL(u)
}

func (st *apiSteps) setHeader(name, value string) error {
	if err := st.s.Resolve(&value); err != nil {
		return err
	}
	st.dispatch.State().SetHeader(name, value)
	return nil
}

func (st *apiSteps) setHeaders(table *godog.Table) error {
	if len(table.Rows) < 2 {
		return fmt.Errorf("headers table must have a header row and at least one data row")
	}
	for _, row := range table.Rows[1:] {
		if len(row.Cells) < 2 {
			continue
		}
		if err := st.setHeader(row.Cells[0].Value, row.Cells[1].Value); err != nil {
			return err
		}
	}
	return nil
}

func (st *apiSteps) setQueryParam(name, value string) error {
	if err := st.s.Resolve(&value); err != nil {
		return err
	}
	st.dispatch.State().AddQueryParam(name, value)
	return nil
}

func (st *apiSteps) setPathParam(name, value string) error {
	if err := st.s.Resolve(&value); err != nil {
		return err
	}
	st.dispatch.State().SetPathParam(name, value)
	return nil
}

func (st *apiSteps) setCookie(name, value string) error {
	if err := st.s.Resolve(&value); err != nil {
		return err
	}
	st.dispatch.State().SetCookie(name, value)
	return nil
}

func (st *apiSteps) setToken(token string) error {
	if err := st.s.Resolve(&token); err != nil {
		return err
	}
	st.dispatch.State().SetToken(token)
	return nil
}

func (st *apiSteps) send(ctx context.Context, req dispatch.Request) error {
	_, err := st.dispatch.Dispatch(ctx, req)
	return err
}

func (st *apiSteps) request(ctx context.Context, method, endpoint string) error {
	return st.send(ctx, dispatch.Request{Method: method, Endpoint: endpoint})
}

func (st *apiSteps) requestWithToken(ctx context.Context, method, endpoint, tokenKey string) error {
	return st.send(ctx, dispatch.Request{Method: method, Endpoint: endpoint, TokenKey: tokenKey})
}

func (st *apiSteps) requestWithBody(ctx context.Context, method, endpoint string, doc *godog.DocString) error {
	return st.send(ctx, dispatch.Request{Method: method, Endpoint: endpoint, Body: doc.Content, HasBody: true})
}

func (st *apiSteps) requestWithBodyFromDoc(ctx context.Context, method, endpoint, source string, doc *godog.DocString) error {
	return st.requestWithBodyFrom(ctx, method, endpoint, source, doc.Content)
}

func (st *apiSteps) requestWithBodyFrom(ctx context.Context, method, endpoint, source, value string) error {
	body, err := dispatch.BodyFrom(source, value, st.s.Config, st.api.provider.JSONFileDirectory())
	if err != nil {
		return err
	}
	return st.send(ctx, dispatch.Request{Method: method, Endpoint: endpoint, Body: body, HasBody: true})
}

func (st *apiSteps) requestWithTokenAndBody(ctx context.Context, method, endpoint, tokenKey, source string, doc *godog.DocString) error {
	body, err := dispatch.BodyFrom(source, doc.Content, st.s.Config, st.api.provider.JSONFileDirectory())
	if err != nil {
		return err
	}
	return st.send(ctx, dispatch.Request{Method: method, Endpoint: endpoint, Body: body, HasBody: true, TokenKey: tokenKey})
}

func (st *apiSteps) requestMultipart(ctx context.Context, endpoint, file string) error {
	if err := st.s.Resolve(&file); err != nil {
		return err
	}
	return st.send(ctx, dispatch.Request{Method: http.MethodPost, Endpoint: endpoint, File: file})
}

func (st *apiSteps) headerIs(name, want string) error {
	if err := st.s.Resolve(&want); err != nil {
		return err
	}
	return st.check.Header(name, want)
}

func (st *apiSteps) headerContains(name, substr string) error {
	if err := st.s.Resolve(&substr); err != nil {
		return err
	}
	return st.check.HeaderContains(name, substr)
}

func (st *apiSteps) cookieIs(name, want string) error {
	if err := st.s.Resolve(&want); err != nil {
		return err
	}
	return st.check.Cookie(name, want)
}

func (st *apiSteps) responseTimeUnder(ms int) error {
	return st.check.ResponseTimeUnder(time.Duration(ms) * time.Millisecond)
}

func (st *apiSteps) bodyContains(substr string) error {
	if err := st.s.Resolve(&substr); err != nil {
		return err
	}
	return st.check.BodyContains(substr)
}

func (st *apiSteps) bodyNotContains(substr string) error {
	if err := st.s.Resolve(&substr); err != nil {
		return err
	}
	return st.check.BodyNotContains(substr)
}

func (st *apiSteps) bodyIs(doc *godog.DocString) error {
	want := doc.Content
	if err := st.s.Resolve(&want); err != nil {
		return err
	}
	return st.check.BodyEquals(want)
}

func (st *apiSteps) jsonPathEquals(path, want string) error {
	if err := st.s.Resolve(&want); err != nil {
		return err
	}
	return st.check.JSONPathEquals(path, want)
}

func (st *apiSteps) jsonMatches(doc *godog.DocString) error {
	want := doc.Content
	if err := st.s.Resolve(&want); err != nil {
		return err
	}
	return st.check.JSONMatches(want, false)
}

func (st *apiSteps) jsonContains(doc *godog.DocString) error {
	want := doc.Content
	if err := st.s.Resolve(&want); err != nil {
		return err
	}
	return st.check.JSONMatches(want, true)
}

// responseField reads path from the stored response; an empty value is an error
func (st *apiSteps) responseField(path string) (string, error) {
	resp, err := st.s.Context.Response()
	if err != nil {
		return "", err
	}
	value, found, err := resp.JSONPathString(path)
	if err != nil {
		return "", err
	}
	if !found || value == "" {
		return "", fmt.Errorf("no value found in response for JSON path %q", path)
	}
	return value, nil
}

func (st *apiSteps) storeField(path, key string) error {
	value, err := st.responseField(path)
	if err != nil {
		return err
	}
	if err := st.s.Context.Set(key, value); err != nil {
		return err
	}
	log.Debug().Str("path", path).Str("key", key).Msg("stored response field")
	return nil
}

func (st *apiSteps) storeFieldInFile(path, key, file string) error {
	value, err := st.responseField(path)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(map[string]string{key: value}, "", "  ")
	if err != nil {
		return err
	}
	target := st.jsonFile(file)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating JSON file directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("writing JSON file: %w", err)
	}
	log.Debug().Str("path", path).Str("key", key).Str("file", target).Msg("stored response field in file")
	return nil
}

// retrieveFieldFromFile never fails on a missing file or field
func (st *apiSteps) retrieveFieldFromFile(field, file, key string) error {
	target := st.jsonFile(file)
	data, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("file", target).Msg("JSON file not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading JSON file: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing JSON file %s: %w", target, err)
	}
	value, ok := doc[field]
	if !ok {
		log.Warn().Str("file", target).Str("field", field).Msg("field not found in JSON file")
		return nil
	}
	return st.s.Context.Set(key, scenario.String(value))
}

func (st *apiSteps) jsonFile(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(st.api.provider.JSONFileDirectory(), name)
}

var _ Handler = (*API)(nil)
