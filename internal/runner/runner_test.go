package runner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/handler"
)

// Mock implementations

type mockRegistry struct {
	waitReadyErr    error
	resetAllErr     error
	getHandler      handler.Handler
	getErr          error
	waitReadyCalled bool
	resetAllCalled  bool
	cleanupCalled   bool
}

func (m *mockRegistry) WaitReady(ctx context.Context) error {
	m.waitReadyCalled = true
	return m.waitReadyErr
}

func (m *mockRegistry) ResetAll(ctx context.Context) error {
	m.resetAllCalled = true
	return m.resetAllErr
}

func (m *mockRegistry) RegisterSteps(ctx handler.StepContext, s *handler.Scenario) {}

func (m *mockRegistry) Get(name string) (handler.Handler, error) {
	return m.getHandler, m.getErr
}

func (m *mockRegistry) Cleanup(ctx context.Context) error {
	m.cleanupCalled = true
	return nil
}

type mockContainerExecutor struct {
	execExitCode int
	execOutput   string
	execErr      error
	execCalls    []execCall
}

type execCall struct {
	name string
	cmd  []string
}

func (m *mockContainerExecutor) Exec(ctx context.Context, name string, cmd []string) (int, string, error) {
	m.execCalls = append(m.execCalls, execCall{name: name, cmd: cmd})
	return m.execExitCode, m.execOutput, m.execErr
}

// mockHandler is a basic handler that doesn't support SQL
type mockHandler struct {
	name string
}

func (m *mockHandler) Name() string                                   { return m.name }
func (m *mockHandler) Init(ctx context.Context) error                 { return nil }
func (m *mockHandler) Ready(ctx context.Context) error                { return nil }
func (m *mockHandler) Reset(ctx context.Context) error                { return nil }
func (m *mockHandler) Steps(s *handler.Scenario) handler.StepCategory { return handler.StepCategory{} }
func (m *mockHandler) Cleanup(ctx context.Context) error              { return nil }

// mockSQLHandler is a handler that supports SQL operations
type mockSQLHandler struct {
	mockHandler
	execSQLErr  error
	execFileErr error
	queries     []string
	files       []string
}

func (m *mockSQLHandler) ExecSQL(ctx context.Context, query string) (int64, error) {
	m.queries = append(m.queries, query)
	return 1, m.execSQLErr
}

func (m *mockSQLHandler) ExecSQLFile(ctx context.Context, path string) error {
	m.files = append(m.files, path)
	return m.execFileErr
}

// capturingScenarioContext captures registered hooks for testing
type capturingScenarioContext struct {
	beforeHook godog.BeforeScenarioHook
	afterHook  godog.AfterScenarioHook
}

func (c *capturingScenarioContext) Before(h godog.BeforeScenarioHook) {
	c.beforeHook = h
}

func (c *capturingScenarioContext) After(h godog.AfterScenarioHook) {
	c.afterHook = h
}

func (c *capturingScenarioContext) Step(expr interface{}, stepFunc interface{}) {}

func newTestConfig() *config.Config {
	return &config.Config{
		Version: 2,
		Settings: config.Settings{
			Output:   "pretty",
			Parallel: 1,
		},
		Features: config.Features{
			Paths: []string{"./features"},
		},
		Resources: make(map[string]config.Resource),
	}
}

func TestNewRunner(t *testing.T) {
	tests := []struct {
		name        string
		scenario    string
		wantErr     bool
		errContains string
		wantRegex   bool
	}{
		{name: "no scenario filter"},
		{name: "valid scenario regex", scenario: "^Checkout.*", wantRegex: true},
		{name: "invalid scenario regex", scenario: "[invalid", wantErr: true, errContains: "invalid scenario filter regex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig()
			cfg.Features.Scenario = tt.scenario

			r, err := newRunner(cfg, nil, &mockContainerExecutor{}, &mockRegistry{}, Options{})
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (r.scenarioRegex != nil) != tt.wantRegex {
				t.Errorf("scenarioRegex set = %v, want %v", r.scenarioRegex != nil, tt.wantRegex)
			}
		})
	}
}

func TestConcurrencyAndReset(t *testing.T) {
	tests := []struct {
		name            string
		parallel        int
		level           string
		opts            Options
		wantConcurrency int
		wantReset       bool
	}{
		{name: "settings only", parallel: 1, level: "scenario", wantConcurrency: 1, wantReset: true},
		{name: "flag overrides settings", parallel: 1, opts: Options{Parallel: 4}, wantConcurrency: 4, wantReset: true},
		{name: "no-reset flag", parallel: 2, opts: Options{NoReset: true}, wantConcurrency: 2},
		{name: "reset level none", parallel: 1, level: "none", wantConcurrency: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig()
			cfg.Settings.Parallel = tt.parallel
			cfg.Settings.Reset.Level = tt.level

			r, err := newRunner(cfg, nil, nil, &mockRegistry{}, tt.opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := r.concurrency(); got != tt.wantConcurrency {
				t.Errorf("concurrency() = %d, want %d", got, tt.wantConcurrency)
			}
			if got := r.resetEnabled(); got != tt.wantReset {
				t.Errorf("resetEnabled() = %v, want %v", got, tt.wantReset)
			}
		})
	}
}

func TestSuiteOptions(t *testing.T) {
	cfg := newTestConfig()
	cfg.Dir = "/srv/tests"
	cfg.Features.Paths = []string{"features", "/abs/features"}
	cfg.Features.Tags = "@smoke"
	cfg.Settings.FailFast = true

	r, err := newRunner(cfg, nil, nil, &mockRegistry{}, Options{Format: "progress", Parallel: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	suite := r.suite(context.Background())
	if suite.Name != "ketchup" {
		t.Errorf("suite name = %q", suite.Name)
	}
	opts := suite.Options
	if opts.Format != "progress" {
		t.Errorf("format = %q, want progress", opts.Format)
	}
	if len(opts.Paths) != 2 || opts.Paths[0] != "/srv/tests/features" || opts.Paths[1] != "/abs/features" {
		t.Errorf("paths = %v", opts.Paths)
	}
	if opts.Tags != "@smoke" {
		t.Errorf("tags = %q, want @smoke", opts.Tags)
	}
	if !opts.StopOnFailure || !opts.Strict {
		t.Error("expected StopOnFailure and Strict")
	}
	if opts.Concurrency != 3 {
		t.Errorf("concurrency = %d, want 3", opts.Concurrency)
	}
	if opts.DefaultContext == nil {
		t.Error("expected a default context")
	}
}

func TestExecuteHook(t *testing.T) {
	tests := []struct {
		name        string
		hook        config.Hook
		registry    *mockRegistry
		container   *mockContainerExecutor
		wantErr     bool
		errContains string
	}{
		{
			name:      "SQL hook success",
			hook:      config.Hook{SQL: "DELETE FROM orders", Resource: "db"},
			registry:  &mockRegistry{getHandler: &mockSQLHandler{}},
			container: &mockContainerExecutor{},
		},
		{
			name:        "SQL hook - handler not found",
			hook:        config.Hook{SQL: "SELECT 1", Resource: "missing"},
			registry:    &mockRegistry{getErr: errors.New("handler not found: missing")},
			container:   &mockContainerExecutor{},
			wantErr:     true,
			errContains: "handler missing not found",
		},
		{
			name:        "SQL hook - handler does not support SQL",
			hook:        config.Hook{SQL: "SELECT 1", Resource: "cache"},
			registry:    &mockRegistry{getHandler: &mockHandler{name: "cache"}},
			container:   &mockContainerExecutor{},
			wantErr:     true,
			errContains: "does not support SQL",
		},
		{
			name:        "SQL hook - ExecSQL fails",
			hook:        config.Hook{SQL: "SELECT broken", Resource: "db"},
			registry:    &mockRegistry{getHandler: &mockSQLHandler{execSQLErr: errors.New("syntax error")}},
			container:   &mockContainerExecutor{},
			wantErr:     true,
			errContains: "executing SQL",
		},
		{
			name:      "SQLFile hook success",
			hook:      config.Hook{SQLFile: "seed.sql", Resource: "db"},
			registry:  &mockRegistry{getHandler: &mockSQLHandler{}},
			container: &mockContainerExecutor{},
		},
		{
			name:        "SQLFile hook - ExecSQLFile fails",
			hook:        config.Hook{SQLFile: "seed.sql", Resource: "db"},
			registry:    &mockRegistry{getHandler: &mockSQLHandler{execFileErr: errors.New("no such file")}},
			container:   &mockContainerExecutor{},
			wantErr:     true,
			errContains: "executing SQL file",
		},
		{
			name:      "Exec hook success",
			hook:      config.Hook{Exec: "make seed", Container: "app"},
			registry:  &mockRegistry{},
			container: &mockContainerExecutor{},
		},
		{
			name:        "Exec hook - container exec fails",
			hook:        config.Hook{Exec: "make seed", Container: "app"},
			registry:    &mockRegistry{},
			container:   &mockContainerExecutor{execErr: errors.New("container gone")},
			wantErr:     true,
			errContains: "executing command in app",
		},
		{
			name:        "Exec hook - non-zero exit",
			hook:        config.Hook{Exec: "false", Container: "app"},
			registry:    &mockRegistry{},
			container:   &mockContainerExecutor{execExitCode: 2, execOutput: "boom"},
			wantErr:     true,
			errContains: "exited with 2: boom",
		},
		{
			name:      "empty hook - no operation",
			hook:      config.Hook{},
			registry:  &mockRegistry{},
			container: &mockContainerExecutor{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Runner{
				config:    newTestConfig(),
				handlers:  tt.registry,
				container: tt.container,
			}

			err := r.executeHook(context.Background(), tt.hook)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q should contain %q", err.Error(), tt.errContains)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestExecHookWithoutContainers(t *testing.T) {
	r := &Runner{config: newTestConfig(), handlers: &mockRegistry{}}

	err := r.executeHook(context.Background(), config.Hook{Exec: "ls", Container: "app"})
	if err == nil || !strings.Contains(err.Error(), "needs a running container") {
		t.Errorf("expected missing container error, got %v", err)
	}
}

func TestExecHookCommandConstruction(t *testing.T) {
	container := &mockContainerExecutor{}
	r := &Runner{config: newTestConfig(), handlers: &mockRegistry{}, container: container}

	if err := r.executeHook(context.Background(), config.Hook{Exec: "echo 'a b' && ls", Container: "app"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(container.execCalls) != 1 {
		t.Fatalf("expected 1 exec call, got %d", len(container.execCalls))
	}
	call := container.execCalls[0]
	want := []string{"sh", "-c", "echo 'a b' && ls"}
	if call.name != "app" || strings.Join(call.cmd, "|") != strings.Join(want, "|") {
		t.Errorf("exec call = %s %v, want app %v", call.name, call.cmd, want)
	}
}

func TestSQLFileHookResolvesAgainstConfigDir(t *testing.T) {
	sqlHandler := &mockSQLHandler{}
	cfg := newTestConfig()
	cfg.Dir = "/srv/tests"
	r := &Runner{config: cfg, handlers: &mockRegistry{getHandler: sqlHandler}}

	if err := r.executeHook(context.Background(), config.Hook{SQLFile: "fixtures/seed.sql", Resource: "db"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sqlHandler.files) != 1 || sqlHandler.files[0] != "/srv/tests/fixtures/seed.sql" {
		t.Errorf("files = %v", sqlHandler.files)
	}
}

func TestRunHooks(t *testing.T) {
	t.Run("stops at first failure", func(t *testing.T) {
		sqlHandler := &mockSQLHandler{execSQLErr: errors.New("boom")}
		r := &Runner{config: newTestConfig(), handlers: &mockRegistry{getHandler: sqlHandler}}

		err := r.runHooks(context.Background(), []config.Hook{
			{SQL: "SELECT 1", Resource: "db"},
			{SQL: "SELECT 2", Resource: "db"},
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if len(sqlHandler.queries) != 1 {
			t.Errorf("expected execution to stop after first hook, ran %v", sqlHandler.queries)
		}
	})

	t.Run("runs all in order", func(t *testing.T) {
		sqlHandler := &mockSQLHandler{}
		r := &Runner{config: newTestConfig(), handlers: &mockRegistry{getHandler: sqlHandler}}

		err := r.runHooks(context.Background(), []config.Hook{
			{SQL: "SELECT 1", Resource: "db"},
			{SQL: "SELECT 2", Resource: "db"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Join(sqlHandler.queries, ";") != "SELECT 1;SELECT 2" {
			t.Errorf("queries = %v", sqlHandler.queries)
		}
	})
}

func TestRun(t *testing.T) {
	tests := []struct {
		name        string
		config      *config.Config
		registry    *mockRegistry
		container   *mockContainerExecutor
		errContains string
	}{
		{
			name:        "WaitReady fails",
			config:      newTestConfig(),
			registry:    &mockRegistry{waitReadyErr: errors.New("connection refused")},
			container:   &mockContainerExecutor{},
			errContains: "handlers not ready",
		},
		{
			name: "before_all hooks fail",
			config: func() *config.Config {
				cfg := newTestConfig()
				cfg.Hooks.BeforeAll = []config.Hook{{Container: "app", Exec: "fail"}}
				return cfg
			}(),
			registry:    &mockRegistry{},
			container:   &mockContainerExecutor{execErr: errors.New("hook failed")},
			errContains: "before_all hooks failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Runner{
				config:    tt.config,
				handlers:  tt.registry,
				container: tt.container,
			}

			err := r.Run(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
			}
			if !tt.registry.cleanupCalled {
				t.Error("expected handlers to be cleaned up")
			}
		})
	}
}

func TestBeforeScenarioHook(t *testing.T) {
	tests := []struct {
		name          string
		scenarioName  string
		filter        string
		opts          Options
		resetErr      error
		hookErr       bool
		wantSkip      bool
		wantReset     bool
		wantErrSubstr string
	}{
		{name: "matches filter", scenarioName: "Checkout with coupon", filter: "^Checkout", wantReset: true},
		{name: "does not match filter", scenarioName: "Login", filter: "^Checkout", wantSkip: true},
		{name: "no filter", scenarioName: "Anything", wantReset: true},
		{name: "no-reset option", scenarioName: "Anything", opts: Options{NoReset: true}},
		{name: "reset fails", scenarioName: "Anything", resetErr: errors.New("truncate failed"), wantReset: true, wantErrSubstr: "reset failed"},
		{name: "before_scenario hook fails", scenarioName: "Anything", hookErr: true, wantReset: true, wantErrSubstr: "before_scenario hooks failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig()
			cfg.Features.Scenario = tt.filter
			container := &mockContainerExecutor{}
			if tt.hookErr {
				cfg.Hooks.BeforeScenario = []config.Hook{{Container: "app", Exec: "fail"}}
				container.execErr = errors.New("hook failed")
			}
			registry := &mockRegistry{resetAllErr: tt.resetErr}

			r, err := newRunner(cfg, nil, container, registry, tt.opts)
			if err != nil {
				t.Fatalf("failed to create runner: %v", err)
			}

			sc := &capturingScenarioContext{}
			r.setupScenarioHooks(sc, handler.NewScenario(nil))
			if sc.beforeHook == nil {
				t.Fatal("before hook was not registered")
			}

			_, err = sc.beforeHook(context.Background(), &godog.Scenario{Name: tt.scenarioName})
			switch {
			case tt.wantSkip:
				if !errors.Is(err, godog.ErrSkip) {
					t.Errorf("expected ErrSkip, got %v", err)
				}
			case tt.wantErrSubstr != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantErrSubstr) {
					t.Errorf("expected error containing %q, got %v", tt.wantErrSubstr, err)
				}
			default:
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}

			if registry.resetAllCalled != tt.wantReset {
				t.Errorf("ResetAll called = %v, want %v", registry.resetAllCalled, tt.wantReset)
			}
		})
	}
}

func TestAfterScenarioHookClearsContext(t *testing.T) {
	cfg := newTestConfig()
	cfg.Hooks.AfterScenario = []config.Hook{{Container: "app", Exec: "cleanup"}}
	container := &mockContainerExecutor{execErr: errors.New("cleanup failed")}

	r, err := newRunner(cfg, nil, container, &mockRegistry{}, Options{})
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}

	s := handler.NewScenario(nil)
	if err := s.Context.Set("order_id", "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sc := &capturingScenarioContext{}
	r.setupScenarioHooks(sc, s)
	if sc.afterHook == nil {
		t.Fatal("after hook was not registered")
	}

	// hook failures are logged, not returned
	if _, err := sc.afterHook(context.Background(), &godog.Scenario{Name: "Test"}, nil); err != nil {
		t.Errorf("after hook should return nil, got %v", err)
	}
	if len(s.Context.Keys()) != 0 {
		t.Errorf("expected cleared context, got keys %v", s.Context.Keys())
	}
}
