package runner

import (
	"context"
	"fmt"
	"io"
	"regexp"

	"github.com/cucumber/godog"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/container"
	"github.com/tomatool/ketchup/internal/handler"
)

// Options configures runner behavior
type Options struct {
	NoReset bool
	Format  string // Override output format (e.g., "progress", "junit")
	Tags    string // Override tag expression
	// Parallel overrides settings.parallel when positive
	Parallel int
	Output   io.Writer
}

// Runner executes behavioral tests
type Runner struct {
	config        *config.Config
	provider      *config.Provider
	container     ContainerExecutor
	handlers      HandlerRegistry
	opts          Options
	scenarioRegex *regexp.Regexp
}

// New creates a new test runner. cm may be nil when no containers are configured.
func New(cfg *config.Config, provider *config.Provider, cm *container.Manager, opts Options) (*Runner, error) {
	registry, err := handler.NewRegistry(cfg.Resources, provider, cm)
	if err != nil {
		return nil, fmt.Errorf("initializing handlers: %w", err)
	}

	var exec ContainerExecutor
	if cm != nil {
		exec = cm
	}
	return newRunner(cfg, provider, exec, registry, opts)
}

// newRunner is the internal constructor that allows dependency injection for testing
func newRunner(cfg *config.Config, provider *config.Provider, container ContainerExecutor, handlers HandlerRegistry, opts Options) (*Runner, error) {
	r := &Runner{
		config:    cfg,
		provider:  provider,
		container: container,
		handlers:  handlers,
		opts:      opts,
	}

	if cfg.Features.Scenario != "" {
		log.Debug().Str("pattern", cfg.Features.Scenario).Msg("compiling scenario filter regex")
		regex, err := regexp.Compile(cfg.Features.Scenario)
		if err != nil {
			return nil, fmt.Errorf("invalid scenario filter regex: %w", err)
		}
		r.scenarioRegex = regex
		log.Info().Str("pattern", cfg.Features.Scenario).Msg("scenario filter active")
	}

	if r.concurrency() > 1 && r.resetEnabled() {
		log.Warn().Int("parallel", r.concurrency()).Msg("resources are reset before every scenario; parallel scenarios may see each other's resets")
	}

	return r, nil
}

func (r *Runner) concurrency() int {
	if r.opts.Parallel > 0 {
		return r.opts.Parallel
	}
	return r.config.Settings.Parallel
}

func (r *Runner) resetEnabled() bool {
	return !r.opts.NoReset && r.config.Settings.Reset.Level != "none"
}

// Run executes all tests
func (r *Runner) Run(ctx context.Context) error {
	if r.config.Settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Settings.Timeout)
		defer cancel()
	}

	defer func() {
		if err := r.handlers.Cleanup(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("handler cleanup failed")
		}
	}()

	log.Debug().Msg("waiting for handlers to be ready")
	if err := r.handlers.WaitReady(ctx); err != nil {
		return fmt.Errorf("handlers not ready: %w", err)
	}

	if err := r.runHooks(ctx, r.config.Hooks.BeforeAll); err != nil {
		return fmt.Errorf("before_all hooks failed: %w", err)
	}

	status := r.suite(ctx).Run()

	if err := r.runHooks(context.WithoutCancel(ctx), r.config.Hooks.AfterAll); err != nil {
		log.Warn().Err(err).Msg("after_all hooks failed")
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("test run exceeded timeout %s: %w", r.config.Settings.Timeout, err)
	}
	if status != 0 {
		return fmt.Errorf("tests failed with status %d", status)
	}

	return nil
}

func (r *Runner) suite(ctx context.Context) godog.TestSuite {
	format := r.config.Settings.Output
	if r.opts.Format != "" {
		format = r.opts.Format
	}

	paths := make([]string, len(r.config.Features.Paths))
	for i, p := range r.config.Features.Paths {
		paths[i] = r.config.Path(p)
	}

	opts := &godog.Options{
		Format:         format,
		Paths:          paths,
		Tags:           r.config.Tags(r.opts.Tags),
		StopOnFailure:  r.config.Settings.FailFast,
		Strict:         true,
		Concurrency:    r.concurrency(),
		DefaultContext: ctx,
		Output:         r.opts.Output,
	}

	return godog.TestSuite{
		Name:                "ketchup",
		ScenarioInitializer: r.initializeScenario,
		Options:             opts,
	}
}

// initializeScenario gives every scenario its own context, resolver and
// step bindings
func (r *Runner) initializeScenario(ctx *godog.ScenarioContext) {
	s := handler.NewScenario(r.provider)
	r.setupScenarioHooks(ctx, s)
	r.handlers.RegisterSteps(ctx, s)
}

// setupScenarioHooks sets up before/after hooks on the scenario context
// This internal method accepts an interface for testability
func (r *Runner) setupScenarioHooks(ctx ScenarioContext, s *handler.Scenario) {
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		if r.scenarioRegex != nil && !r.scenarioRegex.MatchString(sc.Name) {
			log.Info().Str("scenario", sc.Name).Msg("skipping scenario (doesn't match filter)")
			return ctx, godog.ErrSkip
		}

		if r.resetEnabled() {
			log.Debug().Str("scenario", sc.Name).Msg("resetting state")
			if err := r.handlers.ResetAll(ctx); err != nil {
				return ctx, fmt.Errorf("reset failed: %w", err)
			}
		}

		if err := r.runHooks(ctx, r.config.Hooks.BeforeScenario); err != nil {
			return ctx, fmt.Errorf("before_scenario hooks failed: %w", err)
		}

		return ctx, nil
	})

	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if hookErr := r.runHooks(ctx, r.config.Hooks.AfterScenario); hookErr != nil {
			log.Warn().Err(hookErr).Msg("after_scenario hooks failed")
		}
		s.Context.Clear()
		return ctx, nil
	})
}

func (r *Runner) runHooks(ctx context.Context, hooks []config.Hook) error {
	for _, hook := range hooks {
		if err := r.executeHook(ctx, hook); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) sqlExecutor(name string) (handler.SQLExecutor, error) {
	h, err := r.handlers.Get(name)
	if err != nil {
		return nil, fmt.Errorf("handler %s not found: %w", name, err)
	}
	sqlHandler, ok := h.(handler.SQLExecutor)
	if !ok {
		return nil, fmt.Errorf("handler %s does not support SQL", name)
	}
	return sqlHandler, nil
}

func (r *Runner) executeHook(ctx context.Context, hook config.Hook) error {
	switch {
	case hook.SQL != "":
		sqlHandler, err := r.sqlExecutor(hook.Resource)
		if err != nil {
			return err
		}
		if _, err := sqlHandler.ExecSQL(ctx, hook.SQL); err != nil {
			return fmt.Errorf("executing SQL: %w", err)
		}

	case hook.SQLFile != "":
		sqlHandler, err := r.sqlExecutor(hook.Resource)
		if err != nil {
			return err
		}
		if err := sqlHandler.ExecSQLFile(ctx, r.config.Path(hook.SQLFile)); err != nil {
			return fmt.Errorf("executing SQL file: %w", err)
		}

	case hook.Exec != "":
		if r.container == nil {
			return fmt.Errorf("exec hook for %s needs a running container", hook.Container)
		}
		code, output, err := r.container.Exec(ctx, hook.Container, []string{"sh", "-c", hook.Exec})
		if err != nil {
			return fmt.Errorf("executing command in %s: %w", hook.Container, err)
		}
		if code != 0 {
			return fmt.Errorf("command in %s exited with %d: %s", hook.Container, code, output)
		}
	}

	return nil
}
