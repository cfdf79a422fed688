package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/container"
)

// DefaultAPIName is used for the API handler when no api resource is configured
const DefaultAPIName = "api"

// Registry manages all configured handlers
type Registry struct {
	handlers    map[string]Handler
	resetConfig map[string]*bool // per-handler reset configuration
	container   *container.Manager
	provider    *config.Provider
	mu          sync.RWMutex
}

// NewRegistry creates a handler for every resource. An API handler is
// always present, so API steps work with properties alone.
func NewRegistry(configs map[string]config.Resource, provider *config.Provider, cm *container.Manager) (*Registry, error) {
	r := &Registry{
		handlers:    make(map[string]Handler),
		resetConfig: make(map[string]*bool),
		container:   cm,
		provider:    provider,
	}

	hasAPI := false
	for name, cfg := range configs {
		h, err := r.createHandler(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("creating handler %s: %w", name, err)
		}
		r.handlers[name] = h
		r.resetConfig[name] = cfg.Reset
		if cfg.Type == "api" {
			hasAPI = true
		}
	}

	if !hasAPI {
		if _, taken := r.handlers[DefaultAPIName]; taken {
			return nil, fmt.Errorf("resource %q must be of type api", DefaultAPIName)
		}
		api, _ := NewAPI(DefaultAPIName, config.Resource{Type: "api"}, provider, cm)
		r.handlers[DefaultAPIName] = api
	}

	return r, nil
}

// createHandler instantiates a handler based on its type
func (r *Registry) createHandler(name string, cfg config.Resource) (Handler, error) {
	switch cfg.Type {
	case "api":
		return NewAPI(name, cfg, r.provider, r.container)
	case "postgres", "postgresql":
		return NewPostgres(name, cfg, r.provider, r.container)
	case "redis":
		return NewRedis(name, cfg, r.container)
	default:
		return nil, fmt.Errorf("unknown handler type: %s", cfg.Type)
	}
}

// Get returns a handler by name
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("handler not found: %s", name)
	}
	return h, nil
}

// names returns handler names in a stable order
func (r *Registry) names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WaitReady initializes every handler and waits for it to be ready
func (r *Registry) WaitReady(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.names() {
		h := r.handlers[name]
		log.Debug().Str("handler", name).Msg("initializing handler")
		if err := h.Init(ctx); err != nil {
			return fmt.Errorf("initializing %s: %w", name, err)
		}

		log.Debug().Str("handler", name).Msg("checking handler readiness")
		if err := h.Ready(ctx); err != nil {
			return fmt.Errorf("handler %s not ready: %w", name, err)
		}
	}

	return nil
}

// ResetAll resets the handlers that opted in with reset: true
func (r *Registry) ResetAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.names() {
		if resetCfg := r.resetConfig[name]; resetCfg == nil || !*resetCfg {
			continue
		}

		log.Debug().Str("handler", name).Msg("resetting handler")
		if err := r.handlers[name].Reset(ctx); err != nil {
			return fmt.Errorf("resetting %s: %w", name, err)
		}
	}

	return nil
}

// Categories returns the step catalog bound to s: the common steps first,
// then one category per handler
func (r *Registry) Categories(s *Scenario) []StepCategory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	categories := []StepCategory{CommonSteps(s)}
	for _, name := range r.names() {
		categories = append(categories, r.handlers[name].Steps(s))
	}
	return categories
}

// RegisterSteps binds every step to the scenario state s
func (r *Registry) RegisterSteps(ctx StepContext, s *Scenario) {
	for _, category := range r.Categories(s) {
		RegisterStepsToGodog(ctx, category)
	}
}

// Cleanup releases all handlers
func (r *Registry) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, h := range r.handlers {
		if err := h.Cleanup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cleaning up %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ValidResourceTypes returns all valid resource type names
func ValidResourceTypes() []string {
	return []string{"api", "postgres", "postgresql", "redis"}
}
