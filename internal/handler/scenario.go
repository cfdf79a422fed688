package handler

import (
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/placeholder"
	"github.com/tomatool/ketchup/internal/scenario"
)

// Scenario is the state owned by a single running scenario. The runner
// builds one per scenario so nothing mutable is shared between scenarios.
type Scenario struct {
	Context  *scenario.Context
	Resolver *placeholder.Resolver
	Config   *config.Provider
}

func NewScenario(provider *config.Provider, opts ...placeholder.Option) *Scenario {
	sc := scenario.New()
	return &Scenario{
		Context:  sc,
		Resolver: placeholder.New(provider, sc, opts...),
		Config:   provider,
	}
}

// Resolve expands placeholders in every value, stopping at the first error
func (s *Scenario) Resolve(values ...*string) error {
	for _, v := range values {
		resolved, err := s.Resolver.Resolve(*v)
		if err != nil {
			return err
		}
		*v = resolved
	}
	return nil
}
