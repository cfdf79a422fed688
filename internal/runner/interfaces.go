package runner

import (
	"context"

	"github.com/cucumber/godog"
	"github.com/tomatool/ketchup/internal/handler"
)

// HandlerRegistry abstracts handler.Registry for testing
type HandlerRegistry interface {
	WaitReady(ctx context.Context) error
	ResetAll(ctx context.Context) error
	RegisterSteps(ctx handler.StepContext, s *handler.Scenario)
	Get(name string) (handler.Handler, error)
	Cleanup(ctx context.Context) error
}

// ContainerExecutor abstracts container execution for testing
type ContainerExecutor interface {
	Exec(ctx context.Context, name string, cmd []string) (int, string, error)
}

// ScenarioContext abstracts godog.ScenarioContext for testing
type ScenarioContext interface {
	Before(h godog.BeforeScenarioHook)
	After(h godog.AfterScenarioHook)
	Step(expr interface{}, stepFunc interface{})
}
