package handler

import (
	"github.com/cucumber/godog"
)

// StepDef represents a structured step definition with metadata
type StepDef struct {
	// Group is the category within a handler (e.g., "Request Setup", "Response Assertions")
	Group string `json:"group,omitempty"`

	// Pattern is the regex pattern for matching Gherkin steps
	Pattern string `json:"pattern"`

	Description string `json:"description"`

	// Example shows how to use this step in a feature file
	Example string `json:"example,omitempty"`

	// Handler is the function that implements the step
	Handler interface{} `json:"-"`
}

// StepCategory groups related steps together
type StepCategory struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Steps       []StepDef `json:"steps"`
}

// StepContext is the part of godog.ScenarioContext used to bind steps
type StepContext interface {
	Step(expr interface{}, stepFunc interface{})
}

// RegisterStepsToGodog binds every step of category to ctx
func RegisterStepsToGodog(ctx StepContext, category StepCategory) {
	for _, step := range category.Steps {
		ctx.Step(step.Pattern, step.Handler)
	}
}

var _ StepContext = (*godog.ScenarioContext)(nil)
