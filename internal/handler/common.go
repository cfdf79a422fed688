package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/assertion"
)

// commonSteps are available whatever resources are configured
type commonSteps struct {
	s *Scenario
}

func CommonSteps(s *Scenario) StepCategory {
	st := &commonSteps{s: s}
	return StepCategory{
		Name:        "Scenario",
		Description: "Steps for values shared between the steps of one scenario",
		Steps: []StepDef{
			{
				Group:       "Scenario Values",
				Pattern:     `^I store "([^"]*)" as "([^"]*)"$`,
				Description: "Resolve a value and store it as <key>",
				Example:     `I store "{{randomemail}}" as "email"`,
				Handler:     st.store,
			},
			{
				Group:       "Scenario Values",
				Pattern:     `^I see stored value "([^"]*)" equals "([^"]*)"$`,
				Description: "Assert a stored value",
				Example:     `I see stored value "email" equals "$$admin.email$$"`,
				Handler:     st.storedValueEquals,
			},
			{
				Group:       "Timing",
				Pattern:     `^I wait for "([^"]*)"$`,
				Description: "Pause the scenario for a Go duration",
				Example:     `I wait for "500ms"`,
				Handler:     st.wait,
			},
		},
	}
}

func (st *commonSteps) store(value, key string) error {
	if err := st.s.Resolve(&value); err != nil {
		return err
	}
	if err := st.s.Context.Set(key, value); err != nil {
		return err
	}
	log.Debug().Str("key", key).Msg("stored value")
	return nil
}

func (st *commonSteps) storedValueEquals(key, want string) error {
	if err := st.s.Resolve(&want); err != nil {
		return err
	}
	actual, err := st.s.Context.GetString(key)
	if err != nil {
		return err
	}
	if actual != want {
		return &assertion.FailedError{Subject: "stored value " + strconv.Quote(key), Expected: strconv.Quote(want), Actual: strconv.Quote(actual)}
	}
	return nil
}

func (st *commonSteps) wait(ctx context.Context, raw string) error {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
