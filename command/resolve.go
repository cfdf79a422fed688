package command

import (
	"errors"
	"fmt"

	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/handler"
	"github.com/urfave/cli/v2"
)

var resolveCommand = &cli.Command{
	Name:      "resolve",
	Usage:     "Resolve placeholders in templates against the config",
	ArgsUsage: "TEMPLATE...",
	Description: `Prints each template with $$key$$ and {{generator}} placeholders
resolved. <key> references stay as written because no scenario is running.`,
	Flags:  []cli.Flag{configFlag},
	Action: runResolve,
}

func runResolve(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("resolve needs at least one template")
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	provider, err := config.LoadProvider(cfg)
	if err != nil {
		return err
	}

	s := handler.NewScenario(provider)
	for _, template := range c.Args().Slice() {
		resolved := template
		if err := s.Resolve(&resolved); err != nil {
			return fmt.Errorf("resolving %q: %w", template, err)
		}
		fmt.Fprintln(c.App.Writer, resolved)
	}
	return nil
}
