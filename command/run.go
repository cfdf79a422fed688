package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/container"
	"github.com/tomatool/ketchup/internal/runner"
	"github.com/urfave/cli/v2"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run the feature files",
	Flags: []cli.Flag{
		configFlag,
		&cli.StringFlag{
			Name:    "tags",
			Aliases: []string{"t"},
			Usage:   "tag expression, e.g. \"@smoke && ~@wip\" (overrides " + config.TagsEnv + " and features.tags)",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "godog output format: pretty, progress, cucumber, junit",
		},
		&cli.IntFlag{
			Name:  "parallel",
			Usage: "number of scenarios to run concurrently",
		},
		&cli.BoolFlag{
			Name:  "no-reset",
			Usage: "skip resetting resources between scenarios",
		},
		&cli.StringFlag{
			Name:    "scenario",
			Aliases: []string{"s"},
			Usage:   "run only scenarios whose name matches this regex",
		},
	},
	Action: runTests,
}

func runTests(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if s := c.String("scenario"); s != "" {
		cfg.Features.Scenario = s
	}

	provider, err := config.LoadProvider(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cm, err := startContainers(ctx, cfg)
	if err != nil {
		return err
	}
	if cm != nil {
		defer cm.Cleanup()
	}

	r, err := runner.New(cfg, provider, cm, runner.Options{
		NoReset:  c.Bool("no-reset"),
		Format:   c.String("format"),
		Tags:     c.String("tags"),
		Parallel: c.Int("parallel"),
		Output:   c.App.Writer,
	})
	if err != nil {
		return err
	}

	log.Info().Strs("paths", cfg.Features.Paths).Msg("running features")
	start := time.Now()
	err = r.Run(ctx)
	log.Info().Dur("duration", time.Since(start)).Bool("passed", err == nil).Msg("run finished")
	return err
}

// startContainers returns nil when the config declares no containers
func startContainers(ctx context.Context, cfg *config.Config) (*container.Manager, error) {
	if len(cfg.Containers) == 0 {
		return nil, nil
	}

	if err := container.CheckDockerAvailable(ctx); err != nil {
		return nil, err
	}

	cm, err := container.NewManager(cfg.Containers)
	if err != nil {
		return nil, err
	}

	log.Info().Int("count", len(cfg.Containers)).Str("run", cm.RunID()).Msg("starting containers")
	if err := cm.StartAll(ctx); err != nil {
		cm.Cleanup()
		return nil, fmt.Errorf("starting containers: %w", err)
	}
	cm.LogConnectionInfo(ctx)

	return cm, nil
}
