package command

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/version"
	"github.com/urfave/cli/v2"
)

const defaultConfigFile = "ketchup.yml"

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   defaultConfigFile,
	Usage:   "config file path",
}

// Run executes the ketchup CLI
func Run(args []string) error {
	return newApp(os.Stdout, os.Stderr).Run(args)
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:    "ketchup",
		Usage:   "Behavior-driven tests for HTTP services, databases and caches",
		Version: version.Version,
		Description: `ketchup runs Gherkin feature files against your services. Steps can
reference configuration with $$key$$, values stored earlier in the scenario
with <key>, and generated data with {{generator}}.`,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "load environment variables from a .env file",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			setupLogging(c.App.ErrWriter, c.Bool("verbose"))

			if path := c.String("env-file"); path != "" {
				if err := godotenv.Load(path); err != nil {
					return fmt.Errorf("loading env file %s: %w", path, err)
				}
				log.Debug().Str("path", path).Msg("env file loaded")
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			stepsCommand,
			validateCommand,
			resolveCommand,
			versionCommand,
		},
	}
}

func setupLogging(w io.Writer, verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		With().
		Timestamp().
		Logger()
}
