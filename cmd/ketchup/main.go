package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/command"
)

func main() {
	if err := command.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("ketchup failed")
		os.Exit(1)
	}
}
