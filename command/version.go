package command

import (
	"fmt"

	"github.com/tomatool/ketchup/internal/version"
	"github.com/urfave/cli/v2"
)

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version information",
	Action: func(c *cli.Context) error {
		info := version.Info()
		w := c.App.Writer
		fmt.Fprintf(w, "ketchup version %s\n", info["version"])
		fmt.Fprintf(w, "  Commit:     %s\n", info["commit"])
		fmt.Fprintf(w, "  Built:      %s\n", info["built"])
		fmt.Fprintf(w, "  Go version: %s\n", info["go"])
		fmt.Fprintf(w, "  OS/Arch:    %s\n", info["os/arch"])
		return nil
	},
}
