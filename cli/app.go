// Package cli assembles the oracle's urfave/cli/v2 application from its
// command groups.
package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/btcoracle/ernest/cli/server"
)

// Version is the oracle's build-time version, set via -ldflags.
var Version string

func versionPrinter(c *cli.Context) {
	_, _ = fmt.Fprintf(c.App.Writer, "Ernest Statistics Oracle\nVersion: %s\nGoVersion: %s\n",
		Version, runtime.Version())
}

// New creates the oracle's cli.App with every command included.
func New() *cli.App {
	cli.VersionPrinter = versionPrinter
	app := cli.NewApp()
	app.Name = "ernest"
	app.Version = Version
	app.Usage = "Discreet Log Contract numeric statistics oracle"
	app.ErrWriter = os.Stdout
	app.Commands = append(app.Commands, server.NewCommands()...)
	return app
}
