package main

import (
	"fmt"
	"os"

	"github.com/btcoracle/ernest/cli"
)

func main() {
	app := cli.New()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
