package main

import (
	"fmt"
	"os"

	"github.com/brook-lang/brook/cmd/brook/command"
)

func main() {
	app := command.App()
	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "brook: %s\n", err)
		os.Exit(1)
	}
}
