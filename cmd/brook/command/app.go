package command

import (
	"os"

	"github.com/logrusorgru/aurora"
	isatty "github.com/mattn/go-isatty"
	cli "github.com/urfave/cli/v2"
)

// App returns the brook command line application.
func App() *cli.App {
	app := cli.NewApp()
	app.Name = "brook"
	app.Usage = "runs and debugs brook programs"
	app.Commands = []*cli.Command{
		runCommand,
		debugCommand,
		disasmCommand,
	}
	return app
}

func color() aurora.Aurora {
	return aurora.NewAurora(isatty.IsTerminal(os.Stderr.Fd()))
}
