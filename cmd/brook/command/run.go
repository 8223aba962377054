package command

import (
	"path/filepath"

	"github.com/brook-lang/brook/compiler"
	"github.com/brook-lang/brook/vm"
	"github.com/pkg/errors"
	cli "github.com/urfave/cli/v2"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "compiles and runs a brook program",
	ArgsUsage: "<*.bk> [args...]",
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return errors.New("must have a program to run")
		}
		path := c.Args().First()

		code, err := compiler.CompileFile(path)
		if err != nil {
			return err
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		m := vm.New(
			vm.WithDir(filepath.Dir(abs)),
			vm.WithArgs(append([]string{abs}, c.Args().Tail()...)),
		)

		globals := map[string]vm.Value{
			"__name__": "__main__",
		}
		_, err = m.RunCode(code, globals, globals)
		return err
	},
}

var disasmCommand = &cli.Command{
	Name:      "disasm",
	Usage:     "prints the bytecode of a brook program",
	ArgsUsage: "<*.bk>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return errors.New("must have exactly one program")
		}

		code, err := compiler.CompileFile(c.Args().First())
		if err != nil {
			return err
		}

		_, err = c.App.Writer.Write([]byte(code.Dump()))
		return err
	},
}
