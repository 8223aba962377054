package command

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/brook-lang/brook/debugger"
	"github.com/brook-lang/brook/vm"
	"github.com/chzyer/readline"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/logrusorgru/aurora"
	"github.com/pkg/errors"
	cli "github.com/urfave/cli/v2"
	"github.com/xlab/treeprint"
	"golang.org/x/sync/errgroup"
)

var debugCommand = &cli.Command{
	Name:      "debug",
	Usage:     "jump into a source level debugger for brook",
	ArgsUsage: "<*.bk> [args...]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "mode",
			Usage: "initial debug mode (step, breakpoint)",
			Value: "step",
		},
		&cli.StringFlag{
			Name:  "workdir",
			Usage: "working directory for the target",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return errors.New("must have a program to debug")
		}

		abs, err := filepath.Abs(c.Args().First())
		if err != nil {
			return err
		}

		dir := c.String("workdir")
		if dir == "" {
			dir = filepath.Dir(abs)
		}

		var mode debugger.DebugMode
		switch c.String("mode") {
		case "step":
			mode = debugger.StepMode
		case "breakpoint":
			mode = debugger.BreakpointMode
		default:
			return errors.Errorf("unrecognized mode %q", c.String("mode"))
		}

		rl, err := readline.New("(brook) ")
		if err != nil {
			return err
		}
		defer rl.Close()

		d := debugger.New(vm.New(vm.WithDir(dir)))
		con := &console{
			d:     d,
			rl:    rl,
			w:     os.Stderr,
			color: color(),
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		defer signal.Stop(sig)

		done := make(chan struct{})
		var g errgroup.Group
		g.Go(func() error {
			defer close(done)
			return d.Start(con.debug, abs,
				debugger.WithMode(mode),
				debugger.WithWorkingDir(dir),
				debugger.WithArgs(c.Args().Tail()),
			)
		})
		g.Go(func() error {
			select {
			case <-sig:
				d.Stop()
			case <-done:
			}
			return nil
		})
		return g.Wait()
	},
}

// console is the interactive interface the probe re-enters whenever the
// target stops.
type console struct {
	d     *debugger.Debugger
	rl    *readline.Instance
	w     io.Writer
	color aurora.Aurora
}

func (con *console) debug() {
	con.printLocation()

	for {
		line, err := con.rl.Readline()
		if err != nil {
			// Closed input ends the session; the target runs out.
			con.d.Stop()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		args, err := shellquote.Split(line)
		if err != nil {
			fmt.Fprintf(con.w, "err: %s\n", err)
			continue
		}

		switch args[0] {
		case "help", "h":
			con.printHelp()
		case "step", "s":
			con.d.Step()
			return
		case "next", "n":
			con.d.StepOver()
			return
		case "continue", "c":
			con.d.Continue()
			return
		case "exit", "quit", "q":
			con.d.Stop()
			return
		case "list", "l":
			con.printLocation()
		case "vars", "v":
			con.printVars()
		case "backtrace", "bt":
			con.printBacktrace()
		case "break", "b":
			con.addBreakpoint(args[1:])
		case "clear":
			con.clearBreakpoint(args[1:])
		case "breakpoints":
			for _, bp := range con.d.Breakpoints() {
				fmt.Fprintf(con.w, "%s\n", con.color.Sprintf("%s at %s", con.color.Yellow("Breakpoint"), bp))
			}
		case "mode":
			con.mode(args[1:])
		case "print", "p":
			con.printExpr(strings.Join(args[1:], " "))
		case "eval", "e":
			con.eval(args[1:])
		default:
			fmt.Fprintf(con.w, "unrecognized command %q, try \"help\"\n", args[0])
		}
	}
}

func (con *console) printHelp() {
	fmt.Fprintf(con.w, "# Inspect\n")
	fmt.Fprintf(con.w, "help - shows this help message\n")
	fmt.Fprintf(con.w, "list - show source around the current line\n")
	fmt.Fprintf(con.w, "vars - print globals and locals of the current frame\n")
	fmt.Fprintf(con.w, "backtrace - print the stacktrace\n")
	fmt.Fprintf(con.w, "print <expr> - evaluate an expression in the current frame\n")
	fmt.Fprintf(con.w, "eval [depth] <code> - run statements in a frame\n")
	fmt.Fprintf(con.w, "# Breakpoints\n")
	fmt.Fprintf(con.w, "break [<file>:]<line> [<condition>] - set a breakpoint\n")
	fmt.Fprintf(con.w, "clear [<file>:]<line> - delete a breakpoint\n")
	fmt.Fprintf(con.w, "breakpoints - list breakpoints\n")
	fmt.Fprintf(con.w, "# Movement\n")
	fmt.Fprintf(con.w, "step - single step to the next line\n")
	fmt.Fprintf(con.w, "next - step over to the next line in this function\n")
	fmt.Fprintf(con.w, "continue - run until breakpoint or program end\n")
	fmt.Fprintf(con.w, "mode [step|breakpoint] - get or set the debug mode\n")
	fmt.Fprintf(con.w, "exit - leave the debugger, target runs out\n")
}

func (con *console) printLocation() {
	fi, err := con.d.GetFrame()
	if err != nil {
		fmt.Fprintf(con.w, "err: %s\n", err)
		return
	}

	fmt.Fprintf(con.w, "%s %s\n",
		con.color.Sprintf(con.color.Blue("-->")),
		con.color.Sprintf(con.color.Bold("%s:%d: in %s"), fi.Filename, fi.Line, fi.Function))

	lines, start, err := con.d.Sources().Context(fi.Filename, fi.Line, 7)
	if err != nil {
		return
	}
	for i, line := range lines {
		ln := start + i
		marker := "  "
		if ln == fi.Line {
			marker = con.color.Sprintf(con.color.Green("=>"))
		}
		fmt.Fprintf(con.w, "%s %s %s\n", marker, con.color.Sprintf(con.color.Blue("%4d |"), ln), line)
	}
}

func (con *console) printVars() {
	globals, locals, err := con.d.GetGlobalsAndLocals()
	if err != nil {
		fmt.Fprintf(con.w, "err: %s\n", err)
		return
	}

	fmt.Fprintf(con.w, "%s\n", con.color.Yellow("GLOBALS:"))
	con.printScope(globals)
	if !sameScope(globals, locals) {
		fmt.Fprintf(con.w, "%s\n", con.color.Yellow("LOCALS:"))
		con.printScope(locals)
	}
}

func (con *console) printScope(scope map[string]vm.Value) {
	var names []string
	for name := range scope {
		if name == debugger.ProbeName || strings.HasPrefix(name, "__") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(con.w, "  %s = %s\n", name, vm.Format(scope[name]))
	}
}

func (con *console) printBacktrace() {
	tree := treeprint.New()
	tree.SetValue("stacktrace")
	for _, fi := range con.d.GetStacktrace() {
		tree.AddNode(fi.String())
	}
	fmt.Fprint(con.w, tree.String())
}

func (con *console) addBreakpoint(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(con.w, "usage: break [<file>:]<line> [<condition>]\n")
		return
	}

	file, line, err := con.parseLocation(args[0])
	if err != nil {
		fmt.Fprintf(con.w, "err: %s\n", err)
		return
	}

	condition := strings.Join(args[1:], " ")
	bp, err := con.d.AddBreakpoint(file, line, condition)
	if err != nil {
		fmt.Fprintf(con.w, "err: %s\n", err)
		return
	}
	fmt.Fprintf(con.w, "%s\n", con.color.Sprintf("%s at %s", con.color.Yellow("Breakpoint"), bp))
}

func (con *console) clearBreakpoint(args []string) {
	if len(args) != 1 {
		fmt.Fprintf(con.w, "usage: clear [<file>:]<line>\n")
		return
	}

	file, line, err := con.parseLocation(args[0])
	if err != nil {
		fmt.Fprintf(con.w, "err: %s\n", err)
		return
	}
	con.d.RemoveBreakpoint(file, line)
}

// parseLocation parses [<file>:]<line>, defaulting to the stopped frame's
// file.
func (con *console) parseLocation(loc string) (string, int, error) {
	file, lineStr := "", loc
	if i := strings.LastIndex(loc, ":"); i >= 0 {
		file, lineStr = loc[:i], loc[i+1:]
	}

	line, err := strconv.Atoi(lineStr)
	if err != nil || line < 1 {
		return "", 0, errors.Errorf("invalid line %q", lineStr)
	}

	if file == "" {
		fi, err := con.d.GetFrame()
		if err != nil {
			return "", 0, err
		}
		file = fi.Filename
	}
	return file, line, nil
}

func (con *console) mode(args []string) {
	switch {
	case len(args) == 0:
		fmt.Fprintf(con.w, "%s\n", con.d.Mode())
	case args[0] == "step":
		con.d.SetMode(debugger.StepMode)
	case args[0] == "breakpoint":
		con.d.SetMode(debugger.BreakpointMode)
	default:
		fmt.Fprintf(con.w, "unrecognized mode %q\n", args[0])
	}
}

func (con *console) printExpr(src string) {
	if src == "" {
		fmt.Fprintf(con.w, "usage: print <expr>\n")
		return
	}
	v, err := con.d.EvalExprInFrame(src, 0)
	if err != nil {
		fmt.Fprintf(con.w, "err: %s\n", err)
		return
	}
	fmt.Fprintf(con.w, "%s\n", vm.Format(v))
}

func (con *console) eval(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(con.w, "usage: eval [depth] <code>\n")
		return
	}

	depth := 0
	if n, err := strconv.Atoi(args[0]); err == nil && len(args) > 1 {
		depth = n
		args = args[1:]
	}

	err := con.d.EvalInFrame(strings.Join(args, " "), depth)
	if err != nil {
		fmt.Fprintf(con.w, "err: %s\n", err)
	}
}

func sameScope(a, b map[string]vm.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for name := range a {
		if _, ok := b[name]; !ok {
			return false
		}
	}
	return true
}
