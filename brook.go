// Package brook is the front door to the Brook language runtime: a small
// dynamically typed scripting language with a bytecode compiler, a stack
// machine, and a source-level debugger built on bytecode rewriting.
package brook

import (
	"io"
	"path/filepath"

	"github.com/brook-lang/brook/bytecode"
	"github.com/brook-lang/brook/compiler"
	"github.com/brook-lang/brook/debugger"
	"github.com/brook-lang/brook/parser"
	"github.com/brook-lang/brook/vm"
)

// Compile parses and compiles a Brook module from r. Use parser.NamedReader
// to attach a filename to positions.
func Compile(r io.Reader) (*bytecode.Code, error) {
	mod, err := parser.Parse(r)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(mod, "")
}

// CompileFile parses and compiles the Brook module at path.
func CompileFile(path string) (*bytecode.Code, error) {
	return compiler.CompileFile(path)
}

// Run compiles and executes the program at path on a fresh machine rooted in
// the program's directory.
func Run(path string, args []string, opts ...vm.MachineOption) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	code, err := compiler.CompileFile(abs)
	if err != nil {
		return err
	}

	m := vm.New(append([]vm.MachineOption{
		vm.WithDir(filepath.Dir(abs)),
		vm.WithArgs(append([]string{abs}, args...)),
	}, opts...)...)

	globals := map[string]vm.Value{
		"__name__": "__main__",
	}
	_, err = m.RunCode(code, globals, globals)
	return err
}

// Debug starts a debug session for the program at path on a fresh machine.
// iface receives the session's debugger at every stop and drives it through
// the command methods. Debug blocks until the target finishes.
func Debug(iface func(*debugger.Debugger), path string, opts ...debugger.StartOption) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	d := debugger.New(vm.New(vm.WithDir(filepath.Dir(abs))))
	return d.Start(func() { iface(d) }, abs, opts...)
}
