package debugger

import (
	"github.com/brook-lang/brook/compiler"
	"github.com/brook-lang/brook/vm"
	"github.com/pkg/errors"
)

// loaderFinder is installed ahead of the machine's default source finder for
// the duration of a session, so every module imported by the target is
// compiled, rewritten and given the probe binding before it executes. A
// module it cannot locate yields no spec, letting the finders behind it try.
type loaderFinder struct {
	d *Debugger
}

func (f *loaderFinder) Find(m *vm.Machine, fullname string, searchPath []string) (*vm.ModuleSpec, error) {
	filename, childPath, ok := vm.ResolveModuleFile(m, fullname, searchPath)
	if !ok {
		return nil, nil
	}

	return &vm.ModuleSpec{
		Name:       fullname,
		Filename:   filename,
		SearchPath: childPath,
		Load: func(m *vm.Machine, mod *vm.Module) error {
			code, err := compiler.CompileFile(mod.Filename)
			if err != nil {
				return errors.Wrapf(err, "failed to load module %s", fullname)
			}
			code = Rewrite(code)
			mod.Globals[ProbeName] = f.d.Probe()
			_, err = m.RunCode(code, mod.Globals, mod.Globals)
			return err
		},
	}, nil
}

// InstallLoader arranges for subsequent imports to be instrumented and
// returns the teardown that removes the interceptor and invalidates the
// module cache, so a later run without the debugger does not pick up
// rewritten code.
func (d *Debugger) InstallLoader() (uninstall func()) {
	finder := &loaderFinder{d}
	d.machine.PushFinder(finder)
	return func() {
		d.machine.RemoveFinder(finder)
		d.machine.InvalidateModules()
	}
}
