package vm_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brook-lang/brook/compiler"
	"github.com/brook-lang/brook/vm"
	"github.com/lithammer/dedent"
	"github.com/stretchr/testify/require"
)

func cleanup(src string) string {
	return strings.TrimSpace(dedent.Dedent(src)) + "\n"
}

func run(t *testing.T, m *vm.Machine, src string) map[string]vm.Value {
	t.Helper()
	code, err := compiler.CompileSnippet(cleanup(src), "<test>")
	require.NoError(t, err)

	globals := map[string]vm.Value{}
	_, err = m.RunCode(code, globals, globals)
	require.NoError(t, err)
	return globals
}

func TestArithmetic(t *testing.T) {
	t.Parallel()
	globals := run(t, vm.New(), `
		a = 1 + 2 * 3
		b = (1 + 2) * 3
		c = 10 / 4
		d = 10.0 / 4
		e = 7 % 3
		f = -a
		s = "foo" + "bar"
	`)
	require.Equal(t, int64(7), globals["a"])
	require.Equal(t, int64(9), globals["b"])
	require.Equal(t, int64(2), globals["c"])
	require.Equal(t, 2.5, globals["d"])
	require.Equal(t, int64(1), globals["e"])
	require.Equal(t, int64(-7), globals["f"])
	require.Equal(t, "foobar", globals["s"])
}

func TestComparisonAndLogic(t *testing.T) {
	t.Parallel()
	globals := run(t, vm.New(), `
		a = 1 < 2
		b = 2 <= 1
		c = 1 == 1.0
		d = "x" != "y"
		e = true && false
		f = false || 5
		g = !0
	`)
	require.Equal(t, true, globals["a"])
	require.Equal(t, false, globals["b"])
	require.Equal(t, true, globals["c"])
	require.Equal(t, true, globals["d"])
	require.Equal(t, false, globals["e"])
	require.Equal(t, int64(5), globals["f"])
	require.Equal(t, true, globals["g"])
}

func TestControlFlow(t *testing.T) {
	t.Parallel()
	globals := run(t, vm.New(), `
		total = 0
		i = 0
		while i < 5 {
			if i % 2 == 0 {
				total = total + i
			} else if i == 3 {
				total = total + 100
			} else {
				total = total - 1
			}
			i = i + 1
		}
	`)
	// 0 + 2 + 4 from evens, +100 for three, -1 for one.
	require.Equal(t, int64(105), globals["total"])
}

func TestFunctionsAndGlobals(t *testing.T) {
	t.Parallel()
	globals := run(t, vm.New(), `
		def bump(v) {
			global counter
			counter = counter + v
			return counter
		}
		counter = 0
		a = bump(2)
		b = bump(3)
	`)
	require.Equal(t, int64(5), globals["counter"])
	require.Equal(t, int64(2), globals["a"])
	require.Equal(t, int64(5), globals["b"])
}

func TestLocalsDoNotLeak(t *testing.T) {
	t.Parallel()
	globals := run(t, vm.New(), `
		def f() {
			hidden = 1
			return hidden
		}
		out = f()
	`)
	require.Equal(t, int64(1), globals["out"])
	require.NotContains(t, globals, "hidden")
}

func TestRecursion(t *testing.T) {
	t.Parallel()
	globals := run(t, vm.New(), `
		def fib(n) {
			if n < 2 {
				return n
			}
			return fib(n - 1) + fib(n - 2)
		}
		out = fib(10)
	`)
	require.Equal(t, int64(55), globals["out"])
}

func TestListsAndIndexing(t *testing.T) {
	t.Parallel()
	globals := run(t, vm.New(), `
		xs = [1, 2, 3]
		xs[1] = 20
		a = xs[0] + xs[1]
		n = len(xs)
		s = "abc"[1]
	`)
	require.Equal(t, int64(21), globals["a"])
	require.Equal(t, int64(3), globals["n"])
	require.Equal(t, "b", globals["s"])
}

func TestRuntimeErrorCarriesPosition(t *testing.T) {
	t.Parallel()
	code, err := compiler.CompileSnippet(cleanup(`
		a = 1
		b = missing
	`), "<test>")
	require.NoError(t, err)

	globals := map[string]vm.Value{}
	_, err = vm.New().RunCode(code, globals, globals)
	require.Error(t, err)
	require.Contains(t, err.Error(), ":2:")
	require.Contains(t, err.Error(), "missing")
}

func TestPrintAndInput(t *testing.T) {
	t.Parallel()
	stdout := new(bytes.Buffer)
	m := vm.New(vm.WithStdio(strings.NewReader("world\n"), stdout, stdout))

	run(t, m, `
		name = input()
		println("hello", name)
	`)
	require.Equal(t, "hello world\n", stdout.String())
}

func TestArgsBuiltin(t *testing.T) {
	t.Parallel()
	m := vm.New(vm.WithArgs([]string{"/src/prog.bk", "-v"}))
	globals := run(t, m, `
		argv = args()
		n = len(argv)
		first = argv[0]
	`)
	require.Equal(t, int64(2), globals["n"])
	require.Equal(t, "/src/prog.bk", globals["first"])
}

func TestRunCodeAgainstProvidedBindings(t *testing.T) {
	t.Parallel()
	code, err := compiler.CompileSnippet("b = a + 1", "<test>")
	require.NoError(t, err)

	globals := map[string]vm.Value{"g": int64(10)}
	locals := map[string]vm.Value{"a": int64(1)}
	_, err = vm.New().RunCode(code, globals, locals)
	require.NoError(t, err)

	// Stores land in locals, loads search locals first.
	require.Equal(t, int64(2), locals["b"])
	require.NotContains(t, globals, "b")
}

func TestImportBindsLeafModule(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write(t, dir, "helper.bk", `
		value = 41
		def bump(v) {
			return v + 1
		}
	`)

	m := vm.New(vm.WithDir(dir))
	globals := run(t, m, `
		import helper
		out = helper.bump(helper.value)
	`)
	require.Equal(t, int64(42), globals["out"])

	mod, ok := globals["helper"].(*vm.Module)
	require.True(t, ok)
	require.Equal(t, "helper", mod.Name)
}

func TestImportPackageInitializer(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	pkg := filepath.Join(dir, "box")
	require.NoError(t, os.Mkdir(pkg, 0755))
	write(t, pkg, "init.bk", `
		value = 1
	`)
	write(t, pkg, "extra.bk", `
		value = 2
	`)

	m := vm.New(vm.WithDir(dir))
	globals := run(t, m, `
		import box
		import box.extra
		a = box.value
		b = extra.value
	`)
	require.Equal(t, int64(1), globals["a"])
	require.Equal(t, int64(2), globals["b"])
}

func TestImportMissingModule(t *testing.T) {
	t.Parallel()
	code, err := compiler.CompileSnippet("import nowhere", "<test>")
	require.NoError(t, err)

	globals := map[string]vm.Value{}
	_, err = vm.New(vm.WithDir(t.TempDir())).RunCode(code, globals, globals)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no module named")
}

func TestImportIsCachedUntilInvalidated(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write(t, dir, "counted.bk", `
		value = 1
	`)

	m := vm.New(vm.WithDir(dir))
	counter := &countingFinder{}
	m.PushFinder(counter)

	run(t, m, "import counted")
	run(t, m, "import counted")
	require.Equal(t, 1, counter.loads)

	m.InvalidateModules()
	run(t, m, "import counted")
	require.Equal(t, 2, counter.loads)

	m.RemoveFinder(counter)
	require.Len(t, m.Finders(), 1)
}

// countingFinder resolves and loads modules the way the default source finder
// does, and counts module loads.
type countingFinder struct {
	loads int
}

func (f *countingFinder) Find(m *vm.Machine, fullname string, searchPath []string) (*vm.ModuleSpec, error) {
	filename, childPath, ok := vm.ResolveModuleFile(m, fullname, searchPath)
	if !ok {
		return nil, nil
	}
	return &vm.ModuleSpec{
		Name:       fullname,
		Filename:   filename,
		SearchPath: childPath,
		Load: func(m *vm.Machine, mod *vm.Module) error {
			f.loads++
			code, err := compiler.CompileFile(mod.Filename)
			if err != nil {
				return err
			}
			_, err = m.RunCode(code, mod.Globals, mod.Globals)
			return err
		},
	}, nil
}

func write(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(cleanup(src)), 0644)
	require.NoError(t, err)
	return path
}
