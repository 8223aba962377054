package debugger

import (
	"testing"

	"github.com/brook-lang/brook/bytecode"
	"github.com/brook-lang/brook/compiler"
	"github.com/brook-lang/brook/vm"
	"github.com/stretchr/testify/require"
)

// countingProbe returns a probe binding that records the line of every
// invocation.
func countingProbe(counts map[int]int) vm.Value {
	return &vm.Builtin{
		Name: ProbeName,
		Fn: func(m *vm.Machine, args []vm.Value) (vm.Value, error) {
			counts[m.CurrentFrame().Line]++
			return nil, nil
		},
	}
}

func TestRewriteProbeCoverage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeSource(t, dir, "loop.bk", `
		i = 0
		while i < 3 {
			i = i + 1
		}
		done = 1
	`)

	code, err := compiler.CompileFile(path)
	require.NoError(t, err)
	code = Rewrite(code)

	counts := make(map[int]int)
	globals := map[string]vm.Value{ProbeName: countingProbe(counts)}
	_, err = vm.New().RunCode(code, globals, globals)
	require.NoError(t, err)

	// One probe run per execution of each line: the loop head is reached
	// four times, the body three.
	require.Equal(t, map[int]int{1: 1, 2: 4, 3: 3, 5: 1}, counts)
	require.Equal(t, int64(3), globals["i"])
}

func TestRewritePreservesBehavior(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeSource(t, dir, "branches.bk", `
		def add(x, y) {
			return x + y
		}
		total = 0
		i = 0
		while i < 4 {
			if i % 2 == 0 {
				total = add(total, i)
			} else {
				total = total + 1
			}
			i = i + 1
		}
	`)

	code, err := compiler.CompileFile(path)
	require.NoError(t, err)

	plain := map[string]vm.Value{}
	_, err = vm.New().RunCode(code, plain, plain)
	require.NoError(t, err)

	noop := &vm.Builtin{
		Name: ProbeName,
		Fn: func(m *vm.Machine, args []vm.Value) (vm.Value, error) {
			return nil, nil
		},
	}
	instrumented := map[string]vm.Value{ProbeName: noop}
	_, err = vm.New().RunCode(Rewrite(code), instrumented, instrumented)
	require.NoError(t, err)

	require.Equal(t, plain["total"], instrumented["total"])
	require.Equal(t, plain["i"], instrumented["i"])
	require.Equal(t, int64(4), plain["total"])
}

func TestRewriteDescendsIntoFunctions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeSource(t, dir, "func.bk", `
		def f(v) {
			return v + 1
		}
		out = f(1)
	`)

	code, err := compiler.CompileFile(path)
	require.NoError(t, err)
	rewritten := Rewrite(code)

	var nested *bytecode.Code
	for _, con := range rewritten.Consts {
		if c, ok := con.(*bytecode.Code); ok {
			nested = c
		}
	}
	require.NotNil(t, nested)
	require.True(t, hasProbeCall(nested))

	counts := make(map[int]int)
	globals := map[string]vm.Value{ProbeName: countingProbe(counts)}
	_, err = vm.New().RunCode(rewritten, globals, globals)
	require.NoError(t, err)
	require.Equal(t, 1, counts[2])
	require.Equal(t, int64(2), globals["out"])
}

func TestRewriteSkipsCodeWithoutSource(t *testing.T) {
	t.Parallel()
	code, err := compiler.CompileSnippet("a = 1", "<string>")
	require.NoError(t, err)

	rewritten := Rewrite(code)
	require.Same(t, code, rewritten)
}

func TestRewriteRemapsJumpTargets(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeSource(t, dir, "jumps.bk", `
		x = 0
		if x == 0 {
			y = 1
		} else {
			y = 2
		}
		while x < 2 {
			x = x + 1
		}
	`)

	code, err := compiler.CompileFile(path)
	require.NoError(t, err)
	rewritten := Rewrite(code)

	for _, instr := range rewritten.Instrs {
		if instr.Op.HasJumpTarget() {
			require.GreaterOrEqual(t, instr.Arg, 0)
			require.LessOrEqual(t, instr.Arg, len(rewritten.Instrs))
		}
	}

	globals := map[string]vm.Value{ProbeName: &vm.Builtin{
		Name: ProbeName,
		Fn: func(m *vm.Machine, args []vm.Value) (vm.Value, error) {
			return nil, nil
		},
	}}
	_, err = vm.New().RunCode(rewritten, globals, globals)
	require.NoError(t, err)
	require.Equal(t, int64(2), globals["x"])
	require.Equal(t, int64(1), globals["y"])
}

func TestRewritePreservesAttributes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeSource(t, dir, "attrs.bk", `
		def f(a, b) {
			global g
			g = a + b
		}
		f(1, 2)
	`)

	code, err := compiler.CompileFile(path)
	require.NoError(t, err)
	rewritten := Rewrite(code)

	require.Equal(t, code.Filename, rewritten.Filename)
	require.Equal(t, code.FuncName, rewritten.FuncName)

	var orig, instr *bytecode.Code
	for _, con := range code.Consts {
		if c, ok := con.(*bytecode.Code); ok {
			orig = c
		}
	}
	for _, con := range rewritten.Consts {
		if c, ok := con.(*bytecode.Code); ok {
			instr = c
		}
	}
	require.NotNil(t, orig)
	require.NotNil(t, instr)
	require.Equal(t, orig.Params, instr.Params)
	require.Equal(t, orig.Globals, instr.Globals)
	require.Equal(t, orig.FuncName, instr.FuncName)
}

func hasProbeCall(code *bytecode.Code) bool {
	for _, instr := range code.Instrs {
		if instr.Op == bytecode.OpLoadGlobal && code.Names[instr.Arg] == ProbeName {
			return true
		}
	}
	return false
}
