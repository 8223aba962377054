package compiler_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brook-lang/brook/bytecode"
	"github.com/brook-lang/brook/compiler"
	"github.com/lithammer/dedent"
	"github.com/stretchr/testify/require"
)

func cleanup(src string) string {
	return strings.TrimSpace(dedent.Dedent(src)) + "\n"
}

func TestCompileFileCanonicalizesFilename(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.bk")
	err := os.WriteFile(path, []byte("a = 1\n"), 0644)
	require.NoError(t, err)

	code, err := compiler.CompileFile(path)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(code.Filename))
	require.Equal(t, compiler.ModuleName, code.FuncName)
}

func TestLineAnnotations(t *testing.T) {
	t.Parallel()
	code, err := compiler.CompileSnippet(cleanup(`
		a = 1
		b = 2

		c = 3
	`), "<test>")
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 4}, code.Lines())
}

func TestNestedFunctionConstant(t *testing.T) {
	t.Parallel()
	code, err := compiler.CompileSnippet(cleanup(`
		def outer(v) {
			def inner() {
				return 1
			}
			return inner() + v
		}
	`), "<test>")
	require.NoError(t, err)

	outer := findCode(code)
	require.NotNil(t, outer)
	require.Equal(t, "outer", outer.FuncName)
	require.Equal(t, []string{"v"}, outer.Params)

	inner := findCode(outer)
	require.NotNil(t, inner)
	require.Equal(t, "outer.inner", inner.FuncName)
}

func TestGlobalDeclaration(t *testing.T) {
	t.Parallel()
	code, err := compiler.CompileSnippet(cleanup(`
		def set(v) {
			global a
			a = v
			b = v
		}
	`), "<test>")
	require.NoError(t, err)

	fn := findCode(code)
	require.NotNil(t, fn)
	require.True(t, fn.IsGlobal("a"))
	require.False(t, fn.IsGlobal("b"))

	var stores []bytecode.Opcode
	for _, instr := range fn.Instrs {
		if instr.Op == bytecode.OpStoreGlobal || instr.Op == bytecode.OpStoreName {
			stores = append(stores, instr.Op)
		}
	}
	require.Equal(t, []bytecode.Opcode{bytecode.OpStoreGlobal, bytecode.OpStoreName}, stores)
}

func TestCompileExpr(t *testing.T) {
	t.Parallel()
	code, err := compiler.CompileExpr("a == 1", "<condition>")
	require.NoError(t, err)
	require.Equal(t, bytecode.OpReturn, code.Instrs[len(code.Instrs)-1].Op)

	_, err = compiler.CompileExpr("a = 1", "<condition>")
	require.Error(t, err)

	_, err = compiler.CompileExpr("if a { }", "<condition>")
	require.Error(t, err)
}

func TestReturnOutsideFunction(t *testing.T) {
	t.Parallel()
	_, err := compiler.CompileSnippet("return 1", "<test>")
	require.Error(t, err)
	require.Contains(t, err.Error(), "return outside of function")
}

func TestInvalidAssignmentTarget(t *testing.T) {
	t.Parallel()
	_, err := compiler.CompileSnippet("a + b = 1", "<test>")
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot assign")

	_, err = compiler.CompileSnippet("f() = 1", "<test>")
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot assign")
}

func TestImportCompilesToStore(t *testing.T) {
	t.Parallel()
	code, err := compiler.CompileSnippet("import a.b", "<test>")
	require.NoError(t, err)

	require.Equal(t, bytecode.OpImport, code.Instrs[0].Op)
	require.Equal(t, "a.b", code.Names[code.Instrs[0].Arg])
	require.Equal(t, bytecode.OpStoreName, code.Instrs[1].Op)
	require.Equal(t, "b", code.Names[code.Instrs[1].Arg])
}

func TestDumpIsReadable(t *testing.T) {
	t.Parallel()
	code, err := compiler.CompileSnippet(cleanup(`
		def f() {
			return 1
		}
		a = f()
	`), "<test>")
	require.NoError(t, err)

	dump := code.Dump()
	require.Contains(t, dump, "MAKE_FUNC")
	require.Contains(t, dump, "CALL")
	require.Contains(t, dump, "STORE_NAME")
}

func findCode(code *bytecode.Code) *bytecode.Code {
	for _, con := range code.Consts {
		if nested, ok := con.(*bytecode.Code); ok {
			return nested
		}
	}
	return nil
}
