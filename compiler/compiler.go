// Package compiler lowers Brook syntax trees into bytecode code objects.
//
// Name binding is dynamic in the LOAD_NAME/STORE_NAME manner so that any code
// object can be executed against caller-provided globals and locals maps,
// which is what the debugger relies on for conditional breakpoints and
// expression evaluation inside stopped frames.
package compiler

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/brook-lang/brook/bytecode"
	"github.com/brook-lang/brook/parser"
	"github.com/brook-lang/brook/parser/ast"
	"github.com/pkg/errors"
)

// ModuleName is the qualified name given to module-level code objects.
const ModuleName = "<module>"

// Compile lowers a parsed module into a code object. The filename should be
// the absolute path of the backing source file, or empty for code compiled
// from a string with no locatable source.
func Compile(mod *ast.Module, filename string) (*bytecode.Code, error) {
	c := newCompiler(filename, ModuleName, nil)
	err := c.stmts(mod.Stmts)
	if err != nil {
		return nil, err
	}
	c.finish()
	return c.code, nil
}

// CompileFile parses and compiles the module at path. The resulting code
// object carries the canonical absolute path of the file.
func CompileFile(path string) (*bytecode.Code, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	mod, err := parser.ParseFile(abs)
	if err != nil {
		return nil, err
	}

	return Compile(mod, abs)
}

// CompileSnippet compiles statements from a string. The code object has no
// filename, so the rewriter leaves it untouched.
func CompileSnippet(src, name string) (*bytecode.Code, error) {
	mod, err := parser.Parse(&parser.NamedReader{
		Reader: strings.NewReader(src),
		Value:  name,
	})
	if err != nil {
		return nil, err
	}

	c := newCompiler("", name, nil)
	err = c.stmts(mod.Stmts)
	if err != nil {
		return nil, err
	}
	c.finish()
	return c.code, nil
}

// CompileExpr compiles a single expression from a string into a code object
// that returns the expression's value.
func CompileExpr(src, name string) (*bytecode.Code, error) {
	mod, err := parser.Parse(&parser.NamedReader{
		Reader: strings.NewReader(src),
		Value:  name,
	})
	if err != nil {
		return nil, err
	}

	if len(mod.Stmts) != 1 || mod.Stmts[0].Simple == nil || mod.Stmts[0].Simple.RHS != nil {
		return nil, errors.Errorf("%s is not a single expression", name)
	}

	c := newCompiler("", name, nil)
	err = c.expr(mod.Stmts[0].Simple.LHS)
	if err != nil {
		return nil, err
	}
	c.emit(bytecode.OpReturn, 0)
	return c.code, nil
}

type compiler struct {
	code    *bytecode.Code
	line    int
	inFunc  bool
	globals map[string]struct{}
}

func newCompiler(filename, funcName string, params []string) *compiler {
	return &compiler{
		code: &bytecode.Code{
			Filename: filename,
			FuncName: funcName,
			Params:   params,
		},
		globals: make(map[string]struct{}),
	}
}

// finish appends the implicit nil return. The synthesized instructions carry
// no source line so the rewriter does not instrument them.
func (c *compiler) finish() {
	c.line = 0
	c.emit(bytecode.OpConst, c.constIndex(nil))
	c.emit(bytecode.OpReturn, 0)
}

func (c *compiler) emit(op bytecode.Opcode, arg int) int {
	c.code.Instrs = append(c.code.Instrs, bytecode.Instr{Op: op, Arg: arg, Line: c.line})
	return len(c.code.Instrs) - 1
}

// patch rewrites the operand of the jump instruction at index to the current
// instruction position.
func (c *compiler) patch(index int) {
	c.code.Instrs[index].Arg = len(c.code.Instrs)
}

func (c *compiler) constIndex(v interface{}) int {
	c.code.Consts = append(c.code.Consts, v)
	return len(c.code.Consts) - 1
}

func (c *compiler) nameIndex(name string) int {
	for i, n := range c.code.Names {
		if n == name {
			return i
		}
	}
	c.code.Names = append(c.code.Names, name)
	return len(c.code.Names) - 1
}

func (c *compiler) errf(pos lexer.Position, format string, a ...interface{}) error {
	return errors.Errorf("%s:%d:%d: "+format, append([]interface{}{pos.Filename, pos.Line, pos.Column}, a...)...)
}

func (c *compiler) stmts(stmts []*ast.Stmt) error {
	for _, stmt := range stmts {
		err := c.stmt(stmt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) stmt(stmt *ast.Stmt) error {
	c.line = stmt.Position().Line

	switch {
	case stmt.Import != nil:
		path := strings.Join(stmt.Import.Path, ".")
		c.emit(bytecode.OpImport, c.nameIndex(path))
		c.emit(bytecode.OpStoreName, c.nameIndex(stmt.Import.Name()))
		return nil
	case stmt.Func != nil:
		return c.funcDecl(stmt.Func)
	case stmt.If != nil:
		return c.ifStmt(stmt.If)
	case stmt.While != nil:
		return c.whileStmt(stmt.While)
	case stmt.Return != nil:
		if !c.inFunc {
			return c.errf(stmt.Position(), "return outside of function")
		}
		if stmt.Return.Value != nil {
			err := c.expr(stmt.Return.Value)
			if err != nil {
				return err
			}
		} else {
			c.emit(bytecode.OpConst, c.constIndex(nil))
		}
		c.emit(bytecode.OpReturn, 0)
		return nil
	case stmt.Global != nil:
		if !c.inFunc {
			// Module level bindings are global already.
			return nil
		}
		for _, name := range stmt.Global.Names {
			c.globals[name] = struct{}{}
			c.code.Globals = append(c.code.Globals, name)
		}
		return nil
	case stmt.Simple != nil:
		return c.simpleStmt(stmt.Simple)
	}
	return c.errf(stmt.Position(), "unrecognized statement")
}

func (c *compiler) funcDecl(decl *ast.FuncDecl) error {
	funcName := decl.Name
	if c.inFunc {
		funcName = c.code.FuncName + "." + decl.Name
	}

	sub := newCompiler(c.code.Filename, funcName, decl.Params)
	sub.inFunc = true
	sub.line = decl.Position().Line
	err := sub.stmts(decl.Body.Stmts)
	if err != nil {
		return err
	}
	sub.finish()

	c.line = decl.Position().Line
	c.emit(bytecode.OpMakeFunc, c.constIndex(sub.code))
	c.emit(bytecode.OpStoreName, c.nameIndex(decl.Name))
	return nil
}

func (c *compiler) ifStmt(stmt *ast.IfStmt) error {
	c.line = stmt.Position().Line
	err := c.expr(stmt.Cond)
	if err != nil {
		return err
	}
	jumpElse := c.emit(bytecode.OpJumpIfFalse, 0)

	err = c.stmts(stmt.Body.Stmts)
	if err != nil {
		return err
	}

	switch {
	case stmt.ElseIf != nil:
		jumpEnd := c.emit(bytecode.OpJump, 0)
		c.patch(jumpElse)
		err = c.ifStmt(stmt.ElseIf)
		if err != nil {
			return err
		}
		c.patch(jumpEnd)
	case stmt.Else != nil:
		jumpEnd := c.emit(bytecode.OpJump, 0)
		c.patch(jumpElse)
		err = c.stmts(stmt.Else.Stmts)
		if err != nil {
			return err
		}
		c.patch(jumpEnd)
	default:
		c.patch(jumpElse)
	}
	return nil
}

func (c *compiler) whileStmt(stmt *ast.WhileStmt) error {
	c.line = stmt.Position().Line
	top := len(c.code.Instrs)
	err := c.expr(stmt.Cond)
	if err != nil {
		return err
	}
	jumpEnd := c.emit(bytecode.OpJumpIfFalse, 0)

	err = c.stmts(stmt.Body.Stmts)
	if err != nil {
		return err
	}

	c.line = stmt.Position().Line
	c.emit(bytecode.OpJump, top)
	c.patch(jumpEnd)
	return nil
}

func (c *compiler) simpleStmt(stmt *ast.SimpleStmt) error {
	if stmt.RHS == nil {
		err := c.expr(stmt.LHS)
		if err != nil {
			return err
		}
		c.emit(bytecode.OpPop, 0)
		return nil
	}
	return c.assign(stmt.LHS, stmt.RHS)
}

func (c *compiler) assign(lhs, rhs *ast.Expr) error {
	target, err := c.target(lhs)
	if err != nil {
		return err
	}

	if len(target.Suffixes) == 0 {
		if target.Primary.Ident == nil {
			return c.errf(lhs.Position(), "cannot assign to %s", lhs)
		}
		err = c.expr(rhs)
		if err != nil {
			return err
		}
		c.store(*target.Primary.Ident)
		return nil
	}

	// Evaluate the container, then assign through the final suffix.
	err = c.postfix(target.Primary, target.Suffixes[:len(target.Suffixes)-1])
	if err != nil {
		return err
	}

	last := target.Suffixes[len(target.Suffixes)-1]
	switch {
	case last.Index != nil:
		err = c.expr(last.Index.Index)
		if err != nil {
			return err
		}
		err = c.expr(rhs)
		if err != nil {
			return err
		}
		c.emit(bytecode.OpSetIndex, 0)
	case last.Attr != nil:
		err = c.expr(rhs)
		if err != nil {
			return err
		}
		c.emit(bytecode.OpSetAttr, c.nameIndex(last.Attr.Name))
	default:
		return c.errf(lhs.Position(), "cannot assign to call")
	}
	return nil
}

// store emits the binding instruction for an assignment to name, honoring
// global declarations inside function bodies.
func (c *compiler) store(name string) {
	if _, ok := c.globals[name]; ok && c.inFunc {
		c.emit(bytecode.OpStoreGlobal, c.nameIndex(name))
		return
	}
	c.emit(bytecode.OpStoreName, c.nameIndex(name))
}

// target reduces an expression to its postfix form when it is syntactically
// assignable.
func (c *compiler) target(e *ast.Expr) (*ast.PostfixExpr, error) {
	if len(e.Ops) != 0 || len(e.Left.Ops) != 0 || len(e.Left.Left.Ops) != 0 ||
		len(e.Left.Left.Left.Ops) != 0 || len(e.Left.Left.Left.Left.Ops) != 0 {
		return nil, c.errf(e.Position(), "cannot assign to %s", e)
	}
	unary := e.Left.Left.Left.Left.Left
	if unary.Op != "" {
		return nil, c.errf(e.Position(), "cannot assign to %s", e)
	}
	return unary.Postfix, nil
}

var binaryOps = map[string]bytecode.Opcode{
	"+":  bytecode.OpAdd,
	"-":  bytecode.OpSub,
	"*":  bytecode.OpMul,
	"/":  bytecode.OpDiv,
	"%":  bytecode.OpMod,
	"==": bytecode.OpEqual,
	"!=": bytecode.OpNotEqual,
	"<":  bytecode.OpLess,
	"<=": bytecode.OpLessEqual,
	">":  bytecode.OpGreater,
	">=": bytecode.OpGreaterEqual,
}

func (c *compiler) expr(e *ast.Expr) error {
	err := c.andExpr(e.Left)
	if err != nil {
		return err
	}
	for _, op := range e.Ops {
		jump := c.emit(bytecode.OpJumpIfTrueKeep, 0)
		c.emit(bytecode.OpPop, 0)
		err = c.andExpr(op.Right)
		if err != nil {
			return err
		}
		c.patch(jump)
	}
	return nil
}

func (c *compiler) andExpr(e *ast.AndExpr) error {
	err := c.cmpExpr(e.Left)
	if err != nil {
		return err
	}
	for _, op := range e.Ops {
		jump := c.emit(bytecode.OpJumpIfFalseKeep, 0)
		c.emit(bytecode.OpPop, 0)
		err = c.cmpExpr(op.Right)
		if err != nil {
			return err
		}
		c.patch(jump)
	}
	return nil
}

func (c *compiler) cmpExpr(e *ast.CmpExpr) error {
	err := c.addExpr(e.Left)
	if err != nil {
		return err
	}
	for _, op := range e.Ops {
		err = c.addExpr(op.Right)
		if err != nil {
			return err
		}
		c.emit(binaryOps[op.Op], 0)
	}
	return nil
}

func (c *compiler) addExpr(e *ast.AddExpr) error {
	err := c.mulExpr(e.Left)
	if err != nil {
		return err
	}
	for _, op := range e.Ops {
		err = c.mulExpr(op.Right)
		if err != nil {
			return err
		}
		c.emit(binaryOps[op.Op], 0)
	}
	return nil
}

func (c *compiler) mulExpr(e *ast.MulExpr) error {
	err := c.unaryExpr(e.Left)
	if err != nil {
		return err
	}
	for _, op := range e.Ops {
		err = c.unaryExpr(op.Right)
		if err != nil {
			return err
		}
		c.emit(binaryOps[op.Op], 0)
	}
	return nil
}

func (c *compiler) unaryExpr(e *ast.UnaryExpr) error {
	err := c.postfix(e.Postfix.Primary, e.Postfix.Suffixes)
	if err != nil {
		return err
	}
	switch e.Op {
	case "-":
		c.emit(bytecode.OpUnaryMinus, 0)
	case "!":
		c.emit(bytecode.OpUnaryNot, 0)
	}
	return nil
}

func (c *compiler) postfix(primary *ast.Primary, suffixes []*ast.Suffix) error {
	err := c.primary(primary)
	if err != nil {
		return err
	}
	for _, suffix := range suffixes {
		switch {
		case suffix.Call != nil:
			for _, arg := range suffix.Call.Args {
				err = c.expr(arg)
				if err != nil {
					return err
				}
			}
			c.emit(bytecode.OpCall, len(suffix.Call.Args))
		case suffix.Index != nil:
			err = c.expr(suffix.Index.Index)
			if err != nil {
				return err
			}
			c.emit(bytecode.OpIndex, 0)
		case suffix.Attr != nil:
			c.emit(bytecode.OpGetAttr, c.nameIndex(suffix.Attr.Name))
		}
	}
	return nil
}

func (c *compiler) primary(p *ast.Primary) error {
	switch {
	case p.Float != nil:
		c.emit(bytecode.OpConst, c.constIndex(*p.Float))
	case p.Int != nil:
		c.emit(bytecode.OpConst, c.constIndex(*p.Int))
	case p.Str != nil:
		str, err := strconv.Unquote(*p.Str)
		if err != nil {
			return c.errf(p.Position(), "invalid string literal %s", *p.Str)
		}
		c.emit(bytecode.OpConst, c.constIndex(str))
	case p.True:
		c.emit(bytecode.OpConst, c.constIndex(true))
	case p.False:
		c.emit(bytecode.OpConst, c.constIndex(false))
	case p.Nil:
		c.emit(bytecode.OpConst, c.constIndex(nil))
	case p.List != nil:
		for _, elem := range p.List.Elems {
			err := c.expr(elem)
			if err != nil {
				return err
			}
		}
		c.emit(bytecode.OpMakeList, len(p.List.Elems))
	case p.Sub != nil:
		return c.expr(p.Sub)
	case p.Ident != nil:
		c.emit(bytecode.OpLoadName, c.nameIndex(*p.Ident))
	default:
		return c.errf(p.Position(), "unrecognized expression")
	}
	return nil
}
