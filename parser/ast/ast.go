package ast

import (
	"fmt"
	"strings"

	participle "github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	// Lexer lexes Brook into tokens for the parser.
	Lexer = lexer.MustStateful(lexer.Rules{
		"Root": {
			{Name: "Keyword", Pattern: `\b(def|return|if|else|while|import|global|true|false|nil)\b`, Action: nil},
			{Name: "Float", Pattern: `\b\d+\.\d+\b`, Action: nil},
			{Name: "Int", Pattern: `\b\d+\b`, Action: nil},
			{Name: "String", Pattern: `"(\\.|[^"\\])*"`, Action: nil},
			{Name: "Ident", Pattern: `[a-zA-Z_]\w*`, Action: nil},
			{Name: "Operator", Pattern: `&&|\|\||==|!=|<=|>=|[-+*/%<>=!(){},.;:\[\]]`, Action: nil},
			{Name: "Comment", Pattern: `#[^\n]*`, Action: nil},
			{Name: "Newline", Pattern: `\n`, Action: nil},
			{Name: "Whitespace", Pattern: `[ \t\r]+`, Action: nil},
		},
	})

	// Parser parses Brook into a syntax tree rooted at a Module.
	Parser = participle.MustBuild(
		&Module{},
		participle.Lexer(Lexer),
		participle.Elide("Whitespace", "Comment"),
		participle.UseLookahead(2),
	)
)

// Node is implemented by all nodes in the syntax tree.
type Node interface {
	fmt.Stringer

	// Position returns position of the first character belonging to the node.
	Position() lexer.Position

	// End returns position of the first character immediately after the node.
	End() lexer.Position
}

// Mixin provides the position bookkeeping common to every node. The parser
// fills Pos and EndPos during capture.
type Mixin struct {
	Pos    lexer.Position
	EndPos lexer.Position
}

func (m Mixin) Position() lexer.Position { return m.Pos }
func (m Mixin) End() lexer.Position      { return m.EndPos }

// Module represents a Brook source file. Brook is file-scoped, so every file
// is a module.
type Module struct {
	Mixin
	Stmts []*Stmt `parser:"(@@ | Newline | ';')*"`
}

func (m *Module) String() string {
	var sb strings.Builder
	for _, stmt := range m.Stmts {
		sb.WriteString(stmt.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Block is a braced statement list.
type Block struct {
	Mixin
	Stmts []*Stmt `parser:"'{' (@@ | Newline | ';')* '}'"`
}

func (b *Block) String() string {
	var parts []string
	for _, stmt := range b.Stmts {
		parts = append(parts, stmt.String())
	}
	return fmt.Sprintf("{ %s }", strings.Join(parts, "; "))
}

// Stmt is a single statement.
type Stmt struct {
	Mixin
	Import *ImportStmt `parser:"( @@"`
	Func   *FuncDecl   `parser:"| @@"`
	If     *IfStmt     `parser:"| @@"`
	While  *WhileStmt  `parser:"| @@"`
	Return *ReturnStmt `parser:"| @@"`
	Global *GlobalStmt `parser:"| @@"`
	Simple *SimpleStmt `parser:"| @@ )"`
}

func (s *Stmt) String() string {
	switch {
	case s.Import != nil:
		return s.Import.String()
	case s.Func != nil:
		return s.Func.String()
	case s.If != nil:
		return s.If.String()
	case s.While != nil:
		return s.While.String()
	case s.Return != nil:
		return s.Return.String()
	case s.Global != nil:
		return s.Global.String()
	case s.Simple != nil:
		return s.Simple.String()
	}
	return ""
}

// ImportStmt imports a module by dotted path, binding it by its leaf name.
type ImportStmt struct {
	Mixin
	Path []string `parser:"'import' @Ident ('.' @Ident)*"`
}

func (s *ImportStmt) String() string {
	return fmt.Sprintf("import %s", strings.Join(s.Path, "."))
}

// Name returns the leaf segment the module is bound to.
func (s *ImportStmt) Name() string {
	return s.Path[len(s.Path)-1]
}

// FuncDecl declares a named function.
type FuncDecl struct {
	Mixin
	Name   string   `parser:"'def' @Ident"`
	Params []string `parser:"'(' (@Ident (',' @Ident)*)? ')'"`
	Body   *Block   `parser:"@@"`
}

func (s *FuncDecl) String() string {
	return fmt.Sprintf("def %s(%s) %s", s.Name, strings.Join(s.Params, ", "), s.Body)
}

// IfStmt is a conditional with an optional else or else-if chain.
type IfStmt struct {
	Mixin
	Cond   *Expr   `parser:"'if' @@"`
	Body   *Block  `parser:"@@"`
	ElseIf *IfStmt `parser:"('else' ( @@"`
	Else   *Block  `parser:"       | @@ ))?"`
}

func (s *IfStmt) String() string {
	str := fmt.Sprintf("if %s %s", s.Cond, s.Body)
	switch {
	case s.ElseIf != nil:
		str += fmt.Sprintf(" else %s", s.ElseIf)
	case s.Else != nil:
		str += fmt.Sprintf(" else %s", s.Else)
	}
	return str
}

// WhileStmt is a pre-test loop.
type WhileStmt struct {
	Mixin
	Cond *Expr  `parser:"'while' @@"`
	Body *Block `parser:"@@"`
}

func (s *WhileStmt) String() string {
	return fmt.Sprintf("while %s %s", s.Cond, s.Body)
}

// ReturnStmt leaves the enclosing function, optionally with a value.
type ReturnStmt struct {
	Mixin
	Value *Expr `parser:"'return' @@?"`
}

func (s *ReturnStmt) String() string {
	if s.Value == nil {
		return "return"
	}
	return fmt.Sprintf("return %s", s.Value)
}

// GlobalStmt declares names as module-global for assignment inside a
// function body.
type GlobalStmt struct {
	Mixin
	Names []string `parser:"'global' @Ident (',' @Ident)*"`
}

func (s *GlobalStmt) String() string {
	return fmt.Sprintf("global %s", strings.Join(s.Names, ", "))
}

// SimpleStmt is either an expression statement or an assignment. The parser
// cannot distinguish the two without unbounded lookahead, so the compiler
// validates that LHS is an assignable target when RHS is present.
type SimpleStmt struct {
	Mixin
	LHS *Expr `parser:"@@"`
	RHS *Expr `parser:"('=' @@)?"`
}

func (s *SimpleStmt) String() string {
	if s.RHS == nil {
		return s.LHS.String()
	}
	return fmt.Sprintf("%s = %s", s.LHS, s.RHS)
}

// Expr is the top of the precedence cascade: logical or.
type Expr struct {
	Mixin
	Left *AndExpr  `parser:"@@"`
	Ops  []*OpAnd  `parser:"@@*"`
}

type OpAnd struct {
	Mixin
	Op    string   `parser:"@'||'"`
	Right *AndExpr `parser:"@@"`
}

type AndExpr struct {
	Mixin
	Left *CmpExpr `parser:"@@"`
	Ops  []*OpCmp `parser:"@@*"`
}

type OpCmp struct {
	Mixin
	Op    string   `parser:"@'&&'"`
	Right *CmpExpr `parser:"@@"`
}

// CmpExpr covers equality and ordering at one level; chained comparisons
// associate left.
type CmpExpr struct {
	Mixin
	Left *AddExpr `parser:"@@"`
	Ops  []*OpAdd `parser:"@@*"`
}

type OpAdd struct {
	Mixin
	Op    string   `parser:"@('==' | '!=' | '<=' | '>=' | '<' | '>')"`
	Right *AddExpr `parser:"@@"`
}

type AddExpr struct {
	Mixin
	Left *MulExpr `parser:"@@"`
	Ops  []*OpMul `parser:"@@*"`
}

type OpMul struct {
	Mixin
	Op    string   `parser:"@('+' | '-')"`
	Right *MulExpr `parser:"@@"`
}

type MulExpr struct {
	Mixin
	Left *UnaryExpr `parser:"@@"`
	Ops  []*OpUnary `parser:"@@*"`
}

type OpUnary struct {
	Mixin
	Op    string     `parser:"@('*' | '/' | '%')"`
	Right *UnaryExpr `parser:"@@"`
}

type UnaryExpr struct {
	Mixin
	Op      string       `parser:"@('-' | '!')?"`
	Postfix *PostfixExpr `parser:"@@"`
}

// PostfixExpr is a primary expression followed by call, index and attribute
// suffixes.
type PostfixExpr struct {
	Mixin
	Primary  *Primary  `parser:"@@"`
	Suffixes []*Suffix `parser:"@@*"`
}

type Suffix struct {
	Mixin
	Call  *CallSuffix  `parser:"( @@"`
	Index *IndexSuffix `parser:"| @@"`
	Attr  *AttrSuffix  `parser:"| @@ )"`
}

type CallSuffix struct {
	Mixin
	LParen string  `parser:"@'('"`
	Args   []*Expr `parser:"(@@ (',' @@)*)? ')'"`
}

type IndexSuffix struct {
	Mixin
	Index *Expr `parser:"'[' @@ ']'"`
}

type AttrSuffix struct {
	Mixin
	Name string `parser:"'.' @Ident"`
}

// ListLit is a list literal.
type ListLit struct {
	Mixin
	Elems []*Expr `parser:"'[' (@@ (',' @@)*)? ']'"`
}

// Primary is a literal, an identifier, a list, or a parenthesized expression.
type Primary struct {
	Mixin
	Float *float64 `parser:"( @Float"`
	Int   *int64   `parser:"| @Int"`
	Str   *string  `parser:"| @String"`
	True  bool     `parser:"| @'true'"`
	False bool     `parser:"| @'false'"`
	Nil   bool     `parser:"| @'nil'"`
	List  *ListLit `parser:"| @@"`
	Sub   *Expr    `parser:"| '(' @@ ')'"`
	Ident *string  `parser:"| @Ident )"`
}

func (e *Expr) String() string {
	str := e.Left.String()
	for _, op := range e.Ops {
		str += fmt.Sprintf(" %s %s", op.Op, op.Right)
	}
	return str
}

func (e *AndExpr) String() string {
	str := e.Left.String()
	for _, op := range e.Ops {
		str += fmt.Sprintf(" %s %s", op.Op, op.Right)
	}
	return str
}

func (e *CmpExpr) String() string {
	str := e.Left.String()
	for _, op := range e.Ops {
		str += fmt.Sprintf(" %s %s", op.Op, op.Right)
	}
	return str
}

func (e *AddExpr) String() string {
	str := e.Left.String()
	for _, op := range e.Ops {
		str += fmt.Sprintf(" %s %s", op.Op, op.Right)
	}
	return str
}

func (e *MulExpr) String() string {
	str := e.Left.String()
	for _, op := range e.Ops {
		str += fmt.Sprintf(" %s %s", op.Op, op.Right)
	}
	return str
}

func (e *UnaryExpr) String() string {
	return e.Op + e.Postfix.String()
}

func (e *PostfixExpr) String() string {
	str := e.Primary.String()
	for _, suffix := range e.Suffixes {
		str += suffix.String()
	}
	return str
}

func (s *Suffix) String() string {
	switch {
	case s.Call != nil:
		var args []string
		for _, arg := range s.Call.Args {
			args = append(args, arg.String())
		}
		return fmt.Sprintf("(%s)", strings.Join(args, ", "))
	case s.Index != nil:
		return fmt.Sprintf("[%s]", s.Index.Index)
	case s.Attr != nil:
		return fmt.Sprintf(".%s", s.Attr.Name)
	}
	return ""
}

func (l *ListLit) String() string {
	var elems []string
	for _, elem := range l.Elems {
		elems = append(elems, elem.String())
	}
	return fmt.Sprintf("[%s]", strings.Join(elems, ", "))
}

func (p *Primary) String() string {
	switch {
	case p.Float != nil:
		return fmt.Sprintf("%v", *p.Float)
	case p.Int != nil:
		return fmt.Sprintf("%d", *p.Int)
	case p.Str != nil:
		return *p.Str
	case p.True:
		return "true"
	case p.False:
		return "false"
	case p.Nil:
		return "nil"
	case p.List != nil:
		return p.List.String()
	case p.Sub != nil:
		return fmt.Sprintf("(%s)", p.Sub)
	case p.Ident != nil:
		return *p.Ident
	}
	return ""
}
