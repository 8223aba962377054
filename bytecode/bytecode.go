package bytecode

import (
	"fmt"
	"strings"
)

// Opcode identifies a VM instruction.
type Opcode int

const (
	// OpConst pushes Consts[arg].
	OpConst Opcode = iota

	// OpLoadName pushes the value bound to Names[arg], searching the
	// frame's locals, then its globals, then the builtins.
	OpLoadName

	// OpStoreName pops a value and binds it to Names[arg] in the frame's
	// locals. At module level locals and globals are the same map.
	OpStoreName

	// OpLoadGlobal pushes the value bound to Names[arg], searching the
	// frame's globals, then the builtins.
	OpLoadGlobal

	// OpStoreGlobal pops a value and binds it to Names[arg] in the frame's
	// globals.
	OpStoreGlobal

	// OpPop discards the top of the stack.
	OpPop

	// OpUnaryMinus, OpUnaryNot replace the top of the stack.
	OpUnaryMinus
	OpUnaryNot

	// Binary operators pop two operands and push the result.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEqual
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual

	// OpJump continues execution at instruction index arg.
	OpJump

	// OpJumpIfFalse pops a value and jumps to instruction index arg when it
	// is falsy.
	OpJumpIfFalse

	// OpJumpIfFalseKeep jumps to arg when the top of stack is falsy. The
	// value is never popped; the compiler follows the jump with an OpPop
	// for the fall-through path. Implements && and || short circuits
	// together with OpJumpIfTrueKeep.
	OpJumpIfFalseKeep
	OpJumpIfTrueKeep

	// OpCall pops arg arguments and a callee, invokes it, and pushes the
	// result.
	OpCall

	// OpReturn pops the return value and leaves the current frame.
	OpReturn

	// OpMakeFunc pushes a function value for the *Code at Consts[arg],
	// capturing the current frame's globals as the function's module
	// bindings.
	OpMakeFunc

	// OpMakeList pops arg elements and pushes a list.
	OpMakeList

	// OpIndex pops an index and a container and pushes container[index].
	OpIndex

	// OpSetIndex pops an index, a container and a value and assigns
	// container[index] = value.
	OpSetIndex

	// OpGetAttr pushes attribute Names[arg] of the popped value.
	OpGetAttr

	// OpSetAttr pops a value and an object and assigns the object's
	// attribute Names[arg].
	OpSetAttr

	// OpImport imports the module named Names[arg] through the machine's
	// finder chain and pushes the module value.
	OpImport
)

var opcodeNames = map[Opcode]string{
	OpConst:           "CONST",
	OpLoadName:        "LOAD_NAME",
	OpStoreName:       "STORE_NAME",
	OpLoadGlobal:      "LOAD_GLOBAL",
	OpStoreGlobal:     "STORE_GLOBAL",
	OpPop:             "POP",
	OpUnaryMinus:      "UNARY_MINUS",
	OpUnaryNot:        "UNARY_NOT",
	OpAdd:             "ADD",
	OpSub:             "SUB",
	OpMul:             "MUL",
	OpDiv:             "DIV",
	OpMod:             "MOD",
	OpEqual:           "EQ",
	OpNotEqual:        "NEQ",
	OpLess:            "LT",
	OpLessEqual:       "LTE",
	OpGreater:         "GT",
	OpGreaterEqual:    "GTE",
	OpJump:            "JUMP",
	OpJumpIfFalse:     "JUMP_IF_FALSE",
	OpJumpIfFalseKeep: "JUMP_IF_FALSE_KEEP",
	OpJumpIfTrueKeep:  "JUMP_IF_TRUE_KEEP",
	OpCall:            "CALL",
	OpReturn:          "RETURN",
	OpMakeFunc:        "MAKE_FUNC",
	OpMakeList:        "MAKE_LIST",
	OpIndex:           "INDEX",
	OpSetIndex:        "SET_INDEX",
	OpGetAttr:         "GET_ATTR",
	OpSetAttr:         "SET_ATTR",
	OpImport:          "IMPORT",
}

func (op Opcode) String() string {
	name, ok := opcodeNames[op]
	if !ok {
		return fmt.Sprintf("OP(%d)", int(op))
	}
	return name
}

// HasJumpTarget reports whether the instruction operand is an absolute
// instruction index that must be remapped when instructions move.
func (op Opcode) HasJumpTarget() bool {
	switch op {
	case OpJump, OpJumpIfFalse, OpJumpIfFalseKeep, OpJumpIfTrueKeep:
		return true
	}
	return false
}

// Instr is a single VM instruction together with the source line it was
// compiled from. Line is zero for synthesized instructions that belong to no
// source line.
type Instr struct {
	Op   Opcode
	Arg  int
	Line int
}

func (i Instr) String() string {
	return fmt.Sprintf("%-18s %d", i.Op, i.Arg)
}

// Code is a compiled unit of execution: a module body, a function body, or a
// snippet compiled for evaluation. Constants may themselves be *Code for
// nested function definitions.
type Code struct {
	// Instrs is the instruction stream.
	Instrs []Instr

	// Consts are the literal constants referenced by OpConst and
	// OpMakeFunc.
	Consts []interface{}

	// Names are the symbolic names referenced by name, attribute and
	// import instructions.
	Names []string

	// Params are the parameter names of a function body, in declaration
	// order. Empty for module and snippet code.
	Params []string

	// Globals are the names declared global inside a function body.
	Globals []string

	// Filename is the absolute path of the source file, or empty when the
	// code was compiled from a string with no backing file.
	Filename string

	// FuncName is the qualified name of the unit, "<module>" for module
	// bodies.
	FuncName string
}

// Lines returns the distinct source lines appearing in the instruction
// stream, in first-occurrence order.
func (c *Code) Lines() []int {
	var (
		seen  = make(map[int]struct{})
		lines []int
	)
	for _, instr := range c.Instrs {
		if instr.Line == 0 {
			continue
		}
		if _, ok := seen[instr.Line]; ok {
			continue
		}
		seen[instr.Line] = struct{}{}
		lines = append(lines, instr.Line)
	}
	return lines
}

// IsGlobal reports whether name was declared global in this unit.
func (c *Code) IsGlobal(name string) bool {
	for _, g := range c.Globals {
		if g == name {
			return true
		}
	}
	return false
}

// Dump writes a human readable disassembly, descending into nested code
// constants.
func (c *Code) Dump() string {
	var sb strings.Builder
	c.dump(&sb, "")
	return sb.String()
}

func (c *Code) dump(sb *strings.Builder, indent string) {
	fmt.Fprintf(sb, "%s%s (%s):\n", indent, c.FuncName, c.Filename)
	for i, instr := range c.Instrs {
		fmt.Fprintf(sb, "%s%4d: %3d %s", indent, i, instr.Line, instr)
		switch instr.Op {
		case OpConst, OpMakeFunc:
			fmt.Fprintf(sb, " (%v)", c.Consts[instr.Arg])
		case OpLoadName, OpStoreName, OpLoadGlobal, OpStoreGlobal, OpGetAttr, OpSetAttr, OpImport:
			fmt.Fprintf(sb, " (%s)", c.Names[instr.Arg])
		}
		sb.WriteByte('\n')
	}
	for _, con := range c.Consts {
		if nested, ok := con.(*Code); ok {
			nested.dump(sb, indent+"  ")
		}
	}
}
