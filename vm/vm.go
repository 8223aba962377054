// Package vm executes Brook bytecode.
//
// The machine's introspection surface is what the debugger builds on:
// per-frame globals and locals as named bindings, a linked chain of caller
// frames, the current source line of every frame, execution of arbitrary code
// objects against provided binding maps, and a finder chain that can be
// extended to change how imported source files become code objects.
//
// A machine runs target code on a single goroutine. Other goroutines may
// inspect frames only while the target is blocked inside a builtin, which is
// the discipline the debugger's probe enforces.
package vm

import (
	"bufio"
	"io"
	"os"

	"github.com/brook-lang/brook/bytecode"
	"github.com/pkg/errors"
)

// Frame is the per-invocation execution record.
type Frame struct {
	// Code is the code object being executed.
	Code *bytecode.Code

	// Globals and Locals are the frame's named bindings. At module level
	// they are the same map.
	Globals map[string]Value
	Locals  map[string]Value

	// Caller is the invoking frame, nil at the chain root.
	Caller *Frame

	// Line is the source line of the instruction being executed.
	Line int

	ip    int
	stack []Value
}

// File returns the absolute path of the frame's source file.
func (f *Frame) File() string {
	return f.Code.Filename
}

// FuncName returns the qualified name of the executing code object.
func (f *Frame) FuncName() string {
	return f.Code.FuncName
}

func (f *Frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *Frame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *Frame) peek() Value {
	return f.stack[len(f.stack)-1]
}

func (f *Frame) errf(format string, a ...interface{}) error {
	return errors.Errorf("%s:%d: "+format, append([]interface{}{f.Code.Filename, f.Line}, a...)...)
}

// Machine is a Brook virtual machine.
type Machine struct {
	stdin  io.Reader
	lines  *bufio.Reader
	stdout io.Writer
	stderr io.Writer

	dir  string
	args []string

	builtins map[string]Value
	finders  []Finder
	modules  map[string]*Module

	current *Frame
}

// MachineOption is optional configuration for a machine.
type MachineOption func(*Machine)

// WithStdio overrides the machine's standard streams.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) MachineOption {
	return func(m *Machine) {
		m.SetStdin(stdin)
		m.stdout = stdout
		m.stderr = stderr
	}
}

// WithDir sets the machine's working directory, the default module search
// root.
func WithDir(dir string) MachineOption {
	return func(m *Machine) {
		m.dir = dir
	}
}

// WithArgs sets the target's argument vector.
func WithArgs(args []string) MachineOption {
	return func(m *Machine) {
		m.args = args
	}
}

// New returns a machine with the default builtins and source finder.
func New(opts ...MachineOption) *Machine {
	m := &Machine{
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		modules: make(map[string]*Module),
	}
	m.SetStdin(os.Stdin)
	if wd, err := os.Getwd(); err == nil {
		m.dir = wd
	}
	m.builtins = defaultBuiltins()
	m.finders = []Finder{&sourceFinder{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Stdin returns the machine's line-buffered standard input.
func (m *Machine) Stdin() *bufio.Reader { return m.lines }

// StdinSource returns the reader standard input was last set from.
func (m *Machine) StdinSource() io.Reader { return m.stdin }

// Stdout returns the machine's standard output.
func (m *Machine) Stdout() io.Writer { return m.stdout }

// Stderr returns the machine's standard error.
func (m *Machine) Stderr() io.Writer { return m.stderr }

// SetStdin swaps standard input, discarding any read-ahead.
func (m *Machine) SetStdin(r io.Reader) {
	m.stdin = r
	m.lines = bufio.NewReader(r)
}

// SetStdout swaps standard output.
func (m *Machine) SetStdout(w io.Writer) { m.stdout = w }

// SetStderr swaps standard error.
func (m *Machine) SetStderr(w io.Writer) { m.stderr = w }

// Dir returns the machine's working directory.
func (m *Machine) Dir() string { return m.dir }

// SetDir sets the machine's working directory.
func (m *Machine) SetDir(dir string) { m.dir = dir }

// Args returns the target's argument vector.
func (m *Machine) Args() []string { return m.args }

// SetArgs sets the target's argument vector.
func (m *Machine) SetArgs(args []string) { m.args = args }

// CurrentFrame returns the frame currently executing, or nil when the
// machine is idle.
func (m *Machine) CurrentFrame() *Frame { return m.current }

// Depth returns the length of the current frame chain.
func (m *Machine) Depth() int {
	depth := 0
	for f := m.current; f != nil; f = f.Caller {
		depth++
	}
	return depth
}

// Builtin looks up a builtin binding.
func (m *Machine) Builtin(name string) (Value, bool) {
	v, ok := m.builtins[name]
	return v, ok
}

// RunCode executes a code object against the provided bindings and returns
// the value of its final return. Pass the same map as globals and locals for
// module-level semantics.
func (m *Machine) RunCode(code *bytecode.Code, globals, locals map[string]Value) (Value, error) {
	frame := &Frame{
		Code:    code,
		Globals: globals,
		Locals:  locals,
		Caller:  m.current,
	}
	m.current = frame
	defer func() {
		m.current = frame.Caller
	}()
	return m.run(frame)
}

func (m *Machine) run(f *Frame) (Value, error) {
	instrs := f.Code.Instrs
	for f.ip < len(instrs) {
		instr := instrs[f.ip]
		f.ip++
		if instr.Line != 0 {
			f.Line = instr.Line
		}

		switch instr.Op {
		case bytecode.OpConst:
			f.push(f.Code.Consts[instr.Arg])

		case bytecode.OpLoadName:
			name := f.Code.Names[instr.Arg]
			if v, ok := f.Locals[name]; ok {
				f.push(v)
				break
			}
			if v, ok := f.Globals[name]; ok {
				f.push(v)
				break
			}
			if v, ok := m.builtins[name]; ok {
				f.push(v)
				break
			}
			return nil, f.errf("name %q is not defined", name)

		case bytecode.OpStoreName:
			f.Locals[f.Code.Names[instr.Arg]] = f.pop()

		case bytecode.OpLoadGlobal:
			name := f.Code.Names[instr.Arg]
			if v, ok := f.Globals[name]; ok {
				f.push(v)
				break
			}
			if v, ok := m.builtins[name]; ok {
				f.push(v)
				break
			}
			return nil, f.errf("global name %q is not defined", name)

		case bytecode.OpStoreGlobal:
			f.Globals[f.Code.Names[instr.Arg]] = f.pop()

		case bytecode.OpPop:
			f.pop()

		case bytecode.OpUnaryMinus:
			switch v := f.pop().(type) {
			case int64:
				f.push(-v)
			case float64:
				f.push(-v)
			default:
				return nil, f.errf("cannot negate %s", TypeName(v))
			}

		case bytecode.OpUnaryNot:
			f.push(!Truthy(f.pop()))

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
			bytecode.OpLess, bytecode.OpLessEqual, bytecode.OpGreater, bytecode.OpGreaterEqual:
			right, left := f.pop(), f.pop()
			v, err := binaryOp(instr.Op, left, right)
			if err != nil {
				return nil, f.errf("%s", err)
			}
			f.push(v)

		case bytecode.OpEqual:
			right, left := f.pop(), f.pop()
			f.push(Equal(left, right))

		case bytecode.OpNotEqual:
			right, left := f.pop(), f.pop()
			f.push(!Equal(left, right))

		case bytecode.OpJump:
			f.ip = instr.Arg

		case bytecode.OpJumpIfFalse:
			if !Truthy(f.pop()) {
				f.ip = instr.Arg
			}

		case bytecode.OpJumpIfFalseKeep:
			if !Truthy(f.peek()) {
				f.ip = instr.Arg
			}

		case bytecode.OpJumpIfTrueKeep:
			if Truthy(f.peek()) {
				f.ip = instr.Arg
			}

		case bytecode.OpCall:
			argc := instr.Arg
			args := make([]Value, argc)
			for i := argc - 1; i >= 0; i-- {
				args[i] = f.pop()
			}
			callee := f.pop()
			v, err := m.Call(callee, args)
			if err != nil {
				return nil, err
			}
			f.push(v)

		case bytecode.OpReturn:
			return f.pop(), nil

		case bytecode.OpMakeFunc:
			code, ok := f.Code.Consts[instr.Arg].(*bytecode.Code)
			if !ok {
				return nil, f.errf("constant %d is not code", instr.Arg)
			}
			f.push(&Func{
				Name:    code.FuncName,
				Code:    code,
				Globals: f.Globals,
			})

		case bytecode.OpMakeList:
			elems := make([]Value, instr.Arg)
			for i := instr.Arg - 1; i >= 0; i-- {
				elems[i] = f.pop()
			}
			f.push(&List{Elems: elems})

		case bytecode.OpIndex:
			index, container := f.pop(), f.pop()
			v, err := indexValue(container, index)
			if err != nil {
				return nil, f.errf("%s", err)
			}
			f.push(v)

		case bytecode.OpSetIndex:
			value, index, container := f.pop(), f.pop(), f.pop()
			err := setIndexValue(container, index, value)
			if err != nil {
				return nil, f.errf("%s", err)
			}

		case bytecode.OpGetAttr:
			name := f.Code.Names[instr.Arg]
			v := f.pop()
			mod, ok := v.(*Module)
			if !ok {
				return nil, f.errf("%s has no attribute %q", TypeName(v), name)
			}
			attr, ok := mod.Globals[name]
			if !ok {
				return nil, f.errf("module %s has no attribute %q", mod.Name, name)
			}
			f.push(attr)

		case bytecode.OpSetAttr:
			name := f.Code.Names[instr.Arg]
			value := f.pop()
			obj := f.pop()
			mod, ok := obj.(*Module)
			if !ok {
				return nil, f.errf("cannot set attribute %q on %s", name, TypeName(obj))
			}
			mod.Globals[name] = value

		case bytecode.OpImport:
			mod, err := m.Import(f.Code.Names[instr.Arg])
			if err != nil {
				return nil, f.errf("%s", err)
			}
			f.push(mod)

		default:
			return nil, f.errf("unrecognized opcode %s", instr.Op)
		}
	}
	return nil, nil
}

// Call invokes a function or builtin value with args. Function calls create
// a new frame chained to the current one; builtins run in the caller's
// frame, which is how the debug probe observes the line it interrupted.
func (m *Machine) Call(callee Value, args []Value) (Value, error) {
	switch callee := callee.(type) {
	case *Func:
		if len(args) != len(callee.Code.Params) {
			return nil, errors.Errorf("%s takes %d arguments, got %d",
				callee.Name, len(callee.Code.Params), len(args))
		}
		locals := make(map[string]Value, len(args))
		for i, param := range callee.Code.Params {
			locals[param] = args[i]
		}
		return m.RunCode(callee.Code, callee.Globals, locals)
	case *Builtin:
		return callee.Fn(m, args)
	}
	return nil, errors.Errorf("%s is not callable", TypeName(callee))
}

func binaryOp(op bytecode.Opcode, left, right Value) (Value, error) {
	if ls, ok := left.(string); ok {
		rs, rok := right.(string)
		if !rok {
			return nil, errors.Errorf("cannot combine string and %s", TypeName(right))
		}
		switch op {
		case bytecode.OpAdd:
			return ls + rs, nil
		case bytecode.OpLess:
			return ls < rs, nil
		case bytecode.OpLessEqual:
			return ls <= rs, nil
		case bytecode.OpGreater:
			return ls > rs, nil
		case bytecode.OpGreaterEqual:
			return ls >= rs, nil
		}
		return nil, errors.Errorf("unsupported string operation %s", op)
	}

	li, lok := left.(int64)
	ri, rok := right.(int64)
	if lok && rok {
		switch op {
		case bytecode.OpAdd:
			return li + ri, nil
		case bytecode.OpSub:
			return li - ri, nil
		case bytecode.OpMul:
			return li * ri, nil
		case bytecode.OpDiv:
			if ri == 0 {
				return nil, errors.New("division by zero")
			}
			return li / ri, nil
		case bytecode.OpMod:
			if ri == 0 {
				return nil, errors.New("division by zero")
			}
			return li % ri, nil
		case bytecode.OpLess:
			return li < ri, nil
		case bytecode.OpLessEqual:
			return li <= ri, nil
		case bytecode.OpGreater:
			return li > ri, nil
		case bytecode.OpGreaterEqual:
			return li >= ri, nil
		}
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, errors.Errorf("unsupported operands %s and %s", TypeName(left), TypeName(right))
	}
	switch op {
	case bytecode.OpAdd:
		return lf + rf, nil
	case bytecode.OpSub:
		return lf - rf, nil
	case bytecode.OpMul:
		return lf * rf, nil
	case bytecode.OpDiv:
		if rf == 0 {
			return nil, errors.New("division by zero")
		}
		return lf / rf, nil
	case bytecode.OpLess:
		return lf < rf, nil
	case bytecode.OpLessEqual:
		return lf <= rf, nil
	case bytecode.OpGreater:
		return lf > rf, nil
	case bytecode.OpGreaterEqual:
		return lf >= rf, nil
	}
	return nil, errors.Errorf("unsupported operation %s", op)
}

func indexValue(container, index Value) (Value, error) {
	switch container := container.(type) {
	case *List:
		i, ok := index.(int64)
		if !ok {
			return nil, errors.Errorf("list index must be int, got %s", TypeName(index))
		}
		if i < 0 || int(i) >= len(container.Elems) {
			return nil, errors.Errorf("list index %d out of range", i)
		}
		return container.Elems[i], nil
	case string:
		i, ok := index.(int64)
		if !ok {
			return nil, errors.Errorf("string index must be int, got %s", TypeName(index))
		}
		if i < 0 || int(i) >= len(container) {
			return nil, errors.Errorf("string index %d out of range", i)
		}
		return string(container[i]), nil
	}
	return nil, errors.Errorf("%s is not indexable", TypeName(container))
}

func setIndexValue(container, index, value Value) error {
	list, ok := container.(*List)
	if !ok {
		return errors.Errorf("%s does not support item assignment", TypeName(container))
	}
	i, iok := index.(int64)
	if !iok {
		return errors.Errorf("list index must be int, got %s", TypeName(index))
	}
	if i < 0 || int(i) >= len(list.Elems) {
		return errors.Errorf("list index %d out of range", i)
	}
	list.Elems[i] = value
	return nil
}
