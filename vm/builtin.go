package vm

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

func defaultBuiltins() map[string]Value {
	return map[string]Value{
		"print":   &Builtin{Name: "print", Fn: builtinPrint},
		"println": &Builtin{Name: "println", Fn: builtinPrintln},
		"len":     &Builtin{Name: "len", Fn: builtinLen},
		"str":     &Builtin{Name: "str", Fn: builtinStr},
		"input":   &Builtin{Name: "input", Fn: builtinInput},
		"args":    &Builtin{Name: "args", Fn: builtinArgs},
	}
}

func builtinPrint(m *Machine, args []Value) (Value, error) {
	var parts []string
	for _, arg := range args {
		parts = append(parts, Format(arg))
	}
	fmt.Fprint(m.Stdout(), strings.Join(parts, " "))
	return nil, nil
}

func builtinPrintln(m *Machine, args []Value) (Value, error) {
	_, err := builtinPrint(m, args)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(m.Stdout())
	return nil, nil
}

func builtinLen(m *Machine, args []Value) (Value, error) {
	if len(args) != 1 {
		return nil, errors.Errorf("len takes 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case string:
		return int64(len(v)), nil
	case *List:
		return int64(len(v.Elems)), nil
	}
	return nil, errors.Errorf("%s has no length", TypeName(args[0]))
}

func builtinStr(m *Machine, args []Value) (Value, error) {
	if len(args) != 1 {
		return nil, errors.Errorf("str takes 1 argument, got %d", len(args))
	}
	return Format(args[0]), nil
}

// builtinInput reads the next line from the machine's standard input,
// without the trailing newline. Blocks until a line is available.
func builtinInput(m *Machine, args []Value) (Value, error) {
	if len(args) > 0 {
		_, err := builtinPrint(m, args)
		if err != nil {
			return nil, err
		}
	}
	line, err := m.Stdin().ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return nil, errors.Wrap(err, "failed to read input")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// builtinArgs returns the target's argument vector as a list of strings.
func builtinArgs(m *Machine, args []Value) (Value, error) {
	if len(args) != 0 {
		return nil, errors.Errorf("args takes no arguments, got %d", len(args))
	}
	list := &List{}
	for _, arg := range m.Args() {
		list.Elems = append(list.Elems, arg)
	}
	return list, nil
}
