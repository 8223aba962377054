package vm

import (
	"fmt"
	"strings"

	"github.com/brook-lang/brook/bytecode"
)

// Value is a Brook runtime value. Concrete types are nil, bool, int64,
// float64, string, *List, *Func, *Builtin and *Module.
type Value interface{}

// List is a mutable sequence value.
type List struct {
	Elems []Value
}

// Func is a user-defined function. It captures the globals of the module it
// was defined in, so calling it from anywhere binds module names correctly.
type Func struct {
	Name    string
	Code    *bytecode.Code
	Globals map[string]Value
}

// Builtin is a function implemented by the host.
type Builtin struct {
	Name string
	Fn   func(m *Machine, args []Value) (Value, error)
}

// Module is an imported Brook module.
type Module struct {
	Name     string
	Filename string
	Globals  map[string]Value
}

// Truthy reports the boolean interpretation of v: nil, false, numeric zero,
// the empty string and the empty list are falsy.
func Truthy(v Value) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	case *List:
		return len(v.Elems) > 0
	}
	return true
}

// Equal compares two values. Numbers compare across int and float; other
// types compare by kind and content.
func Equal(a, b Value) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	switch a := a.(type) {
	case nil:
		return b == nil
	case bool:
		bb, ok := b.(bool)
		return ok && a == bb
	case string:
		bs, ok := b.(string)
		return ok && a == bs
	case *List:
		bl, ok := b.(*List)
		if !ok || len(a.Elems) != len(bl.Elems) {
			return false
		}
		for i := range a.Elems {
			if !Equal(a.Elems[i], bl.Elems[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

func toFloat(v Value) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Format renders v the way print does.
func Format(v Value) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case bool:
		return fmt.Sprintf("%t", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%v", v)
	case string:
		return v
	case *List:
		var elems []string
		for _, elem := range v.Elems {
			if s, ok := elem.(string); ok {
				elems = append(elems, fmt.Sprintf("%q", s))
			} else {
				elems = append(elems, Format(elem))
			}
		}
		return fmt.Sprintf("[%s]", strings.Join(elems, ", "))
	case *Func:
		return fmt.Sprintf("<function %s>", v.Name)
	case *Builtin:
		return fmt.Sprintf("<builtin %s>", v.Name)
	case *Module:
		return fmt.Sprintf("<module %s>", v.Name)
	}
	return fmt.Sprintf("%v", v)
}

// TypeName returns the Brook-facing name of v's type.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case *List:
		return "list"
	case *Func, *Builtin:
		return "function"
	case *Module:
		return "module"
	}
	return fmt.Sprintf("%T", v)
}
