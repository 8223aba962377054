package debugger

import (
	"os"

	"github.com/brook-lang/brook/bytecode"
)

// ProbeName is the global the rewriter arranges to be called before every
// source line. The session binds it in the entry globals and the loader
// interceptor binds it in every module it loads, so rewritten code can reach
// the probe without any closure capture.
const ProbeName = "debug"

// SourceAvailable reports whether a code object's source can be located on
// disk. Code compiled from strings carries no filename and is never
// rewritten.
func SourceAvailable(code *bytecode.Code) bool {
	if code.Filename == "" {
		return false
	}
	_, err := os.Stat(code.Filename)
	return err == nil
}

// Rewrite returns a copy of code where the first instruction of every
// distinct source line is preceded by a probe call, and every nested code
// constant with locatable source is rewritten the same way. All other
// attributes are preserved, and jump targets are remapped so control entering
// an instrumented instruction runs its probe first. Code whose source is not
// available is returned as is, without a copy.
//
// Rewriting is not idempotent on instruction streams: rewriting twice stacks
// a second probe call per line. Callers must rewrite exactly once.
func Rewrite(code *bytecode.Code) *bytecode.Code {
	if !SourceAvailable(code) {
		return code
	}

	out := &bytecode.Code{
		Params:   code.Params,
		Globals:  code.Globals,
		Filename: code.Filename,
		FuncName: code.FuncName,
		Names:    append([]string{}, code.Names...),
	}

	probe := len(out.Names)
	for i, name := range out.Names {
		if name == ProbeName {
			probe = i
			break
		}
	}
	if probe == len(out.Names) {
		out.Names = append(out.Names, ProbeName)
	}

	// Map each original instruction index to the index of the first
	// instruction emitted for it, so jumps into an instrumented line land
	// on the probe sequence.
	remap := make([]int, len(code.Instrs)+1)
	seen := make(map[int]struct{})

	for i, instr := range code.Instrs {
		remap[i] = len(out.Instrs)
		if instr.Line != 0 {
			if _, ok := seen[instr.Line]; !ok {
				seen[instr.Line] = struct{}{}
				out.Instrs = append(out.Instrs,
					bytecode.Instr{Op: bytecode.OpLoadGlobal, Arg: probe, Line: instr.Line},
					bytecode.Instr{Op: bytecode.OpCall, Arg: 0, Line: instr.Line},
					bytecode.Instr{Op: bytecode.OpPop, Arg: 0, Line: instr.Line},
				)
			}
		}
		out.Instrs = append(out.Instrs, instr)
	}
	remap[len(code.Instrs)] = len(out.Instrs)

	for i, instr := range out.Instrs {
		if instr.Op.HasJumpTarget() {
			out.Instrs[i].Arg = remap[instr.Arg]
		}
	}

	out.Consts = make([]interface{}, len(code.Consts))
	for i, con := range code.Consts {
		nested, ok := con.(*bytecode.Code)
		if ok && SourceAvailable(nested) {
			out.Consts[i] = rewriteNested(nested)
			continue
		}
		out.Consts[i] = con
	}
	return out
}

// rewriteNested rewrites a nested code constant, keeping the original on any
// failure so a bad constant cannot corrupt the outer rewrite.
func rewriteNested(code *bytecode.Code) (out *bytecode.Code) {
	defer func() {
		if recover() != nil {
			out = code
		}
	}()
	return Rewrite(code)
}
