// Package debugger implements a source-level debugger for Brook programs.
//
// Instead of hooking the machine's dispatch loop, the debugger rewrites the
// target's code objects so that a probe call precedes every source line, then
// synchronizes the probe with whatever interface is driving the session. The
// target runs at full speed between probes; the probe is the only suspension
// point.
package debugger

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/brook-lang/brook/bytecode"
	"github.com/brook-lang/brook/compiler"
	"github.com/brook-lang/brook/vm"
	"github.com/pkg/errors"
)

var (
	// ErrNotStopped is returned by introspection calls while the target is
	// running.
	ErrNotStopped = errors.New("target is not stopped")

	// ErrSessionActive is returned by Start when a session is already
	// running on the machine.
	ErrSessionActive = errors.New("debug session already active")
)

// DebugMode decides what the probe does between explicit commands.
type DebugMode int

const (
	// StepMode stops at every probe.
	StepMode DebugMode = iota + 1

	// BreakpointMode stops only when a breakpoint or a step-over anchor
	// fires.
	BreakpointMode
)

func (m DebugMode) String() string {
	switch m {
	case StepMode:
		return "step"
	case BreakpointMode:
		return "breakpoint"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// RunState is the target's run state as the debugger sees it.
type RunState int

const (
	// Running means the target is executing between probes.
	Running RunState = iota + 1

	// Stopped means the target is parked inside the probe.
	Stopped
)

// Interface is the interactive front-end supplied by the embedder. The probe
// invokes it synchronously, on the target's goroutine, each time the target
// stops; it drives the debugger through the command methods and returns when
// it wants control back in the probe.
type Interface func()

// FrameInfo is a snapshot of one stack frame.
type FrameInfo struct {
	Filename string
	Line     int
	Function string
}

func (fi FrameInfo) String() string {
	return fmt.Sprintf("%s:%d in %s", fi.Filename, fi.Line, fi.Function)
}

// anchor is a step-over target: stop next time the probe runs in this
// (file, function).
type anchor struct {
	file string
	fn   string
}

// Debugger is the control core of a debug session. All mutable state is
// guarded by mu; the probe and the interface synchronize through the
// condition variable so a stopped target consumes no CPU.
type Debugger struct {
	machine *vm.Machine
	sources *SourceMap

	mu   sync.Mutex
	cond *sync.Cond

	mode    DebugMode
	state   RunState
	iface   Interface
	table   *Table
	anchors map[anchor]struct{}

	frame      *vm.Frame
	stacktrace []*vm.Frame
	baseline   int

	running bool
	closed  bool
	inEval  bool
}

// New returns a debugger for machine. A single debugger may run one session
// at a time, and only one debugger may be active per machine.
func New(machine *vm.Machine) *Debugger {
	d := &Debugger{
		machine: machine,
		sources: NewSourceMap(),
		mode:    StepMode,
		state:   Running,
		table:   NewTable(),
		anchors: make(map[anchor]struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Machine returns the machine the debugger drives.
func (d *Debugger) Machine() *vm.Machine { return d.machine }

// Sources returns the session's source map.
func (d *Debugger) Sources() *SourceMap { return d.sources }

// Probe returns the builtin value the rewriter's instrumentation calls. The
// session binds it to the "debug" global of the entry module and of every
// module the loader interceptor loads.
func (d *Debugger) Probe() vm.Value {
	return &vm.Builtin{
		Name: ProbeName,
		Fn: func(m *vm.Machine, args []vm.Value) (vm.Value, error) {
			d.probe(m.CurrentFrame())
			return nil, nil
		},
	}
}

// probe runs before every source line of instrumented code, on the target's
// goroutine. The builtin call does not push a frame, so the machine's
// current frame is the line being interrupted.
func (d *Debugger) probe(frame *vm.Frame) {
	d.mu.Lock()
	if frame == nil || d.closed || d.inEval {
		d.mu.Unlock()
		return
	}
	d.frame = frame
	d.stacktrace = d.captureLocked(frame)

	stop := d.mode == StepMode
	var bp *Breakpoint
	if !stop {
		stop, bp = d.checkStopLocked(frame)
	}
	d.mu.Unlock()

	// Conditions run target-language code, so they are evaluated outside
	// the lock with nested probes suppressed.
	if !stop && bp != nil {
		stop = d.evalCondition(bp, frame)
	}

	d.mu.Lock()
	if stop && !d.closed {
		d.state = Stopped
	}
	stopped := d.state == Stopped
	iface := d.iface
	d.mu.Unlock()

	if stopped && iface != nil {
		iface()
	}

	d.mu.Lock()
	for d.state == Stopped && !d.closed {
		d.cond.Wait()
	}
	d.frame = nil
	d.mu.Unlock()
}

// checkStopLocked applies the non-conditional halting policy: a step-over
// anchor fires first and clears the anchor set; otherwise a breakpoint at
// the frame's (file, line) fires. A breakpoint with a condition is returned
// to the caller for evaluation outside the lock.
func (d *Debugger) checkStopLocked(frame *vm.Frame) (bool, *Breakpoint) {
	if _, ok := d.anchors[anchor{frame.File(), frame.FuncName()}]; ok {
		d.anchors = make(map[anchor]struct{})
		return true, nil
	}

	bp := d.table.Lookup(frame.File(), frame.Line)
	if bp == nil {
		return false, nil
	}
	if bp.Condition == "" {
		return true, nil
	}
	return false, bp
}

// ShouldStopOnBreakpoint reports whether the stopped frame satisfies the
// halting policy, evaluating conditions against the frame's bindings.
func (d *Debugger) ShouldStopOnBreakpoint() bool {
	d.mu.Lock()
	frame := d.frame
	if frame == nil {
		d.mu.Unlock()
		return false
	}
	stop, bp := d.checkStopLocked(frame)
	d.mu.Unlock()

	if !stop && bp != nil {
		stop = d.evalCondition(bp, frame)
	}
	return stop
}

// evalCondition evaluates a breakpoint condition in the frame it fired in.
// Any failure to compile or evaluate is reported on the error stream and
// interpreted as "stop": hiding a broken breakpoint is worse than stopping
// spuriously.
func (d *Debugger) evalCondition(bp *Breakpoint, frame *vm.Frame) bool {
	code, err := compiler.CompileExpr(bp.Condition, "<condition>")
	if err == nil {
		var v vm.Value
		v, err = d.runInFrame(code, frame)
		if err == nil {
			return vm.Truthy(v)
		}
	}
	fmt.Fprintf(d.machine.Stderr(), "condition %q at %s failed: %s. Stopping.\n", bp.Condition, bp.ID(), err)
	return true
}

// runInFrame executes a code object against a frame's bindings with nested
// probe calls suppressed, so instrumented functions invoked by the
// evaluation cannot re-enter the interface.
func (d *Debugger) runInFrame(code *bytecode.Code, frame *vm.Frame) (vm.Value, error) {
	d.mu.Lock()
	d.inEval = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inEval = false
		d.mu.Unlock()
	}()
	return d.machine.RunCode(code, frame.Globals, frame.Locals)
}

// captureLocked snapshots the frame chain newest-first, trimming the
// baseline frames below the target's entry so driver frames never leak into
// stacktraces.
func (d *Debugger) captureLocked(frame *vm.Frame) []*vm.Frame {
	var frames []*vm.Frame
	for f := frame; f != nil; f = f.Caller {
		frames = append(frames, f)
	}
	if d.baseline > 0 && len(frames) >= d.baseline {
		frames = frames[:len(frames)-d.baseline]
	}
	return frames
}

// Step resumes the target, stopping at the next probe.
func (d *Debugger) Step() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = StepMode
	d.resumeLocked()
}

// Continue resumes the target, stopping at the next breakpoint.
func (d *Debugger) Continue() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = BreakpointMode
	d.resumeLocked()
}

// StepOver resumes the target, stopping at the next line in the stopped
// frame's function. The immediate caller is anchored too, so a function
// that returns first still stops at the next line of its caller.
func (d *Debugger) StepOver() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frame != nil {
		d.anchors[anchor{d.frame.File(), d.frame.FuncName()}] = struct{}{}
		if len(d.stacktrace) > 1 {
			caller := d.stacktrace[1]
			d.anchors[anchor{caller.File(), caller.FuncName()}] = struct{}{}
		}
	}
	d.mode = BreakpointMode
	d.resumeLocked()
}

func (d *Debugger) resumeLocked() {
	d.state = Running
	d.frame = nil
	d.cond.Broadcast()
}

// Stop ends the session: a parked probe is released, further probes return
// immediately, and the target runs to completion.
func (d *Debugger) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Broadcast()
}

// Mode returns the current debug mode.
func (d *Debugger) Mode() DebugMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// SetMode sets the debug mode without resuming.
func (d *Debugger) SetMode(mode DebugMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
}

// State returns the target's run state.
func (d *Debugger) State() RunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// AddBreakpoint inserts a breakpoint, failing when one already exists at
// the same (file, line).
func (d *Debugger) AddBreakpoint(filename string, line int, condition string) (*Breakpoint, error) {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table.Add(abs, line, condition)
}

// RemoveBreakpoint deletes the breakpoint at (file, line) if present.
func (d *Debugger) RemoveBreakpoint(filename string, line int) {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.table.Remove(abs, line)
}

// Breakpoints returns every breakpoint ordered by file then line.
func (d *Debugger) Breakpoints() []*Breakpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table.All()
}

// GetFrame returns the stopped frame's location.
func (d *Debugger) GetFrame() (FrameInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frame == nil {
		return FrameInfo{}, errors.WithStack(ErrNotStopped)
	}
	return frameInfo(d.frame), nil
}

// GetGlobalsAndLocals returns the stopped frame's bindings. The maps are
// live: mutating them mutates the target.
func (d *Debugger) GetGlobalsAndLocals() (map[string]vm.Value, map[string]vm.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frame == nil {
		return nil, nil, errors.WithStack(ErrNotStopped)
	}
	return d.frame.Globals, d.frame.Locals, nil
}

// GetStacktrace returns the captured stacktrace newest-first. Only target
// frames appear; driver frames below the session baseline are trimmed.
func (d *Debugger) GetStacktrace() []FrameInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	infos := make([]FrameInfo, len(d.stacktrace))
	for i, f := range d.stacktrace {
		infos[i] = frameInfo(f)
	}
	return infos
}

func frameInfo(f *vm.Frame) FrameInfo {
	return FrameInfo{
		Filename: f.File(),
		Line:     f.Line,
		Function: f.FuncName(),
	}
}

// EvalInFrame compiles src as statements and executes it against the
// bindings of the frame at depth in the captured stacktrace, 0 being the
// stopped frame. Failures are reported on the error stream; the target
// remains stopped either way.
func (d *Debugger) EvalInFrame(src string, depth int) error {
	err := d.evalInFrame(src, depth)
	if err != nil {
		fmt.Fprintf(d.machine.Stderr(), "evaluation failed: %s\n", err)
	}
	return err
}

// EvalExprInFrame compiles src as an expression and returns its value in
// the frame at depth.
func (d *Debugger) EvalExprInFrame(src string, depth int) (vm.Value, error) {
	d.mu.Lock()
	frame, err := d.frameAtLocked(depth)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	code, err := compiler.CompileExpr(src, "<eval>")
	if err != nil {
		return nil, err
	}
	return d.runInFrame(code, frame)
}

func (d *Debugger) evalInFrame(src string, depth int) error {
	d.mu.Lock()
	frame, err := d.frameAtLocked(depth)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	code, err := compiler.CompileSnippet(src, "<debug>")
	if err != nil {
		return err
	}
	_, err = d.runInFrame(code, frame)
	return err
}

func (d *Debugger) frameAtLocked(depth int) (*vm.Frame, error) {
	if d.frame == nil {
		return nil, errors.WithStack(ErrNotStopped)
	}
	if depth < 0 || depth >= len(d.stacktrace) {
		return nil, errors.Errorf("no frame at depth %d", depth)
	}
	return d.stacktrace[depth], nil
}
