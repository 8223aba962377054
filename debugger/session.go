package debugger

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/brook-lang/brook/compiler"
	"github.com/brook-lang/brook/vm"
	"github.com/pkg/errors"
)

type startInfo struct {
	mode      DebugMode
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	afterStop func()
	dir       string
	args      []string
}

// StartOption is optional configuration for a session.
type StartOption func(*startInfo)

// WithMode overrides the initial debug mode that the session starts with.
func WithMode(mode DebugMode) StartOption {
	return func(info *startInfo) {
		info.mode = mode
	}
}

// WithStdio redirects the target's standard streams for the duration of the
// run. Nil entries keep the machine's current streams.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) StartOption {
	return func(info *startInfo) {
		info.stdin = stdin
		info.stdout = stdout
		info.stderr = stderr
	}
}

// WithAfterStop registers a callback fired after the target finishes, before
// teardown completes.
func WithAfterStop(fn func()) StartOption {
	return func(info *startInfo) {
		info.afterStop = fn
	}
}

// WithWorkingDir sets the target's working directory for the run.
func WithWorkingDir(dir string) StartOption {
	return func(info *startInfo) {
		info.dir = dir
	}
}

// WithArgs sets the arguments passed to the target after the synthesized
// program path.
func WithArgs(args []string) StartOption {
	return func(info *startInfo) {
		info.args = args
	}
}

// Start orchestrates a debugging run: it compiles and rewrites the entry
// file, installs the loader interceptor, binds the probe in the entry
// globals, substitutes the machine's streams, working directory and argument
// vector, and executes the target. It blocks until the target finishes or
// Stop lets it run out; iface is invoked from the probe at every stop.
//
// Failures inside the target are reported on the error stream and do not
// propagate; only failures to start the session are returned.
func (d *Debugger) Start(iface Interface, path string, opts ...StartOption) error {
	info := &startInfo{
		mode: StepMode,
		dir:  d.machine.Dir(),
	}
	for _, opt := range opts {
		opt(info)
	}

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.WithStack(ErrSessionActive)
	}
	d.running = true
	d.closed = false
	d.iface = iface
	d.mode = info.mode
	d.state = Running
	d.anchors = make(map[anchor]struct{})
	d.baseline = d.machine.Depth()
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.iface = nil
		d.frame = nil
		d.stacktrace = nil
		d.anchors = make(map[anchor]struct{})
		d.table.Clear()
		d.state = Running
		d.mu.Unlock()
	}()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	code, err := compiler.CompileFile(abs)
	if err != nil {
		fmt.Fprintf(d.stderrFor(info), "failed to load %s: %s\n", path, err)
		return errors.Wrapf(err, "failed to load %s", path)
	}
	code = Rewrite(code)

	uninstall := d.InstallLoader()
	defer uninstall()

	restore := d.plumb(info, abs)
	defer restore()

	globals := map[string]vm.Value{
		ProbeName:  d.Probe(),
		"__name__": "__main__",
	}

	_, err = d.machine.RunCode(code, globals, globals)
	if err != nil {
		fmt.Fprintf(d.machine.Stderr(), "%s\n", err)
	}

	if info.afterStop != nil {
		info.afterStop()
	}
	return nil
}

// plumb substitutes the machine's streams, working directory and argument
// vector for the run and returns the guard restoring the previous values.
// The scope covers the whole target run, not just the probe.
func (d *Debugger) plumb(info *startInfo, entry string) (restore func()) {
	m := d.machine

	prevStdin := m.StdinSource()
	prevStdout := m.Stdout()
	prevStderr := m.Stderr()
	prevDir := m.Dir()
	prevArgs := m.Args()

	if info.stdin != nil {
		m.SetStdin(info.stdin)
	}
	if info.stdout != nil {
		m.SetStdout(info.stdout)
	}
	if info.stderr != nil {
		m.SetStderr(info.stderr)
	}
	m.SetDir(info.dir)

	argv0 := entry
	if !filepath.IsAbs(argv0) {
		argv0 = filepath.Join(info.dir, argv0)
	}
	m.SetArgs(append([]string{argv0}, info.args...))

	return func() {
		m.SetStdin(prevStdin)
		m.SetStdout(prevStdout)
		m.SetStderr(prevStderr)
		m.SetDir(prevDir)
		m.SetArgs(prevArgs)
	}
}

func (d *Debugger) stderrFor(info *startInfo) io.Writer {
	if info.stderr != nil {
		return info.stderr
	}
	return d.machine.Stderr()
}
