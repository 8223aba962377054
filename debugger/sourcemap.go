package debugger

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/brook-lang/brook/bytecode"
	"github.com/pkg/errors"
)

// SourceMap answers (filename, line) questions about code objects and their
// backing source files, caching file contents per session.
type SourceMap struct {
	mu    sync.Mutex
	files map[string][]string
}

// NewSourceMap returns an empty source map.
func NewSourceMap() *SourceMap {
	return &SourceMap{
		files: make(map[string][]string),
	}
}

// CanonicalPath returns the canonical absolute filename for a code object.
func CanonicalPath(code *bytecode.Code) (string, error) {
	if code.Filename == "" {
		return "", errors.Errorf("%s has no source file", code.FuncName)
	}
	return filepath.Abs(code.Filename)
}

// ExecutableLines returns the sorted set of source lines that carry
// instructions in code, descending into nested code constants of the same
// file.
func ExecutableLines(code *bytecode.Code) []int {
	seen := make(map[int]struct{})
	collectLines(code, code.Filename, seen)

	lines := make([]int, 0, len(seen))
	for line := range seen {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	return lines
}

func collectLines(code *bytecode.Code, filename string, seen map[int]struct{}) {
	if code.Filename != filename {
		return
	}
	for _, line := range code.Lines() {
		seen[line] = struct{}{}
	}
	for _, con := range code.Consts {
		if nested, ok := con.(*bytecode.Code); ok {
			collectLines(nested, filename, seen)
		}
	}
}

// Line returns the 1-indexed source line of a file.
func (sm *SourceMap) Line(filename string, line int) (string, error) {
	lines, err := sm.load(filename)
	if err != nil {
		return "", err
	}
	if line < 1 || line > len(lines) {
		return "", errors.Errorf("%s has no line %d", filename, line)
	}
	return lines[line-1], nil
}

// Context returns up to n lines surrounding line in filename, along with the
// 1-indexed number of the first returned line.
func (sm *SourceMap) Context(filename string, line, n int) ([]string, int, error) {
	lines, err := sm.load(filename)
	if err != nil {
		return nil, 0, err
	}
	if line < 1 || line > len(lines) {
		return nil, 0, errors.Errorf("%s has no line %d", filename, line)
	}

	start := line - n/2
	if start < 1 {
		start = 1
	}
	end := start + n
	if end > len(lines)+1 {
		end = len(lines) + 1
	}
	return lines[start-1 : end-1], start, nil
}

// NumLines returns the number of lines in filename.
func (sm *SourceMap) NumLines(filename string) (int, error) {
	lines, err := sm.load(filename)
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

func (sm *SourceMap) load(filename string) ([]string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if lines, ok := sm.files[filename]; ok {
		return lines, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", filename)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	sm.files[filename] = lines
	return lines, nil
}
