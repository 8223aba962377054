package debugger

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Breakpoint is a stopping point in a target program. Identity is
// (Filename, Line); Condition, when non-empty, is a Brook expression
// evaluated in the stopped frame to decide whether to halt.
type Breakpoint struct {
	Filename  string
	Line      int
	Condition string
}

// ID returns the breakpoint's identity as file:line.
func (bp *Breakpoint) ID() string {
	return fmt.Sprintf("%s:%d", bp.Filename, bp.Line)
}

func (bp *Breakpoint) String() string {
	if bp.Condition == "" {
		return bp.ID()
	}
	return fmt.Sprintf("%s if %s", bp.ID(), bp.Condition)
}

// Table is the breakpoint lookup structure. The outer key is the line
// number: the probe learns the current line for free from the frame and most
// lookups miss, so lines are discriminated first and filenames second.
type Table struct {
	byLine map[int]map[string]*Breakpoint
}

// NewTable returns an empty breakpoint table.
func NewTable() *Table {
	return &Table{
		byLine: make(map[int]map[string]*Breakpoint),
	}
}

// Add inserts a breakpoint. It fails when (filename, line) is already
// present.
func (t *Table) Add(filename string, line int, condition string) (*Breakpoint, error) {
	files, ok := t.byLine[line]
	if !ok {
		files = make(map[string]*Breakpoint)
		t.byLine[line] = files
	}
	if _, ok := files[filename]; ok {
		return nil, errors.Errorf("breakpoint already exists at %s:%d", filename, line)
	}

	bp := &Breakpoint{Filename: filename, Line: line, Condition: condition}
	files[filename] = bp
	return bp, nil
}

// Remove deletes the breakpoint at (filename, line). Removing an absent
// breakpoint is a no-op: user interfaces issue removes on files being closed
// and must not trip over them.
func (t *Table) Remove(filename string, line int) {
	files, ok := t.byLine[line]
	if !ok {
		return
	}
	delete(files, filename)
	if len(files) == 0 {
		delete(t.byLine, line)
	}
}

// Lookup returns the breakpoint at (filename, line), or nil.
func (t *Table) Lookup(filename string, line int) *Breakpoint {
	return t.byLine[line][filename]
}

// All returns every breakpoint ordered by file then line.
func (t *Table) All() []*Breakpoint {
	var bps []*Breakpoint
	for _, files := range t.byLine {
		for _, bp := range files {
			bps = append(bps, bp)
		}
	}
	sort.Slice(bps, func(i, j int) bool {
		if bps[i].Filename != bps[j].Filename {
			return bps[i].Filename < bps[j].Filename
		}
		return bps[i].Line < bps[j].Line
	})
	return bps
}

// Clear drops every breakpoint.
func (t *Table) Clear() {
	t.byLine = make(map[int]map[string]*Breakpoint)
}
