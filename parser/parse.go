package parser

import (
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/brook-lang/brook/parser/ast"
	"github.com/pkg/errors"
)

// NamedReader is a reader that also names its source, so that positions in
// the resulting tree carry a useful filename.
type NamedReader struct {
	io.Reader
	Value string
}

func (nr *NamedReader) Name() string {
	return nr.Value
}

// Parse parses a Brook module from r. The filename attached to positions is
// taken from r when it implements Name() string, as *os.File and NamedReader
// do.
func Parse(r io.Reader) (*ast.Module, error) {
	name := lexer.NameOfReader(r)
	if name == "" {
		name = "<stdin>"
	}

	mod := &ast.Module{}
	err := ast.Parser.Parse(name, r, mod)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", name)
	}
	return mod, nil
}

// ParseFile parses the Brook module at path. Positions carry the absolute
// path so breakpoints and stacktraces can be matched by canonical filename.
func ParseFile(path string) (*ast.Module, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}
