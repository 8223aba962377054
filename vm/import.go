package vm

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/brook-lang/brook/compiler"
	"github.com/pkg/errors"
)

const (
	// SourceExt is the extension of Brook source files.
	SourceExt = ".bk"

	// InitFilename is the initializer source file of a package directory.
	InitFilename = "init" + SourceExt
)

// ModuleSpec describes how a located module is loaded.
type ModuleSpec struct {
	// Name is the fully qualified module name.
	Name string

	// Filename is the absolute path of the module's source file.
	Filename string

	// SearchPath is the search path for the module's submodules, nil when
	// the module is a plain file.
	SearchPath []string

	// Load reads, compiles and executes the module's source, populating
	// mod.Globals.
	Load func(m *Machine, mod *Module) error
}

// Finder locates a module by fully qualified name. Returning a nil spec with
// a nil error means "no spec": the machine tries the next finder in the
// chain.
type Finder interface {
	Find(m *Machine, fullname string, searchPath []string) (*ModuleSpec, error)
}

// Finders returns the machine's finder chain in lookup order.
func (m *Machine) Finders() []Finder {
	return m.finders
}

// PushFinder inserts f at the front of the finder chain so it shadows the
// default source finder.
func (m *Machine) PushFinder(f Finder) {
	m.finders = append([]Finder{f}, m.finders...)
}

// RemoveFinder removes f from the finder chain.
func (m *Machine) RemoveFinder(f Finder) {
	for i, candidate := range m.finders {
		if candidate == f {
			m.finders = append(m.finders[:i], m.finders[i+1:]...)
			return
		}
	}
}

// InvalidateModules drops the module cache so subsequent imports load
// fresh code objects.
func (m *Machine) InvalidateModules() {
	m.modules = make(map[string]*Module)
}

// Import imports a fully qualified dotted module name, resolving and
// executing each ancestor in turn, and returns the leaf module.
func (m *Machine) Import(fullname string) (*Module, error) {
	segments := strings.Split(fullname, ".")

	var (
		mod        *Module
		searchPath []string
	)
	for i := range segments {
		if i > 0 && searchPath == nil {
			return nil, errors.Errorf("module %q is not a package", strings.Join(segments[:i], "."))
		}
		name := strings.Join(segments[:i+1], ".")
		var err error
		mod, searchPath, err = m.importOne(name, searchPath)
		if err != nil {
			return nil, err
		}
	}
	return mod, nil
}

func (m *Machine) importOne(fullname string, searchPath []string) (*Module, []string, error) {
	if mod, ok := m.modules[fullname]; ok {
		return mod, moduleSearchPath(mod), nil
	}

	var spec *ModuleSpec
	for _, finder := range m.finders {
		var err error
		spec, err = finder.Find(m, fullname, searchPath)
		if err != nil {
			return nil, nil, err
		}
		if spec != nil {
			break
		}
	}
	if spec == nil {
		return nil, nil, errors.Errorf("no module named %q", fullname)
	}

	mod := &Module{
		Name:     fullname,
		Filename: spec.Filename,
		Globals: map[string]Value{
			"__name__": fullname,
		},
	}
	if spec.SearchPath != nil {
		mod.Globals["__path__"] = searchPathValue(spec.SearchPath)
	}

	// Cache before executing so cyclic imports observe the partially
	// initialized module instead of recursing forever.
	m.modules[fullname] = mod
	err := spec.Load(m, mod)
	if err != nil {
		delete(m.modules, fullname)
		return nil, nil, err
	}
	return mod, spec.SearchPath, nil
}

func searchPathValue(path []string) *List {
	list := &List{}
	for _, dir := range path {
		list.Elems = append(list.Elems, dir)
	}
	return list
}

func moduleSearchPath(mod *Module) []string {
	list, ok := mod.Globals["__path__"].(*List)
	if !ok {
		return nil
	}
	var path []string
	for _, elem := range list.Elems {
		if dir, ok := elem.(string); ok {
			path = append(path, dir)
		}
	}
	return path
}

// ResolveModuleFile locates the source file for the leaf segment of
// fullname. For each directory in searchPath (or the machine's working
// directory when searchPath is nil), a subdirectory named after the leaf is
// treated as a package with an initializer file, otherwise a plain
// leaf-named source file is used. Returns ok false when nothing matched.
func ResolveModuleFile(m *Machine, fullname string, searchPath []string) (filename string, childPath []string, ok bool) {
	name := fullname
	if i := strings.LastIndex(fullname, "."); i >= 0 {
		name = fullname[i+1:]
	}
	if searchPath == nil {
		searchPath = []string{m.Dir()}
	}

	for _, entry := range searchPath {
		dir := filepath.Join(entry, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			init := filepath.Join(dir, InitFilename)
			if _, err := os.Stat(init); err == nil {
				return init, []string{dir}, true
			}
			continue
		}

		file := filepath.Join(entry, name+SourceExt)
		if _, err := os.Stat(file); err == nil {
			return file, nil, true
		}
	}
	return "", nil, false
}

// sourceFinder is the default finder: it compiles Brook source files from
// the search path without instrumentation.
type sourceFinder struct{}

func (*sourceFinder) Find(m *Machine, fullname string, searchPath []string) (*ModuleSpec, error) {
	filename, childPath, ok := ResolveModuleFile(m, fullname, searchPath)
	if !ok {
		return nil, nil
	}

	return &ModuleSpec{
		Name:       fullname,
		Filename:   filename,
		SearchPath: childPath,
		Load: func(m *Machine, mod *Module) error {
			code, err := compiler.CompileFile(mod.Filename)
			if err != nil {
				return errors.Wrapf(err, "failed to load module %s", fullname)
			}
			_, err = m.RunCode(code, mod.Globals, mod.Globals)
			return err
		},
	}, nil
}
