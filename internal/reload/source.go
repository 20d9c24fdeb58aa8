package reload

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rgehrsitz/rex/internal/loader"
	"github.com/rgehrsitz/rex/internal/rules"
)

// Location prefixes.
const (
	FilePrefix     = "file:"
	ResourcePrefix = "resource:"
)

// ErrNoResources is returned for a resource: location when no resource
// filesystem is configured.
var ErrNoResources = errors.New("no resource filesystem configured")

// Source is a resolved rules location.
type Source struct {
	// Location is the location as given to Load.
	Location string
	// WatchPath is the absolute path to watch, or empty when the source has
	// no backing directory on disk.
	WatchPath string
	// Dir reports whether the source is a directory of rule files.
	Dir bool

	fsys fs.FS
	name string
	root string
}

// resolveSource resolves location. Plain paths and file: locations refer to
// the OS filesystem. resource: locations are looked up in resources; they
// are watchable only when resourceDir backs resources on disk.
func resolveSource(location string, resources fs.FS, resourceDir string) (*Source, error) {
	if rest, ok := strings.CutPrefix(location, ResourcePrefix); ok {
		if resources == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoResources, location)
		}
		name := path.Clean(strings.TrimPrefix(rest, "/"))
		info, err := fs.Stat(resources, name)
		if err != nil {
			return nil, fmt.Errorf("resource not found: %s: %w", name, err)
		}
		src := &Source{Location: location, Dir: info.IsDir(), fsys: resources, name: name}
		if resourceDir != "" {
			p, err := filepath.Abs(filepath.Join(resourceDir, filepath.FromSlash(name)))
			if err == nil {
				if _, err := os.Stat(p); err == nil {
					src.WatchPath = p
				}
			}
		}
		return src, nil
	}

	p := strings.TrimPrefix(location, FilePrefix)
	if p == "" {
		return nil, errors.New("rules location is empty")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("rules not found: %s: %w", p, err)
	}

	src := &Source{Location: location, WatchPath: abs, Dir: info.IsDir()}
	if info.IsDir() {
		src.fsys, src.name, src.root = os.DirFS(abs), ".", p
	} else {
		src.fsys, src.name, src.root = os.DirFS(filepath.Dir(abs)), filepath.Base(abs), filepath.Dir(p)
	}
	return src, nil
}

// Watchable reports whether changes to the source can be observed.
func (s *Source) Watchable() bool {
	return s.WatchPath != ""
}

func (s *Source) display(name string) string {
	if s.root == "" {
		return name
	}
	return filepath.Join(s.root, filepath.FromSlash(name))
}

func (s *Source) load(l *loader.Loader) ([]*rules.Rule, error) {
	if s.root == "" {
		return l.LoadFS(s.fsys, s.name)
	}
	if s.Dir {
		return l.LoadDir(s.root)
	}
	return l.LoadFile(s.display(s.name))
}

// validate parses every file of the source independently and returns one
// error per failing file and per rule name defined in more than one file.
func (s *Source) validate(l *loader.Loader) []error {
	c := l.NewChecker()
	c.Add(s.fsys, s.name, s.root)
	return c.Errors()
}
