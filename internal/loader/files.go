package loader

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rgehrsitz/rex/internal/rules"
)

// IsRuleFile reports whether name has a rule document extension.
func IsRuleFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

// RuleFiles lists the documents at name in fsys: name itself when it is a
// file, otherwise the .yml and .yaml files directly inside it in lexical
// order.
func RuleFiles(fsys fs.FS, name string) ([]string, error) {
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{name}, nil
	}
	entries, err := fs.ReadDir(fsys, name)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && IsRuleFile(e.Name()) {
			files = append(files, path.Join(name, e.Name()))
		}
	}
	return files, nil
}

// LoadFile loads a single document from the filesystem.
func (l *Loader) LoadFile(file string) ([]*rules.Rule, error) {
	return l.loadFS(os.DirFS(filepath.Dir(file)), filepath.Base(file), filepath.Dir(file))
}

// LoadDir loads every rule document directly inside dir. Rule names must be
// unique across all files.
func (l *Loader) LoadDir(dir string) ([]*rules.Rule, error) {
	return l.loadFS(os.DirFS(dir), ".", dir)
}

// LoadFS loads name from fsys, which may be a document or a directory of
// documents. It serves rules bundled with embed.FS.
func (l *Loader) LoadFS(fsys fs.FS, name string) ([]*rules.Rule, error) {
	return l.loadFS(fsys, name, "")
}

func (l *Loader) loadFS(fsys fs.FS, name, root string) ([]*rules.Rule, error) {
	c := l.NewChecker()
	files := c.Add(fsys, name, root)
	if errs := c.Errors(); len(errs) > 0 {
		return nil, errs[0]
	}
	all := c.Rules()
	log.Info().Str("location", displayName(root, name)).Int("files", files).Int("rules", len(all)).Msg("Loaded rules")
	return all, nil
}

// Checker loads documents independently, recording each failure instead of
// stopping at the first. Rule names must be unique across every document
// added to one Checker.
type Checker struct {
	loader *Loader
	owner  map[string]string
	rules  []*rules.Rule
	errs   []error
}

func (l *Loader) NewChecker() *Checker {
	return &Checker{loader: l, owner: make(map[string]string)}
}

// Add loads name from fsys, a document or a directory of documents, and
// returns the number of documents found. root, when set, is joined to file
// names in rule sources and errors.
func (c *Checker) Add(fsys fs.FS, name, root string) int {
	files, err := RuleFiles(fsys, name)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("failed to list rules at %s: %w", displayName(root, name), err))
		return 0
	}
	for _, file := range files {
		display := displayName(root, file)
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			c.errs = append(c.errs, fmt.Errorf("failed to read rules file %s: %w", display, err))
			continue
		}
		loaded, err := c.loader.LoadBytes(data, display)
		if err != nil {
			c.errs = append(c.errs, err)
			continue
		}
		for _, r := range loaded {
			if prev, dup := c.owner[r.Name()]; dup {
				c.errs = append(c.errs, &ParseError{File: display, Rule: r.Name(), Line: r.Line(), Msg: "duplicate rule name (also defined in " + prev + ")"})
				continue
			}
			c.owner[r.Name()] = display
			c.rules = append(c.rules, r)
		}
	}
	return len(files)
}

// Fail records an error found outside Add, such as a missing path.
func (c *Checker) Fail(err error) {
	c.errs = append(c.errs, err)
}

// Rules returns the rules that loaded, in document order.
func (c *Checker) Rules() []*rules.Rule { return c.rules }

// Errors returns every failure in the order it was found.
func (c *Checker) Errors() []error { return c.errs }

func displayName(root, p string) string {
	if root == "" {
		return p
	}
	return filepath.Join(root, filepath.FromSlash(p))
}
