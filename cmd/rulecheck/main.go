// Command rulecheck validates rule documents without running them.
//
//	rulecheck [-functions a,b] [-actions c] <file-or-dir>...
//
// Every file is parsed against the built-in functions and actions plus any
// names declared with -functions and -actions, which stand in for callables
// the embedding application registers. rulecheck exits with status 1 when
// any document fails to load.
package main

import (
	"crypto/sha256"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rgehrsitz/rex/internal/builtins"
	"github.com/rgehrsitz/rex/internal/config"
	"github.com/rgehrsitz/rex/internal/expression"
	"github.com/rgehrsitz/rex/internal/loader"
	"github.com/rgehrsitz/rex/internal/registry"
	"github.com/rgehrsitz/rex/internal/rules"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fset := flag.NewFlagSet("rulecheck", flag.ContinueOnError)
	fset.SetOutput(stderr)
	functions := fset.String("functions", "", "comma separated application function names")
	actions := fset.String("actions", "", "comma separated application action names")
	if err := fset.Parse(args); err != nil {
		return 2
	}
	if fset.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: rulecheck [-functions a,b] [-actions c] <file-or-dir>...")
		return 2
	}

	logger := newLogger(stderr)

	l, err := newLoader(splitNames(*functions), splitNames(*actions))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register functions")
		return 1
	}

	loaded, errs := check(l, fset.Args())
	for _, err := range errs {
		logger.Error().Err(err).Msg("Invalid rules")
	}
	for _, group := range sharedConditions(loaded) {
		logger.Warn().Strs("rules", group.rules).Str("when", group.when).Msg("Rules share an identical condition; consider merging their actions")
	}
	if len(errs) > 0 {
		logger.Error().Int("errors", len(errs)).Msg("Rule check failed")
		return 1
	}
	logger.Info().Int("rules", len(loaded)).Msg("Rules OK")
	return 0
}

func newLogger(w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg, err := config.Load(); err == nil {
		if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).Level(level).With().Timestamp().Logger()
}

// newLoader returns a loader that knows the built-ins and accepts the named
// externals with any arguments.
func newLoader(functions, actions []string) (*loader.Loader, error) {
	fns, acts := registry.NewFunctions(), registry.NewActions()
	if err := builtins.Register(fns, acts); err != nil {
		return nil, err
	}
	for _, name := range functions {
		if err := fns.RegisterFunc(name, func(...any) any { return nil }); err != nil {
			return nil, err
		}
	}
	for _, name := range actions {
		if err := acts.RegisterFunc(name, func(...any) {}); err != nil {
			return nil, err
		}
	}
	return loader.New(fns, acts), nil
}

func splitNames(s string) []string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// check loads every document under paths and returns the rules that loaded
// together with one error per failing document and per rule name defined
// more than once.
func check(l *loader.Loader, paths []string) ([]*rules.Rule, []error) {
	c := l.NewChecker()
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			c.Fail(fmt.Errorf("rules not found: %s: %w", p, err))
			continue
		}
		if info.IsDir() {
			c.Add(os.DirFS(p), ".", p)
		} else {
			c.Add(os.DirFS(filepath.Dir(p)), filepath.Base(p), filepath.Dir(p))
		}
	}
	return c.Rules(), c.Errors()
}

type conditionGroup struct {
	when  string
	rules []string
}

// sharedConditions groups rules whose conditions are identical once
// constants are folded. Groups of one are dropped.
func sharedConditions(loaded []*rules.Rule) []conditionGroup {
	groups := make(map[string]*conditionGroup)
	var order []string
	for _, r := range loaded {
		key, when, ok := conditionKey(r)
		if !ok {
			continue
		}
		g, found := groups[key]
		if !found {
			g = &conditionGroup{when: when}
			groups[key] = g
			order = append(order, key)
		}
		g.rules = append(g.rules, r.Name())
	}

	var shared []conditionGroup
	for _, key := range order {
		if g := groups[key]; len(g.rules) > 1 {
			sort.Strings(g.rules)
			shared = append(shared, *g)
		}
	}
	return shared
}

func conditionKey(r *rules.Rule) (key, when string, ok bool) {
	if r.Expression() == "" {
		return "", "", false
	}
	n, err := expression.Parse(r.Expression())
	if err != nil {
		return "", "", false
	}
	when = expression.Simplify(n).String()
	return fmt.Sprintf("%x", sha256.Sum256([]byte(when))), when, true
}
