// Command ruleexec runs a fact document through a rule set and prints the
// resulting facts as JSON.
//
//	ruleexec [-rules path] [-facts file] [-trace] [-watch]
//
// Facts are read as YAML or JSON from -facts, or from stdin when it is "-"
// or empty. With -watch the rules are reloaded whenever they change and the
// facts are run again after every successful reload until interrupted.
// Settings not given as flags come from the REX_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/rgehrsitz/rex/internal/config"
	"github.com/rgehrsitz/rex/internal/facts"
	"github.com/rgehrsitz/rex/internal/reload"
	"github.com/rgehrsitz/rex/internal/tracing"
	"github.com/rgehrsitz/rex/pkg/rex"
)

type options struct {
	rules string
	facts string
	trace bool
	watch bool
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		log.Error().Err(err).Msg("ruleexec failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fset := flag.NewFlagSet("ruleexec", flag.ContinueOnError)
	fset.SetOutput(stderr)
	var opts options
	fset.StringVar(&opts.rules, "rules", cfg.RulesLocation, "rule file, directory or resource location")
	fset.StringVar(&opts.facts, "facts", "-", "YAML or JSON fact document, - for stdin")
	fset.BoolVar(&opts.trace, "trace", false, "report the rules that fired")
	fset.BoolVar(&opts.watch, "watch", cfg.HotReload, "reload rules on change and run again")
	if err := fset.Parse(args); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}).Level(level).With().Timestamp().Logger()

	shutdown, err := tracing.Init(ctx)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	input, err := readFacts(opts.facts, stdin)
	if err != nil {
		return err
	}

	cfg.RulesLocation = opts.rules
	cfg.HotReload = opts.watch
	cfg.FailOnLoadError = true
	c, err := rex.NewFromConfigWith(ctx, cfg, nil, []rex.Option{reload.WithLogger(log.Logger)})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := execute(c, input, opts.trace, stdout); err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}

	var mu sync.Mutex
	c.SetReloadListener(reload.ListenerFuncs{
		Success: func(int, time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			if err := execute(c, input, opts.trace, stdout); err != nil {
				log.Error().Err(err).Msg("Execution after reload failed")
			}
		},
	})

	sctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log.Info().Str("rules", c.Source()).Msg("Watching rules; press Ctrl-C to stop")
	<-sctx.Done()
	return nil
}

// readFacts decodes a fact document from name, or from stdin when name is
// "-" or empty. An empty document yields no facts.
func readFacts(name string, stdin io.Reader) (facts.Facts, error) {
	var data []byte
	var err error
	if name == "" || name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return facts.Facts{}, fmt.Errorf("failed to read facts: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return facts.Facts{}, fmt.Errorf("failed to parse facts: %w", err)
	}
	return facts.New(doc), nil
}

type output struct {
	Facts    map[string]any `json:"facts"`
	Fired    []string       `json:"fired,omitempty"`
	EngineID string         `json:"engine_id,omitempty"`
	Duration string         `json:"duration,omitempty"`
}

func execute(c *rex.Controller, input facts.Facts, trace bool, w io.Writer) error {
	res, err := c.ExecuteWithTrace(input)
	if err != nil {
		return err
	}

	out := output{Facts: res.Facts.AsMap()}
	if trace {
		out.Fired = res.Fired
		out.EngineID = res.EngineID
		out.Duration = res.Duration.String()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
