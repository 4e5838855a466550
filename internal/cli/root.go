// Package cli implements the shelfard command line.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shelfard/shelfard/internal/app"
	"github.com/shelfard/shelfard/internal/config"
	"github.com/shelfard/shelfard/internal/render"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

// globalOptions are accepted before the command.
type globalOptions struct {
	ConfigPath string
	LogLevel   string
	DataDir    string
	Backend    string
	NoColor    bool
}

func bindGlobalFlags(fs *flag.FlagSet, g *globalOptions) {
	fs.StringVar(&g.ConfigPath, "config", os.Getenv("SHELFARD_CONFIG"), "config file (YAML or JSON)")
	fs.StringVar(&g.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&g.DataDir, "data-dir", "", "base directory for local registries")
	fs.StringVar(&g.Backend, "registry", "", "registry backend: local, s3, sqlite, postgres")
	fs.BoolVar(&g.NoColor, "no-color", false, "disable coloured output")
}

// env carries the process streams so commands can be run in tests.
type env struct {
	stdout io.Writer
	stderr io.Writer
	ctx    context.Context
}

// Execute runs the CLI and returns an exit code.
func Execute(argv []string) int {
	e := &env{stdout: os.Stdout, stderr: os.Stderr, ctx: context.Background()}
	return e.run(argv)
}

func (e *env) run(argv []string) int {
	globalFS := flag.NewFlagSet("shelfard", flag.ContinueOnError)
	globalFS.SetOutput(e.stderr)
	var g globalOptions
	bindGlobalFlags(globalFS, &g)
	globalFS.Usage = func() { printRootHelp(e.stderr) }

	if err := globalFS.Parse(argv); err != nil {
		// flag package already printed the error
		return 2
	}

	args := globalFS.Args()
	if len(args) == 0 {
		printRootHelp(e.stdout)
		return 0
	}

	verb := args[0]
	rest := args[1:]

	switch verb {
	case "--help", "-h", "help":
		printRootHelp(e.stdout)
		return 0
	case "rest":
		return e.runRest(g, rest)
	case "history":
		return e.runHistory(g, rest)
	case "schema":
		return e.runSchema(g, rest)
	case "serve":
		return e.runServe(g, rest)
	case "version":
		fmt.Fprintf(e.stdout, "shelfard %s\n", Version)
		return 0
	default:
		fmt.Fprintf(e.stderr, "unknown command: %s\n\n", verb)
		printRootHelp(e.stderr)
		return 2
	}
}

func printRootHelp(w io.Writer) {
	fmt.Fprint(w, `shelfard - schema drift detection

Capture the shape of a data source once, then re-check it any time
to detect unexpected schema changes before they break pipelines.

Usage:
  shelfard [global flags] <command> [args]

Commands:
  rest snapshot <url>       fetch the endpoint and save its schema
  rest check <url>          compare the endpoint against the saved snapshot
  history list              list registered schema names
  history versions <name>   list the versions of a schema
  history show <name>       print one version (latest by default)
  history export <name>     write the full history as a compressed archive
  history inspect <file>    summarize an exported archive
  schema openapi <name>     print the latest schema as an OpenAPI document
  serve                     run the HTTP API
  version                   print the version

Global flags:
  --config FILE      config file (YAML or JSON, or SHELFARD_CONFIG)
  --log-level LEVEL  debug, info, warn, error
  --data-dir DIR     base directory for local registries
  --registry NAME    local, s3, sqlite, postgres
  --no-color         disable coloured output

Exit codes:
  0  success, no drift
  1  drift detected
  2  error
`)
}

// loadConfig builds the effective configuration with global flags applied
// last.
func (e *env) loadConfig(g globalOptions) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if g.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(g.ConfigPath); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if g.DataDir != "" {
		cfg.DataDir = g.DataDir
	}
	if g.Backend != "" {
		cfg.Registry.Backend = config.Backend(g.Backend)
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// open loads the configuration, sets up logging and opens the registry.
func (e *env) open(g globalOptions) (*app.App, *config.Config, error) {
	cfg, err := e.loadConfig(g)
	if err != nil {
		return nil, nil, err
	}

	logger, err := setupLogging(e.stderr, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := a.Open(e.ctx); err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

// setupLogging installs a text handler on w as the default logger.
func setupLogging(w io.Writer, level string) (*slog.Logger, error) {
	logLevel, err := config.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger, nil
}

func (e *env) printer(g globalOptions) *render.Printer {
	if g.NoColor {
		return render.NewPrinter(e.stdout, false)
	}
	return render.New(e.stdout)
}

func (e *env) fail(err error) int {
	fmt.Fprintln(e.stderr, "error:", err)
	return 2
}
