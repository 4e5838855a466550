package cli

import (
	"flag"
	"fmt"

	"github.com/shelfard/shelfard/internal/export"
	"github.com/shelfard/shelfard/pkg/types"
)

func (e *env) runSchema(g globalOptions, argv []string) int {
	if len(argv) == 0 || argv[0] != "openapi" {
		fmt.Fprintln(e.stderr, "usage: shelfard schema openapi <name> [--version N]")
		return 2
	}

	fs := flag.NewFlagSet("schema openapi", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	var version int
	fs.IntVar(&version, "version", 0, "version to export (default: latest)")
	args, err := parseArgs(fs, argv[1:])
	if err != nil {
		return 2
	}
	if len(args) != 1 {
		fmt.Fprintln(e.stderr, "schema openapi: expected a schema name")
		return 2
	}

	a, _, err := e.open(g)
	if err != nil {
		return e.fail(err)
	}
	defer a.Close()

	name := args[0]
	var sv *types.SchemaVersion
	if version > 0 {
		sv, err = a.Registry().GetVersion(e.ctx, name, version)
	} else {
		sv, err = a.Registry().GetLatest(e.ctx, name)
	}
	if err != nil {
		return e.fail(err)
	}
	e.printJSON(export.OpenAPIDocument(name, sv))
	return 0
}

func (e *env) runServe(g globalOptions, argv []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	var addr string
	fs.StringVar(&addr, "addr", "", "listen address (default: http.addr)")
	if err := fs.Parse(argv); err != nil {
		return 2
	}

	a, cfg, err := e.open(g)
	if err != nil {
		return e.fail(err)
	}
	defer a.Close()
	if addr != "" {
		cfg.HTTP.Addr = addr
	}

	if err := a.Serve(e.ctx); err != nil {
		return e.fail(err)
	}
	return 0
}
