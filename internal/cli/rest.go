package cli

import (
	"encoding/json"
	"flag"
	"fmt"

	"github.com/shelfard/shelfard/internal/drift"
	serrors "github.com/shelfard/shelfard/internal/errors"
	"github.com/shelfard/shelfard/internal/fetch"
	"github.com/shelfard/shelfard/internal/infer"
)

type restOptions struct {
	name           string
	bearer         string
	headers        stringList
	partitionKeys  stringList
	clusteringKeys stringList
	jsonOut        bool
}

func (e *env) runRest(g globalOptions, argv []string) int {
	if len(argv) == 0 {
		fmt.Fprintln(e.stderr, "usage: shelfard rest snapshot|check <url> [--name NAME] [--bearer TOKEN] [--header KEY=VALUE ...]")
		return 2
	}
	command := argv[0]
	if command != "snapshot" && command != "check" {
		fmt.Fprintf(e.stderr, "unknown rest command: %s\n", command)
		return 2
	}

	fs := flag.NewFlagSet("rest "+command, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	var o restOptions
	fs.StringVar(&o.name, "name", "", "schema name stored in the registry (default: derived from URL)")
	fs.StringVar(&o.bearer, "bearer", "", "send Authorization: Bearer <TOKEN> with the request")
	fs.Var(&o.headers, "header", "extra request header KEY=VALUE; can be repeated")
	fs.Var(&o.partitionKeys, "partition-key", "declare a partition key column; can be repeated")
	fs.Var(&o.clusteringKeys, "clustering-key", "declare a clustering key column; can be repeated")
	fs.BoolVar(&o.jsonOut, "json", false, "print the result as JSON")

	args, err := parseArgs(fs, argv[1:])
	if err != nil {
		return 2
	}
	if len(args) != 1 {
		fmt.Fprintf(e.stderr, "rest %s: expected exactly one URL, got %d arguments\n", command, len(args))
		return 2
	}

	headers, err := fetch.ParseHeaders(o.headers)
	if err != nil {
		return e.fail(err)
	}
	target := drift.Target{
		URL:     args[0],
		Name:    o.name,
		Bearer:  o.bearer,
		Headers: headers,
		Hints:   infer.KeyHints{PartitionKeys: o.partitionKeys, ClusteringKeys: o.clusteringKeys},
	}

	a, _, err := e.open(g)
	if err != nil {
		return e.fail(err)
	}
	defer a.Close()

	p := e.printer(g)
	if !o.jsonOut {
		p.Fetching(target.URL)
	}

	if command == "snapshot" {
		res, err := a.Service().Snapshot(e.ctx, target)
		switch {
		case err != nil && (serrors.IsFetch(err) || serrors.IsParse(err)):
			p.Failure("Failed to fetch schema", err)
			return drift.ExitFailure
		case err != nil:
			p.Failure("Failed to register schema", err)
			return drift.ExitFailure
		}
		if o.jsonOut {
			e.printJSON(res)
		} else {
			p.SnapshotSaved(res)
		}
		return drift.ExitClean
	}

	res, err := a.Service().Check(e.ctx, target)
	switch {
	case err == nil:
	case serrors.IsFetch(err) || serrors.IsParse(err):
		p.Failure("Failed to fetch schema", err)
	case serrors.IsNotFound(err):
		p.NoBaseline(target.ResolvedName(), target.URL, o.name != "")
	default:
		p.Failure("Comparison failed", err)
	}
	if err == nil {
		if o.jsonOut {
			e.printJSON(res)
		} else {
			p.Check(res)
		}
	}
	return drift.ExitCode(res, err)
}

func (e *env) printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(e.stdout, string(b))
}
