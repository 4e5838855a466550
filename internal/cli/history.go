package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/shelfard/shelfard/internal/export"
	"github.com/shelfard/shelfard/pkg/types"
)

func (e *env) runHistory(g globalOptions, argv []string) int {
	if len(argv) == 0 {
		fmt.Fprintln(e.stderr, "usage: shelfard history list|versions|show|export|inspect")
		return 2
	}
	command := argv[0]

	fs := flag.NewFlagSet("history "+command, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	var (
		version int
		out     string
		jsonOut bool
	)
	fs.BoolVar(&jsonOut, "json", false, "print JSON")
	switch command {
	case "show":
		fs.IntVar(&version, "version", 0, "version to show (default: latest)")
	case "export":
		fs.StringVar(&out, "o", "", "output file (default: <name>.shelfard)")
	}

	args, err := parseArgs(fs, argv[1:])
	if err != nil {
		return 2
	}

	want := 1
	if command == "list" {
		want = 0
	}
	if len(args) != want {
		fmt.Fprintf(e.stderr, "history %s: expected %d argument(s), got %d\n", command, want, len(args))
		return 2
	}

	if command == "inspect" {
		return e.inspectArchive(args[0], jsonOut)
	}

	a, _, err := e.open(g)
	if err != nil {
		return e.fail(err)
	}
	defer a.Close()
	reg := a.Registry()
	p := e.printer(g)

	switch command {
	case "list":
		names, err := reg.ListNames(e.ctx)
		if err != nil {
			return e.fail(err)
		}
		if jsonOut {
			e.printJSON(names)
		} else {
			p.Names(names)
		}

	case "versions":
		infos, err := reg.ListVersions(e.ctx, args[0])
		if err != nil {
			return e.fail(err)
		}
		if jsonOut {
			e.printJSON(infos)
		} else {
			p.Versions(args[0], infos)
		}

	case "show":
		var sv *types.SchemaVersion
		if version > 0 {
			sv, err = reg.GetVersion(e.ctx, args[0], version)
		} else {
			sv, err = reg.GetLatest(e.ctx, args[0])
		}
		if err != nil {
			return e.fail(err)
		}
		if jsonOut {
			e.printJSON(sv)
		} else {
			p.Schema(args[0], sv)
		}

	case "export":
		history, err := reg.History(e.ctx, args[0])
		if err != nil {
			return e.fail(err)
		}
		if out == "" {
			out = args[0] + ".shelfard"
		}
		if err := writeArchiveFile(out, args[0], history); err != nil {
			return e.fail(err)
		}
		fmt.Fprintf(e.stdout, "Exported %d versions of '%s' to %s\n", len(history), args[0], out)

	default:
		fmt.Fprintf(e.stderr, "unknown history command: %s\n", command)
		return 2
	}
	return 0
}

func writeArchiveFile(path, name string, history []types.SchemaVersion) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := export.WriteArchive(f, name, history); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (e *env) inspectArchive(path string, jsonOut bool) int {
	f, err := os.Open(path)
	if err != nil {
		return e.fail(err)
	}
	defer f.Close()

	archive, err := export.ReadArchive(f)
	if err != nil {
		return e.fail(err)
	}
	if jsonOut {
		e.printJSON(archive.Versions)
		return 0
	}

	fmt.Fprintf(e.stdout, "Archive of '%s': %d versions\n", archive.Name, len(archive.Versions))
	for _, sv := range archive.Versions {
		fmt.Fprintf(e.stdout, "  v%-4d %s  %d columns  %s\n",
			sv.Version, sv.CapturedAt.UTC().Format("2006-01-02T15:04:05Z"), len(sv.Schema.Columns), sv.Fingerprint)
	}
	return 0
}
