// Package render prints snapshot and check results for terminals. Colour is
// used only when the output is a terminal and NO_COLOR is unset.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/shelfard/shelfard/internal/drift"
	"github.com/shelfard/shelfard/internal/registry"
	"github.com/shelfard/shelfard/pkg/types"
)

const (
	codeRed    = "31"
	codeGreen  = "32"
	codeYellow = "33"
	codeBold   = "1"
)

// Printer writes human-readable output.
type Printer struct {
	w     io.Writer
	color bool
	now   func() time.Time
}

// New returns a Printer on w, enabling colour when w is a terminal.
func New(w io.Writer) *Printer {
	return NewPrinter(w, IsTerminal(w) && os.Getenv("NO_COLOR") == "")
}

// NewPrinter returns a Printer with colour explicitly on or off.
func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color, now: time.Now}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) paint(text, code string) string {
	if !p.color {
		return text
	}
	return "\033[" + code + "m" + text + "\033[0m"
}

func (p *Printer) red(s string) string    { return p.paint(s, codeRed) }
func (p *Printer) green(s string) string  { return p.paint(s, codeGreen) }
func (p *Printer) yellow(s string) string { return p.paint(s, codeYellow) }
func (p *Printer) bold(s string) string   { return p.paint(s, codeBold) }

func (p *Printer) severity(s types.ChangeSeverity, text string) string {
	switch s {
	case types.SeverityBreaking:
		return p.red(text)
	case types.SeverityWarning:
		return p.yellow(text)
	default:
		return p.green(text)
	}
}

// Fetching announces a fetch.
func (p *Printer) Fetching(url string) {
	fmt.Fprintf(p.w, "Fetching %s …\n", url)
}

// Failure reports a failed step.
func (p *Printer) Failure(what string, err error) {
	fmt.Fprintln(p.w, p.red(fmt.Sprintf("✗ %s: %v", what, err)))
}

// SnapshotSaved reports a registered version.
func (p *Printer) SnapshotSaved(res *drift.SnapshotResult) {
	fmt.Fprintln(p.w, p.green(fmt.Sprintf("✓ Snapshot saved: '%s' (version %d, %d top-level columns)",
		res.Name, res.Version, res.TopLevelColumns)))
}

// NoBaseline explains how to create the missing baseline for name.
func (p *Printer) NoBaseline(name, url string, explicitName bool) {
	fmt.Fprintln(p.w, p.red(fmt.Sprintf("✗ No snapshot found for '%s'.", name)))
	hint := "shelfard rest snapshot " + url
	if explicitName {
		hint += " --name " + name
	}
	fmt.Fprintf(p.w, "  Run:  %s\n", hint)
}

// Check prints the outcome of a check and each change with its reasoning.
func (p *Printer) Check(res *drift.CheckResult) {
	baseline := fmt.Sprintf("v%d, %s", res.BaselineVersion, p.ago(res.BaselineCapturedAt))

	if !res.Diff.HasChanges() {
		fmt.Fprintln(p.w, p.green(fmt.Sprintf("✓ No drift detected for '%s'", res.Name))+
			fmt.Sprintf("  (last snapshot: %s)", baseline))
		return
	}

	icon := "⚠"
	if res.Diff.OverallSeverity == types.SeverityBreaking {
		icon = "✗"
	}
	fmt.Fprintln(p.w, p.severity(res.Diff.OverallSeverity,
		fmt.Sprintf("%s Schema drift detected for '%s'", icon, res.Name)))
	fmt.Fprintf(p.w, "  %s  (baseline: %s)\n", res.Diff.Summary, baseline)
	fmt.Fprintln(p.w)

	for _, c := range res.Diff.Changes {
		label := p.severity(c.Severity, fmt.Sprintf("[%-8s]", c.Severity))
		fmt.Fprintf(p.w, "  %s %-25s '%s'\n", label, c.ChangeType, c.Path)
		fmt.Fprintf(p.w, "             %s\n", c.Reasoning)
		fmt.Fprintln(p.w)
	}
}

// Versions lists the versions of name, oldest first.
func (p *Printer) Versions(name string, infos []registry.VersionInfo) {
	fmt.Fprintln(p.w, p.bold(fmt.Sprintf("History of '%s' (%s)", name, plural(len(infos), "version"))))

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  VERSION\tCOLUMNS\tFINGERPRINT\tCAPTURED\tSOURCE")
	for _, info := range infos {
		fmt.Fprintf(tw, "  %d\t%d\t%s\t%s\t%s\n",
			info.Version, info.Columns, shortFingerprint(info.Fingerprint), p.ago(info.CapturedAt), info.Source)
	}
	tw.Flush()
}

// Schema prints the columns of one version.
func (p *Printer) Schema(name string, sv *types.SchemaVersion) {
	fmt.Fprintln(p.w, p.bold(fmt.Sprintf("'%s' version %d", name, sv.Version)))
	fmt.Fprintf(p.w, "  captured %s (%s)\n", p.ago(sv.CapturedAt), sv.CapturedAt.Format(time.RFC3339))
	if sv.Schema.Source != "" {
		fmt.Fprintf(p.w, "  source   %s\n", sv.Schema.Source)
	}
	if len(sv.Schema.PartitionKeys) > 0 {
		fmt.Fprintf(p.w, "  partition keys  %s\n", strings.Join(sv.Schema.PartitionKeys, ", "))
	}
	if len(sv.Schema.ClusteringKeys) > 0 {
		fmt.Fprintf(p.w, "  clustering keys %s\n", strings.Join(sv.Schema.ClusteringKeys, ", "))
	}
	fmt.Fprintln(p.w)

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  PATH\tTYPE\tNULLABLE\tREPEATED")
	for _, c := range sv.Schema.Columns {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", c.Path, c.Type, yesNo(c.Nullable), yesNo(c.Repeated))
	}
	tw.Flush()
}

// Names lists registered schema names.
func (p *Printer) Names(names []string) {
	if len(names) == 0 {
		fmt.Fprintln(p.w, "No schemas registered.")
		return
	}
	for _, n := range names {
		fmt.Fprintln(p.w, n)
	}
}

func (p *Printer) ago(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return humanize.RelTime(t, p.now(), "ago", "from now")
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
