// Package diff classifies the structural differences between a baseline
// schema and a candidate schema.
//
// Comparison is keyed by column path, so column order never matters. The
// resulting changes are sorted by path segments and then by change type,
// which makes the output of Compare reproducible byte for byte.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shelfard/shelfard/pkg/types"
)

// Key-list changes are reported under these pseudo-paths.
const (
	PartitionKeysPath  = "<partition_keys>"
	ClusteringKeysPath = "<clustering_keys>"
)

// widenings lists the type transitions that keep existing readers working.
// Any concrete type may also widen to mixed, and null may widen to any
// concrete type; see IsWidening.
var widenings = map[types.InferredType][]types.InferredType{
	types.TypeInteger: {types.TypeFloat, types.TypeString},
	types.TypeFloat:   {types.TypeString},
	types.TypeBoolean: {types.TypeString},
}

// IsWidening reports whether a column typed from can be read as to without
// loss.
func IsWidening(from, to types.InferredType) bool {
	if from == to {
		return false
	}
	if from == types.TypeNull || to == types.TypeMixed {
		return true
	}
	for _, t := range widenings[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Compare returns the classified changes from baseline to candidate. It is
// pure and never fails.
func Compare(baseline, candidate types.TableSchema) types.SchemaDiff {
	before := baseline.ColumnIndex()
	after := candidate.ColumnIndex()

	var changes []types.SchemaChange

	for path, old := range before {
		cur, ok := after[path]
		if !ok {
			changes = append(changes, types.SchemaChange{
				ChangeType: types.ChangeColumnRemoved,
				Path:       path,
				Severity:   types.SeverityBreaking,
				Reasoning:  fmt.Sprintf("column '%s' (%s) was removed; consumers reading it will fail", path, describe(old)),
				Before:     describe(old),
			})
			continue
		}
		changes = append(changes, compareColumn(old, cur)...)
	}

	for path, cur := range after {
		if _, ok := before[path]; ok {
			continue
		}
		changes = append(changes, types.SchemaChange{
			ChangeType: types.ChangeColumnAdded,
			Path:       path,
			Severity:   types.SeveritySafe,
			Reasoning:  fmt.Sprintf("new column '%s' (%s) is additive; existing consumers are unaffected", path, describe(cur)),
			After:      describe(cur),
		})
	}

	if c, ok := compareKeys(PartitionKeysPath, "partition", baseline.PartitionKeys, candidate.PartitionKeys); ok {
		changes = append(changes, c)
	}
	if c, ok := compareKeys(ClusteringKeysPath, "clustering", baseline.ClusteringKeys, candidate.ClusteringKeys); ok {
		changes = append(changes, c)
	}

	sortChanges(changes)

	overall := types.SeveritySafe
	for _, c := range changes {
		overall = types.MaxSeverity(overall, c.Severity)
	}

	if changes == nil {
		changes = []types.SchemaChange{}
	}
	d := types.SchemaDiff{Changes: changes, OverallSeverity: overall}
	d.Summary = Summarize(d)
	return d
}

func compareColumn(old, cur types.ColumnSchema) []types.SchemaChange {
	var changes []types.SchemaChange

	switch {
	case old.Repeated != cur.Repeated:
		changes = append(changes, types.SchemaChange{
			ChangeType: types.ChangeTypeChanged,
			Path:       old.Path,
			Severity:   types.SeverityBreaking,
			Reasoning: fmt.Sprintf("column '%s' changed from %s to %s; single values and collections are read differently",
				old.Path, describe(old), describe(cur)),
			Before: describe(old),
			After:  describe(cur),
		})
	case old.Type != cur.Type && IsWidening(old.Type, cur.Type):
		changes = append(changes, types.SchemaChange{
			ChangeType: types.ChangeTypeChanged,
			Path:       old.Path,
			Severity:   types.SeverityWarning,
			Reasoning: fmt.Sprintf("column '%s' widened from %s to %s; values are still representable but downstream parsing may change",
				old.Path, old.Type, cur.Type),
			Before: string(old.Type),
			After:  string(cur.Type),
		})
	case old.Type != cur.Type:
		changes = append(changes, types.SchemaChange{
			ChangeType: types.ChangeTypeChanged,
			Path:       old.Path,
			Severity:   types.SeverityBreaking,
			Reasoning: fmt.Sprintf("column '%s' changed from %s to %s; existing readers cannot interpret the new values",
				old.Path, old.Type, cur.Type),
			Before: string(old.Type),
			After:  string(cur.Type),
		})
	}

	switch {
	case !old.Nullable && cur.Nullable:
		changes = append(changes, types.SchemaChange{
			ChangeType: types.ChangeNullabilityChanged,
			Path:       old.Path,
			Severity:   types.SeverityWarning,
			Reasoning:  fmt.Sprintf("column '%s' is now nullable; consumers assuming presence may see nulls or missing values", old.Path),
			Before:     "non-nullable",
			After:      "nullable",
		})
	case old.Nullable && !cur.Nullable:
		changes = append(changes, types.SchemaChange{
			ChangeType: types.ChangeNullabilityChanged,
			Path:       old.Path,
			Severity:   types.SeveritySafe,
			Reasoning:  fmt.Sprintf("column '%s' is no longer nullable; the presence guarantee was strengthened", old.Path),
			Before:     "nullable",
			After:      "non-nullable",
		})
	}

	return changes
}

func compareKeys(path, label string, before, after []string) (types.SchemaChange, bool) {
	if equalKeys(before, after) {
		return types.SchemaChange{}, false
	}
	return types.SchemaChange{
		ChangeType: types.ChangeKeyChanged,
		Path:       path,
		Severity:   types.SeverityBreaking,
		Reasoning: fmt.Sprintf("%s keys changed from %s to %s; identity and ordering semantics differ",
			label, formatKeys(before), formatKeys(after)),
		Before: formatKeys(before),
		After:  formatKeys(after),
	}, true
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatKeys(keys []string) string {
	return "[" + strings.Join(keys, ", ") + "]"
}

func describe(c types.ColumnSchema) string {
	s := string(c.Type)
	if c.Repeated {
		s = "repeated " + s
	}
	if c.Nullable {
		s += ", nullable"
	}
	return s
}

// sortChanges orders changes by path segments, then change type name. Ties
// are broken on reasoning so the order is total.
func sortChanges(changes []types.SchemaChange) {
	sort.SliceStable(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if c := types.ComparePaths(a.Path, b.Path); c != 0 {
			return c < 0
		}
		if a.ChangeType != b.ChangeType {
			return a.ChangeType < b.ChangeType
		}
		return a.Reasoning < b.Reasoning
	})
}

// Summarize renders the per-severity counts of a diff, e.g.
// "3 change(s): 1 breaking, 1 warning, 1 safe".
func Summarize(d types.SchemaDiff) string {
	if len(d.Changes) == 0 {
		return "no changes"
	}
	return fmt.Sprintf("%d change(s): %d breaking, %d warning, %d safe",
		len(d.Changes),
		d.CountBySeverity(types.SeverityBreaking),
		d.CountBySeverity(types.SeverityWarning),
		d.CountBySeverity(types.SeveritySafe))
}
