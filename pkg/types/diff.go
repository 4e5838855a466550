package types

import (
	"fmt"
	"strings"
)

// ChangeSeverity ranks the risk of a schema change. Values are ordered so the
// overall severity of a diff is the maximum over its changes.
type ChangeSeverity int

const (
	SeveritySafe ChangeSeverity = iota
	SeverityWarning
	SeverityBreaking
)

// String returns the upper-case label of the severity.
func (s ChangeSeverity) String() string {
	switch s {
	case SeveritySafe:
		return "SAFE"
	case SeverityWarning:
		return "WARNING"
	case SeverityBreaking:
		return "BREAKING"
	}
	return fmt.Sprintf("SEVERITY(%d)", int(s))
}

// MarshalText encodes the severity as its label.
func (s ChangeSeverity) MarshalText() ([]byte, error) {
	switch s {
	case SeveritySafe, SeverityWarning, SeverityBreaking:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("invalid severity %d", int(s))
}

// UnmarshalText parses a severity label.
func (s *ChangeSeverity) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "SAFE":
		*s = SeveritySafe
	case "WARNING":
		*s = SeverityWarning
	case "BREAKING":
		*s = SeverityBreaking
	default:
		return fmt.Errorf("invalid severity %q", text)
	}
	return nil
}

// MaxSeverity returns the larger of two severities.
func MaxSeverity(a, b ChangeSeverity) ChangeSeverity {
	if b > a {
		return b
	}
	return a
}

// ChangeType classifies a single schema change.
type ChangeType string

const (
	ChangeColumnAdded        ChangeType = "COLUMN_ADDED"
	ChangeColumnRemoved      ChangeType = "COLUMN_REMOVED"
	ChangeTypeChanged        ChangeType = "TYPE_CHANGED"
	ChangeNullabilityChanged ChangeType = "NULLABILITY_CHANGED"
	ChangeKeyChanged         ChangeType = "KEY_CHANGED"
)

// SchemaChange is one classified difference between two schemas.
type SchemaChange struct {
	ChangeType ChangeType     `json:"change_type"`
	Path       string         `json:"column_name"`
	Severity   ChangeSeverity `json:"severity"`
	Reasoning  string         `json:"reasoning"`
	Before     string         `json:"before,omitempty"`
	After      string         `json:"after,omitempty"`
}

// SchemaDiff is the classified comparison of a baseline and a candidate.
type SchemaDiff struct {
	Changes         []SchemaChange `json:"changes"`
	OverallSeverity ChangeSeverity `json:"overall_severity"`
	Summary         string         `json:"summary"`
}

// HasChanges reports whether the diff contains any change.
func (d SchemaDiff) HasChanges() bool {
	return len(d.Changes) > 0
}

// CountBySeverity returns the number of changes at the given severity.
func (d SchemaDiff) CountBySeverity(s ChangeSeverity) int {
	n := 0
	for _, c := range d.Changes {
		if c.Severity == s {
			n++
		}
	}
	return n
}
