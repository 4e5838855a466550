// Package drift runs the snapshot and check flows: fetch a payload, infer its
// schema, then either register it or compare it with the latest registered
// baseline.
package drift

import (
	"context"
	"log/slog"
	"time"

	"github.com/shelfard/shelfard/internal/diff"
	serrors "github.com/shelfard/shelfard/internal/errors"
	"github.com/shelfard/shelfard/internal/fetch"
	"github.com/shelfard/shelfard/internal/infer"
	"github.com/shelfard/shelfard/internal/observability"
	"github.com/shelfard/shelfard/internal/registry"
	"github.com/shelfard/shelfard/pkg/types"
)

// Outcome is the result class of a check.
type Outcome string

const (
	OutcomeClean Outcome = "clean"
	OutcomeDrift Outcome = "drift"
)

// Process exit codes for the three distinguishable results.
const (
	ExitClean   = 0
	ExitDrift   = 1
	ExitFailure = 2
)

// Target identifies an endpoint and the name its history is stored under.
type Target struct {
	URL     string
	Name    string
	Bearer  string
	Headers map[string]string
	Hints   infer.KeyHints
}

// ResolvedName returns Name, or a name derived from URL when Name is empty.
func (t Target) ResolvedName() string {
	if t.Name != "" {
		return t.Name
	}
	return fetch.SchemaNameFromURL(t.URL)
}

// SnapshotResult describes a registered version.
type SnapshotResult struct {
	Name            string            `json:"name"`
	Version         int               `json:"version"`
	Columns         int               `json:"columns"`
	TopLevelColumns int               `json:"top_level_columns"`
	Fingerprint     string            `json:"fingerprint"`
	Schema          types.TableSchema `json:"schema"`
}

// CheckResult describes a comparison against the latest baseline.
type CheckResult struct {
	Name               string            `json:"name"`
	Outcome            Outcome           `json:"outcome"`
	BaselineVersion    int               `json:"baseline_version"`
	BaselineCapturedAt time.Time         `json:"baseline_captured_at"`
	Diff               types.SchemaDiff  `json:"diff"`
	Candidate          types.TableSchema `json:"candidate"`
}

// Service wires the fetcher, inferencer and registry together. Metrics and
// Stats may be nil.
type Service struct {
	Fetcher    fetch.Fetcher
	Inferencer *infer.Inferencer
	Registry   registry.Registry
	Metrics    *observability.Metrics
	Stats      *observability.DriftStats
	Logger     *slog.Logger
	Now        func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) inferencer() *infer.Inferencer {
	if s.Inferencer != nil {
		return s.Inferencer
	}
	return infer.New(infer.DefaultSampleSize)
}

// Snapshot fetches the target and registers its schema as the next version.
func (s *Service) Snapshot(ctx context.Context, t Target) (*SnapshotResult, error) {
	start := time.Now()
	schema, err := s.fetchSchema(ctx, t)
	if err != nil {
		s.Metrics.ObserveFailure("snapshot", err)
		return nil, err
	}
	return s.register(ctx, t.ResolvedName(), schema, start)
}

// SnapshotPayload registers the schema of an already fetched payload.
func (s *Service) SnapshotPayload(ctx context.Context, name, source string, body []byte, hints infer.KeyHints) (*SnapshotResult, error) {
	start := time.Now()
	schema, err := s.inferBytes(body, name, source, hints)
	if err != nil {
		s.Metrics.ObserveFailure("snapshot", err)
		return nil, err
	}
	return s.register(ctx, name, schema, start)
}

func (s *Service) register(ctx context.Context, name string, schema types.TableSchema, start time.Time) (*SnapshotResult, error) {
	version, err := s.Registry.Register(ctx, name, schema)
	if err != nil {
		s.Metrics.ObserveFailure("snapshot", err)
		return nil, err
	}

	s.Metrics.ObserveSnapshot(name, version, time.Since(start))
	s.logger().Info("snapshot registered", "name", name, "version", version, "columns", len(schema.Columns))

	return &SnapshotResult{
		Name:            name,
		Version:         version,
		Columns:         len(schema.Columns),
		TopLevelColumns: schema.TopLevelColumns(),
		Fingerprint:     schema.Fingerprint(),
		Schema:          schema,
	}, nil
}

// Check fetches the target and compares its schema with the latest version.
// A missing baseline is reported as a NOT_FOUND error, not as drift.
func (s *Service) Check(ctx context.Context, t Target) (*CheckResult, error) {
	start := time.Now()
	name := t.ResolvedName()

	candidate, err := s.fetchSchema(ctx, t)
	if err != nil {
		s.Metrics.ObserveFailure("check", err)
		return nil, err
	}
	return s.compare(ctx, name, candidate, start)
}

// CheckPayload compares an already fetched payload with the latest version.
func (s *Service) CheckPayload(ctx context.Context, name, source string, body []byte, hints infer.KeyHints) (*CheckResult, error) {
	start := time.Now()
	candidate, err := s.inferBytes(body, name, source, hints)
	if err != nil {
		s.Metrics.ObserveFailure("check", err)
		return nil, err
	}
	return s.compare(ctx, name, candidate, start)
}

func (s *Service) compare(ctx context.Context, name string, candidate types.TableSchema, start time.Time) (*CheckResult, error) {
	baseline, err := s.Registry.GetLatest(ctx, name)
	if err != nil {
		s.Metrics.ObserveFailure("check", err)
		return nil, err
	}

	d := diff.Compare(baseline.Schema, candidate)
	outcome := OutcomeClean
	if d.HasChanges() {
		outcome = OutcomeDrift
	}

	s.Metrics.ObserveCheck(name, string(outcome), d, time.Since(start))
	s.Stats.RecordDiff(name, d)
	s.logger().Info("check completed", "name", name, "baseline", baseline.Version,
		"outcome", outcome, "changes", len(d.Changes), "severity", d.OverallSeverity)

	return &CheckResult{
		Name:               name,
		Outcome:            outcome,
		BaselineVersion:    baseline.Version,
		BaselineCapturedAt: baseline.CapturedAt,
		Diff:               d,
		Candidate:          candidate,
	}, nil
}

func (s *Service) fetchSchema(ctx context.Context, t Target) (types.TableSchema, error) {
	if s.Fetcher == nil {
		return types.TableSchema{}, serrors.NewInternalError("drift service has no fetcher", nil)
	}

	start := time.Now()
	payload, err := s.Fetcher.Fetch(ctx, fetch.Request{URL: t.URL, Bearer: t.Bearer, Headers: t.Headers})
	s.Metrics.ObserveFetch(time.Since(start), err)
	if err != nil {
		return types.TableSchema{}, err
	}

	schema := s.inferencer().InferWithHints(payload.Value, t.ResolvedName(), t.URL, t.Hints)
	schema.CapturedAt = s.now().UTC()
	return schema, nil
}

func (s *Service) inferBytes(body []byte, name, source string, hints infer.KeyHints) (types.TableSchema, error) {
	schema, err := s.inferencer().InferBytesWithHints(body, name, source, hints)
	if err != nil {
		return types.TableSchema{}, err
	}
	schema.CapturedAt = s.now().UTC()
	return schema, nil
}

// ExitCode maps a check result to a process exit code: 0 when no changes
// were found, 1 when drift was detected and 2 when the check failed.
func ExitCode(result *CheckResult, err error) int {
	switch {
	case err != nil || result == nil:
		return ExitFailure
	case result.Outcome == OutcomeDrift:
		return ExitDrift
	default:
		return ExitClean
	}
}
