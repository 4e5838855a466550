package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	serrors "github.com/shelfard/shelfard/internal/errors"
	"github.com/shelfard/shelfard/pkg/types"
)

// Record is the persisted form of one version: self-describing, loadable on
// its own and stored as indented JSON so histories diff cleanly.
type Record struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Version        int                  `json:"version"`
	Fingerprint    string               `json:"fingerprint"`
	TableName      string               `json:"table_name"`
	Columns        []types.ColumnSchema `json:"columns"`
	PartitionKeys  []string             `json:"partition_keys"`
	ClusteringKeys []string             `json:"clustering_keys"`
	Source         string               `json:"source"`
	CapturedAt     time.Time            `json:"captured_at"`
}

// NewRecord builds the record for version of name. A schema without a
// capture time is stamped with now.
func NewRecord(name string, version int, schema types.TableSchema, now time.Time) Record {
	capturedAt := schema.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = now
	}
	return Record{
		ID:             uuid.NewString(),
		Name:           name,
		Version:        version,
		Fingerprint:    schema.Fingerprint(),
		TableName:      schema.TableName,
		Columns:        nonNilColumns(schema.Columns),
		PartitionKeys:  nonNilKeys(schema.PartitionKeys),
		ClusteringKeys: nonNilKeys(schema.ClusteringKeys),
		Source:         schema.Source,
		CapturedAt:     capturedAt.UTC(),
	}
}

// Schema rebuilds the captured TableSchema.
func (r Record) Schema() types.TableSchema {
	return types.TableSchema{
		TableName:      r.TableName,
		Columns:        r.Columns,
		PartitionKeys:  r.PartitionKeys,
		ClusteringKeys: r.ClusteringKeys,
		Source:         r.Source,
		CapturedAt:     r.CapturedAt,
	}
}

// SchemaVersion converts the record into its model form.
func (r Record) SchemaVersion() *types.SchemaVersion {
	return &types.SchemaVersion{
		Version:     r.Version,
		Schema:      r.Schema(),
		CapturedAt:  r.CapturedAt,
		Fingerprint: r.Fingerprint,
		ID:          r.ID,
	}
}

// Info summarizes the record.
func (r Record) Info() VersionInfo {
	return VersionInfo{
		Version:     r.Version,
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		Columns:     len(r.Columns),
		Source:      r.Source,
		CapturedAt:  r.CapturedAt,
	}
}

// EncodeRecord serializes r.
func EncodeRecord(r Record) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("registry: failed to marshal record: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeRecord parses and checks a stored record. Damaged records yield a
// CORRUPT_RECORD error rather than a partially filled schema.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, serrors.NewRegistryError(serrors.CodeCorruptRecord, "record is not valid JSON", err)
	}
	if r.Version < 1 {
		return Record{}, serrors.NewRegistryError(serrors.CodeCorruptRecord,
			fmt.Sprintf("record has invalid version %d", r.Version), nil)
	}
	if err := r.Schema().Validate(); err != nil {
		return Record{}, serrors.NewRegistryError(serrors.CodeCorruptRecord,
			fmt.Sprintf("record version %d has an invalid schema", r.Version), err)
	}
	r.Columns = nonNilColumns(r.Columns)
	r.PartitionKeys = nonNilKeys(r.PartitionKeys)
	r.ClusteringKeys = nonNilKeys(r.ClusteringKeys)
	return r, nil
}

func nonNilColumns(cols []types.ColumnSchema) []types.ColumnSchema {
	out := make([]types.ColumnSchema, len(cols))
	copy(out, cols)
	return out
}

func nonNilKeys(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}
