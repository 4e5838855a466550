package types

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
)

// PathSeparator joins field-name segments into a column path.
const PathSeparator = "."

// RootPath is the column path used when a payload's top level is not an object.
const RootPath = "$"

// ElementSuffix marks the column describing the elements of an array.
const ElementSuffix = "[]"

// EmptySegment stands in for an empty field name so that every column path
// is non-empty.
const EmptySegment = `""`

// InferredType is the structural type observed at a path.
type InferredType string

const (
	TypeNull    InferredType = "null"
	TypeBoolean InferredType = "boolean"
	TypeInteger InferredType = "integer"
	TypeFloat   InferredType = "float"
	TypeString  InferredType = "string"
	TypeArray   InferredType = "array"
	TypeObject  InferredType = "object"
	TypeMixed   InferredType = "mixed"
)

// Valid reports whether t is one of the known inferred types.
func (t InferredType) Valid() bool {
	switch t {
	case TypeNull, TypeBoolean, TypeInteger, TypeFloat, TypeString, TypeArray, TypeObject, TypeMixed:
		return true
	}
	return false
}

// Join returns the least upper bound of two observations in the lattice
// null < concrete < mixed. Distinct concrete types join to mixed.
func (t InferredType) Join(other InferredType) InferredType {
	switch {
	case t == other:
		return t
	case t == "" || t == TypeNull:
		return other
	case other == "" || other == TypeNull:
		return t
	default:
		return TypeMixed
	}
}

// ColumnSchema describes one field in the inferred shape of a source.
type ColumnSchema struct {
	// Path is the dotted location of the field, e.g. "user.address.city"
	Path string `json:"path"`

	// Type is the unified type observed at Path
	Type InferredType `json:"inferred_type"`

	// Nullable is set when a null or a missing occurrence was observed
	Nullable bool `json:"nullable"`

	// Repeated is set when the path lives inside an array
	Repeated bool `json:"repeated"`
}

// Segments splits the column path into its field-name segments.
func (c ColumnSchema) Segments() []string {
	return SplitPath(c.Path)
}

// TableSchema is one captured shape of a source. It is not mutated after
// inference; copy before changing.
type TableSchema struct {
	TableName      string         `json:"table_name"`
	Columns        []ColumnSchema `json:"columns"`
	PartitionKeys  []string       `json:"partition_keys"`
	ClusteringKeys []string       `json:"clustering_keys"`
	Source         string         `json:"source"`
	CapturedAt     time.Time      `json:"captured_at"`
}

// Column returns the column at path, if present.
func (s TableSchema) Column(path string) (ColumnSchema, bool) {
	for _, c := range s.Columns {
		if c.Path == path {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

// ColumnIndex builds a path-keyed lookup of the schema's columns.
func (s TableSchema) ColumnIndex() map[string]ColumnSchema {
	idx := make(map[string]ColumnSchema, len(s.Columns))
	for _, c := range s.Columns {
		idx[c.Path] = c
	}
	return idx
}

// TopLevelColumns counts columns whose path has a single segment.
func (s TableSchema) TopLevelColumns() int {
	n := 0
	for _, c := range s.Columns {
		if len(SplitPath(c.Path)) == 1 {
			n++
		}
	}
	return n
}

// Validate checks the structural invariants of the schema: non-empty unique
// paths and known types.
func (s TableSchema) Validate() error {
	seen := make(map[string]struct{}, len(s.Columns))
	for i, c := range s.Columns {
		if c.Path == "" {
			return fmt.Errorf("column %d: empty path", i)
		}
		if !c.Type.Valid() {
			return fmt.Errorf("column %q: unknown type %q", c.Path, c.Type)
		}
		if _, dup := seen[c.Path]; dup {
			return fmt.Errorf("column %q: duplicate path", c.Path)
		}
		seen[c.Path] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy of the schema.
func (s TableSchema) Clone() TableSchema {
	cp := s
	cp.Columns = append([]ColumnSchema(nil), s.Columns...)
	cp.PartitionKeys = append([]string(nil), s.PartitionKeys...)
	cp.ClusteringKeys = append([]string(nil), s.ClusteringKeys...)
	return cp
}

// Fingerprint hashes the structural content of the schema (columns and key
// lists) with murmur3. Table name, source and capture time are excluded, and
// columns are hashed in path order, so two captures of the same shape share a
// fingerprint.
func (s TableSchema) Fingerprint() string {
	cols := append([]ColumnSchema(nil), s.Columns...)
	sort.Slice(cols, func(i, j int) bool { return cols[i].Path < cols[j].Path })

	h := murmur3.New128()
	for _, c := range cols {
		writeField(h, c.Path)
		writeField(h, string(c.Type))
		h.Write([]byte{boolByte(c.Nullable), boolByte(c.Repeated)})
	}
	writeField(h, "partition_keys")
	for _, k := range s.PartitionKeys {
		writeField(h, k)
	}
	writeField(h, "clustering_keys")
	for _, k := range s.ClusteringKeys {
		writeField(h, k)
	}

	hi, lo := h.Sum128()
	return fmt.Sprintf("%016x%016x", hi, lo)
}

func writeField(w interface{ Write([]byte) (int, error) }, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	w.Write(n[:])
	w.Write([]byte(s))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// SchemaVersion is one immutable entry in a schema's history.
type SchemaVersion struct {
	// Version starts at 1 and increases by one per registration
	Version int `json:"version"`

	Schema     TableSchema `json:"schema"`
	CapturedAt time.Time   `json:"captured_at"`

	// Fingerprint is Schema.Fingerprint() at write time
	Fingerprint string `json:"fingerprint"`

	// ID uniquely identifies the stored record
	ID string `json:"id"`
}

// JoinPath appends a segment to a path. An empty segment is written as
// EmptySegment.
func JoinPath(prefix, segment string) string {
	if segment == "" {
		segment = EmptySegment
	}
	if prefix == "" {
		return segment
	}
	return prefix + PathSeparator + segment
}

// SplitPath splits a path into its segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator)
}

// ComparePaths orders two paths segment by segment. It returns -1, 0 or 1.
func ComparePaths(a, b string) int {
	as, bs := SplitPath(a), SplitPath(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}
