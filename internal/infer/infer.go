// Package infer derives a TableSchema from a decoded payload.
//
// Inference walks the value recursively. Object fields contribute a path
// segment; arrays mark every path beneath them as repeated and union the
// observations of a bounded sample of their elements. Observations of one
// path are unified with InferredType.Join, so disagreeing concrete types
// become mixed and nulls only set the nullable flag.
package infer

import (
	"github.com/shelfard/shelfard/internal/errors"
	"github.com/shelfard/shelfard/pkg/types"
	"github.com/shelfard/shelfard/pkg/value"
)

// DefaultSampleSize bounds the number of array elements inspected per array.
const DefaultSampleSize = 20

// KeyHints carries caller-declared key structure. Keys are never guessed
// from the payload.
type KeyHints struct {
	PartitionKeys  []string
	ClusteringKeys []string
}

// Inferencer turns payloads into schemas. The zero value uses
// DefaultSampleSize. An Inferencer holds no state between calls and is safe
// for concurrent use.
type Inferencer struct {
	// SampleSize is the maximum number of elements inspected per array
	SampleSize int
}

// New returns an Inferencer sampling at most sampleSize elements per array.
func New(sampleSize int) *Inferencer {
	return &Inferencer{SampleSize: sampleSize}
}

func (in *Inferencer) sampleSize() int {
	if in == nil || in.SampleSize <= 0 {
		return DefaultSampleSize
	}
	return in.SampleSize
}

// Infer builds the schema of v. It never fails: every value has a shape.
// CapturedAt is left zero for the caller to stamp.
func (in *Inferencer) Infer(v value.Value, tableName, source string) types.TableSchema {
	return in.InferWithHints(v, tableName, source, KeyHints{})
}

// InferWithHints is Infer with caller-supplied key structure copied onto
// the schema.
func (in *Inferencer) InferWithHints(v value.Value, tableName, source string, hints KeyHints) types.TableSchema {
	sh := newShape()

	switch v.Kind() {
	case value.KindObject:
		in.walkObject("", v, false, sh)
	case value.KindArray:
		// A top-level array is a collection of records, not a repeated field.
		in.unionSamples(sh, v.Elements(), func(elem value.Value, sub *shape) {
			if elem.Kind() == value.KindObject {
				in.walkObject("", elem, false, sub)
				return
			}
			in.observe(types.RootPath, elem, false, sub)
		})
	default:
		in.observe(types.RootPath, v, false, sh)
	}

	return types.TableSchema{
		TableName:      tableName,
		Columns:        sh.columns(),
		PartitionKeys:  copyKeys(hints.PartitionKeys),
		ClusteringKeys: copyKeys(hints.ClusteringKeys),
		Source:         source,
	}
}

// InferBytes decodes b as JSON and infers its schema. Malformed input yields
// a PARSE error.
func (in *Inferencer) InferBytes(b []byte, tableName, source string) (types.TableSchema, error) {
	return in.InferBytesWithHints(b, tableName, source, KeyHints{})
}

// InferBytesWithHints is InferBytes with caller-supplied key structure.
func (in *Inferencer) InferBytesWithHints(b []byte, tableName, source string, hints KeyHints) (types.TableSchema, error) {
	v, err := value.ParseBytes(b)
	if err != nil {
		return types.TableSchema{}, errors.NewParseError("payload is not valid JSON", err).
			WithDetails(map[string]interface{}{"source": source, "bytes": len(b)})
	}
	return in.InferWithHints(v, tableName, source, hints), nil
}

func (in *Inferencer) walkObject(prefix string, obj value.Value, repeated bool, sh *shape) {
	for _, f := range obj.Fields() {
		in.observe(types.JoinPath(prefix, f.Key), f.Value, repeated, sh)
	}
}

func (in *Inferencer) observe(path string, v value.Value, repeated bool, sh *shape) {
	switch v.Kind() {
	case value.KindNull:
		sh.record(path, types.TypeNull, true, repeated)
	case value.KindBool:
		sh.record(path, types.TypeBoolean, false, repeated)
	case value.KindNumber:
		if v.IsInteger() {
			sh.record(path, types.TypeInteger, false, repeated)
		} else {
			sh.record(path, types.TypeFloat, false, repeated)
		}
	case value.KindString:
		sh.record(path, types.TypeString, false, repeated)
	case value.KindObject:
		sh.record(path, types.TypeObject, false, repeated)
		in.walkObject(path, v, repeated, sh)
	case value.KindArray:
		sh.record(path, types.TypeArray, false, repeated)
		in.observeElements(path, v.Elements(), sh)
	}
}

// observeElements unions the sampled elements of the array at path. Fields
// of object elements live directly under path; any other element is
// described by the column path+"[]".
func (in *Inferencer) observeElements(path string, elems []value.Value, sh *shape) {
	if len(elems) == 0 {
		return
	}
	elemShape := newShape()
	in.unionSamples(elemShape, elems, func(elem value.Value, sub *shape) {
		if elem.Kind() == value.KindObject {
			in.walkObject(path, elem, true, sub)
			return
		}
		in.observe(path+types.ElementSuffix, elem, true, sub)
	})
	sh.absorb(elemShape)
}

// unionSamples infers each sampled element into its own shape and folds the
// results into dst. A path missing from any sample becomes nullable.
func (in *Inferencer) unionSamples(dst *shape, elems []value.Value, walk func(value.Value, *shape)) {
	if n := in.sampleSize(); len(elems) > n {
		elems = elems[:n]
	}
	for i, elem := range elems {
		sub := newShape()
		walk(elem, sub)
		if i == 0 {
			dst.absorb(sub)
			continue
		}
		dst.union(sub)
	}
}

func copyKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	return append([]string(nil), keys...)
}
