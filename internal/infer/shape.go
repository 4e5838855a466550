package infer

import "github.com/shelfard/shelfard/pkg/types"

// shape accumulates column observations keyed by path, remembering the order
// in which paths were first seen.
type shape struct {
	order []string
	cols  map[string]*types.ColumnSchema
}

func newShape() *shape {
	return &shape{cols: make(map[string]*types.ColumnSchema)}
}

func (s *shape) record(path string, t types.InferredType, nullable, repeated bool) {
	if c, ok := s.cols[path]; ok {
		c.Type = c.Type.Join(t)
		c.Nullable = c.Nullable || nullable
		c.Repeated = c.Repeated || repeated
		return
	}
	s.order = append(s.order, path)
	s.cols[path] = &types.ColumnSchema{Path: path, Type: t, Nullable: nullable, Repeated: repeated}
}

// absorb joins every observation of other into s.
func (s *shape) absorb(other *shape) {
	for _, p := range other.order {
		c := other.cols[p]
		s.record(p, c.Type, c.Nullable, c.Repeated)
	}
}

// union joins other into s as a sibling sample: paths present on only one
// side are marked nullable.
func (s *shape) union(other *shape) {
	for _, p := range s.order {
		if _, ok := other.cols[p]; !ok {
			s.cols[p].Nullable = true
		}
	}
	for _, p := range other.order {
		c := other.cols[p]
		_, seen := s.cols[p]
		s.record(p, c.Type, c.Nullable || !seen, c.Repeated)
	}
}

func (s *shape) columns() []types.ColumnSchema {
	out := make([]types.ColumnSchema, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, *s.cols[p])
	}
	return out
}
