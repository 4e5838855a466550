// Package export converts captured schemas into other formats: OpenAPI
// schemas for documentation and snappy-compressed archives of a history.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/shelfard/shelfard/pkg/types"
)

// node is one position in the nested structure rebuilt from column paths.
type node struct {
	col   *types.ColumnSchema
	order []string
	props map[string]*node
	elem  *node
}

func newNode() *node {
	return &node{props: make(map[string]*node)}
}

func (n *node) child(name string) *node {
	// Fields below an array belong to its element objects.
	for n.col != nil && n.col.Type == types.TypeArray {
		n = n.element()
	}
	c, ok := n.props[name]
	if !ok {
		c = newNode()
		n.props[name] = c
		n.order = append(n.order, name)
	}
	return c
}

func (n *node) element() *node {
	if n.elem == nil {
		n.elem = newNode()
	}
	return n.elem
}

// OpenAPISchema rebuilds the nested object and array structure described by
// the columns of s as an OpenAPI schema. Mixed columns are left untyped.
func OpenAPISchema(s types.TableSchema) *openapi3.Schema {
	if root, ok := s.Column(types.RootPath); ok && len(s.Columns) == 1 {
		return columnSchema(&node{col: &root})
	}

	// Parents first, so array columns are known before their fields.
	cols := make([]*types.ColumnSchema, len(s.Columns))
	for i := range s.Columns {
		cols[i] = &s.Columns[i]
	}
	sort.SliceStable(cols, func(i, j int) bool {
		return len(types.SplitPath(cols[i].Path)) < len(types.SplitPath(cols[j].Path))
	})

	root := newNode()
	for _, col := range cols {
		cur := root
		for _, seg := range types.SplitPath(col.Path) {
			name, depth := splitElement(seg)
			cur = cur.child(name)
			for ; depth > 0; depth-- {
				cur = cur.element()
			}
		}
		cur.col = col
	}

	out := objectSchema(root)
	if s.TableName != "" {
		out.Title = s.TableName
	}
	return out
}

// splitElement strips trailing element markers from a path segment and
// returns how many were removed.
func splitElement(seg string) (string, int) {
	depth := 0
	for strings.HasSuffix(seg, types.ElementSuffix) && len(seg) > len(types.ElementSuffix) {
		seg = strings.TrimSuffix(seg, types.ElementSuffix)
		depth++
	}
	return seg, depth
}

func columnSchema(n *node) *openapi3.Schema {
	if n.col == nil {
		return objectSchema(n)
	}

	var s *openapi3.Schema
	switch n.col.Type {
	case types.TypeBoolean:
		s = openapi3.NewBoolSchema()
	case types.TypeInteger:
		s = openapi3.NewIntegerSchema()
	case types.TypeFloat:
		s = openapi3.NewFloat64Schema()
	case types.TypeString:
		s = openapi3.NewStringSchema()
	case types.TypeObject:
		s = objectSchema(n)
	case types.TypeArray:
		s = openapi3.NewArraySchema()
		if n.elem != nil {
			s.Items = columnSchema(n.elem).NewRef()
		} else {
			s.Items = (&openapi3.Schema{}).NewRef()
		}
	case types.TypeNull:
		s = &openapi3.Schema{Nullable: true}
	default:
		s = &openapi3.Schema{Description: fmt.Sprintf("observed with %s types", types.TypeMixed)}
	}

	if n.col.Nullable {
		s.Nullable = true
	}
	return s
}

func objectSchema(n *node) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	s.Properties = make(openapi3.Schemas, len(n.props))
	for _, name := range n.order {
		c := n.props[name]
		s.Properties[name] = columnSchema(c).NewRef()
		if c.col != nil && !c.col.Nullable {
			s.Required = append(s.Required, name)
		}
	}
	return s
}

// OpenAPIDocument wraps the latest schema of name as a component of an
// otherwise empty OpenAPI 3 document.
func OpenAPIDocument(name string, sv *types.SchemaVersion) *openapi3.T {
	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       name,
			Version:     fmt.Sprintf("%d", sv.Version),
			Description: fmt.Sprintf("Inferred from %s", sv.Schema.Source),
		},
		Paths: openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{
				name: OpenAPISchema(sv.Schema).NewRef(),
			},
		},
	}
}
