package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/ucgraph/core/pkg/errors"
)

// TestParseSchemaCell exercises the hand-written schema-cell grammar,
// including nested array elements and constraint parsing.
func TestParseSchemaCell(t *testing.T) {
	t.Run("simple fields", func(t *testing.T) {
		fields, err := ParseSchemaCell("title:String(required);views:Number(min=0;max=100)")
		require.NoError(t, err)
		require.Len(t, fields, 2)
		assert.Equal(t, "title", fields[0].Name)
		assert.Equal(t, KindString, fields[0].Kind)
		assert.True(t, fields[0].Required)
		assert.Equal(t, KindNumber, fields[1].Kind)
		require.NotNil(t, fields[1].Min)
		assert.Equal(t, 0.0, *fields[1].Min)
		require.NotNil(t, fields[1].Max)
		assert.Equal(t, 100.0, *fields[1].Max)
	})

	t.Run("nested array element", func(t *testing.T) {
		fields, err := ParseSchemaCell("tags:Array(elem:String(enum=a,b,c))")
		require.NoError(t, err)
		require.Len(t, fields, 1)
		assert.Equal(t, KindArray, fields[0].Kind)
		require.NotNil(t, fields[0].Elem)
		assert.Equal(t, []string{"a", "b", "c"}, fields[0].Elem.Enum)
	})

	t.Run("searchable marker stripped from name", func(t *testing.T) {
		fields, err := ParseSchemaCell("title*:String(required);body*:String()")
		require.NoError(t, err)
		require.Len(t, fields, 2)
		assert.Equal(t, "title", fields[0].Name)
		assert.True(t, fields[0].Required)
		assert.Equal(t, "body", fields[1].Name)
	})

	t.Run("nested object children", func(t *testing.T) {
		fields, err := ParseSchemaCell("meta:Object(author:String(required);views:Number(min=0);required)")
		require.NoError(t, err)
		require.Len(t, fields, 1)
		fs := fields[0]
		assert.Equal(t, KindObject, fs.Kind)
		assert.True(t, fs.Required, "bare constraints in an object body apply to the object itself")
		require.Contains(t, fs.Children, "author")
		assert.True(t, fs.Children["author"].Required)
		require.Contains(t, fs.Children, "views")
		require.NotNil(t, fs.Children["views"].Min)
		assert.Equal(t, 0.0, *fs.Children["views"].Min)
	})

	t.Run("object child may nest an array", func(t *testing.T) {
		fields, err := ParseSchemaCell("meta:Object(tags:Array(elem:String(enum=a,b)))")
		require.NoError(t, err)
		require.Len(t, fields, 1)
		tags := fields[0].Children["tags"]
		require.NotNil(t, tags)
		assert.Equal(t, KindArray, tags.Kind)
		require.NotNil(t, tags.Elem)
		assert.Equal(t, []string{"a", "b"}, tags.Elem.Enum)
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		_, err := ParseSchemaCell("title:Blob")
		assert.Error(t, err)
	})

	t.Run("malformed constraint rejected", func(t *testing.T) {
		_, err := ParseSchemaCell("title:String(bogus)")
		assert.Error(t, err)
	})
}

// TestValidateSchemaCompliance exercises P3: Registry.Validate(type, fields)
// succeeds exactly when every declared field matches its schema.
func TestValidateSchemaCompliance(t *testing.T) {
	fields, err := ParseSchemaCell("title:String(required);views:Number(min=0)")
	require.NoError(t, err)

	byName := map[string]*FieldSchema{}
	for _, f := range fields {
		byName[f.Name] = f
	}

	def := &Definition{
		Type:     "article",
		Required: []string{"title"},
		Fields:   byName,
	}
	reg, err := Build([]*Definition{def})
	require.NoError(t, err)

	assert.NoError(t, reg.Validate("article", map[string]any{"title": "hello", "views": 3.0}))
	assert.Error(t, reg.Validate("article", map[string]any{"views": 3.0}), "missing required field")
	assert.Error(t, reg.Validate("article", map[string]any{"title": "hello", "views": -1.0}), "below minimum")
	assert.Error(t, reg.Validate("unknown-type", map[string]any{}))
}

// TestValidateNestedObject walks the KindObject branch of validateValue:
// child schemas declared in an Object body are enforced with full dotted
// paths in the failure report.
func TestValidateNestedObject(t *testing.T) {
	fields, err := ParseSchemaCell("meta:Object(author:String(required);views:Number(min=0))")
	require.NoError(t, err)

	def := &Definition{
		Type:   "article",
		Fields: map[string]*FieldSchema{"meta": fields[0]},
	}
	reg, err := Build([]*Definition{def})
	require.NoError(t, err)

	assert.NoError(t, reg.Validate("article", map[string]any{
		"meta": map[string]any{"author": "jo", "views": 3.0},
	}))

	err = reg.Validate("article", map[string]any{
		"meta": map[string]any{"views": 3.0},
	})
	require.Error(t, err, "missing required child")
	var ce *coreerrors.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "meta.author", ce.Details["field"])

	err = reg.Validate("article", map[string]any{
		"meta": map[string]any{"author": "jo", "views": -1.0},
	})
	require.Error(t, err, "child below minimum")
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "meta.views", ce.Details["field"])

	assert.Error(t, reg.Validate("article", map[string]any{"meta": "not-an-object"}))
}

func TestBuildRejectsCompositionCycle(t *testing.T) {
	a := &Definition{Type: "type-a", Composition: &CompositionRule{Children: []string{"type-b"}}}
	b := &Definition{Type: "type-b", Composition: &CompositionRule{Children: []string{"type-a"}}}
	_, err := Build([]*Definition{a, b})
	assert.Error(t, err)
}

func TestBuildRejectsReservedPrefix(t *testing.T) {
	_, err := Build([]*Definition{{Type: "admin-page"}})
	assert.Error(t, err)
}
