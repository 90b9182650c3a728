package ucg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucgraph/core/internal/registry"
)

func testRegistry(t *testing.T, defs ...*registry.Definition) *registry.Registry {
	t.Helper()
	reg, err := registry.Build(defs)
	require.NoError(t, err)
	return reg
}

func pageType() *registry.Definition {
	return &registry.Definition{Type: "page", Routable: true, Fields: map[string]*registry.FieldSchema{}}
}
