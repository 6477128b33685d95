package catalog

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-pipeline/internal/operations"
	"image-pipeline/internal/params"
)

func TestOperationsListsBuiltins(t *testing.T) {
	logger, _ := test.NewNullLogger()
	registry := operations.Default(logger)
	defer registry.Close()

	_, err := registry.SetParams("blur", params.Values{"radius": 9.0})
	require.NoError(t, err)

	entries, err := Operations(registry)
	require.NoError(t, err)
	require.Len(t, entries, len(operations.Builtins()))

	assert.Equal(t, "brightness", entries[0].ID)

	categories := Categories()
	for _, e := range entries {
		category, ok := categories[e.Category]
		require.True(t, ok, "category %q of %s has no metadata", e.Category, e.ID)
		if e.Subcategory != "" {
			assert.Contains(t, category.Subcategories, e.Subcategory)
		}
		assert.ElementsMatch(t, e.Schema.Names(), keys(e.Params))
		if e.ID == "blur" {
			assert.Equal(t, 9.0, e.Params["radius"])
		}
	}
}

func TestOperationsLeavesOperationsUninstantiated(t *testing.T) {
	logger, _ := test.NewNullLogger()
	registry := operations.NewRegistry(logger)
	defer registry.Close()

	created := 0
	for _, b := range operations.Builtins() {
		factory := b.Factory
		registry.Register(b.Kind, func() operations.Transform {
			created++
			return factory()
		})
	}

	entries, err := Operations(registry)
	require.NoError(t, err)
	require.Len(t, entries, len(operations.Builtins()))
	assert.Zero(t, created, "listing must not build any operation")

	for _, e := range entries {
		assert.Equal(t, params.Defaults(e.Schema), e.Params, e.ID)
	}
}

func TestByCategoryKeepsOrder(t *testing.T) {
	entries := []Entry{
		{ID: "a", Category: "basic"},
		{ID: "b", Category: "color"},
		{ID: "c", Category: "basic"},
	}

	grouped := ByCategory(entries)
	require.Len(t, grouped["basic"], 2)
	assert.Equal(t, "a", grouped["basic"][0].ID)
	assert.Equal(t, "c", grouped["basic"][1].ID)
	assert.Len(t, grouped["color"], 1)
}

func keys(values params.Values) []string {
	out := make([]string, 0, len(values))
	for k := range values {
		out = append(out, k)
	}
	return out
}
