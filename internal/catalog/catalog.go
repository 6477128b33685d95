// Read-only listing of the operations a registry offers
package catalog

import (
	"image-pipeline/internal/operations"
	"image-pipeline/internal/params"
)

// Source is the part of a registry the catalog reads
type Source interface {
	Kinds() []operations.Kind
	Params(id string) (params.Values, error)
}

// Entry is one listed operation with its schema and current values
type Entry struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Icon        string        `json:"icon"`
	Category    string        `json:"category"`
	Subcategory string        `json:"subcategory,omitempty"`
	Schema      params.Schema `json:"schema"`
	Params      params.Values `json:"params"`
}

// Category groups entries for display
type Category struct {
	Name          string                 `json:"name"`
	Icon          string                 `json:"icon"`
	Subcategories map[string]Subcategory `json:"subcategories,omitempty"`
}

type Subcategory struct {
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// Operations lists every registered kind in registration order. Params holds
// the live values of instantiated operations and the defaults of the rest.
func Operations(src Source) ([]Entry, error) {
	kinds := src.Kinds()
	entries := make([]Entry, 0, len(kinds))
	for _, kind := range kinds {
		values, err := src.Params(kind.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			ID:          kind.ID,
			Name:        kind.Name,
			Description: kind.Description,
			Icon:        kind.Icon,
			Category:    kind.Category,
			Subcategory: kind.Subcategory,
			Schema:      kind.Schema,
			Params:      values,
		})
	}
	return entries, nil
}

// ByCategory groups entries by category, keeping their order
func ByCategory(entries []Entry) map[string][]Entry {
	grouped := make(map[string][]Entry)
	for _, e := range entries {
		grouped[e.Category] = append(grouped[e.Category], e)
	}
	return grouped
}

// Categories returns display metadata for the built-in categories
func Categories() map[string]Category {
	return map[string]Category{
		operations.CategoryBasic:     {Name: "Basic Operations", Icon: "⚙️"},
		operations.CategoryColor:     {Name: "Color Operations", Icon: "🎨"},
		operations.CategoryFilters:   {Name: "Filters", Icon: "🔍"},
		operations.CategoryEffects:   {Name: "Effects", Icon: "✨"},
		operations.CategoryTransform: {Name: "Transform", Icon: "🔄"},
		operations.CategoryNoise:     {Name: "Noise", Icon: "🎲"},
		operations.CategoryOpenCV: {
			Name: "OpenCV",
			Icon: "🔬",
			Subcategories: map[string]Subcategory{
				"edge_detection":   {Name: "Edge Detection", Icon: "📏"},
				"morphological":    {Name: "Morphological", Icon: "🔄"},
				"object_detection": {Name: "Object Detection", Icon: "🎯"},
				"color":            {Name: "Color Processing", Icon: "🎨"},
				"segmentation":     {Name: "Segmentation", Icon: "🧩"},
			},
		},
	}
}
