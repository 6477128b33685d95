// Parameter schema, defaults and merge rules shared by every operation kind
package params

// FieldType tells a configuration UI how to render a field
type FieldType string

const (
	TypeRange  FieldType = "range"
	TypeSelect FieldType = "select"
	TypeFile   FieldType = "file"
	TypeText   FieldType = "text"
)

// Field describes one configurable parameter of an operation kind
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Min         *float64  `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64  `json:"max,omitempty" yaml:"max,omitempty"`
	Step        *float64  `json:"step,omitempty" yaml:"step,omitempty"`
	Options     []string  `json:"options,omitempty" yaml:"options,omitempty"`
	Default     any       `json:"default" yaml:"default"`
	Label       string    `json:"label,omitempty" yaml:"label,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// Schema is the ordered list of fields of one operation kind
type Schema []Field

// Values maps field names to their current values
type Values map[string]any

// Range builds a numeric slider field
func Range(name string, min, max, def float64) Field {
	return Field{
		Name:    name,
		Type:    TypeRange,
		Min:     &min,
		Max:     &max,
		Default: def,
	}
}

// Select builds an enumerated field
func Select(name string, options []string, def string) Field {
	return Field{
		Name:    name,
		Type:    TypeSelect,
		Options: options,
		Default: def,
	}
}

// File builds a path-valued field with an empty default
func File(name, description string) Field {
	return Field{
		Name:        name,
		Type:        TypeFile,
		Default:     "",
		Description: description,
	}
}

func (f Field) WithStep(step float64) Field {
	f.Step = &step
	return f
}

func (f Field) WithLabel(label string) Field {
	f.Label = label
	return f
}

func (f Field) WithDescription(description string) Field {
	f.Description = description
	return f
}

// Field returns the descriptor with the given name
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns field names in declaration order
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Defaults returns a fully populated value map for the schema.
// Every field is present, holding its declared default.
func Defaults(schema Schema) Values {
	values := make(Values, len(schema))
	for _, f := range schema {
		values[f.Name] = f.Default
	}
	return values
}

// Merge applies overrides onto current key by key and returns current.
// Only keys already present in current are replaced; unknown keys are
// dropped, so the key set of current never changes. Values are not
// range-checked here.
func Merge(current, overrides Values) Values {
	for key, value := range overrides {
		if _, ok := current[key]; ok {
			current[key] = value
		}
	}
	return current
}

// Clone returns a shallow copy so callers never hold the live map
func Clone(values Values) Values {
	out := make(Values, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
