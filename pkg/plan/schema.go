package plan

// Field types understood by the extractor.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
	TypeAny     = "any"
)

// Field is one entry of an extraction schema. Items is the element type of
// array fields.
type Field struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Items       string `json:"items,omitempty" yaml:"items,omitempty"`
	Required    bool   `json:"required" yaml:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Schema is the ordered field set the quarantined model must fill.
type Schema struct {
	Name   string  `json:"name,omitempty" yaml:"name,omitempty"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ValidType reports whether t is a known field type.
func ValidType(t string) bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject, TypeAny:
		return true
	}
	return false
}
