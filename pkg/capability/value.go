package capability

// Value pairs plain data with its capability. Values are immutable once
// created; operations build new values with merged labels.
type Value struct {
	Data any
	Cap  Capability
}

// NewValue labels data with c.
func NewValue(data any, c Capability) Value {
	return Value{Data: data, Cap: c}
}

// LiteralValue labels data as a plan literal.
func LiteralValue(data any) Value {
	return Value{Data: data, Cap: Literal()}
}

// Derive labels data computed from the given inputs. The result is never
// more trusted or more widely readable than any input.
func Derive(data any, inputs ...Value) Value {
	caps := make([]Capability, len(inputs))
	for i, in := range inputs {
		caps[i] = in.Cap
	}
	c := Merge(caps...)
	if len(c.Sources) == 0 {
		c.Sources = []Source{SourceCamel}
	}
	return Value{Data: data, Cap: c}
}

// Taint returns v with extra capabilities merged into its label.
func (v Value) Taint(caps ...Capability) Value {
	if len(caps) == 0 {
		return v
	}
	v.Cap = Merge(append([]Capability{v.Cap}, caps...)...)
	return v
}
