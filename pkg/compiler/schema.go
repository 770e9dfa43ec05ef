package compiler

import (
	"github.com/jllopis/camel/pkg/plan"
)

var scalarTypes = map[string]string{
	"str":      plan.TypeString,
	"EmailStr": plan.TypeString,
	"int":      plan.TypeInteger,
	"float":    plan.TypeNumber,
	"bool":     plan.TypeBoolean,
	"list":     plan.TypeArray,
	"List":     plan.TypeArray,
	"tuple":    plan.TypeArray,
	"set":      plan.TypeArray,
	"dict":     plan.TypeObject,
	"Dict":     plan.TypeObject,
	"Any":      plan.TypeAny,
	"object":   plan.TypeAny,
}

// schemaFromClass converts a class declaration with annotated fields into
// an extraction schema.
func schemaFromClass(c *classStmt) (plan.Schema, error) {
	s := plan.Schema{Name: c.Name}
	if len(c.Fields) == 0 {
		return s, errorf(c.line(), 0, "class %s declares no fields", c.Name)
	}
	for _, f := range c.Fields {
		typ, items, optional, err := annotationType(f.Annotation)
		if err != nil {
			return s, errorf(f.Line, 0, "field %s.%s: %v", c.Name, f.Name, err)
		}
		field := plan.Field{
			Name:        f.Name,
			Type:        typ,
			Items:       items,
			Required:    !optional && !f.HasDefault,
			Description: f.Description,
		}
		if call, name, ok := callee(f.Default); ok && name == "Field" {
			field.Required = !optional
			for _, kw := range call.Kwargs {
				switch kw.Name {
				case "description":
					if lit, ok := kw.Value.(*plan.Literal); ok {
						if d, ok := lit.Value.(string); ok {
							field.Description = d
						}
					}
				case "default", "default_factory":
					field.Required = false
				}
			}
			if len(call.Args) > 0 {
				field.Required = false
			}
		}
		s.Fields = append(s.Fields, field)
	}
	return s, nil
}

type annotationError string

func (e annotationError) Error() string { return string(e) }

// annotationType maps a type annotation to a field type. Optional[X] and
// X | None mark the field optional.
func annotationType(e plan.Expr) (typ, items string, optional bool, err error) {
	switch n := e.(type) {
	case *plan.Name:
		if t, ok := scalarTypes[n.ID]; ok {
			return t, "", false, nil
		}
		return "", "", false, annotationError("unsupported type " + n.ID)
	case *plan.Literal:
		if s, ok := n.Value.(string); ok {
			return annotationType(&plan.Name{ID: s})
		}
	case *plan.Binary:
		if n.Op != "|" {
			break
		}
		x, y := n.X, n.Y
		if isNone(x) {
			x, y = y, x
		}
		if isNone(y) {
			t, it, _, err := annotationType(x)
			return t, it, true, err
		}
		tx, _, ox, err := annotationType(x)
		if err != nil {
			return "", "", false, err
		}
		ty, _, oy, err := annotationType(y)
		if err != nil {
			return "", "", false, err
		}
		if tx == ty {
			return tx, "", ox || oy, nil
		}
		return plan.TypeAny, "", ox || oy, nil
	case *plan.Index:
		base, ok := n.X.(*plan.Name)
		if !ok {
			break
		}
		switch base.ID {
		case "Optional":
			t, it, _, err := annotationType(n.Index)
			return t, it, true, err
		case "list", "List", "set", "Set", "tuple", "Tuple", "Sequence":
			inner := n.Index
			if tu, ok := inner.(*plan.TupleExpr); ok && len(tu.Elts) > 0 {
				inner = tu.Elts[0]
			}
			it, _, _, err := annotationType(inner)
			if err != nil {
				return "", "", false, err
			}
			if it == plan.TypeArray || it == plan.TypeObject || it == plan.TypeAny {
				it = ""
			}
			return plan.TypeArray, it, false, nil
		case "dict", "Dict", "Mapping":
			return plan.TypeObject, "", false, nil
		case "Literal":
			return plan.TypeString, "", false, nil
		}
	}
	return "", "", false, annotationError("unsupported type annotation")
}

func isNone(e plan.Expr) bool {
	lit, ok := e.(*plan.Literal)
	return ok && lit.Value == nil
}
