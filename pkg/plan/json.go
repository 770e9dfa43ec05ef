package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Wire format
//
// A plan is {"rationale": "...", "steps": [...]}. Each step is an object
// whose "kind" selects the variant. Expressions are plain JSON where
// possible: scalars are literals, arrays are lists, objects are dicts and
// {"$var": "name.path.0"} references a variable. Every other expression is
// {"$expr": "<node>", ...}.

// object is a JSON object that remembers key order.
type object struct {
	keys []string
	vals map[string]any
}

func (o *object) get(key string) (any, bool) {
	v, ok := o.vals[key]
	return v, ok
}

// decodeOrdered reads a single JSON document keeping object key order.
func decodeOrdered(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON document")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &object{vals: map[string]any{}}
			for dec.More() {
				ktok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := ktok.(string)
				if !ok {
					return nil, fmt.Errorf("object key must be a string")
				}
				if _, dup := obj.vals[key]; dup {
					return nil, fmt.Errorf("duplicate key %q", key)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.keys = append(obj.keys, key)
				obj.vals[key] = val
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := []any{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	default:
		return t, nil
	}
}

// UnmarshalJSON decodes a plan document. Unknown top-level keys are
// rejected.
func UnmarshalJSON(data []byte) (*Plan, error) {
	root, err := decodeOrdered(data)
	if err != nil {
		return nil, fmt.Errorf("plan: invalid JSON: %w", err)
	}
	obj, ok := root.(*object)
	if !ok {
		return nil, fmt.Errorf("plan: document must be a JSON object")
	}
	p := &Plan{Format: FormatJSON}
	for _, k := range obj.keys {
		switch k {
		case "rationale":
			s, ok := obj.vals[k].(string)
			if !ok {
				return nil, fmt.Errorf("plan: rationale must be a string")
			}
			p.Rationale = s
		case "steps":
		default:
			return nil, fmt.Errorf("plan: unknown key %q", k)
		}
	}
	raw, ok := obj.get("steps")
	if !ok {
		return nil, fmt.Errorf("plan: missing \"steps\"")
	}
	p.Steps, err = decodeSteps(raw, "steps")
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	return p, nil
}

// UnmarshalSteps decodes a bare JSON array of steps.
func UnmarshalSteps(data []byte) ([]Step, error) {
	root, err := decodeOrdered(data)
	if err != nil {
		return nil, fmt.Errorf("plan: invalid JSON: %w", err)
	}
	return decodeSteps(root, "steps")
}

func decodeSteps(raw any, at string) ([]Step, error) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: must be an array", at)
	}
	if len(arr) == 0 {
		return nil, nil
	}
	steps := make([]Step, 0, len(arr))
	for i, item := range arr {
		s, err := decodeStep(item, fmt.Sprintf("%s[%d]", at, i))
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

var stepKeys = map[Kind][]string{
	KindAssign: {"saveAs", "value"},
	KindUnpack: {"targets", "value"},
	KindTool:   {"tool", "args", "saveAs"},
	KindQLLM:   {"instruction", "input", "schema", "saveAs"},
	KindIf:     {"condition", "thenBranch", "otherwise"},
	KindFor:    {"item", "iterable", "body"},
	KindRaise:  {"error"},
	KindFinal:  {"text"},
}

func decodeStep(raw any, at string) (Step, error) {
	obj, ok := raw.(*object)
	if !ok {
		return nil, fmt.Errorf("%s: step must be an object", at)
	}
	kindRaw, ok := obj.get("kind")
	if !ok {
		return nil, fmt.Errorf("%s: missing \"kind\"", at)
	}
	kindStr, ok := kindRaw.(string)
	if !ok {
		return nil, fmt.Errorf("%s: kind must be a string", at)
	}
	kind := Kind(kindStr)
	allowed, ok := stepKeys[kind]
	if !ok {
		return nil, fmt.Errorf("%s: unknown step kind %q", at, kindStr)
	}
	for _, k := range obj.keys {
		if k == "kind" {
			continue
		}
		if !contains(allowed, k) {
			return nil, fmt.Errorf("%s: unknown field %q for %s step", at, k, kind)
		}
	}

	d := stepDecoder{obj: obj, at: at}
	switch kind {
	case KindAssign:
		s := &AssignStep{SaveAs: d.ident("saveAs", true), Value: d.expr("value", true)}
		return s, d.err
	case KindUnpack:
		s := &UnpackStep{Targets: d.targets("targets"), Value: d.expr("value", true)}
		return s, d.err
	case KindTool:
		s := &ToolStep{Tool: d.str("tool", true), Args: d.args("args"), SaveAs: d.ident("saveAs", false)}
		if d.err == nil && strings.TrimSpace(s.Tool) == "" {
			d.fail("tool name must not be empty")
		}
		return s, d.err
	case KindQLLM:
		s := &QLLMStep{
			Instruction: d.expr("instruction", true),
			Input:       d.expr("input", true),
			Schema:      d.schema("schema"),
			SaveAs:      d.ident("saveAs", true),
		}
		return s, d.err
	case KindIf:
		s := &IfStep{Condition: d.expr("condition", true), Then: d.steps("thenBranch"), Otherwise: d.steps("otherwise")}
		return s, d.err
	case KindFor:
		s := &ForStep{Targets: d.targets("item"), Iterable: d.expr("iterable", true), Body: d.steps("body")}
		return s, d.err
	case KindRaise:
		s := &RaiseStep{Error: d.expr("error", true)}
		return s, d.err
	default:
		s := &FinalStep{Text: d.str("text", true)}
		return s, d.err
	}
}

// stepDecoder accumulates the first error while reading step fields.
type stepDecoder struct {
	obj *object
	at  string
	err error
}

func (d *stepDecoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%s: %s", d.at, fmt.Sprintf(format, args...))
	}
}

func (d *stepDecoder) field(key string, required bool) (any, bool) {
	v, ok := d.obj.get(key)
	if !ok && required {
		d.fail("missing %q", key)
	}
	return v, ok
}

func (d *stepDecoder) str(key string, required bool) string {
	v, ok := d.field(key, required)
	if !ok {
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		d.fail("%q must be a string", key)
	}
	return s
}

func (d *stepDecoder) ident(key string, required bool) string {
	s := d.str(key, required)
	if s != "" && !IsIdentifier(s) {
		d.fail("%q is not a valid name: %q", key, s)
	}
	return s
}

func (d *stepDecoder) targets(key string) []string {
	v, ok := d.field(key, true)
	if !ok {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case string:
		out = []string{t}
	case []any:
		for _, item := range t {
			s, isStr := item.(string)
			if !isStr {
				d.fail("%q must contain only names", key)
				return nil
			}
			out = append(out, s)
		}
	default:
		d.fail("%q must be a name or a list of names", key)
		return nil
	}
	if len(out) == 0 {
		d.fail("%q must not be empty", key)
	}
	for _, s := range out {
		if !IsIdentifier(s) {
			d.fail("%q is not a valid name: %q", key, s)
		}
	}
	return out
}

func (d *stepDecoder) expr(key string, required bool) Expr {
	v, ok := d.field(key, required)
	if !ok {
		return nil
	}
	e, err := decodeExpr(v)
	if err != nil {
		d.fail("%s: %v", key, err)
	}
	return e
}

func (d *stepDecoder) args(key string) []Arg {
	v, ok := d.field(key, false)
	if !ok {
		return nil
	}
	obj, isObj := v.(*object)
	if !isObj {
		d.fail("%q must be an object", key)
		return nil
	}
	var out []Arg
	for _, k := range obj.keys {
		if !IsIdentifier(k) {
			d.fail("argument name %q is not valid", k)
			return nil
		}
		e, err := decodeExpr(obj.vals[k])
		if err != nil {
			d.fail("argument %q: %v", k, err)
			return nil
		}
		out = append(out, Arg{Name: k, Value: e})
	}
	return out
}

func (d *stepDecoder) steps(key string) []Step {
	v, ok := d.field(key, false)
	if !ok {
		return nil
	}
	steps, err := decodeSteps(v, d.at+"."+key)
	if err != nil && d.err == nil {
		d.err = err
	}
	return steps
}

func (d *stepDecoder) schema(key string) Schema {
	v, ok := d.field(key, true)
	if !ok {
		return Schema{}
	}
	s, err := decodeSchema(v)
	if err != nil {
		d.fail("schema: %v", err)
	}
	return s
}

func decodeSchema(v any) (Schema, error) {
	obj, ok := v.(*object)
	if !ok {
		return Schema{}, fmt.Errorf("must be an object")
	}
	var s Schema
	for _, k := range obj.keys {
		if k != "name" && k != "fields" {
			return Schema{}, fmt.Errorf("unknown key %q", k)
		}
	}
	if n, ok := obj.get("name"); ok {
		name, isStr := n.(string)
		if !isStr {
			return Schema{}, fmt.Errorf("name must be a string")
		}
		s.Name = name
	}
	raw, ok := obj.get("fields")
	if !ok {
		return Schema{}, fmt.Errorf("missing \"fields\"")
	}
	switch fs := raw.(type) {
	case []any:
		for _, item := range fs {
			fo, isObj := item.(*object)
			if !isObj {
				return Schema{}, fmt.Errorf("field must be an object")
			}
			nameRaw, _ := fo.get("name")
			name, _ := nameRaw.(string)
			f, err := decodeField(name, fo)
			if err != nil {
				return Schema{}, err
			}
			s.Fields = append(s.Fields, f)
		}
	case *object:
		for _, name := range fs.keys {
			var f Field
			var err error
			switch spec := fs.vals[name].(type) {
			case string:
				f, err = Field{Name: name, Type: spec, Required: true}, nil
				if !ValidType(spec) {
					err = fmt.Errorf("field %q: unknown type %q", name, spec)
				}
			case *object:
				f, err = decodeField(name, spec)
			default:
				err = fmt.Errorf("field %q must be a type name or an object", name)
			}
			if err != nil {
				return Schema{}, err
			}
			s.Fields = append(s.Fields, f)
		}
	default:
		return Schema{}, fmt.Errorf("fields must be an array or an object")
	}
	if len(s.Fields) == 0 {
		return Schema{}, fmt.Errorf("schema has no fields")
	}
	seen := map[string]bool{}
	for _, f := range s.Fields {
		if seen[f.Name] {
			return Schema{}, fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
	}
	return s, nil
}

func decodeField(name string, o *object) (Field, error) {
	if !IsIdentifier(name) {
		return Field{}, fmt.Errorf("field name %q is not valid", name)
	}
	f := Field{Name: name, Type: TypeAny, Required: true}
	for _, k := range o.keys {
		v := o.vals[k]
		switch k {
		case "name":
		case "type", "items", "description":
			s, ok := v.(string)
			if !ok {
				return Field{}, fmt.Errorf("field %q: %s must be a string", name, k)
			}
			switch k {
			case "type":
				f.Type = s
			case "items":
				f.Items = s
			default:
				f.Description = s
			}
		case "required":
			b, ok := v.(bool)
			if !ok {
				return Field{}, fmt.Errorf("field %q: required must be a boolean", name)
			}
			f.Required = b
		default:
			return Field{}, fmt.Errorf("field %q: unknown key %q", name, k)
		}
	}
	if !ValidType(f.Type) {
		return Field{}, fmt.Errorf("field %q: unknown type %q", name, f.Type)
	}
	if f.Items != "" && (f.Type != TypeArray || !ValidType(f.Items)) {
		return Field{}, fmt.Errorf("field %q: invalid items type %q", name, f.Items)
	}
	return f, nil
}

// DecodeExpr decodes a single JSON-encoded expression.
func DecodeExpr(data []byte) (Expr, error) {
	v, err := decodeOrdered(data)
	if err != nil {
		return nil, err
	}
	return decodeExpr(v)
}

func decodeExpr(v any) (Expr, error) {
	switch t := v.(type) {
	case nil:
		return &Literal{Value: nil}, nil
	case bool, string:
		return &Literal{Value: t}, nil
	case json.Number:
		return decodeNumber(t)
	case []any:
		elts, err := decodeExprList(t)
		if err != nil {
			return nil, err
		}
		return &ListExpr{Elts: elts}, nil
	case *object:
		if ref, ok := t.get("$var"); ok {
			if len(t.keys) != 1 {
				return nil, fmt.Errorf("$var reference must not have other keys")
			}
			path, isStr := ref.(string)
			if !isStr {
				return nil, fmt.Errorf("$var must be a string")
			}
			return ParseVarPath(path)
		}
		if _, ok := t.get("$expr"); ok {
			return decodeNode(t)
		}
		d := &DictExpr{}
		for _, k := range t.keys {
			val, err := decodeExpr(t.vals[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			d.Keys = append(d.Keys, &Literal{Value: k})
			d.Values = append(d.Values, val)
		}
		return d, nil
	}
	return nil, fmt.Errorf("unsupported JSON value %T", v)
}

func decodeNumber(n json.Number) (Expr, error) {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %s", s)
		}
		return &Literal{Value: f}, nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("integer %s out of range", s)
	}
	return &Literal{Value: i}, nil
}

func decodeExprList(items []any) ([]Expr, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]Expr, len(items))
	for i, item := range items {
		e, err := decodeExpr(item)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// ParseVarPath turns "name.field.0" into a chain of Name, Attribute and
// Index nodes. Purely numeric segments index sequences.
func ParseVarPath(path string) (Expr, error) {
	segs := strings.Split(path, ".")
	if !IsIdentifier(segs[0]) {
		return nil, fmt.Errorf("invalid variable reference %q", path)
	}
	var e Expr = &Name{ID: segs[0]}
	for _, seg := range segs[1:] {
		switch {
		case IsIdentifier(seg):
			e = &Attribute{X: e, Name: seg}
		case isDigits(seg):
			i, err := strconv.ParseInt(seg, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid index %q in %q", seg, path)
			}
			e = &Index{X: e, Index: &Literal{Value: i}}
		default:
			return nil, fmt.Errorf("invalid variable reference %q", path)
		}
	}
	return e, nil
}

// nodeDecoder reads fields of a {"$expr": ...} node.
type nodeDecoder struct {
	obj  *object
	kind string
	err  error
}

func (d *nodeDecoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%s node: %s", d.kind, fmt.Sprintf(format, args...))
	}
}

func (d *nodeDecoder) expr(key string, required bool) Expr {
	v, ok := d.obj.get(key)
	if !ok {
		if required {
			d.fail("missing %q", key)
		}
		return nil
	}
	e, err := decodeExpr(v)
	if err != nil {
		d.fail("%s: %v", key, err)
	}
	return e
}

func (d *nodeDecoder) exprs(key string) []Expr {
	v, ok := d.obj.get(key)
	if !ok {
		return nil
	}
	arr, isArr := v.([]any)
	if !isArr {
		d.fail("%q must be an array", key)
		return nil
	}
	out, err := decodeExprList(arr)
	if err != nil {
		d.fail("%s: %v", key, err)
	}
	return out
}

func (d *nodeDecoder) str(key string) string {
	v, ok := d.obj.get(key)
	if !ok {
		d.fail("missing %q", key)
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		d.fail("%q must be a string", key)
	}
	return s
}

func (d *nodeDecoder) strs(key string) []string {
	v, ok := d.obj.get(key)
	if !ok {
		d.fail("missing %q", key)
		return nil
	}
	arr, isArr := v.([]any)
	if !isArr {
		d.fail("%q must be an array", key)
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, isStr := item.(string)
		if !isStr {
			d.fail("%q must contain strings", key)
			return nil
		}
		out = append(out, s)
	}
	return out
}

func decodeNode(obj *object) (Expr, error) {
	kindRaw, _ := obj.get("$expr")
	kind, ok := kindRaw.(string)
	if !ok {
		return nil, fmt.Errorf("$expr must be a string")
	}
	d := &nodeDecoder{obj: obj, kind: kind}
	var out Expr
	switch kind {
	case "tuple":
		out = &TupleExpr{Elts: d.exprs("elts")}
	case "set":
		out = &SetExpr{Elts: d.exprs("elts")}
	case "list":
		out = &ListExpr{Elts: d.exprs("elts")}
	case "dict":
		n := &DictExpr{Keys: d.exprs("keys"), Values: d.exprs("values")}
		if len(n.Keys) != len(n.Values) {
			d.fail("keys and values differ in length")
		}
		out = n
	case "attr":
		n := &Attribute{X: d.expr("x", true), Name: d.str("name")}
		if d.err == nil && !IsIdentifier(n.Name) {
			d.fail("invalid attribute name %q", n.Name)
		}
		out = n
	case "index":
		out = &Index{X: d.expr("x", true), Index: d.expr("index", true)}
	case "slice":
		out = &Slice{X: d.expr("x", true), Lo: d.expr("lo", false), Hi: d.expr("hi", false), Step: d.expr("step", false)}
	case "call":
		n := &Call{Func: d.expr("func", true), Args: d.exprs("args")}
		if raw, ok := obj.get("kwargs"); ok {
			arr, isArr := raw.([]any)
			if !isArr {
				d.fail("kwargs must be an array")
			}
			for _, item := range arr {
				kw, isObj := item.(*object)
				if !isObj {
					d.fail("kwarg must be an object")
					break
				}
				sub := &nodeDecoder{obj: kw, kind: "kwarg"}
				k := Keyword{Name: sub.str("name"), Value: sub.expr("value", true)}
				if sub.err != nil {
					d.fail("%v", sub.err)
					break
				}
				n.Kwargs = append(n.Kwargs, k)
			}
		}
		out = n
	case "unary":
		out = &Unary{Op: d.str("op"), X: d.expr("x", true)}
	case "binary":
		out = &Binary{Op: d.str("op"), X: d.expr("x", true), Y: d.expr("y", true)}
	case "boolop":
		out = &BoolOp{Op: d.str("op"), Values: d.exprs("values")}
	case "compare":
		n := &Compare{Left: d.expr("left", true), Ops: d.strs("ops"), Comparators: d.exprs("comparators")}
		if d.err == nil && (len(n.Ops) == 0 || len(n.Ops) != len(n.Comparators)) {
			d.fail("ops and comparators differ in length")
		}
		out = n
	case "ifexp":
		out = &IfExp{Cond: d.expr("cond", true), Then: d.expr("then", true), Else: d.expr("else", true)}
	case "listcomp", "setcomp", "dictcomp":
		n := &Comprehension{Kind: CompKind(strings.TrimSuffix(kind, "comp"))}
		if n.Kind == CompDict {
			n.Key, n.Value = d.expr("key", true), d.expr("value", true)
		} else {
			n.Elt = d.expr("elt", true)
		}
		raw, ok := obj.get("clauses")
		arr, isArr := raw.([]any)
		if !ok || !isArr || len(arr) == 0 {
			d.fail("clauses must be a non-empty array")
		}
		for _, item := range arr {
			co, isObj := item.(*object)
			if !isObj {
				d.fail("clause must be an object")
				break
			}
			sub := &nodeDecoder{obj: co, kind: "clause"}
			c := CompClause{Targets: sub.strs("targets"), Iter: sub.expr("iter", true), Ifs: sub.exprs("ifs")}
			if sub.err != nil {
				d.fail("%v", sub.err)
				break
			}
			n.Clauses = append(n.Clauses, c)
		}
		out = n
	default:
		return nil, fmt.Errorf("unknown expression node %q", kind)
	}
	if d.err != nil {
		return nil, d.err
	}
	return out, nil
}

// MarshalJSON encodes a plan in its canonical wire form.
func MarshalJSON(p *Plan) ([]byte, error) {
	w := &writer{}
	w.raw("{")
	if p.Rationale != "" {
		w.key("rationale")
		w.scalar(p.Rationale)
		w.raw(",")
	}
	w.key("steps")
	w.steps(p.Steps)
	w.raw("}")
	return w.result()
}

// MarshalIndent is MarshalJSON with indentation.
func MarshalIndent(p *Plan) ([]byte, error) {
	raw, err := MarshalJSON(p)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalSteps encodes a bare step list.
func MarshalSteps(steps []Step) ([]byte, error) {
	w := &writer{}
	w.steps(steps)
	return w.result()
}

// EncodeExpr encodes a single expression.
func EncodeExpr(e Expr) ([]byte, error) {
	w := &writer{}
	w.expr(e)
	return w.result()
}

type writer struct {
	buf bytes.Buffer
	err error
}

func (w *writer) result() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

func (w *writer) raw(s string) { w.buf.WriteString(s) }

func (w *writer) scalar(v any) {
	raw, err := json.Marshal(v)
	if err != nil && w.err == nil {
		w.err = err
	}
	w.buf.Write(raw)
}

func (w *writer) key(k string) {
	w.scalar(k)
	w.raw(":")
}

func (w *writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *writer) steps(steps []Step) {
	w.raw("[")
	for i, s := range steps {
		if i > 0 {
			w.raw(",")
		}
		w.step(s)
	}
	w.raw("]")
}

func (w *writer) step(s Step) {
	w.raw("{")
	w.key("kind")
	w.scalar(string(s.Kind()))
	field := func(k string) {
		w.raw(",")
		w.key(k)
	}
	switch n := s.(type) {
	case *AssignStep:
		field("saveAs")
		w.scalar(n.SaveAs)
		field("value")
		w.expr(n.Value)
	case *UnpackStep:
		field("targets")
		w.scalar(n.Targets)
		field("value")
		w.expr(n.Value)
	case *ToolStep:
		field("tool")
		w.scalar(n.Tool)
		if len(n.Args) > 0 {
			field("args")
			w.raw("{")
			for i, a := range n.Args {
				if i > 0 {
					w.raw(",")
				}
				w.key(a.Name)
				w.expr(a.Value)
			}
			w.raw("}")
		}
		if n.SaveAs != "" {
			field("saveAs")
			w.scalar(n.SaveAs)
		}
	case *QLLMStep:
		field("instruction")
		w.expr(n.Instruction)
		field("input")
		w.expr(n.Input)
		field("schema")
		w.scalar(n.Schema)
		field("saveAs")
		w.scalar(n.SaveAs)
	case *IfStep:
		field("condition")
		w.expr(n.Condition)
		if len(n.Then) > 0 {
			field("thenBranch")
			w.steps(n.Then)
		}
		if len(n.Otherwise) > 0 {
			field("otherwise")
			w.steps(n.Otherwise)
		}
	case *ForStep:
		field("item")
		if len(n.Targets) == 1 {
			w.scalar(n.Targets[0])
		} else {
			w.scalar(n.Targets)
		}
		field("iterable")
		w.expr(n.Iterable)
		if len(n.Body) > 0 {
			field("body")
			w.steps(n.Body)
		}
	case *RaiseStep:
		field("error")
		w.expr(n.Error)
	case *FinalStep:
		field("text")
		w.scalar(n.Text)
	default:
		w.fail(fmt.Errorf("plan: cannot encode step %T", s))
	}
	w.raw("}")
}

func (w *writer) exprs(es []Expr) {
	w.raw("[")
	for i, e := range es {
		if i > 0 {
			w.raw(",")
		}
		w.expr(e)
	}
	w.raw("]")
}

func (w *writer) node(kind string, fields func(field func(string))) {
	w.raw("{")
	w.key("$expr")
	w.scalar(kind)
	fields(func(k string) {
		w.raw(",")
		w.key(k)
	})
	w.raw("}")
}

func (w *writer) expr(e Expr) {
	if path, ok := varPath(e); ok {
		w.raw("{")
		w.key("$var")
		w.scalar(path)
		w.raw("}")
		return
	}
	switch n := e.(type) {
	case nil:
		w.fail(fmt.Errorf("plan: missing expression"))
	case *Literal:
		w.literal(n.Value)
	case *ListExpr:
		w.exprs(n.Elts)
	case *DictExpr:
		if plainKeys(n) {
			w.raw("{")
			for i := range n.Keys {
				if i > 0 {
					w.raw(",")
				}
				w.key(n.Keys[i].(*Literal).Value.(string))
				w.expr(n.Values[i])
			}
			w.raw("}")
			return
		}
		w.node("dict", func(field func(string)) {
			field("keys")
			w.exprs(n.Keys)
			field("values")
			w.exprs(n.Values)
		})
	case *TupleExpr:
		w.node("tuple", func(field func(string)) {
			field("elts")
			w.exprs(n.Elts)
		})
	case *SetExpr:
		w.node("set", func(field func(string)) {
			field("elts")
			w.exprs(n.Elts)
		})
	case *Name:
		w.fail(fmt.Errorf("plan: invalid name %q", n.ID))
	case *Attribute:
		w.node("attr", func(field func(string)) {
			field("x")
			w.expr(n.X)
			field("name")
			w.scalar(n.Name)
		})
	case *Index:
		w.node("index", func(field func(string)) {
			field("x")
			w.expr(n.X)
			field("index")
			w.expr(n.Index)
		})
	case *Slice:
		w.node("slice", func(field func(string)) {
			field("x")
			w.expr(n.X)
			for _, b := range []struct {
				k string
				e Expr
			}{{"lo", n.Lo}, {"hi", n.Hi}, {"step", n.Step}} {
				if b.e != nil {
					field(b.k)
					w.expr(b.e)
				}
			}
		})
	case *Call:
		w.node("call", func(field func(string)) {
			field("func")
			w.expr(n.Func)
			if len(n.Args) > 0 {
				field("args")
				w.exprs(n.Args)
			}
			if len(n.Kwargs) > 0 {
				field("kwargs")
				w.raw("[")
				for i, k := range n.Kwargs {
					if i > 0 {
						w.raw(",")
					}
					w.raw("{")
					w.key("name")
					w.scalar(k.Name)
					w.raw(",")
					w.key("value")
					w.expr(k.Value)
					w.raw("}")
				}
				w.raw("]")
			}
		})
	case *Unary:
		w.node("unary", func(field func(string)) {
			field("op")
			w.scalar(n.Op)
			field("x")
			w.expr(n.X)
		})
	case *Binary:
		w.node("binary", func(field func(string)) {
			field("op")
			w.scalar(n.Op)
			field("x")
			w.expr(n.X)
			field("y")
			w.expr(n.Y)
		})
	case *BoolOp:
		w.node("boolop", func(field func(string)) {
			field("op")
			w.scalar(n.Op)
			field("values")
			w.exprs(n.Values)
		})
	case *Compare:
		w.node("compare", func(field func(string)) {
			field("left")
			w.expr(n.Left)
			field("ops")
			w.scalar(n.Ops)
			field("comparators")
			w.exprs(n.Comparators)
		})
	case *IfExp:
		w.node("ifexp", func(field func(string)) {
			field("cond")
			w.expr(n.Cond)
			field("then")
			w.expr(n.Then)
			field("else")
			w.expr(n.Else)
		})
	case *Comprehension:
		w.node(string(n.Kind)+"comp", func(field func(string)) {
			if n.Kind == CompDict {
				field("key")
				w.expr(n.Key)
				field("value")
				w.expr(n.Value)
			} else {
				field("elt")
				w.expr(n.Elt)
			}
			field("clauses")
			w.raw("[")
			for i, c := range n.Clauses {
				if i > 0 {
					w.raw(",")
				}
				w.raw("{")
				w.key("targets")
				w.scalar(c.Targets)
				w.raw(",")
				w.key("iter")
				w.expr(c.Iter)
				if len(c.Ifs) > 0 {
					w.raw(",")
					w.key("ifs")
					w.exprs(c.Ifs)
				}
				w.raw("}")
			}
			w.raw("]")
		})
	default:
		w.fail(fmt.Errorf("plan: cannot encode expression %T", e))
	}
}

func (w *writer) literal(v any) {
	switch t := v.(type) {
	case nil:
		w.raw("null")
	case bool, string:
		w.scalar(t)
	case int64:
		w.raw(strconv.FormatInt(t, 10))
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			w.fail(fmt.Errorf("plan: cannot encode %v", t))
			return
		}
		s := strconv.FormatFloat(t, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		w.raw(s)
	default:
		w.fail(fmt.Errorf("plan: unsupported literal %T", v))
	}
}

// varPath renders Name/Attribute/Index chains as a dotted path.
func varPath(e Expr) (string, bool) {
	switch n := e.(type) {
	case *Name:
		return n.ID, IsIdentifier(n.ID)
	case *Attribute:
		base, ok := varPath(n.X)
		return base + "." + n.Name, ok && IsIdentifier(n.Name)
	case *Index:
		lit, ok := n.Index.(*Literal)
		if !ok {
			return "", false
		}
		i, ok := lit.Value.(int64)
		if !ok || i < 0 {
			return "", false
		}
		base, ok := varPath(n.X)
		return base + "." + strconv.FormatInt(i, 10), ok
	}
	return "", false
}

func plainKeys(d *DictExpr) bool {
	seen := map[string]bool{}
	for _, k := range d.Keys {
		lit, ok := k.(*Literal)
		if !ok {
			return false
		}
		s, ok := lit.Value.(string)
		if !ok || strings.HasPrefix(s, "$") || seen[s] {
			return false
		}
		seen[s] = true
	}
	return true
}

// IsIdentifier reports whether s is a valid variable name.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
