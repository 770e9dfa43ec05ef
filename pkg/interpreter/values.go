package interpreter

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/jllopis/camel/pkg/plan"
)

// Runtime data is one of: nil, bool, int64, float64, string, List, Tuple,
// *Dict, *Set, Builtin or *Exception. Containers hold plain data; the
// capability lives on the enclosing capability.Value.

// List is an immutable sequence.
type List []any

// Tuple is an immutable, hashable sequence.
type Tuple []any

// Builtin is a builtin function or type used as a value, e.g. in
// type(x) == str.
type Builtin string

// Exception is the value of a raised error.
type Exception struct {
	Type string
	Args []any
}

func (e *Exception) Error() string {
	return e.Type + ": " + e.Message()
}

// Message renders the exception arguments the way str(exc) does.
func (e *Exception) Message() string {
	switch len(e.Args) {
	case 0:
		return ""
	case 1:
		if e.Type == "KeyError" {
			return repr(e.Args[0])
		}
		return str(e.Args[0])
	}
	return repr(Tuple(e.Args))
}

// Dict is an insertion-ordered mapping.
type Dict struct {
	keys  []any
	vals  []any
	index map[string]int
}

// NewDict returns an empty dict.
func NewDict() *Dict {
	return &Dict{index: map[string]int{}}
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []any { return append([]any(nil), d.keys...) }

// Values returns the values in insertion order.
func (d *Dict) Values() []any { return append([]any(nil), d.vals...) }

// Get looks up key.
func (d *Dict) Get(key any) (any, bool, error) {
	h, err := hashKey(key)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[h]
	if !ok {
		return nil, false, nil
	}
	return d.vals[i], true, nil
}

// set is only used while a dict is being built.
func (d *Dict) set(key, val any) error {
	h, err := hashKey(key)
	if err != nil {
		return err
	}
	if i, ok := d.index[h]; ok {
		d.vals[i] = val
		return nil
	}
	d.index[h] = len(d.keys)
	d.keys = append(d.keys, key)
	d.vals = append(d.vals, val)
	return nil
}

// Set is an insertion-ordered set.
type Set struct {
	items []any
	index map[string]int
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{index: map[string]int{}}
}

// Len returns the number of members.
func (s *Set) Len() int { return len(s.items) }

// Items returns the members in insertion order.
func (s *Set) Items() []any { return append([]any(nil), s.items...) }

// Has reports membership.
func (s *Set) Has(v any) (bool, error) {
	h, err := hashKey(v)
	if err != nil {
		return false, err
	}
	_, ok := s.index[h]
	return ok, nil
}

func (s *Set) add(v any) error {
	h, err := hashKey(v)
	if err != nil {
		return err
	}
	if _, ok := s.index[h]; ok {
		return nil
	}
	s.index[h] = len(s.items)
	s.items = append(s.items, v)
	return nil
}

// hashKey maps hashable values to a string key. Numbers that compare equal
// share a key, so 1, 1.0 and True land in the same slot.
func hashKey(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "N", nil
	case bool:
		if x {
			return "n1", nil
		}
		return "n0", nil
	case int64:
		return "n" + strconv.FormatInt(x, 10), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
			return "n" + strconv.FormatInt(int64(x), 10), nil
		}
		return "f" + strconv.FormatFloat(x, 'g', -1, 64), nil
	case string:
		return "s" + x, nil
	case Builtin:
		return "b" + string(x), nil
	case Tuple:
		var b strings.Builder
		b.WriteString("t(")
		for i, e := range x {
			k, err := hashKey(e)
			if err != nil {
				return "", err
			}
			if i > 0 {
				b.WriteByte(0)
			}
			b.WriteString(strconv.Itoa(len(k)))
			b.WriteByte(':')
			b.WriteString(k)
		}
		b.WriteString(")")
		return b.String(), nil
	}
	return "", typeErrorf("unhashable type: '%s'", typeName(v))
}

func typeName(v any) string {
	switch x := v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case List:
		return "list"
	case Tuple:
		return "tuple"
	case *Dict:
		return "dict"
	case *Set:
		return "set"
	case Builtin:
		if isClass(string(x)) {
			return "type"
		}
		return "builtin_function_or_method"
	case *Exception:
		return x.Type
	}
	return fmt.Sprintf("%T", v)
}

var typeBuiltins = map[string]bool{
	"str": true, "int": true, "float": true, "bool": true,
	"list": true, "tuple": true, "set": true, "dict": true,
	"NoneType": true,
}

func isClass(name string) bool {
	return typeBuiltins[name] || plan.ExceptionTypes[name]
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case List:
		return len(x) > 0
	case Tuple:
		return len(x) > 0
	case *Dict:
		return x.Len() > 0
	case *Set:
		return x.Len() > 0
	}
	return true
}

// str renders v as Python's str() would.
func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case *Exception:
		return x.Message()
	}
	return repr(v)
}

// repr renders v as Python's repr() would.
func repr(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case string:
		return quote(x)
	case List:
		return "[" + joinRepr(x) + "]"
	case Tuple:
		if len(x) == 1 {
			return "(" + repr(x[0]) + ",)"
		}
		return "(" + joinRepr(x) + ")"
	case *Dict:
		parts := make([]string, x.Len())
		for i := range x.keys {
			parts[i] = repr(x.keys[i]) + ": " + repr(x.vals[i])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Set:
		if x.Len() == 0 {
			return "set()"
		}
		return "{" + joinRepr(x.items) + "}"
	case Builtin:
		if isClass(string(x)) {
			return "<class '" + string(x) + "'>"
		}
		return "<built-in function " + string(x) + ">"
	case *Exception:
		return x.Type + "(" + joinRepr(x.Args) + ")"
	}
	return fmt.Sprint(v)
}

func joinRepr(items []any) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = repr(it)
	}
	return strings.Join(parts, ", ")
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	if f == 0 {
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	exp := int(math.Floor(math.Log10(math.Abs(f))))
	if exp < -4 || exp >= 16 {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	q := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}
	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(q):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(q)
	return b.String()
}

// ToJSON converts runtime data to plain JSON-like Go values for tools,
// policies and the extractor.
func ToJSON(v any) any {
	switch x := v.(type) {
	case List:
		return seqJSON(x)
	case Tuple:
		return seqJSON(x)
	case *Set:
		return seqJSON(x.items)
	case *Dict:
		m := make(map[string]any, x.Len())
		for i, k := range x.keys {
			ks, ok := k.(string)
			if !ok {
				ks = str(k)
			}
			m[ks] = ToJSON(x.vals[i])
		}
		return m
	case Builtin:
		return repr(x)
	case *Exception:
		return x.Error()
	}
	return v
}

func seqJSON(items []any) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = ToJSON(it)
	}
	return out
}

// FromJSON converts decoded JSON or YAML into runtime data. Integral floats
// become ints and map keys are sorted.
func FromJSON(v any) any {
	switch x := v.(type) {
	case nil, bool, int64, string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case float32:
		return FromJSON(float64(x))
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint64:
		return int64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		out := make(List, len(x))
		for i, e := range x {
			out[i] = FromJSON(e)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := NewDict()
		for _, k := range keys {
			_ = d.set(k, FromJSON(x[k]))
		}
		return d
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[fmt.Sprint(k)] = e
		}
		return FromJSON(m)
	case List, Tuple, *Dict, *Set, Builtin, *Exception:
		return x
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make(List, rv.Len())
		for i := range out {
			out[i] = FromJSON(rv.Index(i).Interface())
		}
		return out
	case reflect.Int, reflect.Int8, reflect.Int16:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint())
	}
	return fmt.Sprint(v)
}
