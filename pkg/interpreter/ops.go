package interpreter

import (
	"fmt"
	"math"
	"strings"
)

func exceptionf(typ, format string, args ...any) *Exception {
	return &Exception{Type: typ, Args: []any{fmt.Sprintf(format, args...)}}
}

func typeErrorf(format string, args ...any) *Exception {
	return exceptionf("TypeError", format, args...)
}

func valueErrorf(format string, args ...any) *Exception {
	return exceptionf("ValueError", format, args...)
}

// number widens bools and ints for arithmetic.
func number(v any) (i int64, f float64, isFloat, ok bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, 1, false, true
		}
		return 0, 0, false, true
	case int64:
		return x, float64(x), false, true
	case float64:
		return 0, x, true, true
	}
	return 0, 0, false, false
}

func equal(a, b any) bool {
	ai, af, aFloat, aNum := number(a)
	bi, bf, bFloat, bNum := number(b)
	if aNum && bNum {
		if aFloat || bFloat {
			return af == bf
		}
		return ai == bi
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case Builtin:
		y, ok := b.(Builtin)
		return ok && x == y
	case List:
		y, ok := b.(List)
		return ok && seqEqual(x, y)
	case Tuple:
		y, ok := b.(Tuple)
		return ok && seqEqual(x, y)
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			v, found, err := y.Get(k)
			if err != nil || !found || !equal(x.vals[i], v) {
				return false
			}
		}
		return true
	case *Set:
		y, ok := b.(*Set)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, it := range x.items {
			if has, _ := y.Has(it); !has {
				return false
			}
		}
		return true
	case *Exception:
		return a == b
	}
	return false
}

func seqEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// compare orders a and b, returning -1, 0 or 1.
func compare(op string, a, b any) (int, error) {
	ai, af, aFloat, aNum := number(a)
	bi, bf, bFloat, bNum := number(b)
	if aNum && bNum {
		if aFloat || bFloat {
			return cmpFloat(af, bf), nil
		}
		return cmpInt(ai, bi), nil
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case List:
		if y, ok := b.(List); ok {
			return compareSeq(op, x, y)
		}
	case Tuple:
		if y, ok := b.(Tuple); ok {
			return compareSeq(op, x, y)
		}
	}
	return 0, typeErrorf("'%s' not supported between instances of '%s' and '%s'", op, typeName(a), typeName(b))
}

func compareSeq(op string, a, b []any) (int, error) {
	for i := 0; i < len(a) && i < len(b); i++ {
		if equal(a[i], b[i]) {
			continue
		}
		return compare(op, a[i], b[i])
	}
	return cmpInt(int64(len(a)), int64(len(b))), nil
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareOp(op string, a, b any) (bool, error) {
	switch op {
	case "==":
		return equal(a, b), nil
	case "!=":
		return !equal(a, b), nil
	case "is":
		return identical(a, b), nil
	case "is not":
		return !identical(a, b), nil
	case "in":
		return contains(b, a)
	case "not in":
		in, err := contains(b, a)
		return !in, err
	}
	c, err := compare(op, a, b)
	if err != nil {
		return false, err
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, typeErrorf("unknown comparison %s", op)
}

// identical approximates "is": singletons and builtins compare by value,
// everything else by equality of kind and value.
func identical(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case Builtin:
		y, ok := b.(Builtin)
		return ok && x == y
	}
	return typeName(a) == typeName(b) && equal(a, b)
}

func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, typeErrorf("'in <string>' requires string as left operand, not %s", typeName(item))
		}
		return strings.Contains(c, s), nil
	case List:
		return seqContains(c, item), nil
	case Tuple:
		return seqContains(c, item), nil
	case *Dict:
		_, ok, err := c.Get(item)
		return ok, err
	case *Set:
		return c.Has(item)
	}
	return false, typeErrorf("argument of type '%s' is not iterable", typeName(container))
}

func seqContains(items []any, v any) bool {
	for _, it := range items {
		if equal(it, v) {
			return true
		}
	}
	return false
}

func unaryOp(op string, v any) (any, error) {
	switch op {
	case "not":
		return !truthy(v), nil
	case "-", "+":
		i, f, isFloat, ok := number(v)
		if !ok {
			return nil, typeErrorf("bad operand type for unary %s: '%s'", op, typeName(v))
		}
		if op == "+" {
			if isFloat {
				return f, nil
			}
			return i, nil
		}
		if isFloat {
			return -f, nil
		}
		return -i, nil
	case "~":
		i, _, isFloat, ok := number(v)
		if !ok || isFloat {
			return nil, typeErrorf("bad operand type for unary ~: '%s'", typeName(v))
		}
		return ^i, nil
	}
	return nil, typeErrorf("unknown unary operator %s", op)
}

func (r *run) binaryOp(op string, a, b any) (any, error) {
	switch op {
	case "+":
		switch x := a.(type) {
		case string:
			if y, ok := b.(string); ok {
				if err := r.checkSize(len(x) + len(y)); err != nil {
					return nil, err
				}
				return x + y, nil
			}
		case List:
			if y, ok := b.(List); ok {
				if err := r.checkSize(len(x) + len(y)); err != nil {
					return nil, err
				}
				return append(append(List{}, x...), y...), nil
			}
		case Tuple:
			if y, ok := b.(Tuple); ok {
				if err := r.checkSize(len(x) + len(y)); err != nil {
					return nil, err
				}
				return append(append(Tuple{}, x...), y...), nil
			}
		}
	case "*":
		if out, ok, err := r.repeat(a, b); ok || err != nil {
			return out, err
		}
		if out, ok, err := r.repeat(b, a); ok || err != nil {
			return out, err
		}
	case "|", "&", "^", "-":
		if x, ok := a.(*Set); ok {
			if y, ok := b.(*Set); ok {
				return setOp(op, x, y)
			}
		}
		if x, ok := a.(*Dict); ok && op == "|" {
			if y, ok := b.(*Dict); ok {
				out := NewDict()
				for i, k := range x.keys {
					_ = out.set(k, x.vals[i])
				}
				for i, k := range y.keys {
					_ = out.set(k, y.vals[i])
				}
				return out, nil
			}
		}
	case "%":
		if _, ok := a.(string); ok {
			return nil, typeErrorf("printf-style formatting is not supported; use f-strings or str.format")
		}
	}
	return arith(op, a, b)
}

func (r *run) repeat(seq, n any) (any, bool, error) {
	count, ok := n.(int64)
	if !ok {
		if b, isBool := n.(bool); isBool {
			count, ok = 0, true
			if b {
				count = 1
			}
		}
	}
	if !ok {
		return nil, false, nil
	}
	if count < 0 {
		count = 0
	}
	switch x := seq.(type) {
	case string:
		if err := r.checkSize(int(count) * len(x)); err != nil {
			return nil, true, err
		}
		return strings.Repeat(x, int(count)), true, nil
	case List:
		if err := r.checkSize(int(count) * len(x)); err != nil {
			return nil, true, err
		}
		out := List{}
		for i := int64(0); i < count; i++ {
			out = append(out, x...)
		}
		return out, true, nil
	case Tuple:
		if err := r.checkSize(int(count) * len(x)); err != nil {
			return nil, true, err
		}
		out := Tuple{}
		for i := int64(0); i < count; i++ {
			out = append(out, x...)
		}
		return out, true, nil
	}
	return nil, false, nil
}

func setOp(op string, a, b *Set) (*Set, error) {
	out := NewSet()
	switch op {
	case "|":
		for _, it := range a.items {
			_ = out.add(it)
		}
		for _, it := range b.items {
			_ = out.add(it)
		}
	case "&":
		for _, it := range a.items {
			if has, _ := b.Has(it); has {
				_ = out.add(it)
			}
		}
	case "-":
		for _, it := range a.items {
			if has, _ := b.Has(it); !has {
				_ = out.add(it)
			}
		}
	case "^":
		for _, it := range a.items {
			if has, _ := b.Has(it); !has {
				_ = out.add(it)
			}
		}
		for _, it := range b.items {
			if has, _ := a.Has(it); !has {
				_ = out.add(it)
			}
		}
	}
	return out, nil
}

func arith(op string, a, b any) (any, error) {
	ai, af, aFloat, aNum := number(a)
	bi, bf, bFloat, bNum := number(b)
	if !aNum || !bNum {
		return nil, typeErrorf("unsupported operand type(s) for %s: '%s' and '%s'", op, typeName(a), typeName(b))
	}
	isFloat := aFloat || bFloat
	switch op {
	case "+":
		if isFloat {
			return af + bf, nil
		}
		return ai + bi, nil
	case "-":
		if isFloat {
			return af - bf, nil
		}
		return ai - bi, nil
	case "*":
		if isFloat {
			return af * bf, nil
		}
		return ai * bi, nil
	case "/":
		if bf == 0 {
			return nil, exceptionf("ZeroDivisionError", "division by zero")
		}
		return af / bf, nil
	case "//":
		if bf == 0 {
			return nil, exceptionf("ZeroDivisionError", "integer division or modulo by zero")
		}
		if isFloat {
			return math.Floor(af / bf), nil
		}
		return floorDiv(ai, bi), nil
	case "%":
		if bf == 0 {
			return nil, exceptionf("ZeroDivisionError", "integer modulo by zero")
		}
		if isFloat {
			m := math.Mod(af, bf)
			if m != 0 && (m < 0) != (bf < 0) {
				m += bf
			}
			return m, nil
		}
		return ai - floorDiv(ai, bi)*bi, nil
	case "**":
		if !isFloat && bi >= 0 {
			return intPow(ai, bi), nil
		}
		if af == 0 && bf < 0 {
			return nil, exceptionf("ZeroDivisionError", "0.0 cannot be raised to a negative power")
		}
		return math.Pow(af, bf), nil
	}
	if isFloat {
		return nil, typeErrorf("unsupported operand type(s) for %s: '%s' and '%s'", op, typeName(a), typeName(b))
	}
	switch op {
	case "|":
		return ai | bi, nil
	case "&":
		return ai & bi, nil
	case "^":
		return ai ^ bi, nil
	case "<<", ">>":
		if bi < 0 {
			return nil, valueErrorf("negative shift count")
		}
		if bi > 63 {
			bi = 63
		}
		if op == "<<" {
			return ai << uint(bi), nil
		}
		return ai >> uint(bi), nil
	}
	return nil, typeErrorf("unsupported operator %s", op)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func intPow(base, exp int64) int64 {
	out := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			out *= base
		}
		base *= base
		exp >>= 1
	}
	return out
}
