package interpreter

import (
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jllopis/camel/pkg/plan"
)

type builtinFunc func(r *run, args []any, kw map[string]any) (any, error)

var builtinTable map[string]builtinFunc

func init() {
	builtinTable = map[string]builtinFunc{
		"len":       builtinLen,
		"range":     builtinRange,
		"sum":       builtinSum,
		"min":       func(r *run, a []any, kw map[string]any) (any, error) { return r.extreme("min", a, kw, -1) },
		"max":       func(r *run, a []any, kw map[string]any) (any, error) { return r.extreme("max", a, kw, 1) },
		"str":       builtinStr,
		"repr":      builtinRepr,
		"int":       builtinInt,
		"float":     builtinFloat,
		"bool":      builtinBool,
		"type":      builtinType,
		"list":      builtinList,
		"tuple":     builtinTuple,
		"set":       builtinSet,
		"dict":      builtinDict,
		"sorted":    builtinSorted,
		"reversed":  builtinReversed,
		"enumerate": builtinEnumerate,
		"zip":       builtinZip,
		"abs":       builtinAbs,
		"any":       builtinAny,
		"all":       builtinAll,
		"dir":       builtinDir,
		"divmod":    builtinDivmod,
		"hash":      builtinHash,
		"print":     builtinPrint,
	}
	for name := range builtinTable {
		if !plan.Builtins[name] {
			panic("interpreter: builtin " + name + " is not declared in plan.Builtins")
		}
	}
}

func (r *run) callBuiltin(name string, args []any, kw map[string]any) (any, error) {
	if plan.ExceptionTypes[name] {
		if len(kw) > 0 {
			return nil, typeErrorf("%s() takes no keyword arguments", name)
		}
		return &Exception{Type: name, Args: args}, nil
	}
	fn, ok := builtinTable[name]
	if !ok {
		return nil, exceptionf("NameError", "name '%s' is not defined", name)
	}
	return fn(r, args, kw)
}

func arity(name string, args []any, kw map[string]any, min, max int, kwNames ...string) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		return typeErrorf("%s() takes %s arguments (%d given)", name, arityText(min, max), len(args))
	}
	for k := range kw {
		found := false
		for _, n := range kwNames {
			if k == n {
				found = true
			}
		}
		if !found {
			return typeErrorf("%s() got an unexpected keyword argument '%s'", name, k)
		}
	}
	return nil
}

func arityText(min, max int) string {
	switch {
	case max < 0:
		return "at least " + strconv.Itoa(min)
	case min == max:
		return "exactly " + strconv.Itoa(min)
	}
	return "from " + strconv.Itoa(min) + " to " + strconv.Itoa(max)
}

// iterate returns the items a for loop over v would see.
func iterate(v any) ([]any, error) {
	switch x := v.(type) {
	case string:
		out := make([]any, 0, utf8.RuneCountInString(x))
		for _, r := range x {
			out = append(out, string(r))
		}
		return out, nil
	case List:
		return x, nil
	case Tuple:
		return x, nil
	case *Set:
		return x.items, nil
	case *Dict:
		return x.keys, nil
	}
	return nil, typeErrorf("'%s' object is not iterable", typeName(v))
}

func toInt(name string, v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, typeErrorf("%s: '%s' object cannot be interpreted as an integer", name, typeName(v))
}

func builtinLen(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("len", args, kw, 1, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case string:
		return int64(utf8.RuneCountInString(x)), nil
	case List:
		return int64(len(x)), nil
	case Tuple:
		return int64(len(x)), nil
	case *Dict:
		return int64(x.Len()), nil
	case *Set:
		return int64(x.Len()), nil
	}
	return nil, typeErrorf("object of type '%s' has no len()", typeName(args[0]))
}

func builtinRange(r *run, args []any, kw map[string]any) (any, error) {
	if err := arity("range", args, kw, 1, 3); err != nil {
		return nil, err
	}
	bounds := make([]int64, len(args))
	for i, a := range args {
		n, err := toInt("range", a)
		if err != nil {
			return nil, err
		}
		bounds[i] = n
	}
	start, stop, step := int64(0), bounds[0], int64(1)
	if len(bounds) > 1 {
		start, stop = bounds[0], bounds[1]
	}
	if len(bounds) > 2 {
		step = bounds[2]
	}
	if step == 0 {
		return nil, valueErrorf("range() arg 3 must not be zero")
	}
	var n int64
	if step > 0 && stop > start {
		n = (stop - start + step - 1) / step
	} else if step < 0 && stop < start {
		n = (start - stop - step - 1) / -step
	}
	if n > int64(r.maxItems) {
		return nil, r.checkSize(r.maxItems + 1)
	}
	out := make(List, 0, n)
	for i := int64(0); i < n; i++ {
		out = append(out, start+i*step)
	}
	return out, nil
}

func builtinSum(r *run, args []any, kw map[string]any) (any, error) {
	if err := arity("sum", args, kw, 1, 2, "start"); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	var acc any = int64(0)
	if len(args) == 2 {
		acc = args[1]
	} else if s, ok := kw["start"]; ok {
		acc = s
	}
	if _, isStr := acc.(string); isStr {
		return nil, typeErrorf("sum() can't sum strings [use ''.join(seq) instead]")
	}
	for _, it := range items {
		if acc, err = r.binaryOp("+", acc, it); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (r *run) applyKey(key any, v any) (any, error) {
	if key == nil {
		return v, nil
	}
	b, ok := key.(Builtin)
	if !ok {
		return nil, typeErrorf("'%s' object is not callable", typeName(key))
	}
	return r.callBuiltin(string(b), []any{v}, nil)
}

func (r *run) extreme(name string, args []any, kw map[string]any, sign int) (any, error) {
	if err := arity(name, args, kw, 1, -1, "key", "default"); err != nil {
		return nil, err
	}
	items := args
	if len(args) == 1 {
		var err error
		if items, err = iterate(args[0]); err != nil {
			return nil, err
		}
	} else if _, ok := kw["default"]; ok {
		return nil, typeErrorf("Cannot specify a default for %s() with multiple positional arguments", name)
	}
	if len(items) == 0 {
		if d, ok := kw["default"]; ok {
			return d, nil
		}
		return nil, valueErrorf("%s() arg is an empty sequence", name)
	}
	best := items[0]
	bestKey, err := r.applyKey(kw["key"], best)
	if err != nil {
		return nil, err
	}
	for _, it := range items[1:] {
		k, err := r.applyKey(kw["key"], it)
		if err != nil {
			return nil, err
		}
		c, err := compare("<", k, bestKey)
		if err != nil {
			return nil, err
		}
		if c*sign > 0 {
			best, bestKey = it, k
		}
	}
	return best, nil
}

func builtinStr(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("str", args, kw, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return "", nil
	}
	return str(args[0]), nil
}

func builtinRepr(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("repr", args, kw, 1, 1); err != nil {
		return nil, err
	}
	return repr(args[0]), nil
}

func builtinInt(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("int", args, kw, 0, 2, "base"); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return int64(0), nil
	}
	base := int64(10)
	explicitBase := false
	if len(args) == 2 {
		b, err := toInt("int", args[1])
		if err != nil {
			return nil, err
		}
		base, explicitBase = b, true
	} else if b, ok := kw["base"]; ok {
		n, err := toInt("int", b)
		if err != nil {
			return nil, err
		}
		base, explicitBase = n, true
	}
	switch x := args[0].(type) {
	case bool, int64:
		if explicitBase {
			return nil, typeErrorf("int() can't convert non-string with explicit base")
		}
		return toInt("int", x)
	case float64:
		if explicitBase {
			return nil, typeErrorf("int() can't convert non-string with explicit base")
		}
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return nil, valueErrorf("cannot convert float %s to integer", formatFloat(x))
		}
		return int64(x), nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), "_", "")
		n, err := strconv.ParseInt(s, int(base), 64)
		if err != nil {
			return nil, valueErrorf("invalid literal for int() with base %d: %s", base, quote(x))
		}
		return n, nil
	}
	return nil, typeErrorf("int() argument must be a string, a bytes-like object or a real number, not '%s'", typeName(args[0]))
}

func builtinFloat(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("float", args, kw, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return 0.0, nil
	}
	if s, ok := args[0].(string); ok {
		t := strings.ToLower(strings.TrimSpace(s))
		switch t {
		case "inf", "+inf", "infinity":
			return math.Inf(1), nil
		case "-inf", "-infinity":
			return math.Inf(-1), nil
		case "nan":
			return math.NaN(), nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(t, "_", ""), 64)
		if err != nil {
			return nil, valueErrorf("could not convert string to float: %s", quote(s))
		}
		return f, nil
	}
	_, f, _, ok := number(args[0])
	if !ok {
		return nil, typeErrorf("float() argument must be a string or a real number, not '%s'", typeName(args[0]))
	}
	return f, nil
}

func builtinBool(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("bool", args, kw, 0, 1); err != nil {
		return nil, err
	}
	return len(args) == 1 && truthy(args[0]), nil
}

func builtinType(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("type", args, kw, 1, 1); err != nil {
		return nil, err
	}
	return Builtin(typeName(args[0])), nil
}

func builtinList(r *run, args []any, kw map[string]any) (any, error) {
	if err := arity("list", args, kw, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return List{}, nil
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	return append(List{}, items...), nil
}

func builtinTuple(r *run, args []any, kw map[string]any) (any, error) {
	if err := arity("tuple", args, kw, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return Tuple{}, nil
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	return append(Tuple{}, items...), nil
}

func builtinSet(r *run, args []any, kw map[string]any) (any, error) {
	if err := arity("set", args, kw, 0, 1); err != nil {
		return nil, err
	}
	out := NewSet()
	if len(args) == 0 {
		return out, nil
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if err := out.add(it); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func builtinDict(r *run, args []any, kw map[string]any) (any, error) {
	if len(args) > 1 {
		return nil, typeErrorf("dict expected at most 1 argument, got %d", len(args))
	}
	out := NewDict()
	if len(args) == 1 {
		if src, ok := args[0].(*Dict); ok {
			for i, k := range src.keys {
				_ = out.set(k, src.vals[i])
			}
		} else {
			items, err := iterate(args[0])
			if err != nil {
				return nil, err
			}
			for i, it := range items {
				pair, err := iterate(it)
				if err != nil || len(pair) != 2 {
					return nil, valueErrorf("dictionary update sequence element #%d has wrong length", i)
				}
				if err := out.set(pair[0], pair[1]); err != nil {
					return nil, err
				}
			}
		}
	}
	keys := make([]string, 0, len(kw))
	for k := range kw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_ = out.set(k, kw[k])
	}
	return out, nil
}

func builtinSorted(r *run, args []any, kw map[string]any) (any, error) {
	if err := arity("sorted", args, kw, 1, 1, "key", "reverse"); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	keys := make([]any, len(items))
	for i, it := range items {
		if keys[i], err = r.applyKey(kw["key"], it); err != nil {
			return nil, err
		}
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	reverse := truthy(kw["reverse"])
	var sortErr error
	sort.SliceStable(idx, func(a, b int) bool {
		x, y := keys[idx[a]], keys[idx[b]]
		if reverse {
			x, y = y, x
		}
		c, err := compare("<", x, y)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	out := make(List, len(items))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out, nil
}

func builtinReversed(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("reversed", args, kw, 1, 1); err != nil {
		return nil, err
	}
	if _, ok := args[0].(*Set); ok {
		return nil, typeErrorf("'set' object is not reversible")
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	out := make(List, len(items))
	for i, it := range items {
		out[len(items)-1-i] = it
	}
	return out, nil
}

func builtinEnumerate(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("enumerate", args, kw, 1, 2, "start"); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	var start int64
	if len(args) == 2 {
		start, err = toInt("enumerate", args[1])
	} else if s, ok := kw["start"]; ok {
		start, err = toInt("enumerate", s)
	}
	if err != nil {
		return nil, err
	}
	out := make(List, len(items))
	for i, it := range items {
		out[i] = Tuple{start + int64(i), it}
	}
	return out, nil
}

func builtinZip(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("zip", args, kw, 0, -1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return List{}, nil
	}
	seqs := make([][]any, len(args))
	n := -1
	for i, a := range args {
		items, err := iterate(a)
		if err != nil {
			return nil, err
		}
		seqs[i] = items
		if n < 0 || len(items) < n {
			n = len(items)
		}
	}
	out := make(List, n)
	for i := 0; i < n; i++ {
		t := make(Tuple, len(seqs))
		for j := range seqs {
			t[j] = seqs[j][i]
		}
		out[i] = t
	}
	return out, nil
}

func builtinAbs(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("abs", args, kw, 1, 1); err != nil {
		return nil, err
	}
	i, f, isFloat, ok := number(args[0])
	if !ok {
		return nil, typeErrorf("bad operand type for abs(): '%s'", typeName(args[0]))
	}
	if isFloat {
		return math.Abs(f), nil
	}
	if i < 0 {
		return -i, nil
	}
	return i, nil
}

func builtinAny(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("any", args, kw, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if truthy(it) {
			return true, nil
		}
	}
	return false, nil
}

func builtinAll(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("all", args, kw, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if !truthy(it) {
			return false, nil
		}
	}
	return true, nil
}

func builtinDir(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("dir", args, kw, 1, 1); err != nil {
		return nil, err
	}
	methods := plan.Methods[typeName(args[0])]
	names := make([]string, 0, len(methods))
	for m := range methods {
		names = append(names, m)
	}
	sort.Strings(names)
	out := make(List, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out, nil
}

func builtinDivmod(r *run, args []any, kw map[string]any) (any, error) {
	if err := arity("divmod", args, kw, 2, 2); err != nil {
		return nil, err
	}
	q, err := arith("//", args[0], args[1])
	if err != nil {
		return nil, err
	}
	m, err := arith("%", args[0], args[1])
	if err != nil {
		return nil, err
	}
	return Tuple{q, m}, nil
}

func builtinHash(_ *run, args []any, kw map[string]any) (any, error) {
	if err := arity("hash", args, kw, 1, 1); err != nil {
		return nil, err
	}
	if i, _, isFloat, ok := number(args[0]); ok && !isFloat {
		return i, nil
	}
	k, err := hashKey(args[0])
	if err != nil {
		return nil, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(k))
	return int64(h.Sum64() >> 1), nil
}

func builtinPrint(r *run, args []any, kw map[string]any) (any, error) {
	if err := arity("print", args, kw, 0, -1, "sep", "end"); err != nil {
		return nil, err
	}
	sep, end := " ", ""
	if s, ok := kw["sep"]; ok && s != nil {
		sep = str(s)
	}
	if e, ok := kw["end"]; ok && e != nil && str(e) != "\n" {
		end = str(e)
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = str(a)
	}
	r.printed = append(r.printed, strings.Join(parts, sep)+end)
	return nil, nil
}
