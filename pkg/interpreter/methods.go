package interpreter

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jllopis/camel/pkg/plan"
)

func (r *run) callMethod(recv any, name string, args []any, kw map[string]any) (any, error) {
	tn := typeName(recv)
	if !plan.Methods[tn][name] {
		return nil, exceptionf("AttributeError", "'%s' object has no attribute '%s'", tn, name)
	}
	switch x := recv.(type) {
	case string:
		return r.strMethod(x, name, args, kw)
	case List:
		return seqMethod("list", x, name, args, kw)
	case Tuple:
		return seqMethod("tuple", x, name, args, kw)
	case *Dict:
		return dictMethod(x, name, args, kw)
	case *Set:
		return setMethod(x, name, args, kw)
	}
	return nil, exceptionf("AttributeError", "'%s' object has no attribute '%s'", tn, name)
}

func seqMethod(tn string, items []any, name string, args []any, kw map[string]any) (any, error) {
	switch name {
	case "copy":
		if err := arity(tn+".copy", args, kw, 0, 0); err != nil {
			return nil, err
		}
		return append(List{}, items...), nil
	case "count":
		if err := arity(tn+".count", args, kw, 1, 1); err != nil {
			return nil, err
		}
		var n int64
		for _, it := range items {
			if equal(it, args[0]) {
				n++
			}
		}
		return n, nil
	case "index":
		if err := arity(tn+".index", args, kw, 1, 1); err != nil {
			return nil, err
		}
		for i, it := range items {
			if equal(it, args[0]) {
				return int64(i), nil
			}
		}
		return nil, valueErrorf("%s is not in %s", repr(args[0]), tn)
	}
	return nil, exceptionf("AttributeError", "'%s' object has no attribute '%s'", tn, name)
}

func dictMethod(d *Dict, name string, args []any, kw map[string]any) (any, error) {
	switch name {
	case "get":
		if err := arity("dict.get", args, kw, 1, 2); err != nil {
			return nil, err
		}
		v, ok, err := d.Get(args[0])
		if err != nil {
			return nil, err
		}
		if !ok {
			if len(args) == 2 {
				return args[1], nil
			}
			return nil, nil
		}
		return v, nil
	case "keys":
		return List(d.Keys()), arity("dict.keys", args, kw, 0, 0)
	case "values":
		return List(d.Values()), arity("dict.values", args, kw, 0, 0)
	case "items":
		out := make(List, d.Len())
		for i := range d.keys {
			out[i] = Tuple{d.keys[i], d.vals[i]}
		}
		return out, arity("dict.items", args, kw, 0, 0)
	case "copy":
		out := NewDict()
		for i, k := range d.keys {
			_ = out.set(k, d.vals[i])
		}
		return out, arity("dict.copy", args, kw, 0, 0)
	}
	return nil, exceptionf("AttributeError", "'dict' object has no attribute '%s'", name)
}

func setMethod(s *Set, name string, args []any, kw map[string]any) (any, error) {
	if name == "copy" {
		out := NewSet()
		for _, it := range s.items {
			_ = out.add(it)
		}
		return out, arity("set.copy", args, kw, 0, 0)
	}
	if err := arity("set."+name, args, kw, 1, -1); err != nil {
		return nil, err
	}
	others := make([]*Set, len(args))
	for i, a := range args {
		o, err := builtinSet(nil, []any{a}, nil)
		if err != nil {
			return nil, err
		}
		others[i] = o.(*Set)
	}
	switch name {
	case "union", "intersection", "difference", "symmetric_difference":
		op := map[string]string{"union": "|", "intersection": "&", "difference": "-", "symmetric_difference": "^"}[name]
		out := s
		for _, o := range others {
			out, _ = setOp(op, out, o)
		}
		if out == s {
			out, _ = setOp("|", s, NewSet())
		}
		return out, nil
	}
	if len(others) != 1 {
		return nil, typeErrorf("set.%s() takes exactly one argument (%d given)", name, len(others))
	}
	o := others[0]
	switch name {
	case "issubset":
		return subset(s, o), nil
	case "issuperset":
		return subset(o, s), nil
	case "isdisjoint":
		inter, _ := setOp("&", s, o)
		return inter.Len() == 0, nil
	}
	return nil, exceptionf("AttributeError", "'set' object has no attribute '%s'", name)
}

func subset(a, b *Set) bool {
	for _, it := range a.items {
		if has, _ := b.Has(it); !has {
			return false
		}
	}
	return true
}

func strArg(method string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", typeErrorf("%s() argument must be str, not %s", method, typeName(v))
	}
	return s, nil
}

// optStr returns the optional string argument at i, or "" with ok=false when
// it is absent or None.
func optStr(method string, args []any, i int) (string, bool, error) {
	if i >= len(args) || args[i] == nil {
		return "", false, nil
	}
	s, err := strArg(method, args[i])
	return s, err == nil, err
}

func (r *run) strMethod(s, name string, args []any, kw map[string]any) (any, error) {
	m := "str." + name
	switch name {
	case "lower", "upper", "capitalize", "title", "casefold", "swapcase",
		"isdigit", "isalpha", "isalnum", "isspace", "islower", "isupper",
		"isnumeric", "splitlines":
		if err := arity(m, args, kw, 0, 0); err != nil {
			return nil, err
		}
		return strNoArg(s, name), nil
	case "strip", "lstrip", "rstrip":
		if err := arity(m, args, kw, 0, 1); err != nil {
			return nil, err
		}
		cutset, ok, err := optStr(m, args, 0)
		if err != nil {
			return nil, err
		}
		return strip(s, name, cutset, ok), nil
	case "split", "rsplit":
		if err := arity(m, args, kw, 0, 2, "sep", "maxsplit"); err != nil {
			return nil, err
		}
		if v, ok := kw["sep"]; ok {
			args = append([]any{v}, args...)
		}
		maxsplit := int64(-1)
		if len(args) > 1 {
			n, err := toInt(m, args[1])
			if err != nil {
				return nil, err
			}
			maxsplit = n
		} else if v, ok := kw["maxsplit"]; ok {
			n, err := toInt(m, v)
			if err != nil {
				return nil, err
			}
			maxsplit = n
		}
		sep, hasSep, err := optStr(m, args, 0)
		if err != nil {
			return nil, err
		}
		if hasSep && sep == "" {
			return nil, valueErrorf("empty separator")
		}
		return toList(split(s, sep, hasSep, int(maxsplit), name == "rsplit")), nil
	case "join":
		if err := arity(m, args, kw, 1, 1); err != nil {
			return nil, err
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		parts := make([]string, len(items))
		for i, it := range items {
			p, ok := it.(string)
			if !ok {
				return nil, typeErrorf("sequence item %d: expected str instance, %s found", i, typeName(it))
			}
			parts[i] = p
		}
		out := strings.Join(parts, s)
		return out, r.checkSize(len(out))
	case "replace":
		if err := arity(m, args, kw, 2, 3); err != nil {
			return nil, err
		}
		old, err := strArg(m, args[0])
		if err != nil {
			return nil, err
		}
		repl, err := strArg(m, args[1])
		if err != nil {
			return nil, err
		}
		n := int64(-1)
		if len(args) == 3 {
			if n, err = toInt(m, args[2]); err != nil {
				return nil, err
			}
		}
		out := strings.Replace(s, old, repl, int(n))
		return out, r.checkSize(len(out))
	case "startswith", "endswith":
		if err := arity(m, args, kw, 1, 1); err != nil {
			return nil, err
		}
		var candidates []any
		if t, ok := args[0].(Tuple); ok {
			candidates = t
		} else {
			candidates = []any{args[0]}
		}
		for _, c := range candidates {
			p, err := strArg(m, c)
			if err != nil {
				return nil, err
			}
			if (name == "startswith" && strings.HasPrefix(s, p)) || (name == "endswith" && strings.HasSuffix(s, p)) {
				return true, nil
			}
		}
		return false, nil
	case "find", "rfind", "index", "rindex", "count":
		if err := arity(m, args, kw, 1, 1); err != nil {
			return nil, err
		}
		sub, err := strArg(m, args[0])
		if err != nil {
			return nil, err
		}
		if name == "count" {
			return int64(strings.Count(s, sub)), nil
		}
		var i int
		if name == "find" || name == "index" {
			i = strings.Index(s, sub)
		} else {
			i = strings.LastIndex(s, sub)
		}
		if i < 0 {
			if name == "index" || name == "rindex" {
				return nil, valueErrorf("substring not found")
			}
			return int64(-1), nil
		}
		return int64(utf8.RuneCountInString(s[:i])), nil
	case "format":
		out, err := formatString(s, args, kw)
		if err != nil {
			return nil, err
		}
		return out, r.checkSize(len(out))
	case "zfill":
		if err := arity(m, args, kw, 1, 1); err != nil {
			return nil, err
		}
		w, err := toInt(m, args[0])
		if err != nil {
			return nil, err
		}
		if err := r.checkSize(int(w)); err != nil {
			return nil, err
		}
		n := utf8.RuneCountInString(s)
		if int(w) <= n {
			return s, nil
		}
		sign := ""
		if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
			sign, s = s[:1], s[1:]
		}
		return sign + strings.Repeat("0", int(w)-n) + s, nil
	case "center", "ljust", "rjust":
		if err := arity(m, args, kw, 1, 2); err != nil {
			return nil, err
		}
		w, err := toInt(m, args[0])
		if err != nil {
			return nil, err
		}
		if err := r.checkSize(int(w)); err != nil {
			return nil, err
		}
		fill := " "
		if len(args) == 2 {
			if fill, err = strArg(m, args[1]); err != nil {
				return nil, err
			}
			if utf8.RuneCountInString(fill) != 1 {
				return nil, typeErrorf("The fill character must be exactly one character long")
			}
		}
		align := map[string]byte{"center": '^', "ljust": '<', "rjust": '>'}[name]
		return pad(s, int(w), fill, align), nil
	case "partition", "rpartition":
		if err := arity(m, args, kw, 1, 1); err != nil {
			return nil, err
		}
		sep, err := strArg(m, args[0])
		if err != nil {
			return nil, err
		}
		if sep == "" {
			return nil, valueErrorf("empty separator")
		}
		var i int
		if name == "partition" {
			i = strings.Index(s, sep)
		} else {
			i = strings.LastIndex(s, sep)
		}
		if i < 0 {
			if name == "partition" {
				return Tuple{s, "", ""}, nil
			}
			return Tuple{"", "", s}, nil
		}
		return Tuple{s[:i], sep, s[i+len(sep):]}, nil
	case "removeprefix", "removesuffix":
		if err := arity(m, args, kw, 1, 1); err != nil {
			return nil, err
		}
		affix, err := strArg(m, args[0])
		if err != nil {
			return nil, err
		}
		if name == "removeprefix" {
			return strings.TrimPrefix(s, affix), nil
		}
		return strings.TrimSuffix(s, affix), nil
	}
	return nil, exceptionf("AttributeError", "'str' object has no attribute '%s'", name)
}

func strNoArg(s, name string) any {
	switch name {
	case "lower":
		return strings.ToLower(s)
	case "upper":
		return strings.ToUpper(s)
	case "casefold":
		return strings.ToLower(s)
	case "capitalize":
		if s == "" {
			return s
		}
		first, size := utf8.DecodeRuneInString(s)
		return string(unicode.ToUpper(first)) + strings.ToLower(s[size:])
	case "title":
		var b strings.Builder
		prevLetter := false
		for _, c := range s {
			if prevLetter {
				b.WriteRune(unicode.ToLower(c))
			} else {
				b.WriteRune(unicode.ToUpper(c))
			}
			prevLetter = unicode.IsLetter(c)
		}
		return b.String()
	case "swapcase":
		return strings.Map(func(c rune) rune {
			if unicode.IsUpper(c) {
				return unicode.ToLower(c)
			}
			return unicode.ToUpper(c)
		}, s)
	case "splitlines":
		lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		return toList(lines)
	case "isdigit", "isnumeric":
		return s != "" && all(s, unicode.IsDigit)
	case "isalpha":
		return s != "" && all(s, unicode.IsLetter)
	case "isalnum":
		return s != "" && all(s, func(c rune) bool { return unicode.IsLetter(c) || unicode.IsDigit(c) })
	case "isspace":
		return s != "" && all(s, unicode.IsSpace)
	case "islower":
		return hasCased(s) && strings.ToLower(s) == s
	case "isupper":
		return hasCased(s) && strings.ToUpper(s) == s
	}
	return nil
}

func all(s string, pred func(rune) bool) bool {
	for _, c := range s {
		if !pred(c) {
			return false
		}
	}
	return true
}

func hasCased(s string) bool {
	for _, c := range s {
		if unicode.IsUpper(c) || unicode.IsLower(c) {
			return true
		}
	}
	return false
}

func strip(s, side, cutset string, custom bool) string {
	trim := func(c rune) bool { return unicode.IsSpace(c) }
	if custom {
		trim = func(c rune) bool { return strings.ContainsRune(cutset, c) }
	}
	switch side {
	case "lstrip":
		return strings.TrimLeftFunc(s, trim)
	case "rstrip":
		return strings.TrimRightFunc(s, trim)
	}
	return strings.TrimFunc(s, trim)
}

func split(s, sep string, hasSep bool, maxsplit int, fromRight bool) []string {
	if !hasSep {
		fields := strings.Fields(s)
		if maxsplit < 0 || maxsplit >= len(fields)-1 {
			return fields
		}
		if fromRight {
			head := strings.TrimRightFunc(s, unicode.IsSpace)
			parts := make([]string, 0, maxsplit+1)
			for i := 0; i < maxsplit; i++ {
				j := strings.LastIndexFunc(head, unicode.IsSpace)
				parts = append([]string{head[j+1:]}, parts...)
				head = strings.TrimRightFunc(head[:j], unicode.IsSpace)
			}
			return append([]string{head}, parts...)
		}
		rest := strings.TrimLeftFunc(s, unicode.IsSpace)
		parts := make([]string, 0, maxsplit+1)
		for i := 0; i < maxsplit; i++ {
			j := strings.IndexFunc(rest, unicode.IsSpace)
			parts = append(parts, rest[:j])
			rest = strings.TrimLeftFunc(rest[j:], unicode.IsSpace)
		}
		return append(parts, rest)
	}
	if maxsplit < 0 {
		return strings.Split(s, sep)
	}
	if !fromRight {
		return strings.SplitN(s, sep, maxsplit+1)
	}
	var parts []string
	for i := 0; i < maxsplit; i++ {
		j := strings.LastIndex(s, sep)
		if j < 0 {
			break
		}
		parts = append([]string{s[j+len(sep):]}, parts...)
		s = s[:j]
	}
	return append([]string{s}, parts...)
}

func toList(ss []string) List {
	out := make(List, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func pad(s string, width int, fill string, align byte) string {
	n := width - utf8.RuneCountInString(s)
	if n <= 0 {
		return s
	}
	switch align {
	case '<':
		return s + strings.Repeat(fill, n)
	case '^':
		left := n / 2
		return strings.Repeat(fill, left) + s + strings.Repeat(fill, n-left)
	}
	return strings.Repeat(fill, n) + s
}

// formatString implements str.format with positional, numbered and named
// fields plus a subset of the format-spec mini-language.
func formatString(tmpl string, args []any, kw map[string]any) (string, error) {
	var b strings.Builder
	auto := 0
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c == '}' {
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", valueErrorf("Single '}' encountered in format string")
		}
		if c != '{' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(tmpl) && tmpl[i+1] == '{' {
			b.WriteByte('{')
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i:], '}')
		if end < 0 {
			return "", valueErrorf("Single '{' encountered in format string")
		}
		field := tmpl[i+1 : i+end]
		i += end
		name, spec, _ := strings.Cut(field, ":")
		conv := ""
		if k := strings.IndexByte(name, '!'); k >= 0 {
			name, conv = name[:k], name[k+1:]
		}
		var v any
		switch {
		case name == "":
			if auto >= len(args) {
				return "", exceptionf("IndexError", "Replacement index %d out of range for positional args tuple", auto)
			}
			v = args[auto]
			auto++
		case isDigits(name):
			n, _ := strconv.Atoi(name)
			if n >= len(args) {
				return "", exceptionf("IndexError", "Replacement index %d out of range for positional args tuple", n)
			}
			v = args[n]
		default:
			val, ok := kw[name]
			if !ok {
				return "", exceptionf("KeyError", "%s", quote(name))
			}
			v = val
		}
		switch conv {
		case "":
		case "r":
			v = repr(v)
		case "s":
			v = str(v)
		default:
			return "", valueErrorf("Unknown conversion specifier %s", conv)
		}
		out, err := formatValue(v, spec)
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// formatValue applies [[fill]align][sign][0][width][,][.precision][type].
func formatValue(v any, spec string) (string, error) {
	if spec == "" {
		return str(v), nil
	}
	fill, align := " ", byte(0)
	rs := []rune(spec)
	if len(rs) >= 2 && strings.ContainsRune("<>^", rs[1]) {
		fill, align, rs = string(rs[0]), byte(rs[1]), rs[2:]
	} else if len(rs) >= 1 && strings.ContainsRune("<>^", rs[0]) {
		align, rs = byte(rs[0]), rs[1:]
	}
	sign := ""
	if len(rs) > 0 && (rs[0] == '+' || rs[0] == '-' || rs[0] == ' ') {
		sign, rs = string(rs[0]), rs[1:]
	}
	if len(rs) > 0 && rs[0] == '0' {
		if align == 0 {
			fill, align = "0", '='
		}
		rs = rs[1:]
	}
	width := 0
	for len(rs) > 0 && rs[0] >= '0' && rs[0] <= '9' {
		width = width*10 + int(rs[0]-'0')
		rs = rs[1:]
	}
	grouping := false
	if len(rs) > 0 && rs[0] == ',' {
		grouping, rs = true, rs[1:]
	}
	prec := -1
	if len(rs) > 0 && rs[0] == '.' {
		rs = rs[1:]
		prec = 0
		for len(rs) > 0 && rs[0] >= '0' && rs[0] <= '9' {
			prec = prec*10 + int(rs[0]-'0')
			rs = rs[1:]
		}
	}
	verb := byte(0)
	if len(rs) == 1 {
		verb, rs = byte(rs[0]), rs[1:]
	}
	if len(rs) > 0 {
		return "", valueErrorf("Invalid format specifier '%s'", spec)
	}

	var body string
	numeric := false
	switch verb {
	case 0, 's':
		if _, isBool := v.(bool); verb == 's' || isBool || !isNumber(v) {
			body = str(v)
			if prec >= 0 && utf8.RuneCountInString(body) > prec {
				body = string([]rune(body)[:prec])
			}
			break
		}
		fallthrough
	case 'd', 'f', 'F', 'e', 'E', 'g', 'G', '%', 'x', 'X', 'o', 'b':
		i, f, isFloat, ok := number(v)
		if !ok {
			return "", valueErrorf("Unknown format code '%c' for object of type '%s'", orS(verb), typeName(v))
		}
		numeric = true
		neg := f < 0 || (!isFloat && i < 0)
		if neg {
			i, f = -i, -f
		}
		switch verb {
		case 'd':
			if isFloat {
				return "", valueErrorf("Unknown format code 'd' for object of type 'float'")
			}
			body = strconv.FormatInt(i, 10)
		case 'x', 'X', 'o', 'b':
			if isFloat {
				return "", valueErrorf("Unknown format code '%c' for object of type 'float'", verb)
			}
			base := map[byte]int{'x': 16, 'X': 16, 'o': 8, 'b': 2}[verb]
			body = strconv.FormatInt(i, base)
			if verb == 'X' {
				body = strings.ToUpper(body)
			}
		case 'f', 'F', '%':
			if prec < 0 {
				prec = 6
			}
			if verb == '%' {
				f *= 100
			}
			body = strconv.FormatFloat(f, 'f', prec, 64)
			if verb == '%' {
				body += "%"
			}
		case 'e', 'E':
			if prec < 0 {
				prec = 6
			}
			body = strconv.FormatFloat(f, 'e', prec, 64)
			if verb == 'E' {
				body = strings.ToUpper(body)
			}
		case 'g', 'G':
			body = strconv.FormatFloat(f, 'g', prec, 64)
		default:
			if isFloat {
				if prec >= 0 {
					body = strconv.FormatFloat(f, 'g', prec, 64)
				} else {
					body = formatFloat(f)
				}
			} else {
				body = strconv.FormatInt(i, 10)
			}
		}
		if grouping {
			body = group(body)
		}
		switch {
		case neg:
			sign = "-"
		case sign == "-":
			sign = ""
		}
	default:
		return "", valueErrorf("Unknown format code '%c' for object of type '%s'", verb, typeName(v))
	}
	if !numeric {
		sign = ""
	}
	if align == 0 {
		align = '<'
		if numeric {
			align = '>'
		}
	}
	if align == '=' {
		n := width - utf8.RuneCountInString(sign+body)
		if n > 0 {
			body = strings.Repeat(fill, n) + body
		}
		return sign + body, nil
	}
	return pad(sign+body, width, fill, align), nil
}

func isNumber(v any) bool {
	_, _, _, ok := number(v)
	return ok
}

func orS(b byte) byte {
	if b == 0 {
		return 's'
	}
	return b
}

func group(digits string) string {
	intPart, frac, hasFrac := strings.Cut(digits, ".")
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
