package interpreter

import (
	"github.com/jllopis/camel/pkg/capability"
	"github.com/jllopis/camel/pkg/plan"
)

// lookupVar resolves a name in the comprehension scopes, innermost first,
// then in the run environment.
func (r *run) lookupVar(name string) (capability.Value, bool) {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if v, ok := r.scopes[i][name]; ok {
			return v, true
		}
	}
	v, ok := r.env[name]
	return v, ok
}

func (r *run) lookup(name string) (capability.Value, error) {
	if v, ok := r.lookupVar(name); ok {
		return v, nil
	}
	if _, ok := builtinTable[name]; ok {
		return capability.LiteralValue(Builtin(name)), nil
	}
	return capability.Value{}, exceptionf("NameError", "name '%s' is not defined", name)
}

// eval evaluates e. The capability of the result is the merge of every
// value that was read to produce it.
func (r *run) eval(e plan.Expr) (capability.Value, error) {
	switch n := e.(type) {
	case *plan.Literal:
		return capability.LiteralValue(FromJSON(n.Value)), nil
	case *plan.Name:
		return r.lookup(n.ID)
	case *plan.Attribute:
		x, err := r.eval(n.X)
		if err != nil {
			return x, err
		}
		if d, ok := x.Data.(*Dict); ok {
			v, found, _ := d.Get(n.Name)
			if found {
				return capability.NewValue(v, x.Cap), nil
			}
		}
		return capability.Value{}, exceptionf("AttributeError", "'%s' object has no attribute '%s'", typeName(x.Data), n.Name)
	case *plan.Index:
		x, err := r.eval(n.X)
		if err != nil {
			return x, err
		}
		idx, err := r.eval(n.Index)
		if err != nil {
			return idx, err
		}
		v, err := index(x.Data, idx.Data)
		if err != nil {
			return capability.Value{}, err
		}
		return capability.Derive(v, x, idx), nil
	case *plan.Slice:
		return r.evalSlice(n)
	case *plan.Call:
		return r.evalCall(n)
	case *plan.Unary:
		x, err := r.eval(n.X)
		if err != nil {
			return x, err
		}
		v, err := unaryOp(n.Op, x.Data)
		if err != nil {
			return capability.Value{}, err
		}
		return capability.Derive(v, x), nil
	case *plan.Binary:
		x, err := r.eval(n.X)
		if err != nil {
			return x, err
		}
		y, err := r.eval(n.Y)
		if err != nil {
			return y, err
		}
		v, err := r.binaryOp(n.Op, x.Data, y.Data)
		if err != nil {
			return capability.Value{}, err
		}
		return capability.Derive(v, x, y), nil
	case *plan.BoolOp:
		return r.evalBoolOp(n)
	case *plan.Compare:
		return r.evalCompare(n)
	case *plan.IfExp:
		cond, err := r.eval(n.Cond)
		if err != nil {
			return cond, err
		}
		branch := n.Else
		if truthy(cond.Data) {
			branch = n.Then
		}
		v, err := r.eval(branch)
		if err != nil {
			return v, err
		}
		return capability.Derive(v.Data, cond, v), nil
	case *plan.ListExpr:
		vals, data, err := r.evalAll(n.Elts)
		if err != nil {
			return capability.Value{}, err
		}
		return capability.Derive(List(data), vals...), nil
	case *plan.TupleExpr:
		vals, data, err := r.evalAll(n.Elts)
		if err != nil {
			return capability.Value{}, err
		}
		return capability.Derive(Tuple(data), vals...), nil
	case *plan.SetExpr:
		vals, data, err := r.evalAll(n.Elts)
		if err != nil {
			return capability.Value{}, err
		}
		s := NewSet()
		for _, d := range data {
			if err := s.add(d); err != nil {
				return capability.Value{}, err
			}
		}
		return capability.Derive(s, vals...), nil
	case *plan.DictExpr:
		keys, kdata, err := r.evalAll(n.Keys)
		if err != nil {
			return capability.Value{}, err
		}
		vals, vdata, err := r.evalAll(n.Values)
		if err != nil {
			return capability.Value{}, err
		}
		d := NewDict()
		for i := range kdata {
			if err := d.set(kdata[i], vdata[i]); err != nil {
				return capability.Value{}, err
			}
		}
		return capability.Derive(d, append(keys, vals...)...), nil
	case *plan.Comprehension:
		return r.evalComprehension(n)
	}
	return capability.Value{}, typeErrorf("unsupported expression %T", e)
}

func (r *run) evalAll(exprs []plan.Expr) ([]capability.Value, []any, error) {
	if err := r.checkSize(len(exprs)); err != nil {
		return nil, nil, err
	}
	vals := make([]capability.Value, len(exprs))
	data := make([]any, len(exprs))
	for i, e := range exprs {
		v, err := r.eval(e)
		if err != nil {
			return nil, nil, err
		}
		vals[i], data[i] = v, v.Data
	}
	return vals, data, nil
}

func (r *run) evalCall(n *plan.Call) (capability.Value, error) {
	var inputs []capability.Value
	var recv capability.Value
	method := ""
	switch f := n.Func.(type) {
	case *plan.Attribute:
		v, err := r.eval(f.X)
		if err != nil {
			return v, err
		}
		recv, method = v, f.Name
		inputs = append(inputs, v)
	case *plan.Name:
	default:
		return capability.Value{}, typeErrorf("expression is not callable")
	}

	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		v, err := r.eval(a)
		if err != nil {
			return v, err
		}
		args[i] = v.Data
		inputs = append(inputs, v)
	}
	var kw map[string]any
	if len(n.Kwargs) > 0 {
		kw = make(map[string]any, len(n.Kwargs))
		for _, k := range n.Kwargs {
			v, err := r.eval(k.Value)
			if err != nil {
				return v, err
			}
			kw[k.Name] = v.Data
			inputs = append(inputs, v)
		}
	}

	var out any
	var err error
	if method != "" {
		out, err = r.callMethod(recv.Data, method, args, kw)
	} else {
		name := n.Func.(*plan.Name).ID
		if v, ok := r.lookupVar(name); ok {
			b, isBuiltin := v.Data.(Builtin)
			if !isBuiltin {
				return capability.Value{}, typeErrorf("'%s' object is not callable", typeName(v.Data))
			}
			name = string(b)
			inputs = append(inputs, v)
		}
		out, err = r.callBuiltin(name, args, kw)
	}
	if err != nil {
		return capability.Value{}, err
	}
	return capability.Derive(out, inputs...), nil
}

func (r *run) evalBoolOp(n *plan.BoolOp) (capability.Value, error) {
	var seen []capability.Value
	var last capability.Value
	for _, e := range n.Values {
		v, err := r.eval(e)
		if err != nil {
			return v, err
		}
		seen = append(seen, v)
		last = v
		if (n.Op == "and") != truthy(v.Data) {
			break
		}
	}
	return capability.Derive(last.Data, seen...), nil
}

func (r *run) evalCompare(n *plan.Compare) (capability.Value, error) {
	left, err := r.eval(n.Left)
	if err != nil {
		return left, err
	}
	seen := []capability.Value{left}
	result := true
	for i, op := range n.Ops {
		right, err := r.eval(n.Comparators[i])
		if err != nil {
			return right, err
		}
		seen = append(seen, right)
		ok, err := compareOp(op, left.Data, right.Data)
		if err != nil {
			return capability.Value{}, err
		}
		if !ok {
			result = false
			break
		}
		left = right
	}
	return capability.Derive(result, seen...), nil
}

func (r *run) evalSlice(n *plan.Slice) (capability.Value, error) {
	x, err := r.eval(n.X)
	if err != nil {
		return x, err
	}
	inputs := []capability.Value{x}
	bounds := make([]*int64, 3)
	for i, e := range []plan.Expr{n.Lo, n.Hi, n.Step} {
		if e == nil {
			continue
		}
		v, err := r.eval(e)
		if err != nil {
			return v, err
		}
		inputs = append(inputs, v)
		if v.Data == nil {
			continue
		}
		b, err := toInt("slice", v.Data)
		if err != nil {
			return capability.Value{}, typeErrorf("slice indices must be integers or None")
		}
		bounds[i] = &b
	}
	out, err := slice(x.Data, bounds[0], bounds[1], bounds[2])
	if err != nil {
		return capability.Value{}, err
	}
	return capability.Derive(out, inputs...), nil
}

func (r *run) evalComprehension(c *plan.Comprehension) (capability.Value, error) {
	r.scopes = append(r.scopes, Env{})
	defer func() { r.scopes = r.scopes[:len(r.scopes)-1] }()
	scope := r.scopes[len(r.scopes)-1]

	var inputs []capability.Value
	var list List
	set := NewSet()
	dict := NewDict()
	size := 0

	var loop func(depth int) error
	loop = func(depth int) error {
		if depth == len(c.Clauses) {
			size++
			if err := r.checkSize(size); err != nil {
				return err
			}
			if c.Kind == plan.CompDict {
				k, err := r.eval(c.Key)
				if err != nil {
					return err
				}
				v, err := r.eval(c.Value)
				if err != nil {
					return err
				}
				inputs = append(inputs, k, v)
				return dict.set(k.Data, v.Data)
			}
			v, err := r.eval(c.Elt)
			if err != nil {
				return err
			}
			inputs = append(inputs, v)
			if c.Kind == plan.CompSet {
				return set.add(v.Data)
			}
			list = append(list, v.Data)
			return nil
		}
		cl := c.Clauses[depth]
		it, err := r.eval(cl.Iter)
		if err != nil {
			return err
		}
		inputs = append(inputs, it)
		items, err := iterate(it.Data)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := r.tick(); err != nil {
				return err
			}
			if len(cl.Targets) == 1 {
				scope[cl.Targets[0]] = capability.NewValue(item, it.Cap)
			} else {
				parts, err := unpack(item, len(cl.Targets))
				if err != nil {
					return err
				}
				for i, name := range cl.Targets {
					scope[name] = capability.NewValue(parts[i], it.Cap)
				}
			}
			keep := true
			for _, cond := range cl.Ifs {
				cv, err := r.eval(cond)
				if err != nil {
					return err
				}
				inputs = append(inputs, cv)
				if !truthy(cv.Data) {
					keep = false
					break
				}
			}
			if keep {
				if err := loop(depth + 1); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := loop(0); err != nil {
		return capability.Value{}, err
	}
	switch c.Kind {
	case plan.CompDict:
		return capability.Derive(dict, inputs...), nil
	case plan.CompSet:
		return capability.Derive(set, inputs...), nil
	}
	if list == nil {
		list = List{}
	}
	return capability.Derive(list, inputs...), nil
}

func index(x, idx any) (any, error) {
	switch c := x.(type) {
	case List:
		i, err := seqIndex("list", len(c), idx)
		if err != nil {
			return nil, err
		}
		return c[i], nil
	case Tuple:
		i, err := seqIndex("tuple", len(c), idx)
		if err != nil {
			return nil, err
		}
		return c[i], nil
	case string:
		runes := []rune(c)
		i, err := seqIndex("string", len(runes), idx)
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	case *Dict:
		v, ok, err := c.Get(idx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &Exception{Type: "KeyError", Args: []any{idx}}
		}
		return v, nil
	}
	return nil, typeErrorf("'%s' object is not subscriptable", typeName(x))
}

func seqIndex(kind string, n int, idx any) (int, error) {
	i, err := toInt(kind, idx)
	if err != nil {
		return 0, typeErrorf("%s indices must be integers or slices, not %s", kind, typeName(idx))
	}
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, exceptionf("IndexError", "%s index out of range", kind)
	}
	return int(i), nil
}

func sliceIndices(n int, lo, hi, step *int64) ([]int, error) {
	st := int64(1)
	if step != nil {
		st = *step
	}
	if st == 0 {
		return nil, valueErrorf("slice step cannot be zero")
	}
	size := int64(n)
	clamp := func(p *int64, def, min, max int64) int64 {
		if p == nil {
			return def
		}
		v := *p
		if v < 0 {
			v += size
		}
		if v < min {
			v = min
		}
		if v > max {
			v = max
		}
		return v
	}
	var out []int
	if st > 0 {
		start, stop := clamp(lo, 0, 0, size), clamp(hi, size, 0, size)
		for i := start; i < stop; i += st {
			out = append(out, int(i))
		}
		return out, nil
	}
	start, stop := clamp(lo, size-1, -1, size-1), clamp(hi, -1, -1, size-1)
	for i := start; i > stop; i += st {
		out = append(out, int(i))
	}
	return out, nil
}

func slice(x any, lo, hi, step *int64) (any, error) {
	var items []any
	switch c := x.(type) {
	case List:
		items = c
	case Tuple:
		items = c
	case string:
		runes := []rune(c)
		idx, err := sliceIndices(len(runes), lo, hi, step)
		if err != nil {
			return nil, err
		}
		out := make([]rune, 0, len(idx))
		for _, i := range idx {
			out = append(out, runes[i])
		}
		return string(out), nil
	default:
		return nil, typeErrorf("'%s' object is not subscriptable", typeName(x))
	}
	idx, err := sliceIndices(len(items), lo, hi, step)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(idx))
	for _, i := range idx {
		out = append(out, items[i])
	}
	if _, ok := x.(Tuple); ok {
		return Tuple(out), nil
	}
	return List(out), nil
}
