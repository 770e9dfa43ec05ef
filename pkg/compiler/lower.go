package compiler

import (
	"github.com/jllopis/camel/pkg/plan"
)

// lowerer turns parsed statements into plan steps. Every tool call becomes
// its own ToolStep; expressions are checked to be free of effects.
type lowerer struct {
	classes map[string]plan.Schema
	tools   map[string]bool // nil accepts any tool name
}

func (lw *lowerer) block(ss []stmt) ([]plan.Step, error) {
	var out []plan.Step
	for _, s := range ss {
		steps, err := lw.stmt(s)
		if err != nil {
			return nil, err
		}
		out = append(out, steps...)
	}
	return out, nil
}

func (lw *lowerer) stmt(s stmt) ([]plan.Step, error) {
	switch n := s.(type) {
	case *passStmt:
		return nil, nil
	case *classStmt:
		if _, dup := lw.classes[n.Name]; dup {
			return nil, errorf(n.line(), 0, "class %s is declared twice", n.Name)
		}
		schema, err := schemaFromClass(n)
		if err != nil {
			return nil, err
		}
		lw.classes[n.Name] = schema
		return nil, nil
	case *exprStmt:
		return lw.exprStmt(n)
	case *assignStmt:
		return lw.assign(n)
	case *augAssignStmt:
		value := &plan.Binary{Op: n.Op, X: &plan.Name{ID: n.Target}, Y: n.Value}
		if err := lw.checkExpr(value, n.line(), false); err != nil {
			return nil, err
		}
		return []plan.Step{&plan.AssignStep{SaveAs: n.Target, Value: value}}, nil
	case *ifStmt:
		if err := lw.checkExpr(n.Cond, n.line(), false); err != nil {
			return nil, err
		}
		then, err := lw.block(n.Body)
		if err != nil {
			return nil, err
		}
		otherwise, err := lw.block(n.Else)
		if err != nil {
			return nil, err
		}
		return []plan.Step{&plan.IfStep{Condition: n.Cond, Then: then, Otherwise: otherwise}}, nil
	case *forStmt:
		if err := lw.checkExpr(n.Iter, n.line(), false); err != nil {
			return nil, err
		}
		body, err := lw.block(n.Body)
		if err != nil {
			return nil, err
		}
		return []plan.Step{&plan.ForStep{Targets: n.Targets, Iterable: n.Iter, Body: body}}, nil
	case *raiseStmt:
		if err := lw.checkExpr(n.X, n.line(), true); err != nil {
			return nil, err
		}
		return []plan.Step{&plan.RaiseStep{Error: n.X}}, nil
	}
	return nil, errorf(s.line(), 0, "unsupported statement")
}

// callee returns the function name of a call to a bare name.
func callee(e plan.Expr) (*plan.Call, string, bool) {
	c, ok := e.(*plan.Call)
	if !ok {
		return nil, "", false
	}
	name, ok := c.Func.(*plan.Name)
	if !ok {
		return c, "", false
	}
	return c, name.ID, true
}

func (lw *lowerer) exprStmt(n *exprStmt) ([]plan.Step, error) {
	if lit, ok := n.X.(*plan.Literal); ok {
		if _, isStr := lit.Value.(string); isStr {
			return nil, nil // docstring
		}
	}
	call, name, ok := callee(n.X)
	if ok {
		switch {
		case name == plan.FinalFunc:
			text, err := finalText(call, n.line())
			if err != nil {
				return nil, err
			}
			return []plan.Step{&plan.FinalStep{Text: text}}, nil
		case name == plan.QLLMFunc || name == plan.QLLMAlias:
			return nil, errorf(n.line(), 0, "the result of %s must be assigned to a variable", name)
		case lw.isTool(name):
			step, err := lw.toolStep(call, name, "", n.line())
			if err != nil {
				return nil, err
			}
			return []plan.Step{step}, nil
		}
	}
	if err := lw.checkExpr(n.X, n.line(), false); err != nil {
		return nil, err
	}
	return []plan.Step{&plan.AssignStep{SaveAs: "_", Value: n.X}}, nil
}

func (lw *lowerer) assign(n *assignStmt) ([]plan.Step, error) {
	if n.Tuple {
		if call, name, ok := callee(n.Value); ok && call != nil && (lw.isTool(name) || name == plan.QLLMFunc || name == plan.QLLMAlias) {
			return nil, errorf(n.line(), 0, "bind the result of %s to a single name before unpacking it", name)
		}
		if err := lw.checkExpr(n.Value, n.line(), false); err != nil {
			return nil, err
		}
		return []plan.Step{&plan.UnpackStep{Targets: n.Targets, Value: n.Value}}, nil
	}
	target := n.Targets[0]
	if call, name, ok := callee(n.Value); ok {
		switch {
		case name == plan.FinalFunc:
			return nil, errorf(n.line(), 0, "final(...) does not return a value")
		case name == plan.QLLMFunc || name == plan.QLLMAlias:
			step, err := lw.qllmStep(call, target, n.line())
			if err != nil {
				return nil, err
			}
			return []plan.Step{step}, nil
		case lw.isTool(name):
			step, err := lw.toolStep(call, name, target, n.line())
			if err != nil {
				return nil, err
			}
			return []plan.Step{step}, nil
		}
	}
	if err := lw.checkExpr(n.Value, n.line(), false); err != nil {
		return nil, err
	}
	return []plan.Step{&plan.AssignStep{SaveAs: target, Value: n.Value}}, nil
}

// isTool reports whether a call to name is a tool call.
func (lw *lowerer) isTool(name string) bool {
	if plan.Builtins[name] || plan.ExceptionTypes[name] || name == plan.FinalFunc ||
		name == plan.QLLMFunc || name == plan.QLLMAlias {
		return false
	}
	_, isClass := lw.classes[name]
	return !isClass
}

func (lw *lowerer) toolStep(call *plan.Call, name, saveAs string, line int) (*plan.ToolStep, error) {
	if lw.tools != nil && !lw.tools[name] {
		return nil, errorf(line, 0, "unknown tool %q", name)
	}
	if len(call.Args) > 0 {
		return nil, errorf(line, 0, "tool %s must be called with keyword arguments only", name)
	}
	step := &plan.ToolStep{Tool: name, SaveAs: saveAs}
	for _, kw := range call.Kwargs {
		if err := lw.checkExpr(kw.Value, line, false); err != nil {
			return nil, err
		}
		step.Args = append(step.Args, plan.Arg{Name: kw.Name, Value: kw.Value})
	}
	return step, nil
}

var qllmParams = [][]string{
	{"instruction", "query", "prompt"},
	{"input", "data"},
	{"output_schema", "schema"},
}

func (lw *lowerer) qllmStep(call *plan.Call, saveAs string, line int) (*plan.QLLMStep, error) {
	var slots [3]plan.Expr
	if len(call.Args) > 3 {
		return nil, errorf(line, 0, "%s takes at most 3 arguments", plan.QLLMFunc)
	}
	copy(slots[:], call.Args)
	for _, kw := range call.Kwargs {
		found := false
		for i, names := range qllmParams {
			for _, n := range names {
				if kw.Name == n {
					if slots[i] != nil {
						return nil, errorf(line, 0, "%s got multiple values for %s", plan.QLLMFunc, names[0])
					}
					slots[i], found = kw.Value, true
				}
			}
		}
		if !found {
			return nil, errorf(line, 0, "%s got an unexpected argument %q", plan.QLLMFunc, kw.Name)
		}
	}
	for i, names := range qllmParams {
		if slots[i] == nil {
			return nil, errorf(line, 0, "%s needs %s", plan.QLLMFunc, names[0])
		}
	}
	ref, ok := slots[2].(*plan.Name)
	if !ok {
		return nil, errorf(line, 0, "output_schema must name a class declared in the plan")
	}
	schema, ok := lw.classes[ref.ID]
	if !ok {
		return nil, errorf(line, 0, "output_schema %s is not a declared class", ref.ID)
	}
	for _, e := range slots[:2] {
		if err := lw.checkExpr(e, line, false); err != nil {
			return nil, err
		}
	}
	return &plan.QLLMStep{Instruction: slots[0], Input: slots[1], Schema: schema, SaveAs: saveAs}, nil
}

func finalText(call *plan.Call, line int) (string, error) {
	var arg plan.Expr
	switch {
	case len(call.Args) == 1 && len(call.Kwargs) == 0:
		arg = call.Args[0]
	case len(call.Args) == 0 && len(call.Kwargs) == 1 && call.Kwargs[0].Name == "text":
		arg = call.Kwargs[0].Value
	default:
		return "", errorf(line, 0, "final takes exactly one text argument")
	}
	lit, ok := arg.(*plan.Literal)
	if ok {
		if s, isStr := lit.Value.(string); isStr {
			return s, nil
		}
	}
	return "", errorf(line, 0, "final text must be a plain string literal; reference variables as {{name}}")
}
