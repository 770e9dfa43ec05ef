package compiler

import (
	"fmt"

	"github.com/jllopis/camel/pkg/plan"
)

// checkExpr rejects calls that could have effects or mutate values.
// Exception constructors are accepted only inside raise.
func (lw *lowerer) checkExpr(e plan.Expr, line int, inRaise bool) error {
	var err error
	plan.WalkExpr(e, func(x plan.Expr) bool {
		if err != nil {
			return false
		}
		call, ok := x.(*plan.Call)
		if !ok {
			return true
		}
		switch fn := call.Func.(type) {
		case *plan.Name:
			switch {
			case plan.Builtins[fn.ID]:
			case plan.ExceptionTypes[fn.ID]:
				if !inRaise {
					err = errorf(line, 0, "%s can only be used in a raise statement", fn.ID)
				}
			case fn.ID == plan.FinalFunc:
				err = errorf(line, 0, "final(...) must be its own statement")
			case fn.ID == plan.QLLMFunc || fn.ID == plan.QLLMAlias:
				err = errorf(line, 0, "%s must be assigned directly to a variable", fn.ID)
			default:
				if _, isClass := lw.classes[fn.ID]; isClass {
					err = errorf(line, 0, "class %s can only be used as an output_schema", fn.ID)
					break
				}
				err = errorf(line, 0, "tool call %s must be its own statement; assign its result to a variable first", fn.ID)
			}
		case *plan.Attribute:
			switch {
			case plan.MutatingMethods[fn.Name]:
				err = errorf(line, 0, "method %s mutates its receiver and is not allowed; values are immutable", fn.Name)
			case !plan.AllowedMethod(fn.Name):
				err = errorf(line, 0, "method %s is not allowed", fn.Name)
			}
		default:
			err = errorf(line, 0, "only builtins and methods can be called inside expressions")
		}
		return err == nil
	})
	return err
}

// validate checks the control-flow shape of a step list: every path ends
// in final or raise, nothing follows a terminal step and final never
// appears inside a loop.
func validate(steps []plan.Step) error {
	if err := checkShape(steps, false, "plan"); err != nil {
		return err
	}
	if !terminates(steps) {
		return fmt.Errorf("plan must end with final(...) on every path")
	}
	hasFinal := false
	plan.Walk(steps, func(s plan.Step) bool {
		if _, ok := s.(*plan.FinalStep); ok {
			hasFinal = true
			return false
		}
		return true
	})
	if !hasFinal {
		return fmt.Errorf("plan has no final(...) step")
	}
	return nil
}

func checkShape(steps []plan.Step, inLoop bool, where string) error {
	for i, s := range steps {
		last := i == len(steps)-1
		switch n := s.(type) {
		case *plan.FinalStep:
			if inLoop {
				return fmt.Errorf("final(...) is not allowed inside a for loop")
			}
			if !last {
				return fmt.Errorf("unreachable steps after final(...) in %s", where)
			}
		case *plan.RaiseStep:
			if !last {
				return fmt.Errorf("unreachable steps after raise in %s", where)
			}
		case *plan.IfStep:
			if err := checkShape(n.Then, inLoop, "if branch"); err != nil {
				return err
			}
			if err := checkShape(n.Otherwise, inLoop, "else branch"); err != nil {
				return err
			}
			if !last && terminates(n.Then) && terminates(n.Otherwise) {
				return fmt.Errorf("unreachable steps after an if whose branches both end the plan")
			}
		case *plan.ForStep:
			if err := checkShape(n.Body, true, "for body"); err != nil {
				return err
			}
		}
	}
	return nil
}

func terminates(steps []plan.Step) bool {
	if len(steps) == 0 {
		return false
	}
	switch n := steps[len(steps)-1].(type) {
	case *plan.FinalStep, *plan.RaiseStep:
		return true
	case *plan.IfStep:
		return terminates(n.Then) && terminates(n.Otherwise)
	}
	return false
}

// checkSteps applies the expression rules to steps that did not come from
// the code front end, such as JSON plans.
func (lw *lowerer) checkSteps(steps []plan.Step) error {
	var err error
	plan.Walk(steps, func(s plan.Step) bool {
		switch n := s.(type) {
		case *plan.AssignStep:
			err = lw.checkExpr(n.Value, 0, false)
		case *plan.UnpackStep:
			err = lw.checkExpr(n.Value, 0, false)
		case *plan.ToolStep:
			if lw.tools != nil && !lw.tools[n.Tool] {
				err = fmt.Errorf("unknown tool %q", n.Tool)
				break
			}
			for _, a := range n.Args {
				if err = lw.checkExpr(a.Value, 0, false); err != nil {
					break
				}
			}
		case *plan.QLLMStep:
			if err = lw.checkExpr(n.Instruction, 0, false); err == nil {
				err = lw.checkExpr(n.Input, 0, false)
			}
		case *plan.IfStep:
			err = lw.checkExpr(n.Condition, 0, false)
		case *plan.ForStep:
			err = lw.checkExpr(n.Iterable, 0, false)
		case *plan.RaiseStep:
			err = lw.checkExpr(n.Error, 0, true)
		}
		return err == nil
	})
	return err
}
