package interpreter

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jllopis/camel/pkg/capability"
	"github.com/jllopis/camel/pkg/errors"
	"github.com/jllopis/camel/pkg/plan"
	"github.com/jllopis/camel/pkg/policy"
	"github.com/jllopis/camel/pkg/qllm"
	"github.com/jllopis/camel/pkg/trace"
)

// run is the mutable state of one execution.
type run struct {
	in        *Interpreter
	runID     string
	principal string
	env       Env
	scopes    []Env
	control   []capability.Capability
	trace     *trace.Trace
	state     State
	issues    []plan.Issue
	printed   []string
	final     string
	steps     int
	maxItems  int
}

// errFinal unwinds the step stack once a final step has rendered.
var errFinal = stderrors.New("final")

// halt ends a run in a terminal state other than Finalized.
type halt struct {
	state State
	issue *plan.Issue
	err   *errors.CamelError
}

func (h *halt) Error() string { return h.err.Error() }

func (r *run) fail(state State, code errors.ErrorCode, issue plan.Issue) error {
	return &halt{
		state: state,
		issue: &issue,
		err:   errors.New(code, issue.Message, nil).WithContext("run_id", r.runID),
	}
}

func (r *run) checkCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &halt{
			state: StateCancelled,
			err:   errors.New(errors.CodeCancelled, "run cancelled", err).WithContext("run_id", r.runID),
		}
	}
	return nil
}

func (r *run) tick() error {
	r.steps++
	if r.steps > r.in.maxSteps {
		return r.fail(StateRaised, errors.CodeRaised, plan.Issue{
			Stage:   plan.StageExecute,
			Message: fmt.Sprintf("plan exceeded the limit of %d steps", r.in.maxSteps),
			Trusted: true,
		})
	}
	return nil
}

func (r *run) checkSize(n int) error {
	if n > r.maxItems {
		return valueErrorf("value exceeds the limit of %d items", r.maxItems)
	}
	return nil
}

func (r *run) controlCap() capability.Capability {
	return capability.Merge(r.control...)
}

func (r *run) bind(name string, v capability.Value) capability.Value {
	if len(r.control) > 0 {
		v = v.Taint(r.controlCap())
	}
	if name != "" && name != "_" {
		r.env[name] = v
	}
	return v
}

func (r *run) addIssue(ctx context.Context, issue plan.Issue) {
	r.issues = append(r.issues, issue)
	if r.in.metrics != nil {
		r.in.metrics.RecordIssue(ctx, string(issue.Stage))
	}
}

// evalFailure turns an evaluation error into a halt. The issue is trusted
// only if every variable the expression reads, and the control flow that
// reached it, is trusted.
func (r *run) evalFailure(err error, exprs ...plan.Expr) error {
	var h *halt
	if stderrors.As(err, &h) {
		return h
	}
	caps := []capability.Capability{r.controlCap()}
	for _, e := range exprs {
		caps = append(caps, r.exprCap(e))
	}
	return r.fail(StateRaised, errors.CodeRaised, plan.Issue{
		Stage:   plan.StageExecute,
		Message: err.Error(),
		Trusted: capability.Merge(caps...).Trusted,
	})
}

func (r *run) exprCap(e plan.Expr) capability.Capability {
	var caps []capability.Capability
	plan.WalkExpr(e, func(n plan.Expr) bool {
		if name, ok := n.(*plan.Name); ok {
			if v, found := r.lookupVar(name.ID); found {
				caps = append(caps, v.Cap)
			}
		}
		return true
	})
	return capability.Merge(caps...)
}

func stepPath(prefix string, i int) string {
	if prefix == "" {
		return strconv.Itoa(i)
	}
	return prefix + "." + strconv.Itoa(i)
}

// execSteps runs a step list. Control frames left pushed by an if or for
// that could end the run stay in force until the list is done.
func (r *run) execSteps(ctx context.Context, steps []plan.Step, prefix string) error {
	depth := len(r.control)
	defer func() { r.control = r.control[:depth] }()
	for i, s := range steps {
		if err := r.exec(ctx, s, stepPath(prefix, i)); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) exec(ctx context.Context, s plan.Step, path string) error {
	if err := r.tick(); err != nil {
		return err
	}
	switch n := s.(type) {
	case *plan.AssignStep:
		return r.execAssign(n, path)
	case *plan.UnpackStep:
		return r.execUnpack(n, path)
	case *plan.ToolStep:
		return r.execTool(ctx, n, path)
	case *plan.QLLMStep:
		return r.execQLLM(ctx, n, path)
	case *plan.IfStep:
		return r.execIf(ctx, n, path)
	case *plan.ForStep:
		return r.execFor(ctx, n, path)
	case *plan.RaiseStep:
		return r.execRaise(n)
	case *plan.FinalStep:
		return r.execFinal(n, path)
	}
	return r.fail(StateRaised, errors.CodeInternal, plan.Issue{
		Stage:   plan.StageExecute,
		Message: fmt.Sprintf("unknown step type %T", s),
		Trusted: true,
	})
}

func (r *run) appendAssign(path, target string, v capability.Value) {
	r.trace.Append(trace.Event{
		Kind:    trace.KindAssign,
		Step:    path,
		Target:  target,
		Trusted: v.Cap.Trusted,
		Sources: v.Cap.SourceStrings(),
	})
}

func (r *run) execAssign(s *plan.AssignStep, path string) error {
	v, err := r.eval(s.Value)
	if err != nil {
		return r.evalFailure(err, s.Value)
	}
	v = r.bind(s.SaveAs, v)
	target := s.SaveAs
	if target == "_" {
		target = ""
	}
	r.appendAssign(path, target, v)
	return nil
}

func (r *run) execUnpack(s *plan.UnpackStep, path string) error {
	v, err := r.eval(s.Value)
	if err != nil {
		return r.evalFailure(err, s.Value)
	}
	items, err := unpack(v.Data, len(s.Targets))
	if err != nil {
		return r.evalFailure(err, s.Value)
	}
	for i, name := range s.Targets {
		bound := r.bind(name, capability.NewValue(items[i], v.Cap))
		r.appendAssign(path, name, bound)
	}
	return nil
}

func unpack(v any, n int) ([]any, error) {
	items, err := iterate(v)
	if err != nil {
		return nil, typeErrorf("cannot unpack non-iterable %s object", typeName(v))
	}
	switch {
	case len(items) < n:
		return nil, valueErrorf("not enough values to unpack (expected %d, got %d)", n, len(items))
	case len(items) > n:
		return nil, valueErrorf("too many values to unpack (expected %d)", n)
	}
	return items, nil
}

func (r *run) execTool(ctx context.Context, s *plan.ToolStep, path string) error {
	if err := r.checkCancel(ctx); err != nil {
		return err
	}
	args := make(map[string]capability.Value, len(s.Args))
	plain := make(map[string]any, len(s.Args))
	for _, a := range s.Args {
		v, err := r.eval(a.Value)
		if err != nil {
			return r.evalFailure(err, a.Value)
		}
		jv := capability.NewValue(ToJSON(v.Data), v.Cap)
		args[a.Name] = jv
		plain[a.Name] = jv.Data
	}
	control := r.controlCap()

	ctx, span := r.in.tracer.Start(ctx, "camel.interpreter.tool",
		oteltrace.WithAttributes(
			attribute.String("camel.run_id", r.runID),
			attribute.String("camel.step", path),
			attribute.String("camel.tool", s.Tool),
		),
	)
	defer span.End()

	d := r.in.policy.Decide(ctx, policy.Request{Tool: s.Tool, Args: args, Control: control, Principal: r.principal})
	span.SetAttributes(
		attribute.Bool("camel.policy.allowed", d.Allowed),
		attribute.String("camel.policy.rule", d.RuleID),
	)
	if r.in.metrics != nil {
		r.in.metrics.RecordDecision(ctx, s.Tool, d.Allowed)
	}
	if !d.Allowed {
		r.trace.Append(trace.Event{
			Kind:    trace.KindTool,
			Step:    path,
			Tool:    s.Tool,
			Args:    plain,
			Blocked: true,
			Reason:  d.Reason,
			RuleID:  d.RuleID,
			Target:  s.SaveAs,
		})
		r.in.logger.InfoContext(ctx, "camel.policy.denied",
			slog.String("run_id", r.runID),
			slog.String("step", path),
			slog.String("tool", s.Tool),
			slog.String("reason", d.Reason),
		)
		if r.in.strict {
			return r.fail(StateBlocked, errors.CodePolicyDenied, plan.Issue{
				Stage:   plan.StageExecute,
				Message: fmt.Sprintf("tool %s was blocked: %s", s.Tool, d.Reason),
				Trusted: true,
			})
		}
		// The refused call produced nothing; later reads see an untrusted
		// None so they cannot pass for trusted data.
		r.bind(s.SaveAs, capability.NewValue(nil, capability.ToolOutput(s.Tool)))
		return nil
	}

	r.in.logger.DebugContext(ctx, "camel.step.tool",
		slog.String("run_id", r.runID),
		slog.String("step", path),
		slog.String("tool", s.Tool),
	)
	res, err := r.in.tools.Execute(ctx, s.Tool, plain)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if r.in.metrics != nil {
			r.in.metrics.RecordToolCall(ctx, s.Tool, true)
		}
		r.trace.Append(trace.Event{
			Kind:   trace.KindTool,
			Step:   path,
			Tool:   s.Tool,
			Args:   plain,
			Error:  true,
			Reason: err.Error(),
			Target: s.SaveAs,
		})
		if cerr := r.checkCancel(ctx); cerr != nil {
			return cerr
		}
		return r.fail(StateRaised, errors.CodeToolFailure, plan.Issue{
			Stage:   plan.StageExecute,
			Message: fmt.Sprintf("tool %s failed: %v", s.Tool, err),
			Trusted: false,
		})
	}
	if r.in.metrics != nil {
		r.in.metrics.RecordToolCall(ctx, s.Tool, res.IsError)
	}

	text := contentText(res.Content)
	out := r.bind(s.SaveAs, capability.NewValue(decodeContent(res.Content), capability.ToolOutput(s.Tool)))
	ev := trace.Event{
		Kind:       trace.KindTool,
		Step:       path,
		Tool:       s.Tool,
		Args:       plain,
		Error:      res.IsError,
		Target:     s.SaveAs,
		Trusted:    out.Cap.Trusted,
		Sources:    out.Cap.SourceStrings(),
		Suspicious: r.scan(ctx, text),
	}
	r.trace.Append(ev)
	if res.IsError {
		span.SetStatus(codes.Error, "tool reported an error")
		if s.SaveAs == "" {
			r.addIssue(ctx, plan.Issue{
				Stage:   plan.StageExecute,
				Message: fmt.Sprintf("tool %s reported an error: %s", s.Tool, text),
				Trusted: false,
			})
		}
	}
	return nil
}

func (r *run) scan(ctx context.Context, text string) []string {
	if r.in.scanner == nil || text == "" {
		return nil
	}
	return r.in.scanner.Scan(ctx, text)
}

// decodeContent turns tool content into runtime data. Strings holding a JSON
// object or array are decoded; other strings stay text.
func decodeContent(content any) any {
	s, ok := content.(string)
	if !ok {
		return FromJSON(content)
	}
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		var v any
		if err := json.Unmarshal([]byte(t), &v); err == nil {
			return FromJSON(v)
		}
	}
	return s
}

func contentText(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	if content == nil {
		return ""
	}
	b, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprint(content)
	}
	return string(b)
}

func (r *run) execQLLM(ctx context.Context, s *plan.QLLMStep, path string) error {
	if err := r.checkCancel(ctx); err != nil {
		return err
	}
	instr, err := r.eval(s.Instruction)
	if err != nil {
		return r.evalFailure(err, s.Instruction)
	}
	input, err := r.eval(s.Input)
	if err != nil {
		return r.evalFailure(err, s.Input)
	}
	if r.in.extractor == nil {
		return r.fail(StateRaised, errors.CodeInternal, plan.Issue{
			Stage:   plan.StageExecute,
			Message: "no quarantined extractor is configured",
			Trusted: true,
		})
	}

	ctx, span := r.in.tracer.Start(ctx, "camel.interpreter.qllm",
		oteltrace.WithAttributes(
			attribute.String("camel.run_id", r.runID),
			attribute.String("camel.step", path),
			attribute.String("camel.schema", s.Schema.Name),
		),
	)
	defer span.End()

	resp, err := r.in.extractor.Extract(ctx, qllm.Request{
		Instruction: str(instr.Data),
		Input:       ToJSON(input.Data),
		Schema:      s.Schema,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if cerr := r.checkCancel(ctx); cerr != nil {
			return cerr
		}
		code := errors.CodeLLMError
		if errors.IsCode(err, errors.CodeExtractionInsufficient) {
			code = errors.CodeExtractionInsufficient
		}
		return r.fail(StateRaised, code, plan.Issue{
			Stage:   plan.StageExecute,
			Message: fmt.Sprintf("extraction into %s failed: %v", schemaName(s.Schema), err),
			Trusted: false,
		})
	}
	if !resp.HaveEnoughInformation {
		return r.fail(StateRaised, errors.CodeExtractionInsufficient, plan.Issue{
			Stage:   plan.StageExecute,
			Message: fmt.Sprintf("the quarantined model did not have enough information to fill %s", schemaName(s.Schema)),
			Trusted: false,
		})
	}

	data := NewDict()
	for _, f := range s.Schema.Fields {
		if v, ok := resp.Data[f.Name]; ok {
			_ = data.set(f.Name, FromJSON(v))
		}
	}
	model := resp.Model
	if model == "" {
		model = "unknown"
	}
	c := capability.Merge(instr.Cap, input.Cap)
	c = c.WithTrust(r.in.promote && c.Trusted).WithSources(capability.QLLMSource(model))
	out := r.bind(s.SaveAs, capability.NewValue(data, c))

	r.trace.Append(trace.Event{
		Kind:       trace.KindQLLM,
		Step:       path,
		Target:     s.SaveAs,
		Trusted:    out.Cap.Trusted,
		Sources:    out.Cap.SourceStrings(),
		Model:      model,
		Suspicious: r.scan(ctx, contentText(ToJSON(data))),
	})
	return nil
}

func schemaName(s plan.Schema) string {
	if s.Name != "" {
		return s.Name
	}
	return "the schema"
}

func (r *run) execIf(ctx context.Context, s *plan.IfStep, path string) error {
	cond, err := r.eval(s.Condition)
	if err != nil {
		return r.evalFailure(err, s.Condition)
	}
	r.control = append(r.control, cond.Cap)
	if !canEnd(s.Then) && !canEnd(s.Otherwise) {
		defer r.popControl()
	}
	if truthy(cond.Data) {
		return r.execSteps(ctx, s.Then, path+".then")
	}
	return r.execSteps(ctx, s.Otherwise, path+".else")
}

func (r *run) execFor(ctx context.Context, s *plan.ForStep, path string) error {
	it, err := r.eval(s.Iterable)
	if err != nil {
		return r.evalFailure(err, s.Iterable)
	}
	items, err := iterate(it.Data)
	if err != nil {
		return r.evalFailure(err, s.Iterable)
	}
	r.control = append(r.control, it.Cap)
	if !canEnd(s.Body) {
		defer r.popControl()
	}
	for _, item := range items {
		if err := r.checkCancel(ctx); err != nil {
			return err
		}
		if err := r.tick(); err != nil {
			return err
		}
		if len(s.Targets) == 1 {
			r.bind(s.Targets[0], capability.NewValue(item, it.Cap))
		} else {
			parts, err := unpack(item, len(s.Targets))
			if err != nil {
				return r.evalFailure(err, s.Iterable)
			}
			for i, name := range s.Targets {
				r.bind(name, capability.NewValue(parts[i], it.Cap))
			}
		}
		if err := r.execSteps(ctx, s.Body, path+".body"); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) popControl() {
	r.control = r.control[:len(r.control)-1]
}

// canEnd reports whether a step list holds a final or raise. Whether the
// steps after it run at all then depends on the value that chose the branch.
func canEnd(steps []plan.Step) bool {
	found := false
	plan.Walk(steps, func(s plan.Step) bool {
		switch s.(type) {
		case *plan.FinalStep, *plan.RaiseStep:
			found = true
			return false
		}
		return true
	})
	return found
}

func (r *run) execRaise(s *plan.RaiseStep) error {
	v, err := r.eval(s.Error)
	if err != nil {
		return r.evalFailure(err, s.Error)
	}
	msg := str(v.Data)
	if exc, ok := v.Data.(*Exception); ok {
		msg = exc.Error()
	}
	c := capability.Merge(v.Cap, r.controlCap())
	return r.fail(StateRaised, errors.CodeRaised, plan.Issue{
		Stage:   plan.StageExecute,
		Message: msg,
		Trusted: c.Trusted,
	})
}

func (r *run) execFinal(s *plan.FinalStep, path string) error {
	text, redacted, err := r.render(s.Text)
	if err != nil {
		return r.fail(StateRaised, errors.CodeRaised, plan.Issue{
			Stage:   plan.StageExecute,
			Message: err.Error(),
			Trusted: true,
		})
	}
	r.trace.Append(trace.Event{
		Kind:     trace.KindFinal,
		Step:     path,
		Trusted:  true,
		Text:     text,
		Redacted: redacted,
	})
	r.final = text
	return errFinal
}

func (r *run) finish(ctx context.Context, err error) *Result {
	res := &Result{RunID: r.runID}
	var h *halt
	switch {
	case err == nil:
		h = r.fail(StateRaised, errors.CodeRaised, plan.Issue{
			Stage:   plan.StageExecute,
			Message: "plan ended without calling final",
			Trusted: true,
		}).(*halt)
	case stderrors.Is(err, errFinal):
		r.state = StateFinalized
		res.Final = r.final
	case stderrors.As(err, &h):
	default:
		h = &halt{state: StateRaised, err: errors.AsCamelError(err)}
	}
	if h != nil {
		r.state = h.state
		if h.issue != nil {
			r.addIssue(ctx, *h.issue)
		}
		res.Err = h.err
	}
	res.State = r.state
	res.Trace = r.trace.Events()
	res.Issues = append([]plan.Issue(nil), r.issues...)
	res.Env = maps.Clone(r.env)
	res.Printed = append([]string(nil), r.printed...)
	return res
}
