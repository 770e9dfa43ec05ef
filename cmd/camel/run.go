package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/camel/pkg/capability"
	"github.com/jllopis/camel/pkg/interpreter"
	"github.com/jllopis/camel/pkg/plan"
	"github.com/jllopis/camel/pkg/trace"
)

var (
	runTools  string
	runInputs []string
)

var runCmd = &cobra.Command{
	Use:   "run <plan>",
	Short: "Run a plan against static tools",
	Long:  "Compiles and runs a plan. Tool results come from a YAML tools file; every call is checked by the configured policy.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runTools, "tools", "", "YAML file with canned tool results")
	runCmd.Flags().StringArrayVar(&runInputs, "input", nil, "bind a trusted user value (name=value, repeatable)")
	rootCmd.AddCommand(runCmd)
}

type runOutput struct {
	RunID   string            `json:"runId"`
	State   interpreter.State `json:"state"`
	Final   string            `json:"final,omitempty"`
	Printed []string          `json:"printed,omitempty"`
	Issues  []plan.Issue      `json:"issues,omitempty"`
	Trace   []trace.Event     `json:"trace"`
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := parseInputs(runInputs)
	if err != nil {
		return err
	}
	ex, err := loadTools(runTools)
	if err != nil {
		return err
	}
	c, err := newCompiler(ctx, ex, runTools != "")
	if err != nil {
		return err
	}
	p, err := loadPlan(c, args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	engine, err := loadPolicy(ctx)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	opts := append(interpreterOptions(engine, store, newMetrics()),
		interpreter.WithTools(ex),
		interpreter.WithCompiler(c),
	)
	res := interpreter.New(opts...).Run(ctx, p, env)
	if err := printResult(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.State != interpreter.StateFinalized {
		return res.Err
	}
	return nil
}

// parseInputs binds name=value pairs as trusted user values.
func parseInputs(pairs []string) (interpreter.Env, error) {
	env := interpreter.Env{}
	for _, kv := range pairs {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !plan.IsIdentifier(name) {
			return nil, NewInvalidArgumentError("--input", fmt.Sprintf("%q is not name=value", kv))
		}
		env[name] = capability.NewValue(value, capability.User())
	}
	return env, nil
}

func printResult(w io.Writer, res *interpreter.Result) error {
	if jsonOutput {
		return printJSON(w, runOutput{
			RunID:   res.RunID,
			State:   res.State,
			Final:   res.Final,
			Printed: res.Printed,
			Issues:  res.Issues,
			Trace:   res.Trace,
		})
	}
	for _, e := range res.Trace {
		fmt.Fprintln(w, formatEvent(e))
	}
	for _, line := range res.Printed {
		fmt.Fprintf(w, "print: %s\n", line)
	}
	for _, is := range res.Issues {
		fmt.Fprintf(w, "issue: %s\n", is)
	}
	fmt.Fprintf(w, "state: %s\n", res.State)
	if res.State == interpreter.StateFinalized {
		fmt.Fprintf(w, "final: %s\n", res.Final)
	}
	return nil
}

// formatEvent renders one trace event on a single line.
func formatEvent(e trace.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%3d %-6s", e.Seq, e.Kind)
	if e.Step != "" {
		fmt.Fprintf(&b, " %s", e.Step)
	}
	if e.Tool != "" {
		fmt.Fprintf(&b, " tool=%s", e.Tool)
	}
	if e.Target != "" {
		fmt.Fprintf(&b, " -> %s", e.Target)
	}
	switch {
	case e.Blocked:
		fmt.Fprintf(&b, " BLOCKED (%s)", e.Reason)
	case e.Error:
		b.WriteString(" error")
	case e.Target == "":
	case e.Trusted:
		b.WriteString(" trusted")
	default:
		fmt.Fprintf(&b, " untrusted [%s]", strings.Join(e.Sources, ","))
	}
	if len(e.Suspicious) > 0 {
		fmt.Fprintf(&b, " suspicious=%s", strings.Join(e.Suspicious, ","))
	}
	if len(e.Redacted) > 0 {
		fmt.Fprintf(&b, " redacted=%s", strings.Join(e.Redacted, ","))
	}
	return b.String()
}
