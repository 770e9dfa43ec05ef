package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/camel/pkg/compiler"
	"github.com/jllopis/camel/pkg/plan"
	"github.com/jllopis/camel/pkg/tools"
)

var compileTools string

var compileCmd = &cobra.Command{
	Use:   "compile <plan>",
	Short: "Compile a plan and print its canonical JSON",
	Long:  "Reads planner output (a fenced code block, plan code, JSON or YAML) from a file or - for stdin and prints the compiled plan.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

func init() {
	compileCmd.Flags().StringVar(&compileTools, "tools", "", "tools file; calls to other tools are rejected")
	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	ex, err := loadTools(compileTools)
	if err != nil {
		return err
	}
	c, err := newCompiler(cmd.Context(), ex, compileTools != "")
	if err != nil {
		return err
	}
	p, err := loadPlan(c, args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	data, err := plan.MarshalIndent(p)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// newCompiler returns a compiler. When restrict is set only the tools ex
// describes may be called.
func newCompiler(ctx context.Context, ex tools.Executor, restrict bool) (*compiler.Compiler, error) {
	opts := []compiler.Option{compiler.WithLogger(logger)}
	if d, ok := ex.(tools.Describer); ok && restrict {
		specs, err := d.Specs(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(specs))
		for _, sp := range specs {
			names = append(names, sp.Name)
		}
		opts = append(opts, compiler.WithKnownTools(names...))
	}
	return compiler.New(opts...), nil
}

// loadPlan compiles path, or stdin when path is "-".
func loadPlan(c *compiler.Compiler, path string, stdin io.Reader) (*plan.Plan, error) {
	if path != "-" {
		if _, err := os.Stat(path); err != nil {
			return nil, NewNotFoundError("plan file", path, err)
		}
		return c.LoadFile(path)
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, err
	}
	text := string(data)
	if strings.Contains(text, "```") || strings.HasPrefix(strings.TrimSpace(text), "{") {
		return c.Compile(text)
	}
	return c.CompileCode(text)
}
