package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jllopis/camel/pkg/errors"
	"github.com/jllopis/camel/pkg/trace"
)

var traceFilter struct {
	run     string
	tool    string
	kind    string
	blocked bool
	limit   int
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Query recorded trace events",
}

var traceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events from the trace store",
	Args:  cobra.NoArgs,
	RunE:  runTraceList,
}

func init() {
	f := traceListCmd.Flags()
	f.StringVar(&traceFilter.run, "run", "", "only events of this run id")
	f.StringVar(&traceFilter.tool, "tool", "", "only events of this tool")
	f.StringVar(&traceFilter.kind, "kind", "", "only events of this kind (tool, qllm, assign, final)")
	f.BoolVar(&traceFilter.blocked, "blocked", false, "only calls refused by policy")
	f.IntVar(&traceFilter.limit, "limit", 100, "maximum number of events")

	traceCmd.AddCommand(traceListCmd)
	rootCmd.AddCommand(traceCmd)
}

func runTraceList(cmd *cobra.Command, _ []string) error {
	if cfg.Trace.Store != "sqlite" {
		ce := errors.Newf(errors.CodeInvalidInput, "trace store %q does not persist across runs", cfg.Trace.Store)
		return NewCLIError(ce, "set trace.store=sqlite and trace.dsn to keep traces")
	}
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	events, err := store.List(cmd.Context(), trace.Filter{
		RunID:       traceFilter.run,
		Kind:        trace.Kind(traceFilter.kind),
		Tool:        traceFilter.tool,
		BlockedOnly: traceFilter.blocked,
		Limit:       traceFilter.limit,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, events)
	}
	for _, e := range events {
		fmt.Fprintf(out, "%-24s %s\n", e.RunID, formatEvent(e))
	}
	return nil
}
