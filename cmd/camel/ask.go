package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/camel/pkg/core"
	"github.com/jllopis/camel/pkg/interpreter"
	"github.com/jllopis/camel/pkg/llm"
	"github.com/jllopis/camel/pkg/mcp"
	"github.com/jllopis/camel/pkg/qllm"
	"github.com/jllopis/camel/pkg/runtime"
	"github.com/jllopis/camel/pkg/tools"
	"github.com/jllopis/camel/providers/anthropic"
	"github.com/jllopis/camel/providers/gemini"
	"github.com/jllopis/camel/providers/openai"
)

var (
	askTools   string
	askNoReply bool
	askShow    bool
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Plan and run a request with the configured model",
	Long:  "Asks the planner model for a plan, runs it with the configured tools and MCP servers, repairs failed plans and prints the reply.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askTools, "tools", "", "YAML file with canned tool results")
	askCmd.Flags().BoolVar(&askNoReply, "no-model-reply", false, "build the reply from the outcome instead of asking the model")
	askCmd.Flags().BoolVar(&askShow, "show-plans", false, "print every plan attempt and its trace")
	rootCmd.AddCommand(askCmd)
}

type askOutput struct {
	RunID    string      `json:"runId"`
	Reply    string      `json:"reply"`
	Fallback bool        `json:"fallbackReply,omitempty"`
	Attempts []runOutput `json:"attempts"`
}

// newProvider builds the configured model backend. Hosted providers read
// their API key from the environment.
func newProvider(ctx context.Context) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "ollama", "":
		return llm.NewOllama(cfg.LLM.BaseURL), nil
	case "openai":
		var opts []openai.Option
		if cfg.LLM.BaseURL != "" && cfg.LLM.BaseURL != llm.DefaultOllamaURL {
			opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
		}
		return openai.New(opts...), nil
	case "anthropic":
		var opts []anthropic.Option
		if cfg.LLM.BaseURL != "" && cfg.LLM.BaseURL != llm.DefaultOllamaURL {
			opts = append(opts, anthropic.WithBaseURL(cfg.LLM.BaseURL))
		}
		return anthropic.New(opts...), nil
	case "gemini":
		p, err := gemini.New(ctx, "")
		if err != nil {
			return nil, NewConfigError(err, configPath)
		}
		return p, nil
	}
	return nil, NewInvalidArgumentError("llm.provider", fmt.Sprintf("unsupported provider %q", cfg.LLM.Provider))
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	provider, err := newProvider(ctx)
	if err != nil {
		return err
	}

	static, err := loadTools(askTools)
	if err != nil {
		return err
	}
	executor := tools.Multi{static}
	if servers := mcpServers(); len(servers) > 0 {
		conn, err := mcp.Connect(ctx, servers)
		if err != nil {
			return WrapConnectionError(err, "mcp")
		}
		defer func() {
			if err := conn.Close(); err != nil {
				logger.Warn("closing mcp servers", slog.String("error", err.Error()))
			}
		}()
		executor = append(executor, conn)
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

	metrics := newMetrics()
	extractor := qllm.NewLLMExtractor(provider, cfg.LLM.QuarantinedModel(), qllm.WithLogger(logger))
	iopts := append(interpreterOptions(engine, store, nil), interpreter.WithExtractor(extractor))
	rt := runtime.New(provider, cfg.LLM.Model,
		runtime.WithTools(executor),
		runtime.WithToolFilter(engine.Available),
		runtime.WithInterpreterOptions(iopts...),
		runtime.WithMaxRepairs(cfg.Runtime.MaxRepairAttempts),
		runtime.WithIssueWindow(cfg.Runtime.IssueWindow),
		runtime.WithModelReply(!askNoReply),
		runtime.WithProviderName(cfg.LLM.Provider),
		runtime.WithMetrics(metrics),
		runtime.WithLogger(logger),
	)

	if cfg.Runtime.Principal != "" {
		ctx = core.WithPrincipal(ctx, cfg.Runtime.Principal)
	}
	resp, err := rt.Run(ctx, strings.Join(args, " "))
	if err != nil {
		if resp != nil && len(resp.Attempts) == 0 {
			return WrapConnectionError(err, cfg.LLM.BaseURL)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		o := askOutput{RunID: resp.RunID, Reply: resp.Reply, Fallback: resp.FallbackReply}
		for _, a := range resp.Attempts {
			o.Attempts = append(o.Attempts, runOutput{
				RunID:   a.Result.RunID,
				State:   a.Result.State,
				Final:   a.Result.Final,
				Printed: a.Result.Printed,
				Issues:  a.Result.Issues,
				Trace:   a.Result.Trace,
			})
		}
		return printJSON(out, o)
	}
	if askShow {
		for i, a := range resp.Attempts {
			fmt.Fprintf(out, "--- attempt %d\n%s\n", i+1, strings.TrimSpace(a.Plan))
			if err := printResult(out, a.Result); err != nil {
				return err
			}
		}
		fmt.Fprintln(out, "---")
	}
	fmt.Fprintln(out, resp.Reply)
	return nil
}
