package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jllopis/camel/pkg/config"
	"github.com/jllopis/camel/pkg/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath  string
	profile     string
	setFlags    []string
	jsonOutput  bool
	cfg         *config.Config
	logger      *slog.Logger
	logFile     *os.File
	telShutdown telemetry.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:           "camel",
	Short:         "Run agent plans with capability tracking and policy checks",
	Long:          "Compiles planner code into plans and runs them so that untrusted tool output can never steer a consequential tool call.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setup()
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		return teardown(cmd.Context())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to config file")
	pf.StringVar(&profile, "profile", "", "config profile merged over the base file")
	pf.StringArrayVar(&setFlags, "set", nil, "override a config key (key=value, repeatable)")
	pf.BoolVar(&jsonOutput, "json", false, "print results and errors as JSON")
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(err, jsonOutput)
		os.Exit(1)
	}
}

func cliArgs() []string {
	var args []string
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if profile != "" {
		args = append(args, "--profile", profile)
	}
	for _, s := range setFlags {
		args = append(args, "--set", s)
	}
	return args
}

func setup() error {
	c, err := config.LoadWithCLI(cliArgs())
	if err != nil {
		return NewConfigError(err, configPath)
	}
	cfg = c

	outputs := []io.Writer{os.Stderr}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return NewConfigError(fmt.Errorf("open log file: %w", err), configPath)
		}
		logFile = f
		outputs = append(outputs, f)
	}
	logger = telemetry.ConfigureSlogFanout(cfg.Log.Level, cfg.Log.Format, outputs...)

	telShutdown, err = telemetry.InitWithConfig(cfg.Telemetry.ServiceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		OTLPHeaders:  cfg.Telemetry.OTLPHeaders,
	})
	if err != nil {
		return NewConfigError(fmt.Errorf("telemetry: %w", err), configPath)
	}
	return nil
}

func teardown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if telShutdown != nil {
		if err := telShutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
