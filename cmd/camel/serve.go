package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jllopis/camel/pkg/mcp"
	"github.com/jllopis/camel/pkg/tools"
)

var serveTools string

var serveToolsCmd = &cobra.Command{
	Use:   "serve-tools",
	Short: "Serve a static tools file over MCP stdio",
	Long:  "Publishes the tools of a YAML tools file as an MCP server on stdin/stdout, useful for exercising MCP clients against canned results.",
	Args:  cobra.NoArgs,
	RunE:  runServeTools,
}

func init() {
	serveToolsCmd.Flags().StringVar(&serveTools, "tools", "", "YAML file with canned tool results")
	_ = serveToolsCmd.MarkFlagRequired("tools")
	rootCmd.AddCommand(serveToolsCmd)
}

func runServeTools(cmd *cobra.Command, _ []string) error {
	static, err := tools.LoadStatic(serveTools)
	if err != nil {
		return NewNotFoundError("tools file", serveTools, err)
	}
	reg, err := registryFrom(cmd, static)
	if err != nil {
		return err
	}
	srv, err := mcp.NewServer("camel-tools", version, reg)
	if err != nil {
		return err
	}
	logger.Info("serving tools over stdio", "tools", reg.Names())
	return srv.ServeStdio()
}

// registryFrom registers every tool of s, forwarding calls to it.
func registryFrom(cmd *cobra.Command, s *tools.Static) (*tools.Registry, error) {
	specs, err := s.Specs(cmd.Context())
	if err != nil {
		return nil, err
	}
	reg := tools.NewRegistry()
	for _, spec := range specs {
		name := spec.Name
		err := reg.Register(spec, func(ctx context.Context, args map[string]any) (tools.Result, error) {
			return s.Execute(ctx, name, args)
		})
		if err != nil {
			return nil, err
		}
	}
	return reg, nil
}
