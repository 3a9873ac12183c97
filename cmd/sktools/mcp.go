package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rhuss/sktools/pkg/tools/mcp"
)

var mcpHistory bool

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().BoolVar(&mcpHistory, "history", false, "Record executions in the configured store")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP tool server on stdio",
	Long:  "Runs sktools as an MCP (Model Context Protocol) server over stdio.\nExposes execute_python_code and analyze_python_code, filtered by mcp.tools.",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, logger, mcpHistory)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	srv, err := mcp.New(a.registry, mcp.Config{Version: version, Tools: cfg.MCP.Tools, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "sktools MCP server running on stdio (sandbox: %s)\n", a.engine.Sandbox().State())
	return srv.RunStdio(ctx)
}
