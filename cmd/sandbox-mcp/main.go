// Command sandbox-mcp serves sandbox tools (code execution, files, shell
// commands) to an MCP client over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sandbox-mcp",
	Short: "MCP server exposing isolated code sandboxes",
	Long: `sandbox-mcp speaks the Model Context Protocol on stdin/stdout and runs
code, file and shell operations inside remote sandboxes, one sandbox per
session.`,
	RunE:          runServe, // Default to serve.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
