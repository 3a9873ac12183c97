// Command sktools runs the sandboxed Python execution toolkit.
//
//	sktools serve            HTTP API, MCP over HTTP, metrics and probes
//	sktools mcp              MCP server over stdio
//	sktools run <file|->     execute one script and print the report
//	sktools analyze <file|-> lint a script and show the safety verdict
//	sktools version          print version information
//
// Configuration comes from a YAML file (--config, SKTOOLS_CONFIG,
// ./config.yaml or /etc/sktools/config.yaml) overridden by SKTOOLS_*
// environment variables.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
