package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rhuss/sktools/pkg/pyexec"
	"github.com/rhuss/sktools/pkg/pyexec/safety"
	"github.com/rhuss/sktools/pkg/tools/builtins/pythonexec"
)

var (
	runAll  bool
	runJSON bool
)

func init() {
	rootCmd.AddCommand(runCmd, analyzeCmd)
	runCmd.Flags().BoolVar(&runAll, "all", false, "Run every fenced block in order")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full report as JSON")
	analyzeCmd.Flags().BoolVar(&runJSON, "json", false, "Print findings and verdict as JSON")
}

var runCmd = &cobra.Command{
	Use:   "run <file|->",
	Short: "Execute a script once and print the report",
	Long:  "Reads Python source (or markdown with fenced blocks) from a file or stdin, runs it\nthrough the safety check, dependency resolution and sandbox, and prints the report.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file|->",
	Short: "Lint a script and show whether it would run",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func readSource(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	src, err := readSource(args[0])
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	var reports []*pyexec.Report
	if blocks := pyexec.ExtractAll(src); runAll && len(blocks) > 1 {
		reports = a.engine.ExecuteAll(ctx, blocks)
	} else {
		reports = []*pyexec.Report{a.engine.Execute(ctx, src)}
	}

	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if len(reports) == 1 {
			return enc.Encode(reports[0])
		}
		return enc.Encode(reports)
	}
	if len(reports) == 1 {
		fmt.Fprintln(out, reports[0].Text)
	} else {
		fmt.Fprintln(out, pythonexec.FormatBatch(reports))
	}
	for _, r := range reports {
		if !r.Success {
			return fmt.Errorf("execution did not succeed")
		}
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	src, err := readSource(args[0])
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	policy, err := buildPolicy(cfg.Executor)
	if err != nil {
		return err
	}

	src = pyexec.Extract(src)
	findings := safety.Lint(src)
	verdict := safety.NewAnalyzer(policy, nil).Analyze(src)

	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(pythonexec.Analysis{Verdict: verdict, Findings: findings, Text: safety.FormatFindings(findings)})
	}
	fmt.Fprintln(out, safety.FormatFindings(findings))
	if !verdict.Allowed {
		fmt.Fprintf(out, "⛔ Execution would be blocked: %s\n", verdict.Reason)
		return fmt.Errorf("code would be blocked")
	}
	fmt.Fprintln(out, "✅ No restricted operations found.")
	return nil
}
