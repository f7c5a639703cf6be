package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kmorales13/warden/internal/app"
	"github.com/kmorales13/warden/internal/execlog"
	"github.com/kmorales13/warden/internal/outcome"
	"github.com/kmorales13/warden/internal/testreport"
)

var (
	configPath string
	taskID     string
	traceFile  string
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "warden - supervision layer for autonomous coding agents",
	Long:  `warden keeps coding agents from running away, exceeding provider rate limits, or self-reporting false success.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	classifyCmd.Flags().StringVar(&traceFile, "trace", "", "path to a raw execution trace file")
	classifyCmd.Flags().StringVar(&taskID, "task", "", "task ID to load archived entries for")
	historyCmd.Flags().StringVar(&taskID, "task", "", "task ID to show archived entries for")
	_ = historyCmd.MarkFlagRequired("task")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(parseTestsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(completionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("warden v0.1.0")
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a task execution into a structured verdict",
	Long: `Classify reads archived execution log entries for a task (or a raw trace
file as fallback) and prints the structured outcome as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		var entries []execlog.Entry
		if taskID != "" {
			entries, err = a.DB.GetEntries(taskID)
			if err != nil {
				a.Logger.Warn("could not load archived entries, falling back to trace",
					zap.String("task_id", taskID), zap.Error(err))
			}
		}

		var rawTrace string
		if traceFile != "" {
			data, err := os.ReadFile(traceFile)
			if err != nil {
				return fmt.Errorf("failed to read trace file: %w", err)
			}
			rawTrace = string(data)
		}

		if len(entries) == 0 && rawTrace == "" {
			return fmt.Errorf("nothing to classify: provide --task with archived entries or --trace")
		}

		verdict := outcome.Classify(entries, rawTrace)
		if taskID != "" {
			if err := a.DB.SaveOutcome(taskID, verdict); err != nil {
				a.Logger.Warn("failed to archive outcome", zap.Error(err))
			}
		}
		return printJSON(verdict)
	},
}

var parseTestsCmd = &cobra.Command{
	Use:   "parse-tests",
	Short: "Parse test runner output from stdin into structured counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		result := testreport.Parse(string(data))
		fmt.Fprintln(os.Stderr, result.Summary())
		return printJSON(result)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived execution log entries for a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.DB.GetEntries(taskID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("no archived entries for task %s", taskID)
		}
		return printJSON(entries)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured rate-limit tiers and current window usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(configPath)
		if err != nil {
			return err
		}
		defer a.Close()
		return printJSON(a.Limiter.Status())
	},
}

var completionCmd = &cobra.Command{
	Use:       "completion [bash|zsh|fish|powershell]",
	Short:     "Generate the autocompletion script for the specified shell",
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		default:
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
