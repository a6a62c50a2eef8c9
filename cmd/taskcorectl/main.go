package main

import (
	"fmt"
	"os"

	"github.com/nenadatanasovski/taskcore/pkg/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskcorectl",
	Short: "taskcorectl talks to a running taskcored for manual operations",
	Long: `taskcorectl is a thin client over taskcored's HTTP surface: preview a
task list's execution plan, inspect readiness scores, preview cascade
effects, list running workers, and kick off execution by hand.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"taskcorectl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("addr", "http://localhost:8090", "taskcored HTTP address")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(readinessCmd)
	rootCmd.AddCommand(cascadeCmd)
	rootCmd.AddCommand(workersCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}
