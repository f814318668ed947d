package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
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
	Use:   "robocap",
	Short: "Robocap - teleoperation episode capture for bimanual robot cells",
	Long: `Robocap records synchronized multi-sensor teleoperation episodes
from a bimanual robot cell (leader arm + follower arm + cameras),
persists them as a columnar dataset with encoded video, and hands the
data off to cloud training.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		levelName, _ := cmd.Flags().GetString("log-level")
		level := log.ParseLevel(levelName)
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = log.DebugLevel
		}
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: level, JSONOutput: jsonOut})
		metrics.Register()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Robocap version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "JSON log output for headless runs")
	rootCmd.PersistentFlags().String("config", "", "Device config file (key=value)")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(offloadCmd)
	rootCmd.AddCommand(probeCmd)
}
