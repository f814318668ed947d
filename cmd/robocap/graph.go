package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/robocap/robocap/pkg/graph"
	"github.com/robocap/robocap/pkg/log"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Manage the dataflow graph",
}

var graphRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dataflow graph coordinator",
	Long: `Host every node of the topology as an independent event loop and
expose the IPC bridge. Spawned by 'robocap record'; runs standalone
for debugging.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		specPath, _ := cmd.Flags().GetString("spec")
		if specPath == "" {
			return fmt.Errorf("--spec is required")
		}

		spec, err := graph.Load(specPath)
		if err != nil {
			return err
		}

		coord, err := graph.NewCoordinator(spec)
		if err != nil {
			return err
		}
		if err := coord.Start(); err != nil {
			return fmt.Errorf("start graph: %w", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		logger := log.WithComponent("graph")
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("stopping graph")
		case err := <-coord.Errors():
			logger.Error().Err(err).Msg("node failed")
			coord.Stop()
			return err
		}

		coord.Stop()
		return nil
	},
}

func init() {
	graphRunCmd.Flags().String("spec", "", "Graph topology file (YAML)")
	graphCmd.AddCommand(graphRunCmd)
}
