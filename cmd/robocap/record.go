package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/robocap/robocap/pkg/config"
	"github.com/robocap/robocap/pkg/dataset"
	"github.com/robocap/robocap/pkg/encoder"
	"github.com/robocap/robocap/pkg/graph"
	"github.com/robocap/robocap/pkg/imagewriter"
	"github.com/robocap/robocap/pkg/ipc"
	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/memguard"
	"github.com/robocap/robocap/pkg/offload"
	"github.com/robocap/robocap/pkg/record"
	"github.com/robocap/robocap/pkg/saver"
	"github.com/robocap/robocap/pkg/supervisor"
	"github.com/robocap/robocap/pkg/types"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run a teleoperation recording session",
	Long: `Start the dataflow graph, record episodes at the bus tick, and run
the configured offload phase on exit.

Controls: 'n' saves the episode and starts the next, 'p' proceeds
after an environment reset, 'e' stops recording and exits through
save + offload. Ctrl+C cancels, twice forces quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		sim, _ := cmd.Flags().GetBool("sim")
		code := runRecordSession(configPath, sim)
		if code != supervisor.ExitOK {
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().Bool("sim", false, "Use simulated devices instead of hardware")
}

func runRecordSession(configPath string, sim bool) int {
	logger := log.WithComponent("session")

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("configuration invalid")
		return supervisor.ExitConfig
	}
	cfg.LogSources()
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("configuration invalid")
		return supervisor.ExitConfig
	}

	root := filepath.Join(cfg.DatasetRoot, cfg.RepoID)
	layout := dataset.NewLayout(root)

	// A session always starts from a clean dataset and model tree;
	// leftovers from a crashed run corrupt episode indexing and stale
	// models would shadow the newly trained one.
	if err := dataset.ClearSession(root, cfg.ModelDir); err != nil {
		logger.Error().Err(err).Msg("session cleanup failed")
		return supervisor.ExitConfig
	}
	if err := layout.EnsureDirs(); err != nil {
		logger.Error().Err(err).Msg("dataset layout failed")
		return supervisor.ExitConfig
	}

	mode := cfg.OffloadMode
	store, err := offload.OpenTransactionStore(cfg.DatasetRoot)
	if err != nil {
		logger.Error().Err(err).Msg("offload store failed")
		return supervisor.ExitConfig
	}
	defer store.Close()

	orch := offload.New(cfg, mode, offload.DefaultOptions(), store)
	if mode.Uploads() {
		if err := orch.Probe(); err != nil {
			// The operator would rather record locally than lose the
			// session: fall back to mode 0 with the data preserved.
			logger.Warn().Err(err).Str("mode", mode.String()).Msg("connection probe failed, falling back to local mode")
			mode = types.OffloadLocal
			orch = offload.New(cfg, mode, offload.DefaultOptions(), store)
		}
	}
	logger.Info().Str("mode", mode.String()).Str("repo_id", cfg.RepoID).Msg("offload mode selected")

	sup := supervisor.New(cfg)
	ctx, stopSignals := sup.NotifyEscalatingCancel(context.Background())
	defer stopSignals()

	spec := graph.FromConfig(cfg, sim)
	specPath := filepath.Join(cfg.DatasetRoot, "graph.yaml")
	if err := spec.Save(specPath); err != nil {
		logger.Error().Err(err).Msg("graph spec write failed")
		return supervisor.ExitConfig
	}

	launcher := graph.NewLauncher(specPath)
	sockets := ipc.SocketPaths()

	startupEnv := []string{
		"ARM_LEADER_PORT=" + cfg.ArmLeaderPort,
		"ARM_FOLLOWER_PORT=" + cfg.ArmFollowerPort,
		"CAMERA_TOP_PATH=" + cfg.CameraTopPath,
		"CAMERA_WRIST_PATH=" + cfg.CameraWristPath,
	}
	if sim {
		// Sim sessions have no device files to gate on.
		cfg.ArmLeaderPort = "sim"
		cfg.ArmFollowerPort = "sim"
	}
	if err := sup.Startup(launcher, sockets, startupEnv); err != nil {
		logger.Error().Err(err).Msg("startup failed")
		if errors.Is(err, supervisor.ErrPermissionMissing) {
			return supervisor.ExitConfig
		}
		return supervisor.ExitDevice
	}
	defer sup.Shutdown(launcher, sockets)

	client := ipc.NewClient()
	if err := client.Connect(); err != nil {
		logger.Error().Err(err).Msg("ipc connect failed")
		return supervisor.ExitDevice
	}
	defer client.Close()

	images := imagewriter.NewPool(4)
	meta := dataset.NewMeta(layout)
	cameras := spec.Cameras()
	if err := meta.WriteInfo(dataset.Info{
		RepoID:     cfg.RepoID,
		FPS:        cfg.FPS,
		RobotType:  "bimanual-cell",
		Cameras:    cameras,
		UsesVideos: !mode.SkipsEncoding(),
	}); err != nil {
		logger.Error().Err(err).Msg("metadata write failed")
		return supervisor.ExitConfig
	}

	enc := encoder.NewFFmpeg(cfg.UseNPU)
	sv := saver.New(saver.DefaultConfig(), layout, meta, images, enc)
	guard := memguard.New(cfg.MemoryLimitGB, memguard.DefaultCheckInterval)

	loop := record.NewLoop(record.Config{
		FPS:          cfg.FPS,
		Cameras:      cameras,
		Task:         cfg.SingleTask,
		SkipEncoding: mode.SkipsEncoding(),
	}, client, sv, images, guard, layout)

	restoreTerm := startKeyReader(loop, logger)
	defer restoreTerm()

	for i := 3; i > 0; i-- {
		logger.Info().Msgf("recording starts in %d...", i)
		time.Sleep(time.Second)
	}
	logger.Info().Msg("recording active: 'n' next episode, 'p' proceed after reset, 'e' save and exit")

	summary := loop.Run(ctx)
	restoreTerm()

	logger.Info().
		Str("reason", string(summary.Reason)).
		Int("episodes_queued", summary.EpisodesQueued).
		Int("frames", summary.FramesRecorded).
		Int("ticks_skipped", summary.TicksSkipped).
		Msg("collection summary")

	// Drain the pipeline: every queued save completes (or records its
	// failure) before the offload phase touches the tree.
	st := sv.GetStatus()
	if pending := st.QueueSize + st.PendingCount; pending > 0 {
		logger.Info().Int("pending", pending).Msg("waiting for episode saves")
	}
	sv.Stop(true)
	images.Close()

	final := sv.GetStatus()
	logger.Info().
		Int("queued", final.Stats.TotalQueued).
		Int("completed", final.Stats.TotalCompleted).
		Int("failed", final.Stats.TotalFailed).
		Msg("save stats")

	// Stop the graph before offload so devices are released during the
	// potentially long upload.
	sup.Shutdown(launcher, sockets)

	if err := orch.Run(ctx, root, cfg.ModelDir); err != nil {
		logger.Error().Err(err).Str("dataset", root).Msg("offload failed, dataset intact")
		return supervisor.ExitOffload
	}

	if summary.Reason == record.ExitCancelled {
		return supervisor.ExitInterrupted
	}
	return supervisor.ExitOK
}
