package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/robocap/robocap/pkg/config"
	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/offload"
	"github.com/robocap/robocap/pkg/supervisor"
)

var offloadCmd = &cobra.Command{
	Use:   "offload",
	Short: "Run or resume the offload phase for an existing dataset",
	Long: `Upload the recorded dataset, drive the training transaction, and
download the trained model, per the CLOUD mode.

Resume points for an interrupted session:
  --skip-upload    the remote already has the data; start at the
                   training trigger
  --download-only  training already completed; start at the SFTP
                   model download`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		skipUpload, _ := cmd.Flags().GetBool("skip-upload")
		downloadOnly, _ := cmd.Flags().GetBool("download-only")
		noTar, _ := cmd.Flags().GetBool("no-tar")

		logger := log.WithComponent("offload-cli")

		cfg, err := config.Load(configPath)
		if err != nil {
			logger.Error().Err(err).Msg("configuration invalid")
			os.Exit(supervisor.ExitConfig)
		}
		if err := cfg.Validate(); err != nil {
			logger.Error().Err(err).Msg("configuration invalid")
			os.Exit(supervisor.ExitConfig)
		}
		if !cfg.OffloadMode.Uploads() {
			logger.Info().Str("mode", cfg.OffloadMode.String()).Msg("local mode, nothing to offload")
			return nil
		}

		store, err := offload.OpenTransactionStore(cfg.DatasetRoot)
		if err != nil {
			logger.Error().Err(err).Msg("offload store failed")
			os.Exit(supervisor.ExitConfig)
		}
		defer store.Close()

		opts := offload.DefaultOptions()
		opts.SkipUpload = skipUpload
		opts.DownloadOnly = downloadOnly
		opts.UseTar = !noTar

		sup := supervisor.New(cfg)
		ctx, stop := sup.NotifyEscalatingCancel(context.Background())
		defer stop()

		orch := offload.New(cfg, cfg.OffloadMode, opts, store)
		root := filepath.Join(cfg.DatasetRoot, cfg.RepoID)
		if err := orch.Run(ctx, root, cfg.ModelDir); err != nil {
			logger.Error().Err(err).Str("dataset", root).Msg("offload failed, dataset intact")
			os.Exit(supervisor.ExitOffload)
		}
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the edge/cloud connection with the quick deadline",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		logger := log.WithComponent("probe")

		cfg, err := config.Load(configPath)
		if err != nil {
			logger.Error().Err(err).Msg("configuration invalid")
			os.Exit(supervisor.ExitConfig)
		}

		store, err := offload.OpenTransactionStore(cfg.DatasetRoot)
		if err != nil {
			logger.Error().Err(err).Msg("offload store failed")
			os.Exit(supervisor.ExitConfig)
		}
		defer store.Close()

		orch := offload.New(cfg, cfg.OffloadMode, offload.DefaultOptions(), store)
		if err := orch.Probe(); err != nil {
			logger.Error().Err(err).
				Str("host", cfg.EdgeHost).
				Int("port", cfg.EdgePort).
				Msg("probe failed; check EDGE_SERVER_HOST, EDGE_SERVER_USER, EDGE_SERVER_PORT")
			os.Exit(supervisor.ExitOffload)
		}
		logger.Info().Msg("connection ok")
		return nil
	},
}

func init() {
	offloadCmd.Flags().Bool("skip-upload", false, "Assume the remote already has the data")
	offloadCmd.Flags().Bool("download-only", false, "Only download the trained model")
	offloadCmd.Flags().Bool("no-tar", false, "Upload per-file instead of a tar archive")
}
