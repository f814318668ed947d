package offload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/robocap/robocap/pkg/config"
	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/metrics"
	"github.com/robocap/robocap/pkg/types"
)

var (
	// ErrProbeFailed is returned when the startup connection probe
	// misses its deadline. Non-fatal in local modes.
	ErrProbeFailed = errors.New("connection probe failed")

	// ErrUploadFailed is returned when both tar and per-file upload
	// paths failed.
	ErrUploadFailed = errors.New("upload failed")

	// ErrTrainingTimeout is returned when the polling session deadline
	// elapsed without a terminal status.
	ErrTrainingTimeout = errors.New("training timeout")

	// ErrDownloadFailed is returned when the model retrieval failed;
	// the training artifact remains on the cloud.
	ErrDownloadFailed = errors.New("model download failed")
)

// State is the offload session state.
type State string

const (
	StateIdle              State = "idle"
	StateProbing           State = "probing"
	StateUploading         State = "uploading"
	StateNotifying         State = "notifying"
	StatePolling           State = "polling_status"
	StateTrainingTriggered State = "training_triggered"
	StateDownloading       State = "downloading"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Options selects the session's resume point and transfer mode.
type Options struct {
	// SkipUpload assumes the remote already has the data and starts at
	// the training trigger.
	SkipUpload bool
	// DownloadOnly assumes training completed: it skips the upload and
	// the initial training trigger. The status is still polled until
	// COMPLETED, whose SSH credentials drive the SFTP model download.
	DownloadOnly bool
	// UseTar transfers the dataset as one uncompressed archive.
	UseTar bool
	// SessionTimeout bounds the whole polling session.
	SessionTimeout time.Duration
	// PollInterval is the status poll cadence.
	PollInterval time.Duration
}

// DefaultOptions returns the production offload options.
func DefaultOptions() Options {
	return Options{
		UseTar:         true,
		SessionTimeout: 120 * time.Minute,
		PollInterval:   10 * time.Second,
	}
}

// Orchestrator runs the post-episode hand-off for one session mode.
type Orchestrator struct {
	cfg    *config.Config
	mode   types.OffloadMode
	opts   Options
	api    TrainingAPI
	store  *TransactionStore
	logger zerolog.Logger

	// edge is the LAN/cloud upload transport; dialCloud opens a direct
	// transport to the training instance for the model download.
	edge      Transport
	dialCloud func(SSHEndpoint) Transport

	state             State
	trainingTriggered bool
}

// New creates an orchestrator wired to production transports.
func New(cfg *config.Config, mode types.OffloadMode, opts Options, store *TransactionStore) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		mode:   mode,
		opts:   opts,
		api:    NewHTTPTrainingAPI(cfg.APIBaseURL),
		store:  store,
		logger: log.WithComponent("offload"),
		edge: NewSSHTransport(SSHEndpoint{
			Host:     cfg.EdgeHost,
			Port:     cfg.EdgePort,
			User:     cfg.EdgeUser,
			Password: cfg.EdgePassword,
		}),
		state: StateIdle,
	}
	o.dialCloud = func(ep SSHEndpoint) Transport { return NewSSHTransport(ep) }
	return o
}

// State returns the current session state.
func (o *Orchestrator) State() State { return o.state }

// remoteRepoDir is {remote_root}/{api_username}/{repo_id}: user-scoped
// so many users share one server without repo-id collisions.
func (o *Orchestrator) remoteRepoDir() string {
	return path.Join(o.cfg.EdgePath, o.cfg.APIUsername, o.cfg.RepoID)
}

func (o *Orchestrator) remoteUserDir() string {
	return path.Join(o.cfg.EdgePath, o.cfg.APIUsername)
}

// Probe runs the quick startup connection check for upload modes.
func (o *Orchestrator) Probe() error {
	if !o.mode.Uploads() {
		return nil
	}
	o.state = StateProbing
	if err := o.edge.TestConnection(true); err != nil {
		o.state = StateIdle
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	o.state = StateIdle
	o.logger.Info().Str("mode", o.mode.String()).Msg("connection probe ok")
	return nil
}

// Run executes the hand-off: upload, notify, poll, and model
// retrieval, per the session mode. Local modes return immediately.
func (o *Orchestrator) Run(ctx context.Context, datasetRoot, modelDir string) error {
	if !o.mode.Uploads() {
		o.logger.Info().Str("mode", o.mode.String()).Str("dataset", datasetRoot).Msg("local mode, nothing to offload")
		o.state = StateDone
		return nil
	}
	defer o.edge.Close()

	err := o.run(ctx, datasetRoot, modelDir)
	outcome := "ok"
	if err != nil {
		o.state = StateFailed
		outcome = "failed"
		o.logger.Error().Err(err).Str("dataset", datasetRoot).Msg("offload failed, local data preserved")
	}
	metrics.OffloadSessions.WithLabelValues(o.mode.String(), outcome).Inc()
	return err
}

func (o *Orchestrator) run(ctx context.Context, datasetRoot, modelDir string) error {
	if !o.opts.DownloadOnly {
		if !o.opts.SkipUpload {
			if err := o.upload(ctx, datasetRoot); err != nil {
				return err
			}
		}

		if err := o.triggerInitialTraining(ctx); err != nil {
			return err
		}
	}

	status, err := o.pollUntilComplete(ctx)
	if err != nil {
		return err
	}
	return o.download(status, modelDir)
}

func (o *Orchestrator) upload(ctx context.Context, datasetRoot string) error {
	o.state = StateProbing
	if err := o.edge.TestConnection(true); err != nil {
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	o.state = StateUploading
	usedTar := false
	tarRemote := ""

	if o.opts.UseTar {
		remote, err := o.uploadTar(datasetRoot)
		if err != nil {
			o.logger.Warn().Err(err).Msg("tar upload failed, falling back to per-file transfer")
		} else {
			usedTar = true
			tarRemote = remote
		}
	}

	if !usedTar {
		if err := o.uploadPerFile(datasetRoot); err != nil {
			return fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
	}

	o.state = StateNotifying
	req := NotifyRequest{
		RepoID:      o.cfg.RepoID,
		APIUsername: o.cfg.APIUsername,
		APIPassword: o.cfg.APIPassword,
		Tar:         usedTar,
		TarPath:     tarRemote,
	}
	if err := o.api.NotifyUploadComplete(ctx, req); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	o.logger.Info().Bool("tar", usedTar).Msg("upload complete, server notified")
	return nil
}

// tarSkip excludes raw frames when the payload is encoded videos plus
// columnar data (mode 3); raw modes ship everything.
func (o *Orchestrator) tarSkip() func(string) bool {
	if o.mode != types.OffloadCloudEncoded {
		return nil
	}
	return func(rel string) bool {
		return rel == "images" || strings.HasPrefix(rel, "images/")
	}
}

func (o *Orchestrator) uploadTar(datasetRoot string) (string, error) {
	// Build in the system temp dir so the archive never lands inside
	// the dataset it archives.
	localTar := filepath.Join(os.TempDir(), o.cfg.RepoID+".tar")
	defer os.Remove(localTar)

	size, err := BuildTar(datasetRoot, localTar, o.tarSkip())
	if err != nil {
		return "", err
	}
	o.logger.Info().Int64("bytes", size).Msg("tar archive built")

	if err := o.edge.MkdirAll(o.remoteUserDir()); err != nil {
		return "", err
	}
	remoteTar := path.Join(o.remoteUserDir(), o.cfg.RepoID+".tar")
	start := time.Now()
	if err := o.edge.UploadFile(localTar, remoteTar); err != nil {
		return "", err
	}
	o.logger.Info().
		Int64("bytes", size).
		Dur("took", time.Since(start)).
		Msg("tar uploaded")
	return remoteTar, nil
}

func (o *Orchestrator) uploadPerFile(datasetRoot string) error {
	repoDir := o.remoteRepoDir()
	if err := o.edge.MkdirAll(repoDir); err != nil {
		return err
	}
	// Stale files from an earlier run must not survive under the repo
	// path; clear before mirroring.
	if err := o.edge.ClearDir(repoDir); err != nil {
		o.logger.Warn().Err(err).Msg("remote clear failed, continuing with upload")
	}
	skip := o.tarSkip()
	if skip != nil {
		return o.uploadFiltered(datasetRoot, repoDir, skip)
	}
	return o.edge.UploadDir(datasetRoot, repoDir)
}

func (o *Orchestrator) uploadFiltered(localDir, remoteDir string, skip func(string) bool) error {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if skip(entry.Name()) {
			continue
		}
		local := filepath.Join(localDir, entry.Name())
		remote := path.Join(remoteDir, entry.Name())
		if entry.IsDir() {
			if err := o.edge.UploadDir(local, remote); err != nil {
				return err
			}
			continue
		}
		if err := o.edge.UploadFile(local, remote); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) triggerInitialTraining(ctx context.Context) error {
	txID, err := o.api.TriggerTraining(ctx, o.cfg.RepoID)
	if err != nil {
		// The service may still be extracting or encoding; polling
		// re-triggers once READY is observed.
		o.logger.Warn().Err(err).Msg("initial training trigger failed, will retry on READY")
		return nil
	}
	o.trainingTriggered = true
	o.state = StateTrainingTriggered
	o.recordTransaction(txID, types.StatusUploading, nil)
	o.logger.Info().Str("transaction_id", txID).Msg("training triggered")
	return nil
}

func (o *Orchestrator) pollUntilComplete(ctx context.Context) (StatusResponse, error) {
	o.state = StatePolling
	deadline := time.Now().Add(o.opts.SessionTimeout)

	for {
		select {
		case <-ctx.Done():
			return StatusResponse{}, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return StatusResponse{}, fmt.Errorf("%w: no terminal status after %s", ErrTrainingTimeout, o.opts.SessionTimeout)
		}

		status, err := o.api.GetStatus(ctx, o.cfg.RepoID)
		if err != nil {
			o.logger.Warn().Err(err).Msg("status poll failed")
			o.sleep(ctx)
			continue
		}
		o.recordTransaction(status.TransactionID, status.Status, nil)
		o.logger.Info().
			Str("status", string(status.Status)).
			Float64("progress_pct", status.ProgressPct).
			Str("transaction_id", status.TransactionID).
			Msg("training status")

		switch status.Status {
		case types.StatusCompleted:
			return status, nil

		case types.StatusFailed:
			return StatusResponse{}, fmt.Errorf("training failed (transaction %s)", status.TransactionID)

		case types.StatusReady:
			// Encoding finished without a train call in this polling
			// session: trigger exactly once. Repeat READY observations
			// after a successful trigger do not re-trigger.
			if !o.trainingTriggered {
				txID, err := o.api.TriggerTraining(ctx, o.cfg.RepoID)
				if err != nil {
					o.logger.Warn().Err(err).Msg("training trigger on READY failed, will retry")
				} else {
					o.trainingTriggered = true
					o.state = StateTrainingTriggered
					o.logger.Info().Str("transaction_id", txID).Msg("training triggered on READY")
				}
			}

		default:
			// The service's status flag is known to lag; the cloud
			// filesystem is the ground truth once training plausibly
			// finished.
			if done, completed := o.checkModelDirFallback(status); done {
				return completed, nil
			}
		}

		o.sleep(ctx)
	}
}

func (o *Orchestrator) checkModelDirFallback(status StatusResponse) (bool, StatusResponse) {
	if !o.trainingTriggered || status.SSHHost == "" || status.ModelPath == "" {
		return false, StatusResponse{}
	}
	ep, err := o.cloudEndpoint(status)
	if err != nil {
		return false, StatusResponse{}
	}
	cloud := o.dialCloud(ep)
	defer cloud.Close()

	exists, err := cloud.DirExists(status.ModelPath)
	if err != nil || !exists {
		return false, StatusResponse{}
	}
	o.logger.Info().Str("model_path", status.ModelPath).Msg("model directory exists on cloud, treating training as completed")
	status.Status = types.StatusCompleted
	return true, status
}

func (o *Orchestrator) download(status StatusResponse, modelDir string) error {
	if status.ModelPath == "" || status.SSHHost == "" {
		return fmt.Errorf("%w: completed status carries no ssh/model info", ErrDownloadFailed)
	}
	o.state = StateDownloading

	ep, err := o.cloudEndpoint(status)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	// Download directly from the cloud instance, not via the edge: the
	// model lives on the training host.
	cloud := o.dialCloud(ep)
	defer cloud.Close()

	files, err := cloud.DownloadDir(status.ModelPath, modelDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if files == 0 {
		return fmt.Errorf("%w: model directory %s is empty", ErrDownloadFailed, status.ModelPath)
	}

	o.recordTransaction(status.TransactionID, types.StatusCompleted, &types.SSHInfo{
		Host: ep.Host, User: ep.User, Port: ep.Port, ModelPath: status.ModelPath,
	})
	o.state = StateDone
	o.logger.Info().Int("files", files).Str("model_dir", modelDir).Msg("model download complete")
	return nil
}

func (o *Orchestrator) cloudEndpoint(status StatusResponse) (SSHEndpoint, error) {
	password, err := base64.StdEncoding.DecodeString(status.SSHPasswordB64)
	if err != nil {
		return SSHEndpoint{}, fmt.Errorf("decode ssh password: %w", err)
	}
	port := status.SSHPort
	if port == 0 {
		port = 22
	}
	return SSHEndpoint{
		Host:     status.SSHHost,
		Port:     port,
		User:     status.SSHUsername,
		Password: string(password),
	}, nil
}

func (o *Orchestrator) recordTransaction(txID string, status types.TransactionStatus, ssh *types.SSHInfo) {
	if o.store == nil {
		return
	}
	err := o.store.Put(&types.OffloadTransaction{
		RepoID:        o.cfg.RepoID,
		TransactionID: txID,
		Status:        status,
		LastUpdated:   time.Now(),
		SSH:           ssh,
	})
	if err != nil {
		o.logger.Warn().Err(err).Msg("transaction store update failed")
	}
}

func (o *Orchestrator) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(o.opts.PollInterval):
	}
}
