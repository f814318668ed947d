package offload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/robocap/robocap/pkg/types"
)

// TrainingAPI is the training service surface the orchestrator
// consumes.
type TrainingAPI interface {
	NotifyUploadComplete(ctx context.Context, req NotifyRequest) error
	TriggerTraining(ctx context.Context, repoID string) (transactionID string, err error)
	GetStatus(ctx context.Context, repoID string) (StatusResponse, error)
}

// NotifyRequest is the upload-complete notification payload. Cloud
// credentials ride along so the edge server can forward to the cloud.
type NotifyRequest struct {
	RepoID      string `json:"repo_id"`
	APIUsername string `json:"api_username"`
	APIPassword string `json:"api_password"`
	Tar         bool   `json:"tar"`
	TarPath     string `json:"tar_path,omitempty"`
}

// StatusResponse is the polled training status. SSH fields accompany
// COMPLETED; when an earlier status carries them, the model-directory
// fallback uses them too.
type StatusResponse struct {
	Status         types.TransactionStatus `json:"status"`
	TransactionID  string                  `json:"transaction_id,omitempty"`
	ProgressPct    float64                 `json:"progress_pct,omitempty"`
	SSHHost        string                  `json:"ssh_host,omitempty"`
	SSHUsername    string                  `json:"ssh_username,omitempty"`
	SSHPort        int                     `json:"ssh_port,omitempty"`
	SSHPasswordB64 string                  `json:"ssh_password_b64,omitempty"`
	ModelPath      string                  `json:"model_path,omitempty"`
}

// APICallTimeout bounds every HTTP call to the training service.
const APICallTimeout = 30 * time.Second

// HTTPTrainingAPI talks to the training service over HTTP.
type HTTPTrainingAPI struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTrainingAPI creates an API client with the standard deadline.
func NewHTTPTrainingAPI(baseURL string) *HTTPTrainingAPI {
	return &HTTPTrainingAPI{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: APICallTimeout},
	}
}

func (a *HTTPTrainingAPI) NotifyUploadComplete(ctx context.Context, req NotifyRequest) error {
	var reply struct {
		Message string `json:"message"`
	}
	if err := a.post(ctx, "/notify-upload-complete", req, &reply); err != nil {
		return fmt.Errorf("notify upload complete: %w", err)
	}
	return nil
}

func (a *HTTPTrainingAPI) TriggerTraining(ctx context.Context, repoID string) (string, error) {
	var reply struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := a.post(ctx, "/train/"+repoID, struct{}{}, &reply); err != nil {
		return "", fmt.Errorf("trigger training: %w", err)
	}
	return reply.TransactionID, nil
}

func (a *HTTPTrainingAPI) GetStatus(ctx context.Context, repoID string) (StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/status/"+repoID, nil)
	if err != nil {
		return StatusResponse{}, err
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return StatusResponse{}, fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return StatusResponse{}, fmt.Errorf("get status: HTTP %d: %s", resp.StatusCode, body)
	}
	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return StatusResponse{}, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

func (a *HTTPTrainingAPI) post(ctx context.Context, path string, body, reply any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}
	if reply != nil {
		if err := json.NewDecoder(resp.Body).Decode(reply); err != nil && err != io.EOF {
			return fmt.Errorf("decode reply: %w", err)
		}
	}
	return nil
}
