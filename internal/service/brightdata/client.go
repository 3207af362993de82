package brightdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/loungehq/curator/internal/config"
)

// Job statuses reported by the vendor for a collection run.
const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusReady   = "ready"
	JobStatusFailed  = "failed"
)

// ErrSnapshotNotFound is returned when the vendor no longer knows the snapshot
// (expired or never existed). Callers treat it as a terminal failure.
var ErrSnapshotNotFound = fmt.Errorf("snapshot not found")

// RemoteSnapshot is a vendor-side snapshot listing entry, used by recovery to
// find jobs that were submitted but never persisted locally.
type RemoteSnapshot struct {
	ID      string    `json:"id"`
	Status  string    `json:"status"`
	Created time.Time `json:"created"`
	Size    int       `json:"dataset_size"`
}

// Client talks to the Bright Data dataset API. Collection jobs run out-of-band
// on the vendor side; the client only triggers, polls, and downloads.
type Client struct {
	config *config.BrightDataConfig
	logger *zap.Logger
	client *http.Client
}

func NewClient(cfg *config.BrightDataConfig, logger *zap.Logger) *Client {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Submit triggers a collection job for a batch of profile URLs and returns the
// vendor's opaque snapshot ID without waiting for the job to run.
func (c *Client) Submit(ctx context.Context, urls []string) (string, error) {
	endpoint := fmt.Sprintf("%s/datasets/v3/trigger?dataset_id=%s&include_errors=true",
		c.config.BaseURL, c.config.DatasetID)

	payload := make([]map[string]string, 0, len(urls))
	for _, u := range urls {
		payload = append(payload, map[string]string{"url": u})
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("brightdata API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if response.SnapshotID == "" {
		return "", fmt.Errorf("brightdata API returned empty snapshot_id")
	}

	c.logger.Info("Collection job submitted",
		zap.String("snapshot_id", response.SnapshotID),
		zap.Int("urls", len(urls)))

	return response.SnapshotID, nil
}

// GetStatus polls the progress of a previously submitted job.
func (c *Client) GetStatus(ctx context.Context, snapshotID string) (string, error) {
	endpoint := fmt.Sprintf("%s/datasets/v3/progress/%s", c.config.BaseURL, snapshotID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrSnapshotNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("brightdata API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	switch response.Status {
	case "collecting", "scheduled", "starting":
		return JobStatusRunning, nil
	case JobStatusPending, JobStatusRunning, JobStatusReady, JobStatusFailed:
		return response.Status, nil
	default:
		c.logger.Warn("Unknown vendor job status",
			zap.String("snapshot_id", snapshotID),
			zap.String("status", response.Status))
		return JobStatusRunning, nil
	}
}

// FetchResult downloads the finished result set for a ready snapshot.
func (c *Client) FetchResult(ctx context.Context, snapshotID string) ([]Record, error) {
	endpoint := fmt.Sprintf("%s/datasets/v3/snapshot/%s?format=json", c.config.BaseURL, snapshotID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSnapshotNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("brightdata API returned status %d: %s", resp.StatusCode, string(body))
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		records = append(records, Record{
			Platform: DetectPlatform(r),
			Data:     r,
		})
	}

	return records, nil
}

// ListSnapshots enumerates vendor-side snapshots for our dataset. Recovery uses
// this to adopt snapshots that were submitted but lost before the local insert.
func (c *Client) ListSnapshots(ctx context.Context) ([]RemoteSnapshot, error) {
	endpoint := fmt.Sprintf("%s/datasets/v3/snapshots?dataset_id=%s", c.config.BaseURL, c.config.DatasetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("brightdata API returned status %d: %s", resp.StatusCode, string(body))
	}

	var snapshots []RemoteSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return snapshots, nil
}
