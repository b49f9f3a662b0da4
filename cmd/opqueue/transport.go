package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fieldsync/opqueue/pkg/sync"
	"github.com/fieldsync/opqueue/pkg/types"
)

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// noopTransport is used by one-shot CLI subcommands (enqueue, get, list,
// cancel, stats, conflicts) that build an Engine but never call Start, so
// its sync coordinator never actually ticks and these methods never run.
type noopTransport struct{}

func (noopTransport) UploadBatch(_ context.Context, _ string, ops []*types.Operation) ([]sync.UploadResult, error) {
	return nil, fmt.Errorf("opqueue: no remote configured, run 'opqueue serve' to sync")
}

func (noopTransport) DownloadChanges(_ context.Context, _, _ string) (sync.DownloadResult, error) {
	return sync.DownloadResult{}, fmt.Errorf("opqueue: no remote configured, run 'opqueue serve' to sync")
}

// httpTransport is a minimal JSON-over-HTTP sync.Transport for the serve
// daemon: one POST per UploadBatch call, one GET per DownloadChanges call
// against a remote that speaks the same wire shapes. It is intentionally
// stdlib-only — there is no third-party HTTP client concern big enough in
// this CLI to warrant a dependency of its own, unlike the engine's actual
// domain components.
type httpTransport struct {
	baseURL string
	client  *http.Client
}

func newHTTPTransport(baseURL string, client *http.Client) *httpTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpTransport{baseURL: baseURL, client: client}
}

type uploadRequest struct {
	Operations []*types.Operation `json:"operations"`
}

type uploadResponseItem struct {
	OperationID   string `json:"operation_id"`
	Ack           bool   `json:"ack"`
	ServerVersion string `json:"server_version"`
	Error         string `json:"error"`
}

func (t *httpTransport) UploadBatch(ctx context.Context, entityType string, ops []*types.Operation) ([]sync.UploadResult, error) {
	body, err := json.Marshal(uploadRequest{Operations: ops})
	if err != nil {
		return nil, fmt.Errorf("marshal upload batch: %w", err)
	}

	endpoint := fmt.Sprintf("%s/entities/%s/operations", t.baseURL, url.PathEscape(entityType))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload batch: remote returned %s", resp.Status)
	}

	var items []uploadResponseItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}

	results := make([]sync.UploadResult, len(items))
	for i, item := range items {
		var itemErr error
		if item.Error != "" {
			itemErr = fmt.Errorf("%s", item.Error)
		}
		results[i] = sync.UploadResult{
			OperationID:   item.OperationID,
			Ack:           item.Ack,
			ServerVersion: item.ServerVersion,
			Err:           itemErr,
		}
	}
	return results, nil
}

type downloadResponse struct {
	Changes []struct {
		EntityID      string         `json:"entity_id"`
		Payload       map[string]any `json:"payload"`
		ServerVersion string         `json:"server_version"`
		UpdatedAt     string         `json:"updated_at"`
		Deleted       bool           `json:"deleted"`
	} `json:"changes"`
	NewWatermark string `json:"new_watermark"`
}

func (t *httpTransport) DownloadChanges(ctx context.Context, entityType, sinceWatermark string) (sync.DownloadResult, error) {
	endpoint := fmt.Sprintf("%s/entities/%s/changes?since=%s", t.baseURL, url.PathEscape(entityType), url.QueryEscape(sinceWatermark))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return sync.DownloadResult{}, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return sync.DownloadResult{}, fmt.Errorf("download changes: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return sync.DownloadResult{}, fmt.Errorf("download changes: remote returned %s", resp.Status)
	}

	var raw downloadResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return sync.DownloadResult{}, fmt.Errorf("decode download response: %w", err)
	}

	result := sync.DownloadResult{NewWatermark: raw.NewWatermark}
	for _, c := range raw.Changes {
		change := sync.Change{
			EntityID:      c.EntityID,
			Payload:       c.Payload,
			ServerVersion: c.ServerVersion,
			Deleted:       c.Deleted,
		}
		if t, err := parseTimestamp(c.UpdatedAt); err == nil {
			change.UpdatedAt = t
		}
		result.Changes = append(result.Changes, change)
	}
	return result, nil
}
