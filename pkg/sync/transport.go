package sync

import (
	"context"
	"time"

	"github.com/fieldsync/opqueue/pkg/types"
)

// Transport is the collaborator the embedding application provides to
// bridge local state to a remote server (spec §6). The coordinator never
// parses transport-level payloads beyond these shapes.
type Transport interface {
	// UploadBatch sends ops (all of the same entity type) to the remote
	// server and returns one UploadResult per operation, in the same
	// order as ops.
	UploadBatch(ctx context.Context, entityType string, ops []*types.Operation) ([]UploadResult, error)
	// DownloadChanges fetches server-originated changes for entityType
	// since the given watermark.
	DownloadChanges(ctx context.Context, entityType, sinceWatermark string) (DownloadResult, error)
}

// UploadResult is the per-operation outcome of an UploadBatch call.
type UploadResult struct {
	OperationID string
	Ack         bool
	// ServerVersion is the authoritative version tag assigned by the
	// server, if any.
	ServerVersion string
	Err           error
}

// Change is a single server-originated mutation returned by
// DownloadChanges.
type Change struct {
	EntityID      string
	Payload       map[string]any
	ServerVersion string
	UpdatedAt     time.Time
	Deleted       bool
}

// DownloadResult is the result of one DownloadChanges call.
type DownloadResult struct {
	Changes      []Change
	NewWatermark string
}
