// Package statestore is the State Store capability (spec.md §4.1): tenants,
// service configs, watermarks, jobs, and chunk progress. Conditional writes
// are atomic per key; the store does not need multi-item transactions.
package statestore

import (
	"context"
	"time"

	"github.com/avesa-io/avesa/internal/model"
)

// Store is the State Store capability used by every tier of the engine.
type Store interface {
	GetTenants(ctx context.Context) ([]model.Tenant, error)
	CreateTenant(ctx context.Context, tenant model.Tenant) error

	GetServiceConfig(ctx context.Context, tenantID, service string) (model.ServiceConfig, error)
	ListServiceConfigs(ctx context.Context, tenantID string) ([]model.ServiceConfig, error)
	UpsertServiceConfig(ctx context.Context, cfg model.ServiceConfig) error

	// GetWatermark returns the "epoch" zero-value watermark when none exists.
	GetWatermark(ctx context.Context, tenantID, table string) (model.Watermark, error)
	// SetWatermark is conditional on ts >= existing.LastUpdatedTS; returns an
	// avesaerr Conflict Kind error otherwise.
	SetWatermark(ctx context.Context, tenantID, table string, ts time.Time, jobID string) error

	CreateJob(ctx context.Context, job model.Job) error
	GetJob(ctx context.Context, jobID string) (model.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, summary model.JobSummary) error

	// UpsertChunk is idempotent on (JobID, ChunkID). If an existing row has
	// status Succeeded, the write is rejected with an AlreadyTerminal Kind
	// error (spec.md §4.1).
	UpsertChunk(ctx context.Context, chunk model.ChunkProgress) error
	// ClaimChunk atomically transitions a pending/timed_out chunk to
	// in_progress and increments AttemptCount, using SELECT ... FOR UPDATE
	// SKIP LOCKED so at most one worker ever owns a chunk row at a time
	// (spec.md §5).
	ClaimChunk(ctx context.Context, jobID, chunkID string) (model.ChunkProgress, error)
	GetChunk(ctx context.Context, jobID, chunkID string) (model.ChunkProgress, error)
	ListChunks(ctx context.Context, jobID string) ([]model.ChunkProgress, error)
	ListChunksForTable(ctx context.Context, jobID, tenantID, table string) ([]model.ChunkProgress, error)

	Close() error
}
